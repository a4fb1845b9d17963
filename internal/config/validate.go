package config

import (
	"fmt"
	"strings"
)

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Pipeline.Name == "" {
		errs = append(errs, "pipeline.name is required")
	}
	switch c.Pipeline.Source {
	case SourceCoinGecko:
		if c.CoinGecko.BaseURL == "" {
			errs = append(errs, "coingecko.base_url is required")
		}
		if c.CoinGecko.VsCurrency == "" {
			errs = append(errs, "coingecko.vs_currency is required")
		}
		if c.CoinGecko.PerPage < 1 || c.CoinGecko.PerPage > 250 {
			errs = append(errs, fmt.Sprintf("coingecko.per_page must be between 1 and 250, got %d", c.CoinGecko.PerPage))
		}
		if c.CoinGecko.MaxAttempts < 1 {
			errs = append(errs, "coingecko.max_attempts must be >= 1")
		}
		if c.CoinGecko.RateLimit < 0 {
			errs = append(errs, "coingecko.rate_limit must be >= 0")
		}
	case SourceSynthetic:
		if c.Pipeline.SyntheticCount < 1 {
			errs = append(errs, "pipeline.synthetic_count must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("pipeline.source must be %q or %q, got %q", SourceCoinGecko, SourceSynthetic, c.Pipeline.Source))
	}

	switch c.Store.Driver {
	case "duckdb":
	case "postgres":
		errs = append(errs, c.Database.validate("database")...)
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be duckdb or postgres, got %q", c.Store.Driver))
	}

	if c.Schedule.Interval <= 0 {
		errs = append(errs, "schedule.interval must be positive")
	}
	if c.Schedule.RunTimeout <= 0 {
		errs = append(errs, "schedule.run_timeout must be positive")
	}
	if c.Archive.Enabled && c.Archive.Dir == "" && c.Archive.Bucket == "" {
		errs = append(errs, "archive needs a dir or a bucket when enabled")
	}
	if c.Metrics.CloudWatch && c.Metrics.Namespace == "" {
		errs = append(errs, "metrics.namespace is required when cloudwatch is enabled")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port must be between 1 and 65535, got %d", c.API.Port))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (db *DBConfig) validate(prefix string) []string {
	var errs []string
	if db.Host == "" {
		errs = append(errs, prefix+".host is required")
	}
	if db.Name == "" {
		errs = append(errs, prefix+".name is required")
	}
	if db.User == "" {
		errs = append(errs, prefix+".user is required")
	}
	if db.MaxConns < 1 {
		errs = append(errs, prefix+".max_conns must be >= 1")
	}
	if db.MinConns > db.MaxConns {
		errs = append(errs, fmt.Sprintf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns))
	}
	return errs
}
