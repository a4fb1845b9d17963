package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kjannette/coinflow/internal/db"
	"github.com/kjannette/coinflow/internal/logger"
)

type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline" env:", prefix=PIPELINE_"`
	CoinGecko CoinGeckoConfig `yaml:"coingecko" env:", prefix=COINGECKO_"`
	Store     StoreConfig     `yaml:"store" env:", prefix=STORE_"`
	Database  DBConfig        `yaml:"database" env:", prefix=DB_"`
	Schedule  ScheduleConfig  `yaml:"schedule" env:", prefix=SCHEDULE_"`
	Archive   ArchiveConfig   `yaml:"archive" env:", prefix=ARCHIVE_"`
	Metrics   MetricsConfig   `yaml:"metrics" env:", prefix=METRICS_"`
	API       APIConfig       `yaml:"api" env:", prefix=API_"`
	Log       LogConfig       `yaml:"log" env:", prefix=LOG_"`

	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL, overwrite"`
}

type PipelineConfig struct {
	Name string `yaml:"name" env:"NAME, overwrite"`
	// Source is "coingecko" or "synthetic".
	Source         string `yaml:"source" env:"SOURCE, overwrite"`
	SyntheticCount int    `yaml:"synthetic_count" env:"SYNTHETIC_COUNT, overwrite"`
	SyntheticSeed  uint64 `yaml:"synthetic_seed" env:"SYNTHETIC_SEED, overwrite"`
	ArtifactDir    string `yaml:"artifact_dir" env:"ARTIFACT_DIR, overwrite"`
	SkipUnchanged  bool   `yaml:"skip_unchanged" env:"SKIP_UNCHANGED, overwrite"`
}

type CoinGeckoConfig struct {
	BaseURL     string        `yaml:"base_url" env:"BASE_URL, overwrite"`
	APIKey      string        `yaml:"api_key" env:"API_KEY, overwrite"`
	AssetIDs    []string      `yaml:"asset_ids" env:"ASSET_IDS, overwrite"`
	VsCurrency  string        `yaml:"vs_currency" env:"VS_CURRENCY, overwrite"`
	PerPage     int           `yaml:"per_page" env:"PER_PAGE, overwrite"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT, overwrite"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS, overwrite"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY, overwrite"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY, overwrite"`
	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT, overwrite"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER, overwrite"`
	Path   string `yaml:"path" env:"PATH, overwrite"`
}

type DBConfig struct {
	Host     string `yaml:"host" env:"HOST, overwrite"`
	Port     int    `yaml:"port" env:"PORT, overwrite"`
	Name     string `yaml:"name" env:"NAME, overwrite"`
	User     string `yaml:"user" env:"USER, overwrite"`
	Password string `yaml:"password" env:"PASSWORD, overwrite"`
	SSLMode  string `yaml:"sslmode" env:"SSLMODE, overwrite"`
	MaxConns int32  `yaml:"max_conns" env:"MAX_CONNS, overwrite"`
	MinConns int32  `yaml:"min_conns" env:"MIN_CONNS, overwrite"`
}

type ScheduleConfig struct {
	// Profile "test" shortens the default interval.
	Profile    string        `yaml:"profile" env:"PROFILE, overwrite"`
	Interval   time.Duration `yaml:"interval" env:"INTERVAL, overwrite"`
	RunTimeout time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT, overwrite"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED, overwrite"`
	Dir     string `yaml:"dir" env:"DIR, overwrite"`
	// S3 upload is enabled by setting Bucket.
	Bucket          string `yaml:"bucket" env:"BUCKET, overwrite"`
	Prefix          string `yaml:"prefix" env:"PREFIX, overwrite"`
	Region          string `yaml:"region" env:"REGION, overwrite"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT, overwrite"`
	PathStyle       bool   `yaml:"path_style" env:"PATH_STYLE, overwrite"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID, overwrite"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY, overwrite"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch" env:"CLOUDWATCH, overwrite"`
	Namespace  string `yaml:"namespace" env:"NAMESPACE, overwrite"`
	Region     string `yaml:"region" env:"REGION, overwrite"`
	Endpoint   string `yaml:"endpoint" env:"ENDPOINT, overwrite"`
}

type APIConfig struct {
	Port            int    `yaml:"port" env:"PORT, overwrite"`
	Key             string `yaml:"key" env:"KEY, overwrite"`
	CORSAllowOrigin string `yaml:"cors_allow_origin" env:"CORS_ALLOW_ORIGIN, overwrite"`
}

type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL, overwrite"`
	Format     string `yaml:"format" env:"FORMAT, overwrite"`
	Output     string `yaml:"output" env:"OUTPUT, overwrite"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS, overwrite"`
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, in increasing priority. A .env file in the
// working directory is loaded into the environment first.
func Load(ctx context.Context, path string) (*Config, error) {
	_ = godotenv.Load()
	return load(ctx, path, envconfig.OsLookuper())
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// A profile only changes the default, never an explicit interval.
	if cfg.Schedule.Profile == ProfileTest && cfg.Schedule.Interval == DefaultInterval {
		cfg.Schedule.Interval = DefaultTestInterval
	}
	return cfg, nil
}

// LoadAndValidate is Load followed by Validate. Overrides run in between, so
// command-line flags are validated like any other source.
func LoadAndValidate(ctx context.Context, path string, overrides ...func(*Config)) (*Config, error) {
	_ = godotenv.Load()
	return loadAndValidate(ctx, path, envconfig.OsLookuper(), overrides...)
}

func loadAndValidate(ctx context.Context, path string, lookuper envconfig.Lookuper, overrides ...func(*Config)) (*Config, error) {
	cfg, err := load(ctx, path, lookuper)
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) DSN() string {
	return db.BuildDSN(c.Database.Host, c.Database.Port, c.Database.Name,
		c.Database.User, c.Database.Password, c.Database.SSLMode)
}

// Print logs a redacted summary of the effective configuration.
func (c *Config) Print(log *logger.Entry) {
	fields := logger.Fields{
		"pipeline":       c.Pipeline.Name,
		"source":         c.Pipeline.Source,
		"store_driver":   c.Store.Driver,
		"interval":       c.Schedule.Interval.String(),
		"run_timeout":    c.Schedule.RunTimeout.String(),
		"artifact_dir":   c.Pipeline.ArtifactDir,
		"skip_unchanged": c.Pipeline.SkipUnchanged,
		"archive":        boolLabel(c.Archive.Enabled, "enabled", "disabled"),
		"cloudwatch":     boolLabel(c.Metrics.CloudWatch, "enabled", "disabled"),
		"api_port":       c.API.Port,
		"api_auth":       boolLabel(c.API.Key != "", "configured", "not set"),
		"webhook":        boolLabel(c.WebhookURL != "", "configured", "not set"),
	}
	switch c.Store.Driver {
	case "postgres":
		fields["database"] = fmt.Sprintf("%s@%s:%d/%s", c.Database.User, c.Database.Host, c.Database.Port, c.Database.Name)
	default:
		fields["database"] = c.Store.Path
	}
	if c.Pipeline.Source == SourceCoinGecko {
		fields["vs_currency"] = c.CoinGecko.VsCurrency
		fields["assets"] = assetLabel(c.CoinGecko.AssetIDs, c.CoinGecko.PerPage)
		fields["coingecko_key"] = boolLabel(c.CoinGecko.APIKey != "", "configured", "not set")
	}
	if c.Archive.Bucket != "" {
		fields["archive_bucket"] = c.Archive.Bucket
	}
	log.WithFields(fields).Info("configuration loaded")
}

func assetLabel(ids []string, perPage int) string {
	if len(ids) == 0 {
		return fmt.Sprintf("top %d by market cap", perPage)
	}
	return strings.Join(ids, ",")
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
