package commands

import (
	"context"
	"fmt"

	"github.com/kjannette/coinflow/internal/archive"
	"github.com/kjannette/coinflow/internal/cloud"
	"github.com/kjannette/coinflow/internal/config"
	"github.com/kjannette/coinflow/internal/external"
	"github.com/kjannette/coinflow/internal/httputil"
	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/metrics"
	"github.com/kjannette/coinflow/internal/pipeline"
	"github.com/kjannette/coinflow/internal/store"
	"github.com/kjannette/coinflow/internal/synthetic"
)

// app holds the wiring shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *logger.Log
	stores   *store.Provider
	exporter *archive.Exporter
	runner   *pipeline.Runner
}

func loadConfig(ctx context.Context, overrides ...func(*config.Config)) (*config.Config, *logger.Log, error) {
	if logLevel != "" {
		overrides = append(overrides, func(c *config.Config) { c.Log.Level = logLevel })
	}
	cfg, err := config.LoadAndValidate(ctx, configPath, overrides...)
	if err != nil {
		return nil, nil, err
	}

	log := logger.GetLogger()
	if err := log.Configure(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.MaxAgeDays); err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newApp(ctx context.Context, overrides ...func(*config.Config)) (*app, error) {
	cfg, log, err := loadConfig(ctx, overrides...)
	if err != nil {
		return nil, err
	}
	cfg.Print(log.WithComponent("config"))

	stores, err := newProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, stores: stores}

	if cfg.Archive.Enabled {
		a.exporter, err = newExporter(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
	}

	var publisher pipeline.MetricsPublisher = metrics.Nop{}
	if cfg.Metrics.CloudWatch {
		client, err := cloud.NewCloudWatchClient(ctx, cloud.Options{
			Region:   cfg.Metrics.Region,
			Endpoint: cfg.Metrics.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		publisher = metrics.NewCloudWatch(client, cfg.Metrics.Namespace, cfg.Pipeline.Name, log.WithComponent("cloudwatch"))
	}

	opts := pipeline.RunnerOptions{
		Fetcher:       newFetcher(cfg, log),
		Stores:        stores,
		Metrics:       publisher,
		SkipUnchanged: cfg.Pipeline.SkipUnchanged,
		Log:           log.WithComponent("pipeline"),
	}
	if cfg.Pipeline.ArtifactDir != "" {
		opts.Artifacts = pipeline.NewArtifactStore(cfg.Pipeline.ArtifactDir)
	}
	if a.exporter != nil {
		opts.Exporter = a.exporter
	}
	a.runner = pipeline.NewRunner(opts)
	return a, nil
}

func newProvider(cfg *config.Config, log *logger.Log) (*store.Provider, error) {
	return store.NewProvider(store.Config{
		Driver:   cfg.Store.Driver,
		Path:     cfg.Store.Path,
		DSN:      cfg.DSN(),
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, log.WithComponent("store"))
}

func newFetcher(cfg *config.Config, log *logger.Log) pipeline.Fetcher {
	if cfg.Pipeline.Source == config.SourceSynthetic {
		log.WithComponent("pipeline").WithField("count", cfg.Pipeline.SyntheticCount).Warn("using synthetic market data")
		return synthetic.New(cfg.Pipeline.SyntheticCount, cfg.Pipeline.SyntheticSeed)
	}
	return external.NewCoinGeckoClient(external.CoinGeckoOptions{
		BaseURL:    cfg.CoinGecko.BaseURL,
		APIKey:     cfg.CoinGecko.APIKey,
		AssetIDs:   cfg.CoinGecko.AssetIDs,
		VsCurrency: cfg.CoinGecko.VsCurrency,
		PerPage:    cfg.CoinGecko.PerPage,
		Timeout:    cfg.CoinGecko.Timeout,
		Retry: httputil.RetryConfig{
			MaxAttempts: cfg.CoinGecko.MaxAttempts,
			BaseDelay:   cfg.CoinGecko.BaseDelay,
			MaxDelay:    cfg.CoinGecko.MaxDelay,
		},
		RateLimit: cfg.CoinGecko.RateLimit,
		Log:       log.WithComponent("coingecko"),
	})
}

func newExporter(ctx context.Context, cfg *config.Config, log *logger.Log) (*archive.Exporter, error) {
	opts := archive.Options{
		Dir:    cfg.Archive.Dir,
		Bucket: cfg.Archive.Bucket,
		Prefix: cfg.Archive.Prefix,
		Log:    log.WithComponent("archive"),
	}
	if cfg.Archive.Bucket == "" {
		return archive.New(opts, nil), nil
	}
	client, err := cloud.NewS3Client(ctx, cloud.Options{
		Region:          cfg.Archive.Region,
		AccessKeyID:     cfg.Archive.AccessKeyID,
		SecretAccessKey: cfg.Archive.SecretAccessKey,
		Endpoint:        cfg.Archive.Endpoint,
		PathStyle:       cfg.Archive.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("archive s3 client: %w", err)
	}
	return archive.New(opts, client), nil
}

func (a *app) close() {
	if err := a.stores.Shutdown(); err != nil {
		a.log.WithComponent("store").WithError(err).Warn("store shutdown")
	}
}
