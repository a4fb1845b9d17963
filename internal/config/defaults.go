package config

import "time"

const (
	SourceCoinGecko = "coingecko"
	SourceSynthetic = "synthetic"

	ProfileTest = "test"
)

// Default values for optional configuration fields.
const (
	DefaultPipelineName   = "crypto_market"
	DefaultSyntheticCount = 10
	DefaultSyntheticSeed  = 42
	DefaultArtifactDir    = "data/artifacts"

	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultVsCurrency   = "usd"
	DefaultPerPage      = 20
	DefaultAPITimeout   = 30 * time.Second
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 2 * time.Second
	DefaultMaxDelay     = 10 * time.Second

	DefaultStoreDriver = "duckdb"
	DefaultStorePath   = "data/crypto_data.duckdb"

	DefaultDBHost    = "localhost"
	DefaultDBPort    = 5432
	DefaultDBName    = "coinflow"
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultInterval     = 15 * time.Minute
	DefaultTestInterval = 5 * time.Minute
	DefaultRunTimeout   = 5 * time.Minute

	DefaultArchiveDir       = "data/archive"
	DefaultArchivePrefix    = "market_observations"
	DefaultMetricsNamespace = "CoinFlow"

	DefaultAPIPort         = 8080
	DefaultCORSAllowOrigin = "*"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
)

func (c *Config) applyDefaults() {
	// Pipeline defaults
	c.Pipeline.Name = DefaultPipelineName
	c.Pipeline.Source = SourceCoinGecko
	c.Pipeline.SyntheticCount = DefaultSyntheticCount
	c.Pipeline.SyntheticSeed = DefaultSyntheticSeed
	c.Pipeline.ArtifactDir = DefaultArtifactDir

	// CoinGecko defaults
	c.CoinGecko.BaseURL = DefaultCoinGeckoURL
	c.CoinGecko.VsCurrency = DefaultVsCurrency
	c.CoinGecko.PerPage = DefaultPerPage
	c.CoinGecko.Timeout = DefaultAPITimeout
	c.CoinGecko.MaxAttempts = DefaultMaxAttempts
	c.CoinGecko.BaseDelay = DefaultBaseDelay
	c.CoinGecko.MaxDelay = DefaultMaxDelay

	// Store defaults
	c.Store.Driver = DefaultStoreDriver
	c.Store.Path = DefaultStorePath
	c.Database.Host = DefaultDBHost
	c.Database.Port = DefaultDBPort
	c.Database.Name = DefaultDBName
	c.Database.SSLMode = DefaultDBSSLMode
	c.Database.MaxConns = DefaultMaxConns
	c.Database.MinConns = DefaultMinConns

	c.Schedule.Interval = DefaultInterval
	c.Schedule.RunTimeout = DefaultRunTimeout

	c.Archive.Dir = DefaultArchiveDir
	c.Archive.Prefix = DefaultArchivePrefix
	c.Metrics.Namespace = DefaultMetricsNamespace

	c.API.Port = DefaultAPIPort
	c.API.CORSAllowOrigin = DefaultCORSAllowOrigin

	c.Log.Level = DefaultLogLevel
	c.Log.Format = DefaultLogFormat
	c.Log.Output = DefaultLogOutput
}
