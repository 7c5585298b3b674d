package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to environment variable overrides,
	// e.g. INDEXOOR_DATABASE_PASSWORD.
	EnvPrefix = "INDEXOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultEngine is the only supported database engine.
	DefaultEngine = "mysql"

	// DefaultHost is the default database host.
	DefaultHost = "localhost"

	// DefaultPort is the port the benchmark database container listens on.
	DefaultPort = 3366

	// DefaultSchema is the default benchmark schema.
	DefaultSchema = "explain_test"

	// DefaultCharset is the default connection character set.
	DefaultCharset = "utf8mb4"

	// DefaultConnectTimeout bounds establishing the connection.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultResultsDir is the default directory for session results.
	DefaultResultsDir = "./results"

	// DefaultPlainRuns is how many times each query runs in plain mode.
	DefaultPlainRuns = 1

	// DefaultCleanupTimeout bounds the index teardown after an abort.
	DefaultCleanupTimeout = 2 * time.Minute

	// DefaultHistoryDriver is the default history database driver.
	DefaultHistoryDriver = "sqlite"

	// DefaultHistorySQLitePath is the default sqlite history database.
	DefaultHistorySQLitePath = "./results/history.db"

	// DefaultAPIListen is the default history API listen address.
	DefaultAPIListen = ":8080"

	// DefaultUploadConcurrency is the default number of parallel uploads.
	DefaultUploadConcurrency = 4
)

// DefaultTrackedTables are the dataset tables whose secondary indexes are
// managed between strategies.
var DefaultTrackedTables = []string{"customers", "products", "orders", "order_items"}

// Config is the root configuration for indexoor.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Benchmark BenchmarkConfig `yaml:"benchmark" mapstructure:"benchmark"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	Upload    UploadConfig    `yaml:"upload" mapstructure:"upload"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// DatabaseConfig describes the engine under test. It is read once at
// startup and never re-read during a session.
type DatabaseConfig struct {
	Engine         string            `yaml:"engine" mapstructure:"engine"`
	Host           string            `yaml:"host" mapstructure:"host"`
	Port           int               `yaml:"port" mapstructure:"port"`
	User           string            `yaml:"user" mapstructure:"user"`
	Password       string            `yaml:"password" mapstructure:"password"`
	Schema         string            `yaml:"schema" mapstructure:"schema"`
	Charset        string            `yaml:"charset" mapstructure:"charset"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	Params         map[string]string `yaml:"params,omitempty" mapstructure:"params"`
	TrackedTables  []string          `yaml:"tracked_tables" mapstructure:"tracked_tables"`
}

// BenchmarkConfig contains session settings.
type BenchmarkConfig struct {
	ResultsDir       string            `yaml:"results_dir" mapstructure:"results_dir"`
	ResultsOwner     string            `yaml:"results_owner,omitempty" mapstructure:"results_owner"`
	PlainRuns        int               `yaml:"plain_runs" mapstructure:"plain_runs"`
	CleanupTimeout   time.Duration     `yaml:"cleanup_timeout" mapstructure:"cleanup_timeout"`
	StatementTimeout time.Duration     `yaml:"statement_timeout,omitempty" mapstructure:"statement_timeout"`
	CatalogFile      string            `yaml:"catalog_file,omitempty" mapstructure:"catalog_file"`
	Strategies       []string          `yaml:"strategies,omitempty" mapstructure:"strategies"`
	Queries          []string          `yaml:"queries,omitempty" mapstructure:"queries"`
	Labels           map[string]string `yaml:"labels,omitempty" mapstructure:"labels"`
}

// HistoryConfig configures the optional session history database.
type HistoryConfig struct {
	Enabled  bool                 `yaml:"enabled" mapstructure:"enabled"`
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains sqlite settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains postgres connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// UploadConfig configures result uploads.
type UploadConfig struct {
	S3 S3UploadConfig `yaml:"s3" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	Concurrency     int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// APIConfig contains history API server settings.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// Load reads the configuration file at path (optional) and applies
// INDEXOOR_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it even when
// the file does not mention it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("database.engine", DefaultEngine)
	v.SetDefault("database.host", DefaultHost)
	v.SetDefault("database.port", DefaultPort)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.schema", DefaultSchema)
	v.SetDefault("database.charset", DefaultCharset)
	v.SetDefault("database.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("database.tracked_tables", DefaultTrackedTables)

	v.SetDefault("benchmark.results_dir", DefaultResultsDir)
	v.SetDefault("benchmark.results_owner", "")
	v.SetDefault("benchmark.plain_runs", DefaultPlainRuns)
	v.SetDefault("benchmark.cleanup_timeout", DefaultCleanupTimeout)
	v.SetDefault("benchmark.statement_timeout", 0)
	v.SetDefault("benchmark.catalog_file", "")
	v.SetDefault("benchmark.strategies", []string{})
	v.SetDefault("benchmark.queries", []string{})

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", DefaultHistoryDriver)
	v.SetDefault("history.sqlite.path", DefaultHistorySQLitePath)
	v.SetDefault("history.postgres.host", "")
	v.SetDefault("history.postgres.port", 5432)
	v.SetDefault("history.postgres.user", "")
	v.SetDefault("history.postgres.password", "")
	v.SetDefault("history.postgres.database", "")
	v.SetDefault("history.postgres.ssl_mode", "disable")

	v.SetDefault("upload.s3.enabled", false)
	v.SetDefault("upload.s3.endpoint_url", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.prefix", "")
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.force_path_style", false)
	v.SetDefault("upload.s3.storage_class", "")
	v.SetDefault("upload.s3.acl", "")
	v.SetDefault("upload.s3.concurrency", DefaultUploadConcurrency)

	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", 120)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Benchmark.PlainRuns < 1 {
		return fmt.Errorf("benchmark: plain_runs must be at least 1, got %d", c.Benchmark.PlainRuns)
	}

	if c.Benchmark.CleanupTimeout <= 0 {
		return fmt.Errorf("benchmark: cleanup_timeout must be positive")
	}

	if c.Benchmark.StatementTimeout < 0 {
		return fmt.Errorf("benchmark: statement_timeout must not be negative")
	}

	if c.Benchmark.ResultsDir != "" {
		dir := filepath.Dir(filepath.Clean(c.Benchmark.ResultsDir))
		if dir != "." && dir != ".." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("benchmark: results directory parent %q does not exist", dir)
			}
		}
	}

	if c.History.Enabled {
		if err := c.History.Validate(); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	if c.Upload.S3.Enabled {
		if c.Upload.S3.Bucket == "" {
			return fmt.Errorf("upload.s3: bucket is required")
		}

		if c.Upload.S3.Concurrency < 1 {
			return fmt.Errorf("upload.s3: concurrency must be at least 1")
		}
	}

	return nil
}

// Validate checks the database settings.
func (d *DatabaseConfig) Validate() error {
	if d.Engine != DefaultEngine {
		return fmt.Errorf("unsupported engine %q (only %q is supported)", d.Engine, DefaultEngine)
	}

	if d.Host == "" {
		return fmt.Errorf("host is required")
	}

	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("port %d out of range", d.Port)
	}

	if d.User == "" {
		return fmt.Errorf("user is required")
	}

	if d.Schema == "" {
		return fmt.Errorf("schema is required")
	}

	if d.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}

	return nil
}

// Validate checks the history database settings.
func (h *HistoryConfig) Validate() error {
	switch h.Driver {
	case "sqlite":
		if h.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "postgres":
		if h.Postgres.Host == "" || h.Postgres.Database == "" {
			return fmt.Errorf("postgres.host and postgres.database are required")
		}
	default:
		return fmt.Errorf("unsupported driver %q", h.Driver)
	}

	return nil
}
