package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	return configPath
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
database:
  host: db.internal
  port: 3306
  user: bench
  password: original
  schema: explain_test
  tracked_tables: [orders, customers]
benchmark:
  results_dir: ./original-results
  plain_runs: 1
  strategies: [no_index, covering_index]
history:
  enabled: false
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "db.internal", cfg.Database.Host)
				assert.Equal(t, 3306, cfg.Database.Port)
				assert.Equal(t, "original", cfg.Database.Password)
				assert.Equal(t, []string{"orders", "customers"}, cfg.Database.TrackedTables)
				assert.Equal(t, []string{"no_index", "covering_index"}, cfg.Benchmark.Strategies)
				assert.Equal(t, "./original-results", cfg.Benchmark.ResultsDir)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"INDEXOOR_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "secret override - database password",
			envVars: map[string]string{
				"INDEXOOR_DATABASE_PASSWORD": "from-env",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Database.Password)
			},
		},
		{
			name: "integer override - database port",
			envVars: map[string]string{
				"INDEXOOR_DATABASE_PORT": "3399",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3399, cfg.Database.Port)
			},
		},
		{
			name: "boolean override - history enabled",
			envVars: map[string]string{
				"INDEXOOR_HISTORY_ENABLED": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.History.Enabled)
			},
		},
		{
			name: "duration override - cleanup timeout",
			envVars: map[string]string{
				"INDEXOOR_BENCHMARK_CLEANUP_TIMEOUT": "45s",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 45*time.Second, cfg.Benchmark.CleanupTimeout)
			},
		},
		{
			name: "list override - queries",
			envVars: map[string]string{
				"INDEXOOR_BENCHMARK_QUERIES": "subquery_nightmare,complex_date_range",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t,
					[]string{"subquery_nightmare", "complex_date_range"},
					cfg.Benchmark.Queries)
			},
		},
		{
			name: "nested field override - upload.s3.bucket",
			envVars: map[string]string{
				"INDEXOOR_UPLOAD_S3_BUCKET": "bench-results",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "bench-results", cfg.Upload.S3.Bucket)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	configPath := writeConfig(t, `
database:
  user: testuser
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultEngine, cfg.Database.Engine)
	assert.Equal(t, DefaultHost, cfg.Database.Host)
	assert.Equal(t, DefaultPort, cfg.Database.Port)
	assert.Equal(t, DefaultSchema, cfg.Database.Schema)
	assert.Equal(t, DefaultCharset, cfg.Database.Charset)
	assert.Equal(t, DefaultConnectTimeout, cfg.Database.ConnectTimeout)
	assert.Equal(t, DefaultTrackedTables, cfg.Database.TrackedTables)
	assert.Equal(t, DefaultResultsDir, cfg.Benchmark.ResultsDir)
	assert.Equal(t, DefaultPlainRuns, cfg.Benchmark.PlainRuns)
	assert.Equal(t, DefaultCleanupTimeout, cfg.Benchmark.CleanupTimeout)
	assert.Equal(t, DefaultHistoryDriver, cfg.History.Driver)
	assert.Equal(t, DefaultUploadConcurrency, cfg.Upload.S3.Concurrency)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)

	require.NoError(t, cfg.Validate())
}

func TestLoad_WithoutFileUsesEnv(t *testing.T) {
	t.Setenv("INDEXOOR_DATABASE_USER", "envuser")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "envuser", cfg.Database.User)
	assert.Equal(t, DefaultSchema, cfg.Database.Schema)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: yaml: content:")

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Engine: "mysql",
				Host:   "localhost",
				Port:   3366,
				User:   "testuser",
				Schema: "explain_test",

				ConnectTimeout: 10 * time.Second,
			},
			Benchmark: BenchmarkConfig{
				ResultsDir:     "./results",
				PlainRuns:      1,
				CleanupTimeout: time.Minute,
			},
			History: HistoryConfig{Driver: "sqlite"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(_ *Config) {},
		},
		{
			name:    "unsupported engine",
			mutate:  func(c *Config) { c.Database.Engine = "postgres" },
			wantErr: "unsupported engine",
		},
		{
			name:    "missing user",
			mutate:  func(c *Config) { c.Database.User = "" },
			wantErr: "user is required",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Database.Port = 70000 },
			wantErr: "out of range",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.Database.ConnectTimeout = 0 },
			wantErr: "connect_timeout",
		},
		{
			name:    "zero plain runs",
			mutate:  func(c *Config) { c.Benchmark.PlainRuns = 0 },
			wantErr: "plain_runs",
		},
		{
			name:    "negative statement timeout",
			mutate:  func(c *Config) { c.Benchmark.StatementTimeout = -time.Second },
			wantErr: "statement_timeout",
		},
		{
			name:    "results dir parent missing",
			mutate:  func(c *Config) { c.Benchmark.ResultsDir = "/nonexistent-parent-xyz/results" },
			wantErr: "does not exist",
		},
		{
			name: "history sqlite without path",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.SQLite.Path = ""
			},
			wantErr: "sqlite.path",
		},
		{
			name: "history unknown driver",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.Driver = "oracle"
			},
			wantErr: "unsupported driver",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Upload.S3.Enabled = true
				c.Upload.S3.Concurrency = 2
			},
			wantErr: "bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
