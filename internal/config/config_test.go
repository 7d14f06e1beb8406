package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{
		Store:    StoreConfig{Driver: "sqlite", SQLitePath: "spendscope.db"},
		Registry: RegistryConfig{Dir: "models", KeepVersions: 3},
		Scoring: ScoringConfig{
			LowThreshold:         0.4,
			HighThreshold:        0.7,
			BenchmarkRate:        350,
			FallbackRateMultiple: 2,
		},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Store.Driver = "mysql" },
			want:   "store.driver must be sqlite or postgres",
		},
		{
			name: "postgres without url",
			mutate: func(c *Config) {
				c.Store.Driver = "postgres"
				c.Store.DatabaseURL = ""
			},
			want: "store.database_url is required",
		},
		{
			name:   "low threshold out of range",
			mutate: func(c *Config) { c.Scoring.LowThreshold = 1.5 },
			want:   "scoring.low_threshold must be in [0,1]",
		},
		{
			name:   "high threshold out of range",
			mutate: func(c *Config) { c.Scoring.HighThreshold = -0.1 },
			want:   "scoring.high_threshold must be in [0,1]",
		},
		{
			name: "inverted thresholds",
			mutate: func(c *Config) {
				c.Scoring.LowThreshold = 0.8
				c.Scoring.HighThreshold = 0.5
			},
			want: "scoring.high_threshold must exceed scoring.low_threshold",
		},
		{
			name:   "fallback multiple too small",
			mutate: func(c *Config) { c.Scoring.FallbackRateMultiple = 1 },
			want:   "scoring.fallback_rate_multiple must be > 1",
		},
		{
			name:   "empty registry dir",
			mutate: func(c *Config) { c.Registry.Dir = "" },
			want:   "registry.dir is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Driver = "mysql"
	cfg.Registry.Dir = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "registry.dir")
}

func TestLoadAppliesDefaults(t *testing.T) {
	// Run from a directory without a config.yaml so only defaults apply.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.4, cfg.Scoring.LowThreshold, 1e-9)
	assert.InDelta(t, 0.7, cfg.Scoring.HighThreshold, 1e-9)
	assert.Equal(t, "spendscope-models", cfg.Temporal.TaskQueue)
	assert.Equal(t, "@hourly", cfg.Schedule.VendorRefresh)
	require.NoError(t, cfg.Validate())
}

func TestDefaultsCoverEveryKey(t *testing.T) {
	defaults := Defaults()
	for _, key := range []string{
		"store.driver", "registry.dir", "scoring.low_threshold",
		"scoring.high_threshold", "scoring.fallback_rate_multiple",
		"server.port", "log.level",
	} {
		assert.Contains(t, defaults, key)
	}
}
