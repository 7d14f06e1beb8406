// Package config loads application configuration from file and environment
// and installs the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Temporal TemporalConfig `yaml:"temporal" mapstructure:"temporal"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Synth    SynthConfig    `yaml:"synth" mapstructure:"synth"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// RegistryConfig configures model artifact storage.
type RegistryConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	KeepVersions int    `yaml:"keep_versions" mapstructure:"keep_versions"`
}

// ScoringConfig configures risk tiers, benchmarks, and the fallback scorer.
type ScoringConfig struct {
	LowThreshold         float64 `yaml:"low_threshold" mapstructure:"low_threshold"`
	HighThreshold        float64 `yaml:"high_threshold" mapstructure:"high_threshold"`
	BenchmarkRate        float64 `yaml:"benchmark_rate" mapstructure:"benchmark_rate"`
	FallbackRateMultiple float64 `yaml:"fallback_rate_multiple" mapstructure:"fallback_rate_multiple"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// NotifyConfig configures the fire-and-forget assessment webhook.
type NotifyConfig struct {
	WebhookURL string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// TemporalConfig configures the background task queue worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ScheduleConfig configures in-process cron jobs run by serve mode.
type ScheduleConfig struct {
	VendorRefresh string `yaml:"vendor_refresh" mapstructure:"vendor_refresh"`
	ArtifactPrune string `yaml:"artifact_prune" mapstructure:"artifact_prune"`
}

// SynthConfig configures the synthetic corpus generator.
type SynthConfig struct {
	Seed        int64   `yaml:"seed" mapstructure:"seed"`
	AnomalyRate float64 `yaml:"anomaly_rate" mapstructure:"anomaly_rate"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SPENDSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range Defaults() {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Defaults returns the default configuration values keyed by viper path.
func Defaults() map[string]any {
	return map[string]any{
		"store.driver":                   "sqlite",
		"store.sqlite_path":              "spendscope.db",
		"registry.dir":                   "models",
		"registry.keep_versions":         3,
		"scoring.low_threshold":          0.4,
		"scoring.high_threshold":         0.7,
		"scoring.benchmark_rate":         350.0,
		"scoring.fallback_rate_multiple": 2.0,
		"server.port":                    8080,
		"server.allowed_origins":         []string{"*"},
		"notify.rate_per_sec":            5.0,
		"temporal.host_port":             "localhost:7233",
		"temporal.namespace":             "default",
		"temporal.task_queue":            "spendscope-models",
		"schedule.vendor_refresh":        "@hourly",
		"schedule.artifact_prune":        "@daily",
		"synth.seed":                     11,
		"synth.anomaly_rate":             0.05,
		"log.level":                      "info",
		"log.format":                     "json",
	}
}

// Validate checks that configuration values are internally consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}
	if c.Scoring.LowThreshold < 0 || c.Scoring.LowThreshold > 1 {
		errs = append(errs, "scoring.low_threshold must be in [0,1]")
	}
	if c.Scoring.HighThreshold < 0 || c.Scoring.HighThreshold > 1 {
		errs = append(errs, "scoring.high_threshold must be in [0,1]")
	}
	if c.Scoring.HighThreshold <= c.Scoring.LowThreshold {
		errs = append(errs, "scoring.high_threshold must exceed scoring.low_threshold")
	}
	if c.Scoring.FallbackRateMultiple <= 1 {
		errs = append(errs, "scoring.fallback_rate_multiple must be > 1")
	}
	if c.Registry.Dir == "" {
		errs = append(errs, "registry.dir is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
