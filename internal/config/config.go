package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Local      LocalConfig      `yaml:"local" mapstructure:"local"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the shared remote event store.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LocalConfig configures the state kept on the machine running the pipeline:
// the staging buffer, the tracker and the run counter.
type LocalConfig struct {
	// Path is the SQLite file holding the staging buffer (and the tracker
	// when TrackerBackend is "sqlite").
	Path string `yaml:"path" mapstructure:"path"`
	// TrackerBackend is one of "sqlite", "badger", "file".
	TrackerBackend string `yaml:"tracker_backend" mapstructure:"tracker_backend"`
	// TrackerPath is the badger directory or JSON file for non-sqlite backends.
	TrackerPath string `yaml:"tracker_path" mapstructure:"tracker_path"`
	LockPath    string `yaml:"lock_path" mapstructure:"lock_path"`
}

// SyncConfig configures sync cadence and per-run behavior.
type SyncConfig struct {
	// Mode: 0 manual only, 1-4 every Nth run, 5+ every run.
	Mode              int           `yaml:"mode" mapstructure:"mode"`
	RetentionDays     int           `yaml:"retention_days" mapstructure:"retention_days"`
	RemoteTimeout     time.Duration `yaml:"remote_timeout" mapstructure:"remote_timeout"`
	LookupConcurrency int           `yaml:"lookup_concurrency" mapstructure:"lookup_concurrency"`
	LockTTL           time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// Retention returns the tracker retention window.
func (c SyncConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// NormalizeConfig configures the event normalizer.
type NormalizeConfig struct {
	// CategoriesFile overrides the embedded keyword table when set.
	CategoriesFile    string  `yaml:"categories_file" mapstructure:"categories_file"`
	MaxDescription    int     `yaml:"max_description" mapstructure:"max_description"`
	TitleThreshold    float64 `yaml:"title_threshold" mapstructure:"title_threshold"`
	LocationThreshold float64 `yaml:"location_threshold" mapstructure:"location_threshold"`
}

// ResilienceConfig configures retries, circuit breaking and rate limiting for remote calls.
type ResilienceConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	FailureThreshold uint32        `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	RatePerSecond    float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst            int           `yaml:"burst" mapstructure:"burst"`
}

// MetricsConfig configures Prometheus output.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics after each run (node_exporter textfile collector).
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// MonitoringConfig configures sync health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// TransientThreshold alerts when more than this many records failed
	// transiently across the lookback window.
	TransientThreshold  int `yaml:"transient_threshold" mapstructure:"transient_threshold"`
	StaleAfterHours     int `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	CheckIntervalSecs   int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ServerConfig configures the trigger server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EVENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("local.path", "event-ingest.db")
	v.SetDefault("local.tracker_backend", "sqlite")
	v.SetDefault("local.tracker_path", "tracker")
	v.SetDefault("local.lock_path", "event-ingest.lock")
	v.SetDefault("sync.mode", 1)
	v.SetDefault("sync.retention_days", 30)
	v.SetDefault("sync.remote_timeout", "10s")
	v.SetDefault("sync.lookup_concurrency", 8)
	v.SetDefault("sync.lock_ttl", "30m")
	v.SetDefault("normalize.max_description", 1000)
	v.SetDefault("normalize.title_threshold", 0.85)
	v.SetDefault("normalize.location_threshold", 0.70)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff", "200ms")
	v.SetDefault("resilience.max_backoff", "5s")
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout", "30s")
	v.SetDefault("resilience.rate_per_second", 50.0)
	v.SetDefault("resilience.burst", 10)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.transient_threshold", 50)
	v.SetDefault("monitoring.stale_after_hours", 48)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings needed by the given command mode are
// present and in range. Modes: "local" (staging/tracker only), "sync", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "local":
	case "sync":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Sync.Mode < 0 {
		errs = append(errs, "sync.mode must be >= 0")
	}
	if c.Sync.RetentionDays < 0 {
		errs = append(errs, "sync.retention_days must be >= 0")
	}
	if c.Sync.RemoteTimeout <= 0 {
		errs = append(errs, "sync.remote_timeout must be positive")
	}
	switch c.Local.TrackerBackend {
	case "sqlite", "badger", "file":
	default:
		errs = append(errs, "local.tracker_backend must be one of sqlite, badger, file")
	}
	if c.Normalize.TitleThreshold < 0 || c.Normalize.TitleThreshold > 1 {
		errs = append(errs, "normalize.title_threshold must be between 0 and 1")
	}
	if c.Normalize.LocationThreshold < 0 || c.Normalize.LocationThreshold > 1 {
		errs = append(errs, "normalize.location_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
