package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete pipeline configuration. Environment
// variables (prefix MDETL) override YAML file values.
type Config struct {
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Ops      OpsConfig      `yaml:"ops" envconfig:"OPS"`
	Pipeline PipelineConfig `yaml:"pipeline" envconfig:"PIPELINE"`
	Retry    RetryConfig    `yaml:"retry" envconfig:"RETRY"`
	Schedule ScheduleConfig `yaml:"schedule" envconfig:"SCHEDULE"`
	Jobs     JobsConfig     `yaml:"jobs" envconfig:"JOBS"`

	// Per-source settings keyed by source name (twelve_data, fred,
	// openweather). Loaded from the sources file only.
	Sources map[string]SourceConfig `yaml:"sources" envconfig:"-"`
}

// DatabaseConfig contains warehouse connection settings
type DatabaseConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST" default:"localhost"`
	Port            int           `yaml:"port" envconfig:"PORT" default:"5432" validate:"min=1,max=65535"`
	User            string        `yaml:"user" envconfig:"USER" default:"mdetl"`
	Password        string        `yaml:"password" envconfig:"PASSWORD" default:"mdetl"`
	Name            string        `yaml:"name" envconfig:"NAME" default:"mdetl"`
	SSLMode         string        `yaml:"ssl_mode" envconfig:"SSL_MODE" default:"disable"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"5m"`
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/mdetl.log"`
}

// OpsConfig controls the health/metrics endpoint.
type OpsConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	Port         int           `yaml:"port" envconfig:"PORT" default:"9187" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"10s"`
	TraceDebug   bool          `yaml:"trace_debug" envconfig:"TRACE_DEBUG" default:"false"`
}

// PipelineConfig contains behavior shared by all entity pipelines.
type PipelineConfig struct {
	BatchSize              int           `yaml:"batch_size" envconfig:"BATCH_SIZE" default:"1000" validate:"min=1"`
	HTTPTimeout            time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT" default:"30s"`
	AllowAnomalies         bool          `yaml:"allow_anomalies" envconfig:"ALLOW_ANOMALIES" default:"true"`
	AnomalyZScoreThreshold float64       `yaml:"anomaly_zscore_threshold" envconfig:"ANOMALY_ZSCORE_THRESHOLD" default:"3.0" validate:"gt=0"`
	ReportingCurrency      string        `yaml:"reporting_currency" envconfig:"REPORTING_CURRENCY" default:"USD" validate:"len=3"`
	WeatherUnits           string        `yaml:"weather_units" envconfig:"WEATHER_UNITS" default:"metric" validate:"oneof=metric imperial standard"`
	// ExportDir receives rejected-record audit CSVs. Empty disables the
	// export.
	ExportDir string `yaml:"export_dir" envconfig:"EXPORT_DIR" default:"exports"`
	// Outbound requests per second across all sources, on top of the
	// per-source windows.
	GlobalRPS   float64 `yaml:"global_rps" envconfig:"GLOBAL_RPS" default:"10"`
	GlobalBurst int     `yaml:"global_burst" envconfig:"GLOBAL_BURST" default:"5"`
}

// RetryConfig contains retry/backoff caps for extraction and loading.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" default:"5" validate:"min=1"`
	BaseDelay   time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY" default:"4s"`
	MaxDelay    time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY" default:"60s"`
}

// JobsConfig lists what each scheduled or one-shot invocation pulls.
type JobsConfig struct {
	// Entities enabled for this deployment.
	Entities []string `yaml:"entities" envconfig:"ENTITIES" default:"stock,forex,crypto,economic,weather"`

	Symbols       []string `yaml:"symbols" envconfig:"SYMBOLS" default:"AAPL,MSFT,GOOGL"`
	Pairs         []string `yaml:"pairs" envconfig:"PAIRS" default:"EUR/USD,GBP/USD,USD/JPY"`
	CryptoSymbols []string `yaml:"crypto_symbols" envconfig:"CRYPTO_SYMBOLS" default:"BTC/USD,ETH/USD"`
	SeriesIDs     []string `yaml:"series_ids" envconfig:"SERIES_IDS" default:"GDP,UNRATE,CPIAUCSL"`
	Locations     []string `yaml:"locations" envconfig:"LOCATIONS" default:"London,New York,Tokyo"`

	// LookbackDays bounds the history window of each pull.
	LookbackDays int    `yaml:"lookback_days" envconfig:"LOOKBACK_DAYS" default:"30" validate:"min=1"`
	Interval     string `yaml:"interval" envconfig:"INTERVAL" default:"1day"`
}

// ScheduleConfig enables the built-in cron mode. When disabled the
// binary runs each requested pipeline once and exits.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	Spec    string `yaml:"spec" envconfig:"SPEC" default:"0 * * * *"`
}

// SourceConfig contains per-source extraction settings.
type SourceConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	// Timezone the source reports local timestamps in. Empty means the
	// source already reports UTC.
	Timezone string `yaml:"timezone"`
}

// Load reads configuration from the optional sources file and then from
// environment variables, which take precedence.
func Load(sourcesFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MDETL", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Sources = DefaultSources()
	if sourcesFile != "" {
		if _, err := os.Stat(sourcesFile); err == nil {
			fileSources, err := loadSourcesFile(sourcesFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load sources file: %w", err)
			}
			for name, sc := range fileSources {
				cfg.Sources[name] = mergeSource(cfg.Sources[name], sc)
			}
		}
	}
	applyAPIKeyEnv(cfg.Sources)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints via struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	for name, sc := range c.Sources {
		if sc.BaseURL == "" {
			return fmt.Errorf("source %s: base_url is required", name)
		}
		if sc.MaxRequests < 1 || sc.Window <= 0 {
			return fmt.Errorf("source %s: rate limit quota must be positive", name)
		}
	}
	return nil
}

// DefaultSources returns the built-in source registrations used when no
// sources file is present. Free-tier quotas.
func DefaultSources() map[string]SourceConfig {
	return map[string]SourceConfig{
		"twelve_data": {
			BaseURL:     "https://api.twelvedata.com",
			MaxRequests: 8,
			Window:      time.Minute,
		},
		"fred": {
			BaseURL:     "https://api.stlouisfed.org/fred",
			MaxRequests: 60,
			Window:      time.Minute,
		},
		"openweather": {
			BaseURL:     "https://api.openweathermap.org/data/2.5",
			MaxRequests: 60,
			Window:      time.Minute,
		},
	}
}

func loadSourcesFile(path string) (map[string]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Sources map[string]SourceConfig `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Sources, nil
}

// mergeSource overlays file values on built-in defaults; empty file
// fields keep the default.
func mergeSource(base, override SourceConfig) SourceConfig {
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.MaxRequests > 0 {
		base.MaxRequests = override.MaxRequests
	}
	if override.Window > 0 {
		base.Window = override.Window
	}
	if override.Timezone != "" {
		base.Timezone = override.Timezone
	}
	return base
}

// applyAPIKeyEnv lets MDETL_<SOURCE>_API_KEY override keys so secrets
// stay out of the sources file.
func applyAPIKeyEnv(sources map[string]SourceConfig) {
	envNames := map[string]string{
		"twelve_data": "MDETL_TWELVE_DATA_API_KEY",
		"fred":        "MDETL_FRED_API_KEY",
		"openweather": "MDETL_OPENWEATHER_API_KEY",
	}
	for name, env := range envNames {
		if key := os.Getenv(env); key != "" {
			sc := sources[name]
			sc.APIKey = key
			sources[name] = sc
		}
	}
}
