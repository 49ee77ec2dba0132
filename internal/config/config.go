package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate (and Load) when a setting is out of range.
var ErrInvalid = errors.New("invalid config")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// OpenFEMA rejects $top values above this.
	MaxPageSize = 10000
)

type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" env:"DISASTER_HTTP_TIMEOUT"`
	UserAgent string        `yaml:"user_agent" env:"DISASTER_HTTP_USER_AGENT"`
}

type SourceConfig struct {
	BaseURL string `yaml:"base_url" env:"DISASTER_SOURCE_BASE_URL"` // https://www.fema.gov/api/open
	Version string `yaml:"version" env:"DISASTER_SOURCE_VERSION"`   // v1
	Dataset string `yaml:"dataset" env:"DISASTER_SOURCE_DATASET"`   // DisasterDeclarationsSummaries
	Entity  string `yaml:"entity" env:"DISASTER_SOURCE_ENTITY"`     // top-level response key, default: dataset
	// Window and paging
	LookbackDays int `yaml:"lookback_days" env:"DISASTER_LOOKBACK_DAYS"`
	PageSize     int `yaml:"page_size" env:"DISASTER_PAGE_SIZE"`
	// Skip $inlinecount and rely on the short-page check alone.
	DisableInlineCount bool       `yaml:"disable_inline_count" env:"DISASTER_DISABLE_INLINE_COUNT"`
	HTTP               HTTPConfig `yaml:"http"`
}

// Endpoint is the dataset URL without query parameters.
func (s SourceConfig) Endpoint() string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + s.Version + "/" + s.Dataset
}

// UseInlineCount reports whether pages should carry metadata.count.
func (s SourceConfig) UseInlineCount() bool {
	return !s.DisableInlineCount
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DISASTER_DB_DRIVER"` // postgres | sqlite
	DSN    string `yaml:"dsn" env:"DISASTER_DB_DSN"`
	LogSQL bool   `yaml:"log_sql" env:"DISASTER_DB_LOG_SQL"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" env:"DISASTER_PUSHGATEWAY_URL"` // empty: no push
	Job            string `yaml:"job" env:"DISASTER_METRICS_JOB"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"DISASTER_LOG_LEVEL"`
	Format string `yaml:"format" env:"DISASTER_LOG_FORMAT"` // text | json
}

type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// DISASTER_* environment overrides, fills defaults and validates the result.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) ApplyDefaults() {
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://www.fema.gov/api/open"
	}
	if c.Source.Version == "" {
		c.Source.Version = "v1"
	}
	if c.Source.Dataset == "" {
		c.Source.Dataset = "DisasterDeclarationsSummaries"
	}
	if c.Source.Entity == "" {
		c.Source.Entity = c.Source.Dataset
	}
	if c.Source.LookbackDays == 0 {
		c.Source.LookbackDays = 365 * 75
	}
	if c.Source.PageSize == 0 {
		c.Source.PageSize = 1000
	}
	if c.Source.HTTP.Timeout == 0 {
		c.Source.HTTP.Timeout = 30 * time.Second
	}
	if c.Source.HTTP.UserAgent == "" {
		c.Source.HTTP.UserAgent = "disaster-ingester"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.DSN == "" && c.Database.Driver == DriverPostgres {
		c.Database.DSN = "postgres://localhost:5432/fema?sslmode=disable"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "disaster-ingester"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c Config) Validate() error {
	switch {
	case c.Source.LookbackDays <= 0:
		return fmt.Errorf("%w: source.lookback_days must be positive, got %d", ErrInvalid, c.Source.LookbackDays)
	case c.Source.PageSize <= 0 || c.Source.PageSize > MaxPageSize:
		return fmt.Errorf("%w: source.page_size must be in 1..%d, got %d", ErrInvalid, MaxPageSize, c.Source.PageSize)
	case strings.TrimSpace(c.Source.Entity) == "":
		return fmt.Errorf("%w: source.entity is empty", ErrInvalid)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: unknown database.driver %q", ErrInvalid, c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("%w: database.dsn is empty", ErrInvalid)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}
