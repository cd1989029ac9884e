// Package config loads service configuration from defaults, an optional
// YAML file, a .env file and ROUTING_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ROUTING_DATABASE_URL for database.url.
const EnvPrefix = "ROUTING"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	SeedFile string         `mapstructure:"seed_file"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SlowRequest     time.Duration `mapstructure:"slow_request"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type EngineConfig struct {
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	CacheEnabled bool          `mapstructure:"cache_enabled"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	SampleRate  int    `mapstructure:"sample_rate"`
	OTEL        bool   `mapstructure:"otel"`
	ServiceName string `mapstructure:"service_name"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.slow_request", 500*time.Millisecond)

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("engine.store_timeout", 2*time.Second)
	v.SetDefault("engine.cache_enabled", true)
	v.SetDefault("engine.cache_ttl", time.Duration(0))

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "routing.evaluate")
	v.SetDefault("nats.queue", "routing-rules")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.sample_rate", 1)
	v.SetDefault("log.otel", false)
	v.SetDefault("log.service_name", "routing-rules")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("seed_file", "")
}

// New returns a viper instance with defaults and env binding applied.
// Callers may bind command-line flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads envFiles (missing files are ignored), then the YAML file at
// path if non-empty, and decodes the merged result into a Config.
func Load(v *viper.Viper, path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// godotenv never overrides variables already set in the environment.
	_ = godotenv.Load(envFiles...)

	// OTEL_ENABLED is the conventional switch shared with other services.
	if err := v.BindEnv("log.otel", EnvPrefix+"_LOG_OTEL", "OTEL_ENABLED"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("log.service_name", EnvPrefix+"_LOG_SERVICE_NAME", "OTEL_SERVICE_NAME"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite, DriverMySQL:
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be one of memory, postgres, sqlite, mysql; got %q", c.Database.Driver))
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, errors.New("database.max_open_conns must not be negative"))
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.request_timeout must be positive"))
	}
	if c.Engine.StoreTimeout < 0 {
		errs = append(errs, errors.New("engine.store_timeout must not be negative"))
	}
	if c.Engine.CacheTTL < 0 {
		errs = append(errs, errors.New("engine.cache_ttl must not be negative"))
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required when nats is enabled"))
		}
		if c.NATS.Subject == "" {
			errs = append(errs, errors.New("nats.subject is required when nats is enabled"))
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text; got %q", c.Log.Format))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /; got %q", c.Metrics.Path))
	}

	return errors.Join(errs...)
}
