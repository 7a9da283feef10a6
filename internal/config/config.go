// Package config handles loading, validating, and applying defaults to the
// playerstats configuration. Configuration is read from a YAML file and
// may be overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Duration is a wrapper around time.Duration that implements yaml.Unmarshaler
// so that Go-style duration strings (e.g. "30s", "5m") can be used in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a YAML scalar as a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML serialises the duration back to a human-readable string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the top-level configuration for the playerstats service.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Storage  StorageConfig  `yaml:"storage"`
	Flush    FlushConfig    `yaml:"flush"`
	Retry    RetryConfig    `yaml:"retry"`
	Sessions SessionsConfig `yaml:"sessions"`
	Ingress  IngressConfig  `yaml:"ingress"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Health   HealthConfig   `yaml:"health"`

	// AdminToken is populated from the ADMIN_AUTH_TOKEN environment variable.
	// It is never read from the config file.
	AdminToken string `yaml:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	// LogFile, when set, receives a copy of every log entry in addition to
	// stderr.
	LogFile string `yaml:"logFile"`
}

// StorageConfig controls the durable store and volume monitoring.
type StorageConfig struct {
	Driver            string   `yaml:"driver"`
	DSN               string   `yaml:"dsn"`
	MaxOpenConns      int      `yaml:"maxOpenConns"`
	OpTimeout         Duration `yaml:"opTimeout"`
	MonitorInterval   Duration `yaml:"monitorInterval"`
	VolumePath        string   `yaml:"volumePath"`
	WarningThreshold  int      `yaml:"warningThreshold"`
	CriticalThreshold int      `yaml:"criticalThreshold"`
}

// FlushConfig controls the flush scheduler and persistence worker pool.
type FlushConfig struct {
	Interval        Duration `yaml:"interval"`
	Workers         int      `yaml:"workers"`
	QueueSize       int      `yaml:"queueSize"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
	RequeueFailed   bool     `yaml:"requeueFailed"`
}

// RetryConfig controls the retry policy for first-join writes. A zero
// InitialBackoff retries immediately.
type RetryConfig struct {
	MaxAttempts       int      `yaml:"maxAttempts"`
	InitialBackoff    Duration `yaml:"initialBackoff"`
	MaxBackoff        Duration `yaml:"maxBackoff"`
	BackoffMultiplier float64  `yaml:"backoffMultiplier"`
	Jitter            float64  `yaml:"jitter"`
}

// SessionsConfig controls session bookkeeping.
type SessionsConfig struct {
	// PreserveFirstJoin keeps the original first_join timestamp on rejoin
	// instead of resetting it on every join.
	PreserveFirstJoin bool `yaml:"preserveFirstJoin"`
}

// IngressConfig controls the HTTP event ingress and operator endpoints.
type IngressConfig struct {
	EventsPath  string `yaml:"eventsPath"`
	FlushPath   string `yaml:"flushPath"`
	MaxInFlight int    `yaml:"maxInFlight"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health/readiness probe endpoints.
type HealthConfig struct {
	LivenessPath  string `yaml:"livenessPath"`
	ReadinessPath string `yaml:"readinessPath"`
}

// Load reads the YAML configuration file at path, applies defaults, applies
// environment-variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	// App defaults
	if c.App.Name == "" {
		c.App.Name = "playerstats"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.DSN == "" && c.Storage.Driver == DriverSQLite {
		c.Storage.DSN = "/data/playerstats.db"
	}
	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 4
	}
	if c.Storage.OpTimeout.Duration == 0 {
		c.Storage.OpTimeout.Duration = 5 * time.Second
	}
	if c.Storage.MonitorInterval.Duration == 0 {
		c.Storage.MonitorInterval.Duration = 1 * time.Minute
	}
	if c.Storage.VolumePath == "" {
		c.Storage.VolumePath = "/data"
	}
	if c.Storage.WarningThreshold == 0 {
		c.Storage.WarningThreshold = 80
	}
	if c.Storage.CriticalThreshold == 0 {
		c.Storage.CriticalThreshold = 90
	}

	// Flush defaults
	if c.Flush.Interval.Duration == 0 {
		c.Flush.Interval.Duration = 30 * time.Second
	}
	if c.Flush.Workers == 0 {
		c.Flush.Workers = 4
	}
	if c.Flush.QueueSize == 0 {
		c.Flush.QueueSize = 1024
	}
	if c.Flush.ShutdownTimeout.Duration == 0 {
		c.Flush.ShutdownTimeout.Duration = 10 * time.Second
	}

	// Retry defaults reproduce three immediate attempts.
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.MaxBackoff.Duration == 0 {
		c.Retry.MaxBackoff.Duration = 5 * time.Second
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2.0
	}

	// Ingress defaults
	if c.Ingress.EventsPath == "" {
		c.Ingress.EventsPath = "/v1/events"
	}
	if c.Ingress.FlushPath == "" {
		c.Ingress.FlushPath = "/admin/flush"
	}
	if c.Ingress.MaxInFlight == 0 {
		c.Ingress.MaxInFlight = 256
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Enabled = true
		c.Metrics.Port = 8080
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Health defaults
	if c.Health.LivenessPath == "" {
		c.Health.LivenessPath = "/healthz"
	}
	if c.Health.ReadinessPath == "" {
		c.Health.ReadinessPath = "/ready"
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("ADMIN_AUTH_TOKEN"); v != "" {
		c.AdminToken = v
	}
}

// validate checks that all required fields are populated and that enum values
// are within the allowed set.
func (c *Config) validate() error {
	// Validate log level
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("app.logLevel must be one of: debug, info, warn, error; got %q", c.App.LogLevel)
	}

	// Validate log format
	switch c.App.LogFormat {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("app.logFormat must be one of: json, text; got %q", c.App.LogFormat)
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
		// valid
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite3, postgres; got %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"storage.opTimeout", c.Storage.OpTimeout.Duration},
		{"storage.monitorInterval", c.Storage.MonitorInterval.Duration},
		{"flush.interval", c.Flush.Interval.Duration},
		{"flush.shutdownTimeout", c.Flush.ShutdownTimeout.Duration},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive; got %s", d.name, d.value)
		}
	}

	if c.Flush.Workers < 1 {
		return fmt.Errorf("flush.workers must be at least 1; got %d", c.Flush.Workers)
	}
	if c.Flush.QueueSize < 1 {
		return fmt.Errorf("flush.queueSize must be at least 1; got %d", c.Flush.QueueSize)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1; got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1; got %v", c.Retry.Jitter)
	}
	if c.Ingress.MaxInFlight < 1 {
		return fmt.Errorf("ingress.maxInFlight must be at least 1; got %d", c.Ingress.MaxInFlight)
	}

	return nil
}
