package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testdataPath(name string) string {
	return filepath.Join("testdata", name)
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(testdataPath("valid_config.yaml"))
	require.NoError(t, err)

	// App
	assert.Equal(t, "playerstats", cfg.App.Name)
	assert.Equal(t, "1.0.0", cfg.App.Version)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "json", cfg.App.LogFormat)
	assert.Equal(t, "/var/log/playerstats/database-log.txt", cfg.App.LogFile)

	// Storage
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://stats:secret@db:5432/minecraft?sslmode=disable", cfg.Storage.DSN)
	assert.Equal(t, 8, cfg.Storage.MaxOpenConns)
	assert.Equal(t, 3*time.Second, cfg.Storage.OpTimeout.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Storage.MonitorInterval.Duration)
	assert.Equal(t, "/var/lib/playerstats", cfg.Storage.VolumePath)
	assert.Equal(t, 75, cfg.Storage.WarningThreshold)
	assert.Equal(t, 95, cfg.Storage.CriticalThreshold)

	// Flush
	assert.Equal(t, 15*time.Second, cfg.Flush.Interval.Duration)
	assert.Equal(t, 6, cfg.Flush.Workers)
	assert.Equal(t, 512, cfg.Flush.QueueSize)
	assert.Equal(t, 20*time.Second, cfg.Flush.ShutdownTimeout.Duration)
	assert.True(t, cfg.Flush.RequeueFailed)

	// Retry
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialBackoff.Duration)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxBackoff.Duration)
	assert.Equal(t, 3.0, cfg.Retry.BackoffMultiplier)
	assert.Equal(t, 0.2, cfg.Retry.Jitter)

	// Sessions
	assert.True(t, cfg.Sessions.PreserveFirstJoin)

	// Ingress
	assert.Equal(t, "/events", cfg.Ingress.EventsPath)
	assert.Equal(t, "/ops/flush", cfg.Ingress.FlushPath)
	assert.Equal(t, 64, cfg.Ingress.MaxInFlight)

	// Metrics / health
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
	assert.Equal(t, "/live", cfg.Health.LivenessPath)
	assert.Equal(t, "/readyz", cfg.Health.ReadinessPath)
}

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "playerstats", cfg.App.Name)
	assert.Equal(t, "0.1.0", cfg.App.Version)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "json", cfg.App.LogFormat)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/data/playerstats.db", cfg.Storage.DSN)
	assert.Equal(t, 4, cfg.Storage.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.Storage.OpTimeout.Duration)
	assert.Equal(t, 1*time.Minute, cfg.Storage.MonitorInterval.Duration)
	assert.Equal(t, "/data", cfg.Storage.VolumePath)
	assert.Equal(t, 80, cfg.Storage.WarningThreshold)
	assert.Equal(t, 90, cfg.Storage.CriticalThreshold)
	assert.Equal(t, 30*time.Second, cfg.Flush.Interval.Duration)
	assert.Equal(t, 4, cfg.Flush.Workers)
	assert.Equal(t, 1024, cfg.Flush.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Flush.ShutdownTimeout.Duration)
	assert.False(t, cfg.Flush.RequeueFailed)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.Retry.InitialBackoff.Duration)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxBackoff.Duration)
	assert.Equal(t, 2.0, cfg.Retry.BackoffMultiplier)
	assert.Equal(t, 0.0, cfg.Retry.Jitter)
	assert.False(t, cfg.Sessions.PreserveFirstJoin)
	assert.Equal(t, "/v1/events", cfg.Ingress.EventsPath)
	assert.Equal(t, "/admin/flush", cfg.Ingress.FlushPath)
	assert.Equal(t, 256, cfg.Ingress.MaxInFlight)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 8080, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/healthz", cfg.Health.LivenessPath)
	assert.Equal(t, "/ready", cfg.Health.ReadinessPath)
	assert.Empty(t, cfg.AdminToken)
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	content := `
storage:
  driver: postgres
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.dsn is required")
}

func TestLoadUnknownDriver(t *testing.T) {
	content := `
storage:
  driver: mysql
  dsn: admin:password@tcp(localhost:3306)/minecraft
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver must be one of")
}

func TestLoadMalformedYAML(t *testing.T) {
	content := `
this is: [not: valid yaml
  broken: {
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadInvalidLogLevel(t *testing.T) {
	content := `
app:
  logLevel: verbose
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.logLevel must be one of")
}

func TestLoadInvalidLogFormat(t *testing.T) {
	content := `
app:
  logFormat: xml
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.logFormat must be one of")
}

func TestLoadInvalidRetry(t *testing.T) {
	content := `
retry:
  maxAttempts: -1
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry.maxAttempts must be at least 1")

	content = `
retry:
  jitter: 1.5
`
	path = writeTempConfig(t, content)
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry.jitter must be between 0 and 1")
}

func TestLoadNonPositiveDurations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "negative flush interval",
			content: "flush:\n  interval: -5s\n",
			wantErr: "flush.interval must be positive",
		},
		{
			name:    "negative shutdown timeout",
			content: "flush:\n  shutdownTimeout: -1s\n",
			wantErr: "flush.shutdownTimeout must be positive",
		},
		{
			name:    "negative op timeout",
			content: "storage:\n  opTimeout: -100ms\n",
			wantErr: "storage.opTimeout must be positive",
		},
		{
			name:    "negative monitor interval",
			content: "storage:\n  monitorInterval: -1m\n",
			wantErr: "storage.monitorInterval must be positive",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEnvOverrideStorage(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://override/minecraft")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://override/minecraft", cfg.Storage.DSN)
}

func TestEnvOverrideAdminToken(t *testing.T) {
	t.Setenv("ADMIN_AUTH_TOKEN", "secret-token-123")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "secret-token-123", cfg.AdminToken)
}

func TestDurationUnmarshalYAML(t *testing.T) {
	content := `
flush:
  interval: 45s
  shutdownTimeout: 1m
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Flush.Interval.Duration)
	assert.Equal(t, time.Minute, cfg.Flush.ShutdownTimeout.Duration)
}

func TestInvalidDurationValue(t *testing.T) {
	content := `
flush:
  interval: not-a-duration
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestDurationMarshalYAML(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	v, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", v)
}

// writeTempConfig writes the given YAML content to a temporary file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
	return path
}
