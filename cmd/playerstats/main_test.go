package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bryonbaker/playerstats/internal/config"
)

func TestNewLoggerWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database-log.txt")

	logger, err := newLogger(config.AppConfig{LogLevel: "info", LogFormat: "json", LogFile: path})
	require.NoError(t, err)

	logger.Debug("below level")
	logger.Error("failed to upsert stat column", zap.String("column", "deaths"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "failed to upsert stat column")
	assert.Contains(t, string(data), `"column":"deaths"`)
	assert.NotContains(t, string(data), "below level")
}

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tc := range tests {
		logger, err := newLogger(config.AppConfig{LogLevel: tc.level, LogFormat: "text"})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(tc.want), "level %q", tc.level)
		assert.False(t, logger.Core().Enabled(tc.want-1), "level %q", tc.level)
	}
}
