package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gateway.log")

	logger, closeFn, err := NewFileLogger(path, "gateway", slog.LevelInfo, FileRotation{})
	require.NoError(t, err)

	logger.Info("session started", "operation", "start")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "session started", record["msg"])
	assert.Equal(t, "gateway", record["service"])
	assert.Equal(t, "start", record["operation"])
}

func TestNewFileLogger_LevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")

	logger, closeFn, err := NewFileLogger(path, "gateway", slog.LevelWarn, FileRotation{})
	require.NoError(t, err)

	logger.Info("below threshold")
	logger.Warn("at threshold")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "below threshold")
	assert.Contains(t, string(data), "at threshold")
}

func TestInitFileRoutesServiceLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")

	closeFn, err := InitFile(path, "camgate", slog.LevelInfo, FileRotation{})
	require.NoError(t, err)
	t.Cleanup(func() {
		structuredLogger = nil
		_ = closeFn()
	})

	ForService("stream").Info("transcode session started")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "transcode session started")
	assert.Contains(t, string(data), `"service":"stream"`)
}
