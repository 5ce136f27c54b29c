package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturedLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()

	output := &bytes.Buffer{}
	cfg.writer = output

	logger, err := New(&cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	return logger, output
}

func decodeEntry(t *testing.T, line string) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestNew_JSONOutput(t *testing.T) {
	logger, output := newCapturedLogger(t, Config{Level: "info", Format: "json"})

	logger.Debug("suppressed by threshold")
	logger.Info("analysis accepted", slog.String("job_id", "abc-123"))

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	require.Len(t, lines, 1, "entries below the configured level must be dropped")

	entry := decodeEntry(t, lines[0])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "analysis accepted", entry["msg"])
	assert.Equal(t, "abc-123", entry["job_id"])
	assert.Contains(t, entry, "time")
}

func TestNew_ConsoleOutput(t *testing.T) {
	logger, output := newCapturedLogger(t, Config{
		Level:      "info",
		Format:     "console",
		TimeFormat: time.RFC3339,
	})

	logger.Info("console entry")

	// tint renders abbreviated level names
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "console entry")
}

func TestNew_SourceLocation(t *testing.T) {
	logger, output := newCapturedLogger(t, Config{
		Level:        "info",
		Format:       "json",
		EnableSource: true,
	})

	logger.Info("with source")

	entry := decodeEntry(t, strings.TrimSpace(output.String()))
	require.Contains(t, entry, "source")

	source, ok := entry["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	t.Run("writes to the named file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "service.log")

		logger, err := New(&Config{
			Level:  "info",
			Format: "json",
			Output: path,
		})
		require.NoError(t, err)

		logger.Info("persisted entry")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "persisted entry")
	})

	t.Run("unwritable path returns an error", func(t *testing.T) {
		logger, err := New(&Config{
			Level:  "info",
			Format: "json",
			Output: filepath.Join(t.TempDir(), "missing", "service.log"),
		})
		require.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to open log output")
	})
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"ERROR":   slog.LevelError,
		" Warn ":  slog.LevelWarn,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for input, want := range cases {
		assert.Equal(t, want, parseLevel(input), "parseLevel(%q)", input)
	}
}

func TestLogger_DerivedLoggers(t *testing.T) {
	t.Run("With attaches key-value context", func(t *testing.T) {
		logger, output := newCapturedLogger(t, Config{Level: "info", Format: "json"})

		logger.With(slog.String("service", "worker"), slog.Int("pid", 42)).
			Info("started")

		entry := decodeEntry(t, strings.TrimSpace(output.String()))
		assert.Equal(t, "worker", entry["service"])
		assert.Equal(t, float64(42), entry["pid"])
	})

	t.Run("WithAttrs attaches structured attributes", func(t *testing.T) {
		logger, output := newCapturedLogger(t, Config{Level: "info", Format: "json"})

		logger.WithAttrs(slog.String("job_id", "j-1")).Info("claimed")

		entry := decodeEntry(t, strings.TrimSpace(output.String()))
		assert.Equal(t, "j-1", entry["job_id"])
	})

	t.Run("WithGroup nests attributes under the group", func(t *testing.T) {
		logger, output := newCapturedLogger(t, Config{Level: "info", Format: "json"})

		logger.WithGroup("queue").Info("consumed", slog.String("name", "analysis"))

		entry := decodeEntry(t, strings.TrimSpace(output.String()))
		group, ok := entry["queue"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "analysis", group["name"])
	})
}
