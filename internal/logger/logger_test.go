package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/engage/internal/config"
)

func appConfig(format, level, env string) *config.AppConfig {
	return &config.AppConfig{
		Name:        "engage-test",
		Version:     "1.2.3",
		Environment: env,
		LogLevel:    level,
		LogFormat:   format,
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("Should emit JSON with identity attributes", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		log := NewWithWriter(appConfig("json", "info", "production"), &buf)

		// Act
		log.Info("hello", "app_key", "demo")

		// Assert
		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "hello", record["msg"])
		assert.Equal(t, "engage-test", record["service"])
		assert.Equal(t, "1.2.3", record["version"])
		assert.Equal(t, "production", record["env"])
		assert.Equal(t, "demo", record["app_key"])
		assert.NotContains(t, record, "source", "source is only added outside production")
	})

	t.Run("Should emit text and add source outside production", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		log := NewWithWriter(appConfig("text", "info", "development"), &buf)

		// Act
		log.Info("hello")

		// Assert
		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "time="))
		assert.Contains(t, out, "service=engage-test")
		assert.Contains(t, out, "source=")
	})

	t.Run("Should filter records below the configured level", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		log := NewWithWriter(appConfig("json", "warn", "production"), &buf)

		// Act
		log.Info("dropped")
		log.Warn("kept")

		// Assert
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("Should panic on nil config", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { NewWithWriter(nil, &bytes.Buffer{}) })
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"super-critical", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestComponent(t *testing.T) {
	t.Parallel()

	// Arrange
	var buf bytes.Buffer
	base := NewWithWriter(appConfig("json", "info", "production"), &buf)

	// Act
	Component(base, "syncer").Info("tick")

	// Assert
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "syncer", record["component"])
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { Discard().Error("nothing") })
}
