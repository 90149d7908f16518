package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{
			Level:       LogLevelInfo,
			Format:      LogFormatText,
			Output:      &buf,
			ServiceName: "settlr",
		})

		logger.Info("charge completed", "amount", 10_000_000)

		out := buf.String()
		assert.Contains(t, out, "charge completed")
		assert.Contains(t, out, "service=settlr")
		assert.Contains(t, out, "amount=10000000")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{
			Level:          LogLevelInfo,
			Format:         LogFormatJSON,
			Output:         &buf,
			ServiceName:    "settlr",
			ServiceVersion: "1.2.3",
		})

		logger.Info("sweep started")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "sweep started", entry["msg"])
		assert.Equal(t, "settlr", entry["service"])
		assert.Equal(t, "1.2.3", entry["version"])
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
			Output: &buf,
		})

		logger.Debug("should not appear")
		logger.Info("should appear")

		assert.NotContains(t, buf.String(), "should not appear")
		assert.Contains(t, buf.String(), "should appear")
	})

	t.Run("correlation id from context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
			Output: &buf,
		})

		ctx := WithCorrelationID(context.Background(), "corr-123")
		logger.InfoContext(ctx, "renewal charged")

		assert.Contains(t, buf.String(), "correlation_id=corr-123")
	})
}

func TestLoggerFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOG_LEVEL", "debug")

	logger := LoggerFromEnv()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), -4)) // slog.LevelDebug
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	ctx = WithCorrelationID(ctx, "")
	assert.NotEmpty(t, CorrelationIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))

	ctx = WithMerchantID(ctx, "merchant-1")
	assert.Equal(t, "merchant-1", MerchantIDFromContext(ctx))

	assert.Empty(t, strings.TrimSpace(CorrelationIDFromContext(context.Background())))
}
