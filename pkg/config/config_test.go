package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "development", cfg.AppEnv)
		assert.Equal(t, "0.0.0.0:8080", cfg.APIAddr)
		assert.Equal(t, 100, cfg.PlatformFeeBps)
		assert.Equal(t, 3, cfg.DefaultMaxRetries)
		assert.Equal(t, time.Hour, cfg.SweepInterval)
		assert.Equal(t, 10*time.Minute, cfg.SweepLockTTL)
		assert.Equal(t, 5, cfg.WebhookMaxAttempts)
		assert.Equal(t, 30*time.Minute, cfg.PaymentPendingTimeout)
		assert.True(t, cfg.OutboxProcessorEnabled)
		assert.True(t, cfg.IsDevelopment())
		assert.False(t, cfg.IsProduction())
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("PLATFORM_FEE_BPS", "250")
		t.Setenv("SWEEP_INTERVAL", "15m")
		t.Setenv("MAX_RETRIES", "5")
		t.Setenv("OUTBOX_PROCESSOR_ENABLED", "false")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 250, cfg.PlatformFeeBps)
		assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
		assert.Equal(t, 5, cfg.DefaultMaxRetries)
		assert.False(t, cfg.OutboxProcessorEnabled)
	})

	t.Run("invalid values fall back to defaults", func(t *testing.T) {
		t.Setenv("SWEEP_INTERVAL", "not-a-duration")
		t.Setenv("MAX_RETRIES", "not-a-number")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, time.Hour, cfg.SweepInterval)
		assert.Equal(t, 3, cfg.DefaultMaxRetries)
	})

	t.Run("rejects out-of-range platform fee", func(t *testing.T) {
		t.Setenv("PLATFORM_FEE_BPS", "20000")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("production requires secrets", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		t.Setenv("CRON_SECRET", "")
		t.Setenv("JWT_SECRET", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CRON_SECRET")

		t.Setenv("CRON_SECRET", "cron-secret")
		t.Setenv("JWT_SECRET", "jwt-secret")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.IsProduction())
	})
}
