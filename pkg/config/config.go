// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string

	// HTTP API
	APIAddr    string
	CronSecret string
	JWTSecret  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// RabbitMQ
	RabbitMQURL string

	// Relay (transaction submission service)
	RelayURL     string
	RelayAPIKey  string
	RelayTimeout time.Duration

	// Billing
	PlatformFeeBps        int
	DefaultMaxRetries     int
	PaymentPendingTimeout time.Duration

	// Sweeper
	SweepInterval  time.Duration
	SweepLockTTL   time.Duration
	SweepBatchSize int

	// Webhooks
	WebhookMaxAttempts int
	WebhookTimeout     time.Duration

	// Outbox
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxRetries       int
	OutboxRetentionDays    int
	OutboxCleanupInterval  time.Duration
	OutboxProcessorEnabled bool

	// Worker
	WorkerHealthAddr string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		APIAddr:    getEnv("API_ADDR", "0.0.0.0:8080"),
		CronSecret: getEnv("CRON_SECRET", ""),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		RelayURL:     getEnv("RELAY_URL", "http://localhost:3001"),
		RelayAPIKey:  getEnv("RELAY_API_KEY", ""),
		RelayTimeout: getDurationEnv("RELAY_TIMEOUT", 30*time.Second),

		PlatformFeeBps:        getIntEnv("PLATFORM_FEE_BPS", 100),
		DefaultMaxRetries:     getIntEnv("MAX_RETRIES", 3),
		PaymentPendingTimeout: getDurationEnv("PAYMENT_PENDING_TIMEOUT", 30*time.Minute),

		SweepInterval:  getDurationEnv("SWEEP_INTERVAL", time.Hour),
		SweepLockTTL:   getDurationEnv("SWEEP_LOCK_TTL", 10*time.Minute),
		SweepBatchSize: getIntEnv("SWEEP_BATCH_SIZE", 100),

		WebhookMaxAttempts: getIntEnv("WEBHOOK_MAX_ATTEMPTS", 5),
		WebhookTimeout:     getDurationEnv("WEBHOOK_TIMEOUT", 10*time.Second),

		OutboxPollInterval:     getDurationEnv("OUTBOX_POLL_INTERVAL", 100*time.Millisecond),
		OutboxBatchSize:        getIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:       getIntEnv("OUTBOX_MAX_RETRIES", 5),
		OutboxRetentionDays:    getIntEnv("OUTBOX_RETENTION_DAYS", 14),
		OutboxCleanupInterval:  getDurationEnv("OUTBOX_CLEANUP_INTERVAL", 24*time.Hour),
		OutboxProcessorEnabled: getBoolEnv("OUTBOX_PROCESSOR_ENABLED", true),

		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > 10_000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be between 0 and 10000, got %d", c.PlatformFeeBps)
	}
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.DefaultMaxRetries)
	}
	if c.IsProduction() {
		if c.CronSecret == "" {
			return fmt.Errorf("CRON_SECRET is required in production")
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	return nil
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
