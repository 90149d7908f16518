package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocalContainer(t *testing.T) *Container {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.AppEnv = "development"
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "settlr.db")
	cfg.RedisURL = ""
	cfg.RabbitMQURL = ""

	c, err := NewContainer(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestLocalContainerWiresEverything(t *testing.T) {
	c := newLocalContainer(t)

	assert.NotNil(t, c.SubscriptionRepo)
	assert.NotNil(t, c.PlanRepo)
	assert.NotNil(t, c.PaymentRepo)
	assert.NotNil(t, c.MerchantRepo)
	assert.NotNil(t, c.DeliveryRepo)
	assert.NotNil(t, c.OutboxRepo)
	assert.NotNil(t, c.UnitOfWork)
	assert.NotNil(t, c.Charger)
	assert.NotNil(t, c.Sweeper)
	assert.NotNil(t, c.SubscribeHandler)
	assert.NotNil(t, c.LifecycleHandler)
	assert.NotNil(t, c.PlanHandler)
	assert.NotNil(t, c.SubscriptionQueries)
	assert.NotNil(t, c.MerchantService)
	assert.NotNil(t, c.WebhookDispatcher)
	assert.NotNil(t, c.OutboxProcessor)
	assert.NotNil(t, c.Health)
	assert.True(t, c.LocalMode())
}

func TestLocalContainerSweepsEmptyDatabase(t *testing.T) {
	c := newLocalContainer(t)

	summary, err := c.Sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Skipped)
	assert.Zero(t, summary.Processed)
}

func TestLocalContainerUsesInProcessBus(t *testing.T) {
	c := newLocalContainer(t)

	consumer, err := c.NewEventConsumer()
	require.NoError(t, err)
	assert.NotNil(t, consumer)
}

func TestMigrateIsIdempotent(t *testing.T) {
	c := newLocalContainer(t)

	require.NoError(t, c.Migrate(context.Background()))
	require.NoError(t, c.Migrate(context.Background()))
}
