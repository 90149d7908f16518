package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
	_ "github.com/settlr/settlr/internal/shared/infrastructure/database/sqlite"
	"github.com/settlr/settlr/internal/shared/infrastructure/migrations"
)

func openTestDB(t *testing.T) database.Connection {
	t.Helper()

	conn, err := database.NewConnection(context.Background(), database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "merchants_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, migrations.Run(context.Background(), conn))
	return conn
}

func newStoredMerchant(t *testing.T, repo merchant.Repository) *merchant.Merchant {
	t.Helper()

	suffix := uuid.NewString()[:8]
	m, err := merchant.New(merchant.NewParams{
		Name:          "Acme Streaming",
		Email:         "billing+" + suffix + "@acme.test",
		WalletAddress: "Merch" + suffix + "Wallet",
		APIKeyHash:    "hash-" + suffix,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), m))
	return m
}

func TestMerchantRoundtrip(t *testing.T) {
	repo := NewMerchantRepository(openTestDB(t))
	m := newStoredMerchant(t, repo)
	assert.Equal(t, 1, m.Version())

	loaded, err := repo.FindByID(context.Background(), m.ID())
	require.NoError(t, err)

	assert.Equal(t, m.ID(), loaded.ID())
	assert.Equal(t, m.Name(), loaded.Name())
	assert.Equal(t, m.Email(), loaded.Email())
	assert.Equal(t, m.WalletAddress(), loaded.WalletAddress())
	assert.Equal(t, m.APIKeyHash(), loaded.APIKeyHash())
	assert.Equal(t, 1, loaded.Version())
	assert.False(t, loaded.Webhook().Active)
	assert.Empty(t, loaded.Webhook().URL)
}

func TestMerchantFindByIDMissing(t *testing.T) {
	repo := NewMerchantRepository(openTestDB(t))

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, merchant.ErrNotFound)
}

func TestMerchantFindByAPIKeyHash(t *testing.T) {
	repo := NewMerchantRepository(openTestDB(t))
	m := newStoredMerchant(t, repo)

	loaded, err := repo.FindByAPIKeyHash(context.Background(), m.APIKeyHash())
	require.NoError(t, err)
	assert.Equal(t, m.ID(), loaded.ID())

	_, err = repo.FindByAPIKeyHash(context.Background(), "no-such-hash")
	assert.ErrorIs(t, err, merchant.ErrNotFound)
}

func TestMerchantWebhookConfigPersists(t *testing.T) {
	repo := NewMerchantRepository(openTestDB(t))
	m := newStoredMerchant(t, repo)

	require.NoError(t, m.ConfigureWebhook(merchant.WebhookConfig{
		URL:    "https://acme.test/hooks/settlr",
		Secret: "whsec_test",
		Events: []string{"subscription.renewed", "subscription.expired"},
		Active: true,
	}))
	require.NoError(t, repo.Save(context.Background(), m))

	loaded, err := repo.FindByID(context.Background(), m.ID())
	require.NoError(t, err)

	webhook := loaded.Webhook()
	assert.True(t, webhook.Active)
	assert.Equal(t, "https://acme.test/hooks/settlr", webhook.URL)
	assert.Equal(t, "whsec_test", webhook.Secret)
	assert.Equal(t, []string{"subscription.renewed", "subscription.expired"}, webhook.Events)
	assert.True(t, webhook.Wants("subscription.renewed"))
	assert.False(t, webhook.Wants("subscription.cancelled"))
}

func TestMerchantEmptyEventListMeansAll(t *testing.T) {
	repo := NewMerchantRepository(openTestDB(t))
	m := newStoredMerchant(t, repo)

	require.NoError(t, m.ConfigureWebhook(merchant.WebhookConfig{
		URL:    "https://acme.test/hooks/settlr",
		Secret: "whsec_test",
		Active: true,
	}))
	require.NoError(t, repo.Save(context.Background(), m))

	loaded, err := repo.FindByID(context.Background(), m.ID())
	require.NoError(t, err)
	assert.Nil(t, loaded.Webhook().Events)
	assert.True(t, loaded.Webhook().Wants("subscription.cancelled"))
}

func TestMerchantOptimisticConcurrency(t *testing.T) {
	repo := NewMerchantRepository(openTestDB(t))
	m := newStoredMerchant(t, repo)

	first, err := repo.FindByID(context.Background(), m.ID())
	require.NoError(t, err)
	second, err := repo.FindByID(context.Background(), m.ID())
	require.NoError(t, err)

	require.NoError(t, first.ConfigureWebhook(merchant.WebhookConfig{
		URL:    "https://acme.test/hooks/settlr",
		Secret: "whsec_test",
		Active: true,
	}))
	require.NoError(t, repo.Save(context.Background(), first))
	assert.Equal(t, 2, first.Version())

	second.DisableWebhook()
	err = repo.Save(context.Background(), second)
	assert.ErrorIs(t, err, merchant.ErrConcurrentModification)
}
