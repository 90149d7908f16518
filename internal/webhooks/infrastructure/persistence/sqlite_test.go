package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/shared/infrastructure/database"
	_ "github.com/settlr/settlr/internal/shared/infrastructure/database/sqlite"
	"github.com/settlr/settlr/internal/shared/infrastructure/migrations"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
)

func openTestDB(t *testing.T) database.Connection {
	t.Helper()

	conn, err := database.NewConnection(context.Background(), database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "webhooks_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, migrations.Run(context.Background(), conn))
	return conn
}

func seedMerchantRow(t *testing.T, conn database.Connection) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := conn.Exec(context.Background(), `
		INSERT INTO merchants (id, name, email, wallet_address, api_key_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), "Acme", "acme+"+id.String()[:8]+"@test.dev",
		"Wallet"+id.String()[:8], "hash-"+id.String(), now, now,
	)
	require.NoError(t, err)
	return id
}

func newStoredDelivery(t *testing.T, repo delivery.Repository, merchantID uuid.UUID, at time.Time) *delivery.Delivery {
	t.Helper()
	d, err := delivery.New(merchantID, uuid.New(), "subscription.renewed", []byte(`{"id":"evt"}`), at)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), d))
	return d
}

func TestDeliveryRoundtrip(t *testing.T) {
	conn := openTestDB(t)
	repo := NewDeliveryRepository(conn)
	merchantID := seedMerchantRow(t, conn)
	now := time.Now().UTC().Truncate(time.Second)

	d := newStoredDelivery(t, repo, merchantID, now)

	loaded, err := repo.FindByID(context.Background(), d.ID())
	require.NoError(t, err)

	assert.Equal(t, d.ID(), loaded.ID())
	assert.Equal(t, merchantID, loaded.MerchantID())
	assert.Equal(t, d.EventID(), loaded.EventID())
	assert.Equal(t, "subscription.renewed", loaded.EventType())
	assert.JSONEq(t, `{"id":"evt"}`, string(loaded.Payload()))
	assert.Equal(t, delivery.StatusPending, loaded.Status())
	require.NotNil(t, loaded.NextAttemptAt())
	assert.True(t, loaded.NextAttemptAt().Equal(now))
	assert.Nil(t, loaded.DeliveredAt())
}

func TestDeliveryFindByIDMissing(t *testing.T) {
	repo := NewDeliveryRepository(openTestDB(t))

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, delivery.ErrNotFound)
}

func TestDeliverySaveUpsertsOutcome(t *testing.T) {
	conn := openTestDB(t)
	repo := NewDeliveryRepository(conn)
	merchantID := seedMerchantRow(t, conn)
	now := time.Now().UTC().Truncate(time.Second)

	d := newStoredDelivery(t, repo, merchantID, now)
	require.NoError(t, d.RecordFailure(now, "connection refused", delivery.DefaultMaxAttempts))
	require.NoError(t, repo.Save(context.Background(), d))

	loaded, err := repo.FindByID(context.Background(), d.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.AttemptCount())
	assert.Equal(t, "connection refused", loaded.LastError())
	require.NotNil(t, loaded.NextAttemptAt())
	assert.True(t, loaded.NextAttemptAt().Equal(now.Add(5*time.Second)))
}

func TestDueReturnsOnlyRipePending(t *testing.T) {
	conn := openTestDB(t)
	repo := NewDeliveryRepository(conn)
	merchantID := seedMerchantRow(t, conn)
	now := time.Now().UTC().Truncate(time.Second)

	ripe := newStoredDelivery(t, repo, merchantID, now.Add(-time.Minute))
	newStoredDelivery(t, repo, merchantID, now.Add(time.Hour))

	delivered := newStoredDelivery(t, repo, merchantID, now.Add(-time.Minute))
	require.NoError(t, delivered.RecordSuccess(now))
	require.NoError(t, repo.Save(context.Background(), delivered))

	dead := newStoredDelivery(t, repo, merchantID, now.Add(-time.Minute))
	require.NoError(t, dead.Abandon(now, "gone"))
	require.NoError(t, repo.Save(context.Background(), dead))

	due, err := repo.Due(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, ripe.ID(), due[0].ID())
}

func TestListByMerchant(t *testing.T) {
	conn := openTestDB(t)
	repo := NewDeliveryRepository(conn)
	merchantID := seedMerchantRow(t, conn)
	otherID := seedMerchantRow(t, conn)
	now := time.Now().UTC().Truncate(time.Second)

	newStoredDelivery(t, repo, merchantID, now)
	newStoredDelivery(t, repo, merchantID, now)
	newStoredDelivery(t, repo, otherID, now)

	listed, err := repo.ListByMerchant(context.Background(), merchantID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	page, err := repo.ListByMerchant(context.Background(), merchantID, 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
