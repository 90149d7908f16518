// Package persistence implements the webhook delivery repository on
// PostgreSQL and SQLite.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/shared/infrastructure/database"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
)

const deliveryColumnsPG = `
	id, merchant_id, event_id, event_type, payload, status,
	attempt_count, next_attempt_at, last_error, delivered_at, dead_lettered_at,
	created_at, updated_at`

// NewDeliveryRepository returns the repository matching the connection's
// driver.
func NewDeliveryRepository(conn database.Connection) delivery.Repository {
	if conn.Driver() == database.DriverSQLite {
		return NewSQLiteDeliveryRepository(conn)
	}
	return NewPostgresDeliveryRepository(conn)
}

// PostgresDeliveryRepository implements delivery.Repository on PostgreSQL.
type PostgresDeliveryRepository struct {
	conn database.Connection
}

// NewPostgresDeliveryRepository creates the PostgreSQL repository.
func NewPostgresDeliveryRepository(conn database.Connection) *PostgresDeliveryRepository {
	return &PostgresDeliveryRepository{conn: conn}
}

func (r *PostgresDeliveryRepository) Save(ctx context.Context, d *delivery.Delivery) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumnsPG + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			attempt_count = excluded.attempt_count,
			next_attempt_at = excluded.next_attempt_at,
			last_error = excluded.last_error,
			delivered_at = excluded.delivered_at,
			dead_lettered_at = excluded.dead_lettered_at,
			updated_at = excluded.updated_at
	`
	_, err := exec.Exec(ctx, query,
		d.ID(), d.MerchantID(), d.EventID(), d.EventType(), d.Payload(), string(d.Status()),
		d.AttemptCount(), d.NextAttemptAt(), nullString(d.LastError()),
		d.DeliveredAt(), d.DeadLetteredAt(),
		d.CreatedAt(), d.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("saving webhook delivery: %w", err)
	}
	return nil
}

func (r *PostgresDeliveryRepository) FindByID(ctx context.Context, id uuid.UUID) (*delivery.Delivery, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + deliveryColumnsPG + ` FROM webhook_deliveries WHERE id = $1`
	d, err := scanDeliveryPG(exec.QueryRow(ctx, query, id))
	if database.IsNoRows(err) {
		return nil, delivery.ErrNotFound
	}
	return d, err
}

func (r *PostgresDeliveryRepository) Due(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + deliveryColumnsPG + `
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`
	rows, err := exec.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveriesPG(rows)
}

func (r *PostgresDeliveryRepository) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]*delivery.Delivery, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + deliveryColumnsPG + `
		FROM webhook_deliveries
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := exec.Query(ctx, query, merchantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveriesPG(rows)
}

func scanDeliveriesPG(rows database.Rows) ([]*delivery.Delivery, error) {
	var deliveries []*delivery.Delivery
	for rows.Next() {
		d, err := scanDeliveryPG(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deliveries, nil
}

func scanDeliveryPG(row database.Row) (*delivery.Delivery, error) {
	var (
		params         delivery.RehydrateParams
		status         string
		nextAttemptAt  sql.NullTime
		lastError      sql.NullString
		deliveredAt    sql.NullTime
		deadLetteredAt sql.NullTime
	)
	err := row.Scan(
		&params.ID, &params.MerchantID, &params.EventID, &params.EventType,
		&params.Payload, &status,
		&params.AttemptCount, &nextAttemptAt, &lastError, &deliveredAt, &deadLetteredAt,
		&params.CreatedAt, &params.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	params.Status = delivery.Status(status)
	params.NextAttemptAt = nullTimePtr(nextAttemptAt)
	params.LastError = lastError.String
	params.DeliveredAt = nullTimePtr(deliveredAt)
	params.DeadLetteredAt = nullTimePtr(deadLetteredAt)
	return delivery.Rehydrate(params), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}
