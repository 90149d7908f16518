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

const deliveryColumnsLite = `
	id, merchant_id, event_id, event_type, payload, status,
	attempt_count, next_attempt_at, last_error, delivered_at, dead_lettered_at,
	created_at, updated_at`

// SQLiteDeliveryRepository implements delivery.Repository on SQLite.
type SQLiteDeliveryRepository struct {
	conn database.Connection
}

// NewSQLiteDeliveryRepository creates the SQLite repository.
func NewSQLiteDeliveryRepository(conn database.Connection) *SQLiteDeliveryRepository {
	return &SQLiteDeliveryRepository{conn: conn}
}

func (r *SQLiteDeliveryRepository) Save(ctx context.Context, d *delivery.Delivery) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumnsLite + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		d.ID().String(), d.MerchantID().String(), d.EventID().String(), d.EventType(),
		string(d.Payload()), string(d.Status()),
		d.AttemptCount(), encodeTimePtr(d.NextAttemptAt()), nullString(d.LastError()),
		encodeTimePtr(d.DeliveredAt()), encodeTimePtr(d.DeadLetteredAt()),
		encodeTime(d.CreatedAt()), encodeTime(d.UpdatedAt()),
	)
	if err != nil {
		return fmt.Errorf("saving webhook delivery: %w", err)
	}
	return nil
}

func (r *SQLiteDeliveryRepository) FindByID(ctx context.Context, id uuid.UUID) (*delivery.Delivery, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + deliveryColumnsLite + ` FROM webhook_deliveries WHERE id = ?`
	d, err := scanDeliveryLite(exec.QueryRow(ctx, query, id.String()))
	if database.IsNoRows(err) {
		return nil, delivery.ErrNotFound
	}
	return d, err
}

func (r *SQLiteDeliveryRepository) Due(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + deliveryColumnsLite + `
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at
		LIMIT ?
	`
	rows, err := exec.Query(ctx, query, encodeTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveriesLite(rows)
}

func (r *SQLiteDeliveryRepository) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]*delivery.Delivery, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + deliveryColumnsLite + `
		FROM webhook_deliveries
		WHERE merchant_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := exec.Query(ctx, query, merchantID.String(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveriesLite(rows)
}

func scanDeliveriesLite(rows database.Rows) ([]*delivery.Delivery, error) {
	var deliveries []*delivery.Delivery
	for rows.Next() {
		d, err := scanDeliveryLite(rows)
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

func scanDeliveryLite(row database.Row) (*delivery.Delivery, error) {
	var (
		params         delivery.RehydrateParams
		id             string
		merchantID     string
		eventID        string
		payload        string
		status         string
		nextAttemptAt  sql.NullString
		lastError      sql.NullString
		deliveredAt    sql.NullString
		deadLetteredAt sql.NullString
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(
		&id, &merchantID, &eventID, &params.EventType,
		&payload, &status,
		&params.AttemptCount, &nextAttemptAt, &lastError, &deliveredAt, &deadLetteredAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if params.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if params.MerchantID, err = uuid.Parse(merchantID); err != nil {
		return nil, err
	}
	if params.EventID, err = uuid.Parse(eventID); err != nil {
		return nil, err
	}
	if params.NextAttemptAt, err = parseTimePtr(nextAttemptAt); err != nil {
		return nil, err
	}
	if params.DeliveredAt, err = parseTimePtr(deliveredAt); err != nil {
		return nil, err
	}
	if params.DeadLetteredAt, err = parseTimePtr(deadLetteredAt); err != nil {
		return nil, err
	}
	if params.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if params.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}

	params.Payload = []byte(payload)
	params.Status = delivery.Status(status)
	params.LastError = lastError.String
	return delivery.Rehydrate(params), nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
