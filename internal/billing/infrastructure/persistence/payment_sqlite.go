package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
)

const paymentColumnsLite = `
	id, subscription_id, plan_id, merchant_id, merchant_wallet, customer_wallet,
	amount, platform_fee, currency, status, tx_signature, failure_reason,
	idempotency_key, period_start, period_end, attempt_count,
	created_at, updated_at`

// SQLitePaymentRepository implements payment.Repository on SQLite.
type SQLitePaymentRepository struct {
	conn database.Connection
}

// NewSQLitePaymentRepository creates the SQLite payment repository.
func NewSQLitePaymentRepository(conn database.Connection) *SQLitePaymentRepository {
	return &SQLitePaymentRepository{conn: conn}
}

func (r *SQLitePaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		INSERT INTO subscription_payments (` + paymentColumnsLite + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			platform_fee = excluded.platform_fee,
			status = excluded.status,
			tx_signature = excluded.tx_signature,
			failure_reason = excluded.failure_reason,
			attempt_count = excluded.attempt_count,
			updated_at = excluded.updated_at
	`
	_, err := exec.Exec(ctx, query,
		p.ID().String(), p.SubscriptionID().String(), p.PlanID().String(), p.MerchantID().String(),
		p.MerchantWallet(), p.CustomerWallet(),
		p.Amount(), p.PlatformFee(), p.Currency(), string(p.Status()),
		nullString(p.TxSignature()), nullString(p.FailureReason()),
		p.IdempotencyKey(), encodeTime(p.PeriodStart()), encodeTime(p.PeriodEnd()), p.AttemptCount(),
		encodeTime(p.CreatedAt()), encodeTime(p.UpdatedAt()),
	)
	if err != nil {
		return fmt.Errorf("saving payment: %w", err)
	}
	return nil
}

func (r *SQLitePaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + paymentColumnsLite + ` FROM subscription_payments WHERE id = ?`
	p, err := scanPaymentLite(exec.QueryRow(ctx, query, id.String()))
	if database.IsNoRows(err) {
		return nil, payment.ErrNotFound
	}
	return p, err
}

func (r *SQLitePaymentRepository) FindCompletedByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + paymentColumnsLite + `
		FROM subscription_payments
		WHERE idempotency_key = ? AND status = 'completed'
	`
	p, err := scanPaymentLite(exec.QueryRow(ctx, query, key))
	if database.IsNoRows(err) {
		return nil, payment.ErrNotFound
	}
	return p, err
}

func (r *SQLitePaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*payment.Payment, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + paymentColumnsLite + `
		FROM subscription_payments
		WHERE subscription_id = ?
		ORDER BY created_at DESC
	`
	rows, err := exec.Query(ctx, query, subscriptionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPaymentsLite(rows)
}

func (r *SQLitePaymentRepository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Payment, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + paymentColumnsLite + `
		FROM subscription_payments
		WHERE status = 'pending' AND created_at <= ?
		ORDER BY created_at
		LIMIT ?
	`
	rows, err := exec.Query(ctx, query, encodeTime(cutoff), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPaymentsLite(rows)
}

func scanPaymentsLite(rows database.Rows) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	for rows.Next() {
		p, err := scanPaymentLite(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func scanPaymentLite(row database.Row) (*payment.Payment, error) {
	var (
		params         payment.RehydrateParams
		id             string
		subscriptionID string
		planID         string
		merchantID     string
		status         string
		txSignature    sql.NullString
		failureReason  sql.NullString
		periodStart    string
		periodEnd      string
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(
		&id, &subscriptionID, &planID, &merchantID,
		&params.MerchantWallet, &params.CustomerWallet,
		&params.Amount, &params.PlatformFee, &params.Currency, &status,
		&txSignature, &failureReason,
		&params.IdempotencyKey, &periodStart, &periodEnd, &params.AttemptCount,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if params.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if params.SubscriptionID, err = uuid.Parse(subscriptionID); err != nil {
		return nil, err
	}
	if params.PlanID, err = uuid.Parse(planID); err != nil {
		return nil, err
	}
	if params.MerchantID, err = uuid.Parse(merchantID); err != nil {
		return nil, err
	}
	if params.PeriodStart, err = parseTime(periodStart); err != nil {
		return nil, err
	}
	if params.PeriodEnd, err = parseTime(periodEnd); err != nil {
		return nil, err
	}
	if params.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if params.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	params.Status = payment.Status(status)
	params.TxSignature = txSignature.String
	params.FailureReason = failureReason.String
	return payment.Rehydrate(params), nil
}
