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

const paymentColumnsPG = `
	id, subscription_id, plan_id, merchant_id, merchant_wallet, customer_wallet,
	amount, platform_fee, currency, status, tx_signature, failure_reason,
	idempotency_key, period_start, period_end, attempt_count,
	created_at, updated_at`

// PostgresPaymentRepository implements payment.Repository on PostgreSQL.
// A partial unique index on (idempotency_key) where status = 'completed'
// backs the one-completed-charge-per-period guarantee.
type PostgresPaymentRepository struct {
	conn database.Connection
}

// NewPostgresPaymentRepository creates the PostgreSQL payment repository.
func NewPostgresPaymentRepository(conn database.Connection) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{conn: conn}
}

func (r *PostgresPaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		INSERT INTO subscription_payments (` + paymentColumnsPG + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			platform_fee = EXCLUDED.platform_fee,
			status = EXCLUDED.status,
			tx_signature = EXCLUDED.tx_signature,
			failure_reason = EXCLUDED.failure_reason,
			attempt_count = EXCLUDED.attempt_count,
			updated_at = EXCLUDED.updated_at
	`
	_, err := exec.Exec(ctx, query,
		p.ID(), p.SubscriptionID(), p.PlanID(), p.MerchantID(),
		p.MerchantWallet(), p.CustomerWallet(),
		p.Amount(), p.PlatformFee(), p.Currency(), string(p.Status()),
		nullString(p.TxSignature()), nullString(p.FailureReason()),
		p.IdempotencyKey(), p.PeriodStart(), p.PeriodEnd(), p.AttemptCount(),
		p.CreatedAt(), p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("saving payment: %w", err)
	}
	return nil
}

func (r *PostgresPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + paymentColumnsPG + ` FROM subscription_payments WHERE id = $1`
	p, err := scanPaymentPG(exec.QueryRow(ctx, query, id))
	if database.IsNoRows(err) {
		return nil, payment.ErrNotFound
	}
	return p, err
}

func (r *PostgresPaymentRepository) FindCompletedByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + paymentColumnsPG + `
		FROM subscription_payments
		WHERE idempotency_key = $1 AND status = 'completed'
	`
	p, err := scanPaymentPG(exec.QueryRow(ctx, query, key))
	if database.IsNoRows(err) {
		return nil, payment.ErrNotFound
	}
	return p, err
}

func (r *PostgresPaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*payment.Payment, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + paymentColumnsPG + `
		FROM subscription_payments
		WHERE subscription_id = $1
		ORDER BY created_at DESC
	`
	rows, err := exec.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPaymentsPG(rows)
}

func (r *PostgresPaymentRepository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Payment, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + paymentColumnsPG + `
		FROM subscription_payments
		WHERE status = 'pending' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := exec.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPaymentsPG(rows)
}

func scanPaymentsPG(rows database.Rows) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	for rows.Next() {
		p, err := scanPaymentPG(rows)
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

func scanPaymentPG(row database.Row) (*payment.Payment, error) {
	var (
		params        payment.RehydrateParams
		status        string
		txSignature   sql.NullString
		failureReason sql.NullString
	)
	err := row.Scan(
		&params.ID, &params.SubscriptionID, &params.PlanID, &params.MerchantID,
		&params.MerchantWallet, &params.CustomerWallet,
		&params.Amount, &params.PlatformFee, &params.Currency, &status,
		&txSignature, &failureReason,
		&params.IdempotencyKey, &params.PeriodStart, &params.PeriodEnd, &params.AttemptCount,
		&params.CreatedAt, &params.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	params.Status = payment.Status(status)
	params.TxSignature = txSignature.String
	params.FailureReason = failureReason.String
	return payment.Rehydrate(params), nil
}
