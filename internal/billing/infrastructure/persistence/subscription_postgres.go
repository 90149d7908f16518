// Package persistence implements the billing repositories on PostgreSQL
// and SQLite through the shared database abstraction.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
)

const subscriptionColumnsPG = `
	id, merchant_id, plan_id, merchant_wallet, customer_wallet, customer_email,
	amount, currency, interval, interval_count, status,
	current_period_start, current_period_end, trial_end,
	cancel_at_period_end, cancelled_at, paused_at,
	retry_count, max_retries, created_at, updated_at, version`

// PostgresSubscriptionRepository implements subscription.Repository on
// PostgreSQL with optimistic concurrency on the version column.
type PostgresSubscriptionRepository struct {
	conn database.Connection
}

// NewPostgresSubscriptionRepository creates the PostgreSQL repository.
func NewPostgresSubscriptionRepository(conn database.Connection) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{conn: conn}
}

func (r *PostgresSubscriptionRepository) Save(ctx context.Context, sub *subscription.Subscription) error {
	exec := database.ExecutorFromContext(ctx, r.conn)

	if sub.Version() == 0 {
		query := `
			INSERT INTO subscriptions (` + subscriptionColumnsPG + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			        $15, $16, $17, $18, $19, $20, $21, 1)
		`
		_, err := exec.Exec(ctx, query,
			sub.ID(), sub.MerchantID(), sub.PlanID(),
			sub.MerchantWallet(), sub.CustomerWallet(), nullString(sub.CustomerEmail()),
			sub.Amount(), sub.Currency(), string(sub.Interval()), sub.IntervalCount(),
			string(sub.Status()),
			sub.CurrentPeriodStart(), sub.CurrentPeriodEnd(), sub.TrialEnd(),
			sub.CancelAtPeriodEnd(), sub.CancelledAt(), sub.PausedAt(),
			sub.RetryCount(), sub.MaxRetries(),
			sub.CreatedAt(), sub.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("inserting subscription: %w", err)
		}
		sub.SetVersion(1)
		return nil
	}

	query := `
		UPDATE subscriptions SET
			status = $1,
			current_period_start = $2,
			current_period_end = $3,
			trial_end = $4,
			cancel_at_period_end = $5,
			cancelled_at = $6,
			paused_at = $7,
			retry_count = $8,
			updated_at = $9,
			version = version + 1
		WHERE id = $10 AND version = $11
	`
	result, err := exec.Exec(ctx, query,
		string(sub.Status()),
		sub.CurrentPeriodStart(), sub.CurrentPeriodEnd(), sub.TrialEnd(),
		sub.CancelAtPeriodEnd(), sub.CancelledAt(), sub.PausedAt(),
		sub.RetryCount(), sub.UpdatedAt(),
		sub.ID(), sub.Version(),
	)
	if err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return subscription.ErrConcurrentModification
	}
	sub.SetVersion(sub.Version() + 1)
	return nil
}

func (r *PostgresSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + subscriptionColumnsPG + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscriptionPG(exec.QueryRow(ctx, query, id))
	if database.IsNoRows(err) {
		return nil, subscription.ErrNotFound
	}
	return sub, err
}

func (r *PostgresSubscriptionRepository) List(ctx context.Context, filter subscription.ListFilter) ([]*subscription.Subscription, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)

	var where []string
	var args []any
	if filter.MerchantID != uuid.Nil {
		args = append(args, filter.MerchantID)
		where = append(where, fmt.Sprintf("merchant_id = $%d", len(args)))
	}
	if filter.PlanID != uuid.Nil {
		args = append(args, filter.PlanID)
		where = append(where, fmt.Sprintf("plan_id = $%d", len(args)))
	}
	if filter.CustomerWallet != "" {
		args = append(args, filter.CustomerWallet)
		where = append(where, fmt.Sprintf("customer_wallet = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + subscriptionColumnsPG + ` FROM subscriptions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptionsPG(rows)
}

func (r *PostgresSubscriptionRepository) FindOpenByPlanAndWallet(ctx context.Context, planID uuid.UUID, customerWallet string) (*subscription.Subscription, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + subscriptionColumnsPG + `
		FROM subscriptions
		WHERE plan_id = $1
		  AND customer_wallet = $2
		  AND status NOT IN ('cancelled', 'expired')
		LIMIT 1
	`
	sub, err := scanSubscriptionPG(exec.QueryRow(ctx, query, planID, customerWallet))
	if database.IsNoRows(err) {
		return nil, subscription.ErrNotFound
	}
	return sub, err
}

func (r *PostgresSubscriptionRepository) DueForTrialConversion(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumnsPG + `
		FROM subscriptions
		WHERE status = 'trialing'
		  AND trial_end IS NOT NULL
		  AND trial_end <= $1
		  AND cancel_at_period_end = FALSE
		ORDER BY trial_end
		LIMIT $2
	`
	return r.queryMany(ctx, query, now, limit)
}

func (r *PostgresSubscriptionRepository) DueForRenewal(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumnsPG + `
		FROM subscriptions
		WHERE status = 'active'
		  AND cancel_at_period_end = FALSE
		  AND current_period_end <= $1
		ORDER BY current_period_end
		LIMIT $2
	`
	return r.queryMany(ctx, query, now, limit)
}

func (r *PostgresSubscriptionRepository) DueForCancellation(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumnsPG + `
		FROM subscriptions
		WHERE cancel_at_period_end = TRUE
		  AND status IN ('active', 'trialing')
		  AND current_period_end <= $1
		ORDER BY current_period_end
		LIMIT $2
	`
	return r.queryMany(ctx, query, now, limit)
}

func (r *PostgresSubscriptionRepository) PastDueForRetry(ctx context.Context, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumnsPG + `
		FROM subscriptions
		WHERE status = 'past_due'
		  AND retry_count < max_retries
		ORDER BY updated_at
		LIMIT $1
	`
	return r.queryMany(ctx, query, limit)
}

func (r *PostgresSubscriptionRepository) queryMany(ctx context.Context, query string, args ...any) ([]*subscription.Subscription, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptionsPG(rows)
}

func scanSubscriptionsPG(rows database.Rows) ([]*subscription.Subscription, error) {
	var subs []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionPG(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

func scanSubscriptionPG(row database.Row) (*subscription.Subscription, error) {
	var (
		params        subscription.RehydrateParams
		email         sql.NullString
		interval      string
		status        string
		trialEnd      sql.NullTime
		cancelledAt   sql.NullTime
		pausedAt      sql.NullTime
	)
	err := row.Scan(
		&params.ID, &params.MerchantID, &params.PlanID,
		&params.MerchantWallet, &params.CustomerWallet, &email,
		&params.Amount, &params.Currency, &interval, &params.IntervalCount, &status,
		&params.CurrentPeriodStart, &params.CurrentPeriodEnd, &trialEnd,
		&params.CancelAtPeriodEnd, &cancelledAt, &pausedAt,
		&params.RetryCount, &params.MaxRetries,
		&params.CreatedAt, &params.UpdatedAt, &params.Version,
	)
	if err != nil {
		return nil, err
	}

	params.CustomerEmail = email.String
	params.Interval = subscription.Interval(interval)
	params.Status = subscription.Status(status)
	params.TrialEnd = nullTimePtr(trialEnd)
	params.CancelledAt = nullTimePtr(cancelledAt)
	params.PausedAt = nullTimePtr(pausedAt)
	return subscription.Rehydrate(params), nil
}
