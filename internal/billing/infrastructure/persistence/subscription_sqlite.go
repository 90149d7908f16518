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

const subscriptionColumnsLite = `
	id, merchant_id, plan_id, merchant_wallet, customer_wallet, customer_email,
	amount, currency, interval, interval_count, status,
	current_period_start, current_period_end, trial_end,
	cancel_at_period_end, cancelled_at, paused_at,
	retry_count, max_retries, created_at, updated_at, version`

// SQLiteSubscriptionRepository implements subscription.Repository on
// SQLite. IDs are stored as text and timestamps as RFC3339Nano text.
type SQLiteSubscriptionRepository struct {
	conn database.Connection
}

// NewSQLiteSubscriptionRepository creates the SQLite repository.
func NewSQLiteSubscriptionRepository(conn database.Connection) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{conn: conn}
}

func (r *SQLiteSubscriptionRepository) Save(ctx context.Context, sub *subscription.Subscription) error {
	exec := database.ExecutorFromContext(ctx, r.conn)

	if sub.Version() == 0 {
		query := `
			INSERT INTO subscriptions (` + subscriptionColumnsLite + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`
		_, err := exec.Exec(ctx, query,
			sub.ID().String(), sub.MerchantID().String(), sub.PlanID().String(),
			sub.MerchantWallet(), sub.CustomerWallet(), nullString(sub.CustomerEmail()),
			sub.Amount(), sub.Currency(), string(sub.Interval()), sub.IntervalCount(),
			string(sub.Status()),
			encodeTime(sub.CurrentPeriodStart()), encodeTime(sub.CurrentPeriodEnd()),
			encodeTimePtr(sub.TrialEnd()),
			sub.CancelAtPeriodEnd(), encodeTimePtr(sub.CancelledAt()), encodeTimePtr(sub.PausedAt()),
			sub.RetryCount(), sub.MaxRetries(),
			encodeTime(sub.CreatedAt()), encodeTime(sub.UpdatedAt()),
		)
		if err != nil {
			return fmt.Errorf("inserting subscription: %w", err)
		}
		sub.SetVersion(1)
		return nil
	}

	query := `
		UPDATE subscriptions SET
			status = ?,
			current_period_start = ?,
			current_period_end = ?,
			trial_end = ?,
			cancel_at_period_end = ?,
			cancelled_at = ?,
			paused_at = ?,
			retry_count = ?,
			updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := exec.Exec(ctx, query,
		string(sub.Status()),
		encodeTime(sub.CurrentPeriodStart()), encodeTime(sub.CurrentPeriodEnd()),
		encodeTimePtr(sub.TrialEnd()),
		sub.CancelAtPeriodEnd(), encodeTimePtr(sub.CancelledAt()), encodeTimePtr(sub.PausedAt()),
		sub.RetryCount(), encodeTime(sub.UpdatedAt()),
		sub.ID().String(), sub.Version(),
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

func (r *SQLiteSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + subscriptionColumnsLite + ` FROM subscriptions WHERE id = ?`
	sub, err := scanSubscriptionLite(exec.QueryRow(ctx, query, id.String()))
	if database.IsNoRows(err) {
		return nil, subscription.ErrNotFound
	}
	return sub, err
}

func (r *SQLiteSubscriptionRepository) List(ctx context.Context, filter subscription.ListFilter) ([]*subscription.Subscription, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)

	var where []string
	var args []any
	if filter.MerchantID != uuid.Nil {
		where = append(where, "merchant_id = ?")
		args = append(args, filter.MerchantID.String())
	}
	if filter.PlanID != uuid.Nil {
		where = append(where, "plan_id = ?")
		args = append(args, filter.PlanID.String())
	}
	if filter.CustomerWallet != "" {
		where = append(where, "customer_wallet = ?")
		args = append(args, filter.CustomerWallet)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + subscriptionColumnsLite + ` FROM subscriptions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptionsLite(rows)
}

func (r *SQLiteSubscriptionRepository) FindOpenByPlanAndWallet(ctx context.Context, planID uuid.UUID, customerWallet string) (*subscription.Subscription, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + subscriptionColumnsLite + `
		FROM subscriptions
		WHERE plan_id = ?
		  AND customer_wallet = ?
		  AND status NOT IN ('cancelled', 'expired')
		LIMIT 1
	`
	sub, err := scanSubscriptionLite(exec.QueryRow(ctx, query, planID.String(), customerWallet))
	if database.IsNoRows(err) {
		return nil, subscription.ErrNotFound
	}
	return sub, err
}

func (r *SQLiteSubscriptionRepository) DueForTrialConversion(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumnsLite + `
		FROM subscriptions
		WHERE status = 'trialing'
		  AND trial_end IS NOT NULL
		  AND trial_end <= ?
		  AND cancel_at_period_end = 0
		ORDER BY trial_end
		LIMIT ?
	`
	return r.queryMany(ctx, query, encodeTime(now), limit)
}

func (r *SQLiteSubscriptionRepository) DueForRenewal(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumnsLite + `
		FROM subscriptions
		WHERE status = 'active'
		  AND cancel_at_period_end = 0
		  AND current_period_end <= ?
		ORDER BY current_period_end
		LIMIT ?
	`
	return r.queryMany(ctx, query, encodeTime(now), limit)
}

func (r *SQLiteSubscriptionRepository) DueForCancellation(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumnsLite + `
		FROM subscriptions
		WHERE cancel_at_period_end = 1
		  AND status IN ('active', 'trialing')
		  AND current_period_end <= ?
		ORDER BY current_period_end
		LIMIT ?
	`
	return r.queryMany(ctx, query, encodeTime(now), limit)
}

func (r *SQLiteSubscriptionRepository) PastDueForRetry(ctx context.Context, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumnsLite + `
		FROM subscriptions
		WHERE status = 'past_due'
		  AND retry_count < max_retries
		ORDER BY updated_at
		LIMIT ?
	`
	return r.queryMany(ctx, query, limit)
}

func (r *SQLiteSubscriptionRepository) queryMany(ctx context.Context, query string, args ...any) ([]*subscription.Subscription, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptionsLite(rows)
}

func scanSubscriptionsLite(rows database.Rows) ([]*subscription.Subscription, error) {
	var subs []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionLite(rows)
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

func scanSubscriptionLite(row database.Row) (*subscription.Subscription, error) {
	var (
		params      subscription.RehydrateParams
		id          string
		merchantID  string
		planID      string
		email       sql.NullString
		interval    string
		status      string
		periodStart string
		periodEnd   string
		trialEnd    sql.NullString
		cancelledAt sql.NullString
		pausedAt    sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&id, &merchantID, &planID,
		&params.MerchantWallet, &params.CustomerWallet, &email,
		&params.Amount, &params.Currency, &interval, &params.IntervalCount, &status,
		&periodStart, &periodEnd, &trialEnd,
		&params.CancelAtPeriodEnd, &cancelledAt, &pausedAt,
		&params.RetryCount, &params.MaxRetries,
		&createdAt, &updatedAt, &params.Version,
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
	if params.PlanID, err = uuid.Parse(planID); err != nil {
		return nil, err
	}
	if params.CurrentPeriodStart, err = parseTime(periodStart); err != nil {
		return nil, err
	}
	if params.CurrentPeriodEnd, err = parseTime(periodEnd); err != nil {
		return nil, err
	}
	if params.TrialEnd, err = parseTimePtr(trialEnd); err != nil {
		return nil, err
	}
	if params.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return nil, err
	}
	if params.PausedAt, err = parseTimePtr(pausedAt); err != nil {
		return nil, err
	}
	if params.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if params.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	params.CustomerEmail = email.String
	params.Interval = subscription.Interval(interval)
	params.Status = subscription.Status(status)
	return subscription.Rehydrate(params), nil
}
