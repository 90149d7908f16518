package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
)

const planColumnsLite = `
	id, merchant_id, name, amount, currency, interval, interval_count,
	trial_days, active, created_at, updated_at, version`

// SQLitePlanRepository implements plan.Repository on SQLite.
type SQLitePlanRepository struct {
	conn database.Connection
}

// NewSQLitePlanRepository creates the SQLite plan repository.
func NewSQLitePlanRepository(conn database.Connection) *SQLitePlanRepository {
	return &SQLitePlanRepository{conn: conn}
}

func (r *SQLitePlanRepository) Save(ctx context.Context, p *plan.Plan) error {
	exec := database.ExecutorFromContext(ctx, r.conn)

	if p.Version() == 0 {
		query := `
			INSERT INTO subscription_plans (` + planColumnsLite + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`
		_, err := exec.Exec(ctx, query,
			p.ID().String(), p.MerchantID().String(), p.Name(),
			p.Amount(), p.Currency(), string(p.Interval()), p.IntervalCount(),
			p.TrialDays(), p.IsActive(),
			encodeTime(p.CreatedAt()), encodeTime(p.UpdatedAt()),
		)
		if err != nil {
			return fmt.Errorf("inserting plan: %w", err)
		}
		p.SetVersion(1)
		return nil
	}

	query := `
		UPDATE subscription_plans SET
			name = ?,
			active = ?,
			updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := exec.Exec(ctx, query,
		p.Name(), p.IsActive(), encodeTime(p.UpdatedAt()),
		p.ID().String(), p.Version(),
	)
	if err != nil {
		return fmt.Errorf("updating plan: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return plan.ErrConcurrentModification
	}
	p.SetVersion(p.Version() + 1)
	return nil
}

func (r *SQLitePlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + planColumnsLite + ` FROM subscription_plans WHERE id = ?`
	p, err := scanPlanLite(exec.QueryRow(ctx, query, id.String()))
	if database.IsNoRows(err) {
		return nil, plan.ErrNotFound
	}
	return p, err
}

func (r *SQLitePlanRepository) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*plan.Plan, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + planColumnsLite + `
		FROM subscription_plans
		WHERE merchant_id = ?
		ORDER BY created_at DESC
	`
	rows, err := exec.Query(ctx, query, merchantID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*plan.Plan
	for rows.Next() {
		p, err := scanPlanLite(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return plans, nil
}

func scanPlanLite(row database.Row) (*plan.Plan, error) {
	var (
		params     plan.RehydrateParams
		id         string
		merchantID string
		interval   string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&id, &merchantID, &params.Name,
		&params.Amount, &params.Currency, &interval, &params.IntervalCount,
		&params.TrialDays, &params.Active,
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
	if params.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if params.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	params.Interval = subscription.Interval(interval)
	return plan.Rehydrate(params), nil
}
