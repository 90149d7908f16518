package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
)

const planColumnsPG = `
	id, merchant_id, name, amount, currency, interval, interval_count,
	trial_days, active, created_at, updated_at, version`

// PostgresPlanRepository implements plan.Repository on PostgreSQL.
type PostgresPlanRepository struct {
	conn database.Connection
}

// NewPostgresPlanRepository creates the PostgreSQL plan repository.
func NewPostgresPlanRepository(conn database.Connection) *PostgresPlanRepository {
	return &PostgresPlanRepository{conn: conn}
}

func (r *PostgresPlanRepository) Save(ctx context.Context, p *plan.Plan) error {
	exec := database.ExecutorFromContext(ctx, r.conn)

	if p.Version() == 0 {
		query := `
			INSERT INTO subscription_plans (` + planColumnsPG + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		`
		_, err := exec.Exec(ctx, query,
			p.ID(), p.MerchantID(), p.Name(),
			p.Amount(), p.Currency(), string(p.Interval()), p.IntervalCount(),
			p.TrialDays(), p.IsActive(),
			p.CreatedAt(), p.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("inserting plan: %w", err)
		}
		p.SetVersion(1)
		return nil
	}

	query := `
		UPDATE subscription_plans SET
			name = $1,
			active = $2,
			updated_at = $3,
			version = version + 1
		WHERE id = $4 AND version = $5
	`
	result, err := exec.Exec(ctx, query,
		p.Name(), p.IsActive(), p.UpdatedAt(),
		p.ID(), p.Version(),
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

func (r *PostgresPlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `SELECT ` + planColumnsPG + ` FROM subscription_plans WHERE id = $1`
	p, err := scanPlanPG(exec.QueryRow(ctx, query, id))
	if database.IsNoRows(err) {
		return nil, plan.ErrNotFound
	}
	return p, err
}

func (r *PostgresPlanRepository) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*plan.Plan, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := `
		SELECT ` + planColumnsPG + `
		FROM subscription_plans
		WHERE merchant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := exec.Query(ctx, query, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*plan.Plan
	for rows.Next() {
		p, err := scanPlanPG(rows)
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

func scanPlanPG(row database.Row) (*plan.Plan, error) {
	var (
		params   plan.RehydrateParams
		interval string
	)
	err := row.Scan(
		&params.ID, &params.MerchantID, &params.Name,
		&params.Amount, &params.Currency, &interval, &params.IntervalCount,
		&params.TrialDays, &params.Active,
		&params.CreatedAt, &params.UpdatedAt, &params.Version,
	)
	if err != nil {
		return nil, err
	}
	params.Interval = subscription.Interval(interval)
	return plan.Rehydrate(params), nil
}
