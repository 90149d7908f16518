package commands

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/shared/application"
)

// CreatePlan defines a new recurring price for a merchant.
type CreatePlan struct {
	MerchantID    uuid.UUID
	Name          string
	Amount        int64
	Currency      string
	Interval      string
	IntervalCount int
	TrialDays     int
}

// UpdatePlan renames or toggles an existing plan. Billing terms are
// immutable; existing subscribers billed on their snapshot, new terms need
// a new plan.
type UpdatePlan struct {
	PlanID     uuid.UUID
	MerchantID uuid.UUID
	Name       *string
	Active     *bool
}

// PlanHandler manages merchant plans.
type PlanHandler struct {
	plans  plan.Repository
	uow    application.UnitOfWork
	logger *slog.Logger
}

// NewPlanHandler creates the plan handler.
func NewPlanHandler(plans plan.Repository, uow application.UnitOfWork, logger *slog.Logger) *PlanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanHandler{plans: plans, uow: uow, logger: logger}
}

func (h *PlanHandler) Create(ctx context.Context, cmd CreatePlan) (*plan.Plan, error) {
	interval, err := subscription.ParseInterval(cmd.Interval)
	if err != nil {
		return nil, err
	}

	p, err := plan.New(plan.NewParams{
		MerchantID:    cmd.MerchantID,
		Name:          cmd.Name,
		Amount:        cmd.Amount,
		Currency:      cmd.Currency,
		Interval:      interval,
		IntervalCount: cmd.IntervalCount,
		TrialDays:     cmd.TrialDays,
	})
	if err != nil {
		return nil, err
	}

	err = application.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		return h.plans.Save(txCtx, p)
	})
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "plan created",
		"plan_id", p.ID(),
		"merchant_id", p.MerchantID(),
		"amount", p.Amount(),
		"interval", p.Interval(),
	)
	return p, nil
}

func (h *PlanHandler) Update(ctx context.Context, cmd UpdatePlan) (*plan.Plan, error) {
	p, err := h.plans.FindByID(ctx, cmd.PlanID)
	if err != nil {
		return nil, err
	}
	if cmd.MerchantID != uuid.Nil && p.MerchantID() != cmd.MerchantID {
		return nil, ErrNotOwned
	}

	if cmd.Name != nil {
		if err := p.Rename(*cmd.Name); err != nil {
			return nil, err
		}
	}
	if cmd.Active != nil {
		if *cmd.Active {
			p.Activate()
		} else {
			p.Deactivate()
		}
	}

	err = application.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		return h.plans.Save(txCtx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
