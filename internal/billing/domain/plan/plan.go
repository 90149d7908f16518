// Package plan holds the merchant-defined billing templates. Subscriptions
// snapshot a plan's terms at subscribe time, so editing a plan only affects
// future subscribers.
package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/shared/domain"
)

var (
	// ErrInactive is returned when subscribing to a deactivated plan.
	ErrInactive = errors.New("plan is not active")
)

// Plan is a recurring price a merchant offers. Amounts are integer
// micro-units of the settlement currency.
type Plan struct {
	domain.BaseAggregateRoot

	merchantID    uuid.UUID
	name          string
	amount        int64
	currency      string
	interval      subscription.Interval
	intervalCount int
	trialDays     int
	active        bool
}

// NewParams carries the fields for a new plan.
type NewParams struct {
	MerchantID    uuid.UUID
	Name          string
	Amount        int64
	Currency      string
	Interval      subscription.Interval
	IntervalCount int
	TrialDays     int
}

// New creates an active plan.
func New(params NewParams) (*Plan, error) {
	if params.Name == "" {
		return nil, errors.New("plan name is required")
	}
	if params.Amount <= 0 {
		return nil, fmt.Errorf("plan amount must be positive, got %d", params.Amount)
	}
	if !params.Interval.IsValid() {
		return nil, fmt.Errorf("%w: %q", subscription.ErrInvalidInterval, params.Interval)
	}
	if params.IntervalCount < 1 {
		params.IntervalCount = 1
	}
	if params.TrialDays < 0 {
		return nil, fmt.Errorf("trial days cannot be negative, got %d", params.TrialDays)
	}
	if params.Currency == "" {
		params.Currency = "USDC"
	}

	return &Plan{
		BaseAggregateRoot: domain.NewBaseAggregateRoot(),
		merchantID:        params.MerchantID,
		name:              params.Name,
		amount:            params.Amount,
		currency:          params.Currency,
		interval:          params.Interval,
		intervalCount:     params.IntervalCount,
		trialDays:         params.TrialDays,
		active:            true,
	}, nil
}

// RehydrateParams carries a persisted plan row.
type RehydrateParams struct {
	ID            uuid.UUID
	MerchantID    uuid.UUID
	Name          string
	Amount        int64
	Currency      string
	Interval      subscription.Interval
	IntervalCount int
	TrialDays     int
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int
}

// Rehydrate reconstructs a plan from storage.
func Rehydrate(params RehydrateParams) *Plan {
	return &Plan{
		BaseAggregateRoot: domain.RehydrateBaseAggregateRoot(
			domain.RehydrateBaseEntity(params.ID, params.CreatedAt, params.UpdatedAt),
			params.Version,
		),
		merchantID:    params.MerchantID,
		name:          params.Name,
		amount:        params.Amount,
		currency:      params.Currency,
		interval:      params.Interval,
		intervalCount: params.IntervalCount,
		trialDays:     params.TrialDays,
		active:        params.Active,
	}
}

func (p *Plan) MerchantID() uuid.UUID           { return p.merchantID }
func (p *Plan) Name() string                    { return p.name }
func (p *Plan) Amount() int64                   { return p.amount }
func (p *Plan) Currency() string                { return p.currency }
func (p *Plan) Interval() subscription.Interval { return p.interval }
func (p *Plan) IntervalCount() int              { return p.intervalCount }
func (p *Plan) TrialDays() int                  { return p.trialDays }
func (p *Plan) IsActive() bool                  { return p.active }

// Rename changes the display name.
func (p *Plan) Rename(name string) error {
	if name == "" {
		return errors.New("plan name is required")
	}
	p.name = name
	p.Touch()
	return nil
}

// Deactivate stops new subscribes. Existing subscriptions keep billing on
// their snapshotted terms.
func (p *Plan) Deactivate() {
	p.active = false
	p.Touch()
}

// Activate reopens the plan for new subscribes.
func (p *Plan) Activate() {
	p.active = true
	p.Touch()
}

// EnsureSubscribable rejects subscribes against a deactivated plan.
func (p *Plan) EnsureSubscribable() error {
	if !p.active {
		return ErrInactive
	}
	return nil
}
