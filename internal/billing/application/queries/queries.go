// Package queries holds the billing read operations.
package queries

import (
	"context"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
)

// SubscriptionDetails bundles a subscription with its charge history.
type SubscriptionDetails struct {
	Subscription *subscription.Subscription
	Payments     []*payment.Payment
}

// SubscriptionQueries reads subscriptions and their payments.
type SubscriptionQueries struct {
	subs     subscription.Repository
	payments payment.Repository
}

// NewSubscriptionQueries creates the subscription read side.
func NewSubscriptionQueries(subs subscription.Repository, payments payment.Repository) *SubscriptionQueries {
	return &SubscriptionQueries{subs: subs, payments: payments}
}

// Get returns one subscription with its payment history, newest first.
func (q *SubscriptionQueries) Get(ctx context.Context, id uuid.UUID) (*SubscriptionDetails, error) {
	sub, err := q.subs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := q.payments.ListBySubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SubscriptionDetails{Subscription: sub, Payments: history}, nil
}

// List returns subscriptions matching the filter.
func (q *SubscriptionQueries) List(ctx context.Context, filter subscription.ListFilter) ([]*subscription.Subscription, error) {
	return q.subs.List(ctx, filter)
}

// PlanQueries reads merchant plans.
type PlanQueries struct {
	plans plan.Repository
}

// NewPlanQueries creates the plan read side.
func NewPlanQueries(plans plan.Repository) *PlanQueries {
	return &PlanQueries{plans: plans}
}

// Get returns one plan.
func (q *PlanQueries) Get(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	return q.plans.FindByID(ctx, id)
}

// ListByMerchant returns a merchant's plans.
func (q *PlanQueries) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*plan.Plan, error) {
	return q.plans.ListByMerchant(ctx, merchantID)
}
