package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no subscription matches the lookup.
var ErrNotFound = errors.New("subscription not found")

// ErrConcurrentModification is returned when a save loses the version race.
// Callers reload the aggregate and retry or surface a conflict.
var ErrConcurrentModification = errors.New("subscription was modified concurrently")

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	MerchantID     uuid.UUID
	PlanID         uuid.UUID
	CustomerWallet string
	Status         Status
	Limit          int
	Offset         int
}

// Repository persists subscriptions with optimistic concurrency. Save
// compares the stored version against the aggregate's and returns
// ErrConcurrentModification on a mismatch.
type Repository interface {
	Save(ctx context.Context, sub *Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	List(ctx context.Context, filter ListFilter) ([]*Subscription, error)

	// FindOpenByPlanAndWallet returns a non-terminal subscription for the
	// plan and customer wallet, used to reject duplicate subscribes.
	FindOpenByPlanAndWallet(ctx context.Context, planID uuid.UUID, customerWallet string) (*Subscription, error)

	// Sweep queries. Each returns subscriptions due for one sweep phase,
	// oldest first, capped at limit.
	DueForTrialConversion(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	DueForRenewal(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	DueForCancellation(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	PastDueForRetry(ctx context.Context, limit int) ([]*Subscription, error)
}
