package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no payment matches the lookup.
var ErrNotFound = errors.New("payment not found")

// ErrDuplicateCharge is returned when saving a completed payment whose
// idempotency key already has a completed row.
var ErrDuplicateCharge = errors.New("billing period already charged")

// Repository persists charge attempts. The store enforces at most one
// completed payment per idempotency key.
type Repository interface {
	Save(ctx context.Context, p *Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	FindCompletedByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Payment, error)

	// FindStalePending returns payments pending since before the cutoff,
	// oldest first, for reconciliation against the relay.
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Payment, error)
}
