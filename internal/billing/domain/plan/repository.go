package plan

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no plan matches the lookup.
var ErrNotFound = errors.New("plan not found")

// ErrConcurrentModification is returned when a save loses the version race.
var ErrConcurrentModification = errors.New("plan was modified concurrently")

// Repository persists plans with optimistic concurrency.
type Repository interface {
	Save(ctx context.Context, p *Plan) error
	FindByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*Plan, error)
}
