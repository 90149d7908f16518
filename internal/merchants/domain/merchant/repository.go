package merchant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no merchant matches the lookup.
var ErrNotFound = errors.New("merchant not found")

// ErrConcurrentModification is returned when a save loses the version race.
var ErrConcurrentModification = errors.New("merchant was modified concurrently")

// Repository persists merchant accounts with optimistic concurrency.
type Repository interface {
	Save(ctx context.Context, m *Merchant) error
	FindByID(ctx context.Context, id uuid.UUID) (*Merchant, error)
	FindByAPIKeyHash(ctx context.Context, hash string) (*Merchant, error)
}
