package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no delivery matches the lookup.
var ErrNotFound = errors.New("webhook delivery not found")

// Repository persists webhook deliveries. Save is an upsert keyed by the
// delivery ID.
type Repository interface {
	Save(ctx context.Context, d *Delivery) error
	FindByID(ctx context.Context, id uuid.UUID) (*Delivery, error)

	// Due returns pending deliveries whose next attempt is at or before now,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)

	// ListByMerchant returns the merchant's delivery log, newest first.
	ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]*Delivery, error)
}
