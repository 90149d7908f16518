package application

import (
	"context"

	"github.com/settlr/settlr/internal/shared/domain"
	"github.com/settlr/settlr/internal/shared/infrastructure/outbox"
)

// EventRecorder drains an aggregate's uncommitted events into the outbox.
// Called inside the same unit of work that saves the aggregate, so events
// and state changes commit or roll back together.
type EventRecorder struct {
	outbox outbox.Repository
}

// NewEventRecorder creates an event recorder over the outbox.
func NewEventRecorder(repo outbox.Repository) *EventRecorder {
	return &EventRecorder{outbox: repo}
}

// Record stamps metadata on the aggregate's pending events, saves them to
// the outbox and clears them from the aggregate.
func (r *EventRecorder) Record(ctx context.Context, agg domain.AggregateRoot, metadata domain.EventMetadata) error {
	events := agg.DomainEvents()
	if len(events) == 0 {
		return nil
	}

	ApplyEventMetadata(events, metadata)

	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := r.outbox.SaveBatch(ctx, msgs); err != nil {
		return err
	}

	agg.ClearDomainEvents()
	return nil
}
