// Package delivery tracks webhook notifications to merchant endpoints. Every
// attempt against an endpoint is recorded, with a fixed backoff schedule and
// a dead-letter state once the attempt budget is spent.
package delivery

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/shared/domain"
)

// Status is the lifecycle state of a webhook delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

// DefaultMaxAttempts is the delivery budget before dead-lettering.
const DefaultMaxAttempts = 5

// backoffSchedule[n] is the wait before attempt n+1. The first attempt is
// immediate; later retries back off up to ten minutes.
var backoffSchedule = []time.Duration{
	0,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// ErrNotPending is returned when recording an outcome on a delivery that is
// already delivered or dead-lettered.
var ErrNotPending = errors.New("delivery is not pending")

// RetryDelay returns the wait before the next attempt given how many
// attempts have already been made.
func RetryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= len(backoffSchedule) {
		attempts = len(backoffSchedule) - 1
	}
	return backoffSchedule[attempts]
}

// Delivery is one webhook notification owed to a merchant endpoint.
type Delivery struct {
	domain.BaseEntity

	merchantID uuid.UUID
	eventID    uuid.UUID
	eventType  string
	payload    []byte

	status         Status
	attemptCount   int
	nextAttemptAt  *time.Time
	lastError      string
	deliveredAt    *time.Time
	deadLetteredAt *time.Time
}

// New queues a delivery for immediate attempt.
func New(merchantID, eventID uuid.UUID, eventType string, payload []byte, now time.Time) (*Delivery, error) {
	if eventType == "" {
		return nil, errors.New("delivery event type is required")
	}
	if len(payload) == 0 {
		return nil, errors.New("delivery payload is required")
	}

	next := now
	return &Delivery{
		BaseEntity:    domain.NewBaseEntity(),
		merchantID:    merchantID,
		eventID:       eventID,
		eventType:     eventType,
		payload:       payload,
		status:        StatusPending,
		nextAttemptAt: &next,
	}, nil
}

// RehydrateParams carries a persisted delivery row.
type RehydrateParams struct {
	ID             uuid.UUID
	MerchantID     uuid.UUID
	EventID        uuid.UUID
	EventType      string
	Payload        []byte
	Status         Status
	AttemptCount   int
	NextAttemptAt  *time.Time
	LastError      string
	DeliveredAt    *time.Time
	DeadLetteredAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Rehydrate reconstructs a delivery from storage.
func Rehydrate(params RehydrateParams) *Delivery {
	return &Delivery{
		BaseEntity:     domain.RehydrateBaseEntity(params.ID, params.CreatedAt, params.UpdatedAt),
		merchantID:     params.MerchantID,
		eventID:        params.EventID,
		eventType:      params.EventType,
		payload:        params.Payload,
		status:         params.Status,
		attemptCount:   params.AttemptCount,
		nextAttemptAt:  params.NextAttemptAt,
		lastError:      params.LastError,
		deliveredAt:    params.DeliveredAt,
		deadLetteredAt: params.DeadLetteredAt,
	}
}

func (d *Delivery) MerchantID() uuid.UUID      { return d.merchantID }
func (d *Delivery) EventID() uuid.UUID         { return d.eventID }
func (d *Delivery) EventType() string          { return d.eventType }
func (d *Delivery) Payload() []byte            { return d.payload }
func (d *Delivery) Status() Status             { return d.status }
func (d *Delivery) AttemptCount() int          { return d.attemptCount }
func (d *Delivery) NextAttemptAt() *time.Time  { return d.nextAttemptAt }
func (d *Delivery) LastError() string          { return d.lastError }
func (d *Delivery) DeliveredAt() *time.Time    { return d.deliveredAt }
func (d *Delivery) DeadLetteredAt() *time.Time { return d.deadLetteredAt }

// Due reports whether the delivery should be attempted now.
func (d *Delivery) Due(now time.Time) bool {
	return d.status == StatusPending && d.nextAttemptAt != nil && !d.nextAttemptAt.After(now)
}

// RecordSuccess marks the delivery as received by the endpoint.
func (d *Delivery) RecordSuccess(now time.Time) error {
	if d.status != StatusPending {
		return ErrNotPending
	}

	d.attemptCount++
	d.status = StatusDelivered
	d.deliveredAt = &now
	d.nextAttemptAt = nil
	d.Touch()
	return nil
}

// RecordFailure spends one attempt and schedules the retry, dead-lettering
// once maxAttempts is reached.
func (d *Delivery) RecordFailure(now time.Time, reason string, maxAttempts int) error {
	if d.status != StatusPending {
		return ErrNotPending
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	d.attemptCount++
	d.lastError = reason
	if d.attemptCount >= maxAttempts {
		d.status = StatusDead
		d.deadLetteredAt = &now
		d.nextAttemptAt = nil
	} else {
		next := now.Add(RetryDelay(d.attemptCount))
		d.nextAttemptAt = &next
	}
	d.Touch()
	return nil
}

// Abandon dead-letters the delivery without spending the remaining attempts,
// used when the merchant endpoint is no longer configured.
func (d *Delivery) Abandon(now time.Time, reason string) error {
	if d.status != StatusPending {
		return ErrNotPending
	}

	d.lastError = reason
	d.status = StatusDead
	d.deadLetteredAt = &now
	d.nextAttemptAt = nil
	d.Touch()
	return nil
}
