// Package application dispatches billing events to merchant webhook
// endpoints and drives the retry schedule for failed deliveries.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/shared/infrastructure/eventbus"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
	"github.com/settlr/settlr/pkg/observability"
)

// Sender posts a signed payload to a merchant endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint, secret, eventType string, payload []byte) error
}

// forwardedEvents are the only routing keys merchants are notified about.
// Internal transitions (created, paused, payment_failed and so on) stay
// inside the gateway.
var forwardedEvents = []string{
	subscription.EventRenewed,
	subscription.EventExpired,
	subscription.EventCancelled,
}

// Envelope is the body posted to merchant endpoints. Subscription is the
// snapshot carried by the event; PaymentID is set on renewal events.
type Envelope struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	Subscription json.RawMessage `json:"subscription"`
	PaymentID    *uuid.UUID      `json:"payment_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// DispatcherConfig tunes delivery batching and the retry budget.
type DispatcherConfig struct {
	BatchSize   int
	MaxAttempts int
}

// DefaultDispatcherConfig returns the dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:   100,
		MaxAttempts: delivery.DefaultMaxAttempts,
	}
}

// Dispatcher consumes billing events from the bus, records a delivery per
// subscribed merchant and attempts it, and retries due deliveries on the
// backoff schedule.
type Dispatcher struct {
	config     DispatcherConfig
	deliveries delivery.Repository
	merchants  merchant.Repository
	sender     Sender
	logger     *slog.Logger
	metrics    observability.Metrics

	now func() time.Time
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(
	config DispatcherConfig,
	deliveries delivery.Repository,
	merchants merchant.Repository,
	sender Sender,
	logger *slog.Logger,
	metrics observability.Metrics,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = delivery.DefaultMaxAttempts
	}

	return &Dispatcher{
		config:     config,
		deliveries: deliveries,
		merchants:  merchants,
		sender:     sender,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// EventTypes implements eventbus.EventConsumer.
func (d *Dispatcher) EventTypes() []string {
	return forwardedEvents
}

// Handle records and attempts a delivery for the event's merchant. Events
// without a merchant in their metadata cannot be routed and are dropped.
func (d *Dispatcher) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	if event.Metadata.MerchantID == uuid.Nil {
		d.logger.Warn("event has no merchant, dropping",
			"event_id", event.EventID,
			"routing_key", event.RoutingKey,
		)
		return nil
	}

	m, err := d.merchants.FindByID(ctx, event.Metadata.MerchantID)
	if err != nil {
		if errors.Is(err, merchant.ErrNotFound) {
			d.logger.Warn("event references unknown merchant, dropping",
				"event_id", event.EventID,
				"merchant_id", event.Metadata.MerchantID,
			)
			return nil
		}
		return fmt.Errorf("loading merchant: %w", err)
	}

	endpoint, secret, err := m.WebhookTarget(event.RoutingKey)
	if errors.Is(err, merchant.ErrWebhookNotConfigured) {
		return nil
	}

	var fields struct {
		Subscription json.RawMessage `json:"subscription"`
		PaymentID    *uuid.UUID      `json:"payment_id"`
	}
	if err := json.Unmarshal(event.Payload, &fields); err != nil {
		return fmt.Errorf("decoding event payload: %w", err)
	}

	body, err := json.Marshal(Envelope{
		ID:           event.EventID,
		Type:         event.RoutingKey,
		Subscription: fields.Subscription,
		PaymentID:    fields.PaymentID,
		Timestamp:    event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	del, err := delivery.New(m.ID(), event.EventID, event.RoutingKey, body, d.now())
	if err != nil {
		return fmt.Errorf("creating delivery: %w", err)
	}

	d.attempt(ctx, del, endpoint, secret)
	if err := d.deliveries.Save(ctx, del); err != nil {
		return fmt.Errorf("saving delivery: %w", err)
	}
	return nil
}

// RetryDue attempts every pending delivery whose backoff has elapsed and
// returns how many were attempted.
func (d *Dispatcher) RetryDue(ctx context.Context) (int, error) {
	due, err := d.deliveries.Due(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing due deliveries: %w", err)
	}

	attempted := 0
	for _, del := range due {
		if err := d.retry(ctx, del); err != nil {
			d.logger.Error("webhook retry failed",
				"delivery_id", del.ID(),
				"error", err,
			)
			continue
		}
		attempted++
	}
	return attempted, nil
}

func (d *Dispatcher) retry(ctx context.Context, del *delivery.Delivery) error {
	m, err := d.merchants.FindByID(ctx, del.MerchantID())
	if err != nil {
		return fmt.Errorf("loading merchant: %w", err)
	}

	endpoint, secret, err := m.WebhookTarget(del.EventType())
	if errors.Is(err, merchant.ErrWebhookNotConfigured) {
		// The merchant dropped the endpoint while retries were queued.
		if err := del.Abandon(d.now(), "webhook no longer configured"); err != nil {
			return err
		}
		d.metrics.Counter(observability.MetricWebhooksDead, 1,
			observability.T("event", del.EventType()))
		return d.deliveries.Save(ctx, del)
	}

	d.attempt(ctx, del, endpoint, secret)
	return d.deliveries.Save(ctx, del)
}

func (d *Dispatcher) attempt(ctx context.Context, del *delivery.Delivery, endpoint, secret string) {
	now := d.now()
	tag := observability.T("event", del.EventType())

	err := d.sender.Send(ctx, endpoint, secret, del.EventType(), del.Payload())
	if err == nil {
		if err := del.RecordSuccess(now); err == nil {
			d.metrics.Counter(observability.MetricWebhooksDelivered, 1, tag)
		}
		return
	}

	if recordErr := del.RecordFailure(now, err.Error(), d.config.MaxAttempts); recordErr != nil {
		return
	}
	if del.Status() == delivery.StatusDead {
		d.logger.Error("webhook delivery dead-lettered",
			"delivery_id", del.ID(),
			"merchant_id", del.MerchantID(),
			"event", del.EventType(),
			"attempts", del.AttemptCount(),
			"error", err,
		)
		d.metrics.Counter(observability.MetricWebhooksDead, 1, tag)
		return
	}

	d.logger.Warn("webhook delivery failed, scheduled for retry",
		"delivery_id", del.ID(),
		"merchant_id", del.MerchantID(),
		"event", del.EventType(),
		"attempt", del.AttemptCount(),
		"error", err,
	)
	d.metrics.Counter(observability.MetricWebhooksFailed, 1, tag)
}
