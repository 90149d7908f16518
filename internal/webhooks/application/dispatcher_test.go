package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/shared/infrastructure/eventbus"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
)

type memDeliveries struct {
	mu    sync.Mutex
	items map[uuid.UUID]*delivery.Delivery
}

func newMemDeliveries() *memDeliveries {
	return &memDeliveries{items: make(map[uuid.UUID]*delivery.Delivery)}
}

func (r *memDeliveries) Save(_ context.Context, d *delivery.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[d.ID()] = d
	return nil
}

func (r *memDeliveries) FindByID(_ context.Context, id uuid.UUID) (*delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return d, nil
}

func (r *memDeliveries) Due(_ context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*delivery.Delivery
	for _, d := range r.items {
		if d.Due(now) && len(due) < limit {
			due = append(due, d)
		}
	}
	return due, nil
}

func (r *memDeliveries) ListByMerchant(_ context.Context, merchantID uuid.UUID, limit, offset int) ([]*delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*delivery.Delivery
	for _, d := range r.items {
		if d.MerchantID() == merchantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDeliveries) all() []*delivery.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*delivery.Delivery, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d)
	}
	return out
}

type memMerchants struct {
	mu    sync.Mutex
	items map[uuid.UUID]*merchant.Merchant
}

func newMemMerchants() *memMerchants {
	return &memMerchants{items: make(map[uuid.UUID]*merchant.Merchant)}
}

func (r *memMerchants) Save(_ context.Context, m *merchant.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[m.ID()] = m
	return nil
}

func (r *memMerchants) FindByID(_ context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok {
		return nil, merchant.ErrNotFound
	}
	return m, nil
}

func (r *memMerchants) FindByAPIKeyHash(_ context.Context, hash string) (*merchant.Merchant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.items {
		if m.APIKeyHash() == hash {
			return m, nil
		}
	}
	return nil, merchant.ErrNotFound
}

type sentRequest struct {
	endpoint  string
	secret    string
	eventType string
	payload   []byte
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentRequest
	err  error
}

func (s *fakeSender) Send(_ context.Context, endpoint, secret, eventType string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentRequest{endpoint, secret, eventType, payload})
	return s.err
}

func (s *fakeSender) calls() []sentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentRequest(nil), s.sent...)
}

func (s *fakeSender) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type dispatchFixture struct {
	dispatcher *Dispatcher
	deliveries *memDeliveries
	merchants  *memMerchants
	sender     *fakeSender
	merchant   *merchant.Merchant
	clock      time.Time
}

func newDispatchFixture(t *testing.T, events []string) *dispatchFixture {
	t.Helper()

	m, err := merchant.New(merchant.NewParams{
		Name:          "Acme",
		Email:         "acme@test.dev",
		WalletAddress: "AcmeWallet",
		APIKeyHash:    "hash",
	})
	require.NoError(t, err)
	require.NoError(t, m.ConfigureWebhook(merchant.WebhookConfig{
		URL:    "https://acme.test/hooks",
		Secret: "whsec_test",
		Events: events,
		Active: true,
	}))

	f := &dispatchFixture{
		deliveries: newMemDeliveries(),
		merchants:  newMemMerchants(),
		sender:     &fakeSender{},
		merchant:   m,
		clock:      time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.merchants.Save(context.Background(), m))

	f.dispatcher = NewDispatcher(DefaultDispatcherConfig(), f.deliveries, f.merchants, f.sender, nil, nil)
	f.dispatcher.now = func() time.Time { return f.clock }
	return f
}

func (f *dispatchFixture) event(routingKey string) *eventbus.ConsumedEvent {
	return &eventbus.ConsumedEvent{
		EventID:       uuid.New(),
		AggregateID:   uuid.New(),
		AggregateType: "subscription",
		RoutingKey:    routingKey,
		OccurredAt:    f.clock,
		Payload:       json.RawMessage(`{"subscription":{"status":"active"}}`),
		Metadata:      eventbus.EventMetadata{MerchantID: f.merchant.ID()},
	}
}

func TestHandleDeliversSignedEnvelope(t *testing.T) {
	f := newDispatchFixture(t, nil)
	event := f.event("subscription.renewed")

	require.NoError(t, f.dispatcher.Handle(context.Background(), event))

	calls := f.sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://acme.test/hooks", calls[0].endpoint)
	assert.Equal(t, "whsec_test", calls[0].secret)
	assert.Equal(t, "subscription.renewed", calls[0].eventType)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(calls[0].payload, &envelope))
	assert.Equal(t, event.EventID, envelope.ID)
	assert.Equal(t, "subscription.renewed", envelope.Type)
	assert.JSONEq(t, `{"status":"active"}`, string(envelope.Subscription))
	assert.Nil(t, envelope.PaymentID)
	assert.True(t, envelope.Timestamp.Equal(event.OccurredAt))

	all := f.deliveries.all()
	require.Len(t, all, 1)
	assert.Equal(t, delivery.StatusDelivered, all[0].Status())
	assert.Equal(t, 1, all[0].AttemptCount())
}

func TestHandleSkipsUnsubscribedEventType(t *testing.T) {
	f := newDispatchFixture(t, []string{"subscription.expired"})

	require.NoError(t, f.dispatcher.Handle(context.Background(), f.event("subscription.renewed")))

	assert.Empty(t, f.sender.calls())
	assert.Empty(t, f.deliveries.all())
}

func TestHandleSkipsMerchantWithoutWebhook(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.merchant.DisableWebhook()
	require.NoError(t, f.merchants.Save(context.Background(), f.merchant))

	require.NoError(t, f.dispatcher.Handle(context.Background(), f.event("subscription.cancelled")))

	assert.Empty(t, f.sender.calls())
	assert.Empty(t, f.deliveries.all())
}

func TestHandleDropsEventWithoutMerchant(t *testing.T) {
	f := newDispatchFixture(t, nil)
	event := f.event("subscription.renewed")
	event.Metadata.MerchantID = uuid.Nil

	require.NoError(t, f.dispatcher.Handle(context.Background(), event))
	assert.Empty(t, f.sender.calls())
}

func TestFailedDeliveryRetriesOnSchedule(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.sender.fail(errors.New("connection refused"))

	require.NoError(t, f.dispatcher.Handle(context.Background(), f.event("subscription.renewed")))

	all := f.deliveries.all()
	require.Len(t, all, 1)
	assert.Equal(t, delivery.StatusPending, all[0].Status())
	assert.Equal(t, 1, all[0].AttemptCount())

	// Backoff has not elapsed yet.
	attempted, err := f.dispatcher.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, attempted)

	f.sender.fail(nil)
	f.clock = f.clock.Add(5 * time.Second)
	attempted, err = f.dispatcher.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	assert.Equal(t, delivery.StatusDelivered, f.deliveries.all()[0].Status())
	assert.Len(t, f.sender.calls(), 2)
}

func TestDeliveryDeadLettersAfterBudget(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.sender.fail(errors.New("boom"))

	require.NoError(t, f.dispatcher.Handle(context.Background(), f.event("subscription.expired")))

	for i := 0; i < delivery.DefaultMaxAttempts; i++ {
		f.clock = f.clock.Add(15 * time.Minute)
		_, err := f.dispatcher.RetryDue(context.Background())
		require.NoError(t, err)
	}

	all := f.deliveries.all()
	require.Len(t, all, 1)
	assert.Equal(t, delivery.StatusDead, all[0].Status())
	assert.Equal(t, delivery.DefaultMaxAttempts, all[0].AttemptCount())
	assert.Len(t, f.sender.calls(), delivery.DefaultMaxAttempts)
}

func TestRetryAbandonsWhenWebhookRemoved(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.sender.fail(errors.New("boom"))

	require.NoError(t, f.dispatcher.Handle(context.Background(), f.event("subscription.renewed")))

	f.merchant.DisableWebhook()
	require.NoError(t, f.merchants.Save(context.Background(), f.merchant))

	f.sender.fail(nil)
	f.clock = f.clock.Add(time.Minute)
	attempted, err := f.dispatcher.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	all := f.deliveries.all()
	require.Len(t, all, 1)
	assert.Equal(t, delivery.StatusDead, all[0].Status())
	assert.Equal(t, "webhook no longer configured", all[0].LastError())
	assert.Len(t, f.sender.calls(), 1)
}

func TestEventTypesForwardedToMerchants(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), newMemDeliveries(), newMemMerchants(), &fakeSender{}, nil, nil)
	assert.ElementsMatch(t,
		[]string{"subscription.renewed", "subscription.expired", "subscription.cancelled"},
		d.EventTypes(),
	)
}
