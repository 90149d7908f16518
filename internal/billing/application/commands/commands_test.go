package commands

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/billing/application/services"
	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/relay"
	"github.com/settlr/settlr/internal/shared/application"
	"github.com/settlr/settlr/internal/shared/infrastructure/outbox"
)

type memPlans struct{ plans map[uuid.UUID]*plan.Plan }

func (r *memPlans) Save(_ context.Context, p *plan.Plan) error {
	r.plans[p.ID()] = p
	return nil
}

func (r *memPlans) FindByID(_ context.Context, id uuid.UUID) (*plan.Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, plan.ErrNotFound
	}
	return p, nil
}

func (r *memPlans) ListByMerchant(_ context.Context, merchantID uuid.UUID) ([]*plan.Plan, error) {
	var out []*plan.Plan
	for _, p := range r.plans {
		if p.MerchantID() == merchantID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memMerchants struct{ merchants map[uuid.UUID]*merchant.Merchant }

func (r *memMerchants) Save(_ context.Context, m *merchant.Merchant) error {
	r.merchants[m.ID()] = m
	return nil
}

func (r *memMerchants) FindByID(_ context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	m, ok := r.merchants[id]
	if !ok {
		return nil, merchant.ErrNotFound
	}
	return m, nil
}

func (r *memMerchants) FindByAPIKeyHash(_ context.Context, hash string) (*merchant.Merchant, error) {
	for _, m := range r.merchants {
		if m.APIKeyHash() == hash {
			return m, nil
		}
	}
	return nil, merchant.ErrNotFound
}

type memSubs struct{ subs map[uuid.UUID]*subscription.Subscription }

func (r *memSubs) Save(_ context.Context, sub *subscription.Subscription) error {
	r.subs[sub.ID()] = sub
	return nil
}

func (r *memSubs) FindByID(_ context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	sub, ok := r.subs[id]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return sub, nil
}

func (r *memSubs) List(context.Context, subscription.ListFilter) ([]*subscription.Subscription, error) {
	return nil, nil
}

func (r *memSubs) FindOpenByPlanAndWallet(_ context.Context, planID uuid.UUID, wallet string) (*subscription.Subscription, error) {
	for _, sub := range r.subs {
		if sub.PlanID() == planID && sub.CustomerWallet() == wallet && !sub.Status().IsTerminal() {
			return sub, nil
		}
	}
	return nil, subscription.ErrNotFound
}

func (r *memSubs) DueForTrialConversion(context.Context, time.Time, int) ([]*subscription.Subscription, error) {
	return nil, nil
}

func (r *memSubs) DueForRenewal(context.Context, time.Time, int) ([]*subscription.Subscription, error) {
	return nil, nil
}

func (r *memSubs) DueForCancellation(context.Context, time.Time, int) ([]*subscription.Subscription, error) {
	return nil, nil
}

func (r *memSubs) PastDueForRetry(context.Context, int) ([]*subscription.Subscription, error) {
	return nil, nil
}

type memPayments struct{ payments map[uuid.UUID]*payment.Payment }

func (r *memPayments) Save(_ context.Context, p *payment.Payment) error {
	r.payments[p.ID()] = p
	return nil
}

func (r *memPayments) FindByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (r *memPayments) FindCompletedByIdempotencyKey(_ context.Context, key string) (*payment.Payment, error) {
	for _, p := range r.payments {
		if p.IdempotencyKey() == key && p.Status() == payment.StatusCompleted {
			return p, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (r *memPayments) ListBySubscription(context.Context, uuid.UUID) ([]*payment.Payment, error) {
	return nil, nil
}

func (r *memPayments) FindStalePending(context.Context, time.Time, int) ([]*payment.Payment, error) {
	return nil, nil
}

type stubRelay struct {
	err error
}

func (s *stubRelay) Charge(_ context.Context, req relay.ChargeRequest) (*relay.ChargeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &relay.ChargeResult{
		Reference:   req.Reference,
		Status:      relay.StatusConfirmed,
		TxSignature: "5Sig",
	}, nil
}

func (s *stubRelay) GetCharge(context.Context, string) (*relay.ChargeResult, error) {
	return nil, relay.ErrChargeNotFound
}

func (s *stubRelay) Ping(context.Context) error { return nil }

type noopUoW struct{}

func (noopUoW) Begin(ctx context.Context) (context.Context, error) { return ctx, nil }
func (noopUoW) Commit(context.Context) error                       { return nil }
func (noopUoW) Rollback(context.Context) error                     { return nil }

type fixture struct {
	subscribe *SubscribeHandler
	lifecycle *LifecycleHandler
	chargeNow *ChargeNowHandler
	planCmds  *PlanHandler
	plans     *memPlans
	merchants *memMerchants
	subs      *memSubs
	outbox    *outbox.InMemoryRepository
	relay     *stubRelay

	merchantID uuid.UUID
	planID     uuid.UUID
}

func newFixture(t *testing.T, trialDays int) *fixture {
	t.Helper()

	plans := &memPlans{plans: make(map[uuid.UUID]*plan.Plan)}
	merchants := &memMerchants{merchants: make(map[uuid.UUID]*merchant.Merchant)}
	subs := &memSubs{subs: make(map[uuid.UUID]*subscription.Subscription)}
	payments := &memPayments{payments: make(map[uuid.UUID]*payment.Payment)}
	outboxRepo := outbox.NewInMemoryRepository()
	relayClient := &stubRelay{}
	recorder := application.NewEventRecorder(outboxRepo)
	charger := services.NewCharger(payments, relayClient, 100, nil, nil)

	m, err := merchant.New(merchant.NewParams{
		Name:          "Acme",
		Email:         "ops@acme.example",
		WalletAddress: "AcmeWa11et",
		APIKeyHash:    "hash",
	})
	require.NoError(t, err)
	require.NoError(t, merchants.Save(context.Background(), m))

	p, err := plan.New(plan.NewParams{
		MerchantID: m.ID(),
		Name:       "Pro",
		Amount:     10_000_000,
		Interval:   subscription.IntervalMonthly,
		TrialDays:  trialDays,
	})
	require.NoError(t, err)
	require.NoError(t, plans.Save(context.Background(), p))

	return &fixture{
		subscribe:  NewSubscribeHandler(plans, merchants, subs, charger, recorder, noopUoW{}, 3, nil, nil),
		lifecycle:  NewLifecycleHandler(subs, recorder, noopUoW{}, nil, nil),
		chargeNow:  NewChargeNowHandler(subs, charger, recorder, noopUoW{}, nil, nil),
		planCmds:   NewPlanHandler(plans, noopUoW{}, nil),
		plans:      plans,
		merchants:  merchants,
		subs:       subs,
		outbox:     outboxRepo,
		relay:      relayClient,
		merchantID: m.ID(),
		planID:     p.ID(),
	}
}

func (f *fixture) outboxRoutingKeys() []string {
	keys := make([]string, 0)
	for _, msg := range f.outbox.All() {
		keys = append(keys, msg.RoutingKey)
	}
	return keys
}

func TestSubscribeWithoutTrialChargesImmediately(t *testing.T) {
	f := newFixture(t, 0)

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})

	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status())
	assert.Equal(t, "AcmeWa11et", sub.MerchantWallet())
	assert.Equal(t, int64(10_000_000), sub.Amount())

	keys := f.outboxRoutingKeys()
	assert.Contains(t, keys, subscription.EventCreated)
	assert.Contains(t, keys, subscription.EventRenewed)
}

func TestSubscribeWithTrialDoesNotCharge(t *testing.T) {
	f := newFixture(t, 14)

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})

	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrialing, sub.Status())
	require.NotNil(t, sub.TrialEnd())
	assert.Equal(t, []string{subscription.EventCreated}, f.outboxRoutingKeys())
}

func TestSubscribeDeclinedOpensPastDueWithoutRetrySpend(t *testing.T) {
	f := newFixture(t, 0)
	f.relay.err = &relay.DeclinedError{Reason: "insufficient funds"}

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})

	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, sub.Status())
	assert.Equal(t, 0, sub.RetryCount())
	assert.Contains(t, f.outboxRoutingKeys(), subscription.EventPaymentFailed)
}

func TestSubscribeRejectsDuplicateOpenSubscription(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})
	require.NoError(t, err)

	_, err = f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	// A different wallet on the same plan is fine.
	_, err = f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "OtherWa11et",
	})
	assert.NoError(t, err)
}

func TestSubscribeRejectsInactivePlan(t *testing.T) {
	f := newFixture(t, 0)
	active := false
	_, err := f.planCmds.Update(context.Background(), UpdatePlan{
		PlanID:     f.planID,
		MerchantID: f.merchantID,
		Active:     &active,
	})
	require.NoError(t, err)

	_, err = f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})
	assert.ErrorIs(t, err, plan.ErrInactive)
}

func TestCancelAtPeriodEnd(t *testing.T) {
	f := newFixture(t, 0)
	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})
	require.NoError(t, err)

	cancelled, err := f.lifecycle.Cancel(context.Background(), Cancel{
		SubscriptionID: sub.ID(),
		MerchantID:     f.merchantID,
	})

	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, cancelled.Status())
	assert.True(t, cancelled.CancelAtPeriodEnd())
	assert.NotContains(t, f.outboxRoutingKeys(), subscription.EventCancelled)
}

func TestCancelImmediately(t *testing.T) {
	f := newFixture(t, 0)
	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})
	require.NoError(t, err)

	cancelled, err := f.lifecycle.Cancel(context.Background(), Cancel{
		SubscriptionID: sub.ID(),
		MerchantID:     f.merchantID,
		Immediately:    true,
	})

	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, cancelled.Status())
	assert.Contains(t, f.outboxRoutingKeys(), subscription.EventCancelled)
}

func TestCancelRejectsForeignMerchant(t *testing.T) {
	f := newFixture(t, 0)
	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})
	require.NoError(t, err)

	_, err = f.lifecycle.Cancel(context.Background(), Cancel{
		SubscriptionID: sub.ID(),
		MerchantID:     uuid.New(),
	})
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t, 0)
	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustomerWa11et",
	})
	require.NoError(t, err)

	paused, err := f.lifecycle.Pause(context.Background(), Pause{
		SubscriptionID: sub.ID(),
		MerchantID:     f.merchantID,
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPaused, paused.Status())

	resumed, err := f.lifecycle.Resume(context.Background(), Resume{
		SubscriptionID: sub.ID(),
		MerchantID:     f.merchantID,
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, resumed.Status())

	// Resuming an already active subscription is rejected.
	_, err = f.lifecycle.Resume(context.Background(), Resume{
		SubscriptionID: sub.ID(),
		MerchantID:     f.merchantID,
	})
	assert.ErrorIs(t, err, subscription.ErrNotPaused)
}

func TestCreateAndUpdatePlan(t *testing.T) {
	f := newFixture(t, 0)

	created, err := f.planCmds.Create(context.Background(), CreatePlan{
		MerchantID:    f.merchantID,
		Name:          "Annual",
		Amount:        100_000_000,
		Interval:      "yearly",
		IntervalCount: 1,
		TrialDays:     30,
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.IntervalYearly, created.Interval())

	_, err = f.planCmds.Create(context.Background(), CreatePlan{
		MerchantID: f.merchantID,
		Name:       "Broken",
		Amount:     1,
		Interval:   "hourly",
	})
	assert.ErrorIs(t, err, subscription.ErrInvalidInterval)

	name := "Annual Pro"
	updated, err := f.planCmds.Update(context.Background(), UpdatePlan{
		PlanID:     created.ID(),
		MerchantID: f.merchantID,
		Name:       &name,
	})
	require.NoError(t, err)
	assert.Equal(t, "Annual Pro", updated.Name())
}
