package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/relay"
)

// memSubscriptionRepo is an in-memory subscription.Repository.
type memSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*subscription.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{subs: make(map[uuid.UUID]*subscription.Subscription)}
}

func (r *memSubscriptionRepo) Save(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID()] = sub
	return nil
}

func (r *memSubscriptionRepo) FindByID(_ context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return sub, nil
}

func (r *memSubscriptionRepo) List(_ context.Context, filter subscription.ListFilter) ([]*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Subscription
	for _, sub := range r.subs {
		if filter.MerchantID != uuid.Nil && sub.MerchantID() != filter.MerchantID {
			continue
		}
		if filter.PlanID != uuid.Nil && sub.PlanID() != filter.PlanID {
			continue
		}
		if filter.Status != "" && sub.Status() != filter.Status {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (r *memSubscriptionRepo) FindOpenByPlanAndWallet(_ context.Context, planID uuid.UUID, wallet string) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.PlanID() == planID && sub.CustomerWallet() == wallet && !sub.Status().IsTerminal() {
			return sub, nil
		}
	}
	return nil, subscription.ErrNotFound
}

func (r *memSubscriptionRepo) DueForTrialConversion(_ context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Subscription
	for _, sub := range r.subs {
		if len(out) >= limit {
			break
		}
		if sub.TrialEnded(now) && !sub.CancelAtPeriodEnd() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memSubscriptionRepo) DueForRenewal(_ context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Subscription
	for _, sub := range r.subs {
		if len(out) >= limit {
			break
		}
		if sub.RenewalDue(now) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memSubscriptionRepo) DueForCancellation(_ context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Subscription
	for _, sub := range r.subs {
		if len(out) >= limit {
			break
		}
		cancellable := sub.Status() == subscription.StatusActive || sub.Status() == subscription.StatusTrialing
		if sub.CancelAtPeriodEnd() && cancellable && !sub.CurrentPeriodEnd().After(now) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memSubscriptionRepo) PastDueForRetry(_ context.Context, limit int) ([]*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription.Subscription
	for _, sub := range r.subs {
		if len(out) >= limit {
			break
		}
		if sub.CanRetry() {
			out = append(out, sub)
		}
	}
	return out, nil
}

// memPaymentRepo is an in-memory payment.Repository.
type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*payment.Payment
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: make(map[uuid.UUID]*payment.Payment)}
}

func (r *memPaymentRepo) Save(_ context.Context, p *payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.ID()] = p
	return nil
}

func (r *memPaymentRepo) FindByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (r *memPaymentRepo) FindCompletedByIdempotencyKey(_ context.Context, key string) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.IdempotencyKey() == key && p.Status() == payment.StatusCompleted {
			return p, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (r *memPaymentRepo) ListBySubscription(_ context.Context, subID uuid.UUID) ([]*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*payment.Payment
	for _, p := range r.payments {
		if p.SubscriptionID() == subID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPaymentRepo) FindStalePending(_ context.Context, cutoff time.Time, limit int) ([]*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*payment.Payment
	for _, p := range r.payments {
		if len(out) >= limit {
			break
		}
		if p.Status() == payment.StatusPending && !p.CreatedAt().After(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPaymentRepo) all() []*payment.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*payment.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		out = append(out, p)
	}
	return out
}

// fakeRelay scripts relay responses per charge call.
type fakeRelay struct {
	mu       sync.Mutex
	requests []relay.ChargeRequest
	respond  func(req relay.ChargeRequest) (*relay.ChargeResult, error)
	lookup   func(reference string) (*relay.ChargeResult, error)
}

func confirmingRelay() *fakeRelay {
	return &fakeRelay{
		respond: func(req relay.ChargeRequest) (*relay.ChargeResult, error) {
			return &relay.ChargeResult{
				Reference:   req.Reference,
				Status:      relay.StatusConfirmed,
				TxSignature: "5Sig" + req.Reference,
			}, nil
		},
	}
}

func decliningRelay(reason string) *fakeRelay {
	return &fakeRelay{
		respond: func(relay.ChargeRequest) (*relay.ChargeResult, error) {
			return nil, &relay.DeclinedError{Reason: reason}
		},
	}
}

func unreachableRelay() *fakeRelay {
	return &fakeRelay{
		respond: func(relay.ChargeRequest) (*relay.ChargeResult, error) {
			return nil, relay.ErrUnavailable
		},
	}
}

func (f *fakeRelay) Charge(_ context.Context, req relay.ChargeRequest) (*relay.ChargeResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	return respond(req)
}

func (f *fakeRelay) GetCharge(_ context.Context, reference string) (*relay.ChargeResult, error) {
	f.mu.Lock()
	lookup := f.lookup
	f.mu.Unlock()
	if lookup == nil {
		return nil, relay.ErrChargeNotFound
	}
	return lookup(reference)
}

func (f *fakeRelay) Ping(context.Context) error { return nil }

func (f *fakeRelay) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// noopUoW satisfies application.UnitOfWork without a database.
type noopUoW struct{}

func (noopUoW) Begin(ctx context.Context) (context.Context, error) { return ctx, nil }
func (noopUoW) Commit(context.Context) error                       { return nil }
func (noopUoW) Rollback(context.Context) error                     { return nil }
