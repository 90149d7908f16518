package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/relay"
	"github.com/settlr/settlr/pkg/observability"
)

var chargerNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newChargeableSubscription(t *testing.T) *subscription.Subscription {
	t.Helper()
	sub, err := subscription.New(subscription.NewParams{
		MerchantID:     uuid.New(),
		PlanID:         uuid.New(),
		MerchantWallet: "MerchantWa11et",
		CustomerWallet: "CustomerWa11et",
		Amount:         10_000_000,
		Interval:       subscription.IntervalMonthly,
	}, chargerNow)
	require.NoError(t, err)
	sub.ClearDomainEvents()
	return sub
}

func TestChargeConfirmedCompletesPayment(t *testing.T) {
	payments := newMemPaymentRepo()
	relayClient := confirmingRelay()
	metrics := observability.NewInMemoryMetrics()
	charger := NewCharger(payments, relayClient, 100, nil, metrics)
	sub := newChargeableSubscription(t)

	outcome, err := charger.Charge(context.Background(), sub)

	require.NoError(t, err)
	assert.False(t, outcome.AlreadyCharged)
	assert.Equal(t, payment.StatusCompleted, outcome.Payment.Status())
	assert.Equal(t, int64(100_000), outcome.Payment.PlatformFee())
	assert.Equal(t, int64(9_900_000), outcome.Payment.MerchantAmount())
	assert.NotEmpty(t, outcome.Payment.TxSignature())

	// The relay was asked to withhold the 1% platform fee.
	require.Len(t, relayClient.requests, 1)
	assert.Equal(t, int64(100_000), relayClient.requests[0].PlatformFee)
	assert.Equal(t, payment.IdempotencyKey(sub.ID(), sub.CurrentPeriodStart()), relayClient.requests[0].Reference)
}

func TestChargeIsIdempotentPerPeriod(t *testing.T) {
	payments := newMemPaymentRepo()
	relayClient := confirmingRelay()
	charger := NewCharger(payments, relayClient, 100, nil, nil)
	sub := newChargeableSubscription(t)

	first, err := charger.Charge(context.Background(), sub)
	require.NoError(t, err)

	second, err := charger.Charge(context.Background(), sub)
	require.NoError(t, err)

	assert.True(t, second.AlreadyCharged)
	assert.Equal(t, first.Payment.ID(), second.Payment.ID())
	assert.Equal(t, 1, relayClient.chargeCount())
}

func TestChargeDeclinedFailsPayment(t *testing.T) {
	payments := newMemPaymentRepo()
	charger := NewCharger(payments, decliningRelay("insufficient funds"), 100, nil, nil)
	sub := newChargeableSubscription(t)

	outcome, err := charger.Charge(context.Background(), sub)

	require.Error(t, err)
	assert.True(t, relay.IsDeclined(err))
	assert.Equal(t, payment.StatusFailed, outcome.Payment.Status())
	assert.Equal(t, "insufficient funds", outcome.Payment.FailureReason())

	// A failed attempt does not consume the idempotency key; the period can
	// still be charged.
	_, lookupErr := payments.FindCompletedByIdempotencyKey(context.Background(), outcome.Payment.IdempotencyKey())
	assert.ErrorIs(t, lookupErr, payment.ErrNotFound)
}

func TestChargeUnreachableRelayLeavesPaymentPending(t *testing.T) {
	payments := newMemPaymentRepo()
	charger := NewCharger(payments, unreachableRelay(), 100, nil, nil)
	sub := newChargeableSubscription(t)

	outcome, err := charger.Charge(context.Background(), sub)

	assert.ErrorIs(t, err, ErrChargeUnresolved)
	assert.Equal(t, payment.StatusPending, outcome.Payment.Status())
}

func TestPlatformFeeRoundsDown(t *testing.T) {
	charger := NewCharger(newMemPaymentRepo(), confirmingRelay(), 100, nil, nil)

	assert.Equal(t, int64(100_000), charger.PlatformFee(10_000_000))
	assert.Equal(t, int64(0), charger.PlatformFee(99))
	assert.Equal(t, int64(1), charger.PlatformFee(101))

	zeroFee := NewCharger(newMemPaymentRepo(), confirmingRelay(), 0, nil, nil)
	assert.Equal(t, int64(0), zeroFee.PlatformFee(10_000_000))
}

func TestReconcileConfirmed(t *testing.T) {
	payments := newMemPaymentRepo()
	relayClient := confirmingRelay()
	relayClient.lookup = func(reference string) (*relay.ChargeResult, error) {
		return &relay.ChargeResult{
			Reference:   reference,
			Status:      relay.StatusConfirmed,
			TxSignature: "5SigReconciled",
		}, nil
	}
	charger := NewCharger(payments, relayClient, 100, nil, nil)

	p, err := payment.NewPending(payment.NewParams{
		SubscriptionID: uuid.New(),
		Amount:         10_000_000,
		PeriodStart:    chargerNow,
		PeriodEnd:      chargerNow.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	require.NoError(t, payments.Save(context.Background(), p))

	resolved, err := charger.Reconcile(context.Background(), p)

	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, payment.StatusCompleted, p.Status())
	assert.Equal(t, "5SigReconciled", p.TxSignature())
	assert.Equal(t, int64(100_000), p.PlatformFee())
}

func TestReconcileUnknownReferenceFailsPayment(t *testing.T) {
	payments := newMemPaymentRepo()
	charger := NewCharger(payments, confirmingRelay(), 100, nil, nil)

	p, err := payment.NewPending(payment.NewParams{
		SubscriptionID: uuid.New(),
		Amount:         10_000_000,
		PeriodStart:    chargerNow,
		PeriodEnd:      chargerNow.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	resolved, err := charger.Reconcile(context.Background(), p)

	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, payment.StatusFailed, p.Status())
}

func TestReconcileStillPending(t *testing.T) {
	payments := newMemPaymentRepo()
	relayClient := confirmingRelay()
	relayClient.lookup = func(reference string) (*relay.ChargeResult, error) {
		return &relay.ChargeResult{Reference: reference, Status: relay.StatusPending}, nil
	}
	charger := NewCharger(payments, relayClient, 100, nil, nil)

	p, err := payment.NewPending(payment.NewParams{
		SubscriptionID: uuid.New(),
		Amount:         10_000_000,
		PeriodStart:    chargerNow,
		PeriodEnd:      chargerNow.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	resolved, err := charger.Reconcile(context.Background(), p)

	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, payment.StatusPending, p.Status())
}
