package commands

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/relay"
)

func TestChargeNowRecoversPastDue(t *testing.T) {
	f := newFixture(t, 0)
	f.relay.err = &relay.DeclinedError{Reason: "insufficient funds"}

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustWa11et",
	})
	require.NoError(t, err)
	require.Equal(t, subscription.StatusPastDue, sub.Status())

	f.relay.err = nil
	outcome, err := f.chargeNow.Handle(context.Background(), ChargeNow{SubscriptionID: sub.ID()})
	require.NoError(t, err)

	assert.Equal(t, subscription.StatusActive, outcome.Subscription.Status())
	assert.Zero(t, outcome.Subscription.RetryCount())
	assert.False(t, outcome.AlreadyCharged)
	require.NotNil(t, outcome.Payment)
	assert.Equal(t, "5Sig", outcome.Payment.TxSignature())
}

func TestChargeNowIsIdempotentForSettledPeriod(t *testing.T) {
	f := newFixture(t, 0)

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustWa11et",
	})
	require.NoError(t, err)
	require.Equal(t, subscription.StatusActive, sub.Status())

	outcome, err := f.chargeNow.Handle(context.Background(), ChargeNow{SubscriptionID: sub.ID()})
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyCharged)
	assert.Equal(t, subscription.StatusActive, outcome.Subscription.Status())
}

func TestChargeNowDeclineSpendsRetryBudget(t *testing.T) {
	f := newFixture(t, 0)
	f.relay.err = &relay.DeclinedError{Reason: "insufficient funds"}

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustWa11et",
	})
	require.NoError(t, err)
	require.Zero(t, sub.RetryCount())

	_, err = f.chargeNow.Handle(context.Background(), ChargeNow{SubscriptionID: sub.ID()})
	require.Error(t, err)
	assert.True(t, relay.IsDeclined(err))

	stored, err := f.subs.FindByID(context.Background(), sub.ID())
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, stored.Status())
	assert.Equal(t, 1, stored.RetryCount())
}

func TestChargeNowRejectsPausedSubscription(t *testing.T) {
	f := newFixture(t, 0)

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustWa11et",
	})
	require.NoError(t, err)
	_, err = f.lifecycle.Pause(context.Background(), Pause{SubscriptionID: sub.ID()})
	require.NoError(t, err)

	_, err = f.chargeNow.Handle(context.Background(), ChargeNow{SubscriptionID: sub.ID()})
	assert.ErrorIs(t, err, ErrNotChargeable)
}

func TestChargeNowEnforcesOwnership(t *testing.T) {
	f := newFixture(t, 0)

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustWa11et",
	})
	require.NoError(t, err)

	_, err = f.chargeNow.Handle(context.Background(), ChargeNow{
		SubscriptionID: sub.ID(),
		MerchantID:     uuid.New(),
	})
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestChargeNowUnresolvedLeavesSubscriptionUntouched(t *testing.T) {
	f := newFixture(t, 0)
	f.relay.err = &relay.DeclinedError{Reason: "insufficient funds"}

	sub, err := f.subscribe.Handle(context.Background(), Subscribe{
		PlanID:         f.planID,
		CustomerWallet: "CustWa11et",
	})
	require.NoError(t, err)

	f.relay.err = relay.ErrUnavailable
	outcome, err := f.chargeNow.Handle(context.Background(), ChargeNow{SubscriptionID: sub.ID()})
	require.NoError(t, err)
	assert.True(t, outcome.Unresolved)

	stored, err := f.subs.FindByID(context.Background(), sub.ID())
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, stored.Status())
	assert.Zero(t, stored.RetryCount())
}
