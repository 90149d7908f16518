// Package services holds the billing engine's domain services: the charge
// executor and the renewal sweeper.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/relay"
	"github.com/settlr/settlr/pkg/observability"
)

// FeeDenominator converts basis points to a fraction.
const FeeDenominator = 10_000

// ErrChargeUnresolved is returned when the relay could not be reached and
// the charge outcome is unknown. The payment stays pending and is settled
// by the reconciliation sweep; the subscription must not transition.
var ErrChargeUnresolved = errors.New("charge outcome unresolved")

// ChargeOutcome is the result of a charge attempt.
type ChargeOutcome struct {
	Payment *payment.Payment

	// AlreadyCharged is set when the period's idempotency key already has a
	// completed payment and no new charge was attempted.
	AlreadyCharged bool
}

// Charger executes charges for a subscription's current billing period. It
// owns payment rows and the relay conversation; subscription state
// transitions stay with the caller, which knows whether a failure spends
// retry budget.
type Charger struct {
	payments payment.Repository
	relay    relay.Client
	feeBps   int
	logger   *slog.Logger
	metrics  observability.Metrics
}

// NewCharger creates a charge executor. feeBps is the platform fee in basis
// points of every charge.
func NewCharger(
	payments payment.Repository,
	relayClient relay.Client,
	feeBps int,
	logger *slog.Logger,
	metrics observability.Metrics,
) *Charger {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Charger{
		payments: payments,
		relay:    relayClient,
		feeBps:   feeBps,
		logger:   logger,
		metrics:  metrics,
	}
}

// PlatformFee returns the fee withheld from an amount, rounded down.
func (c *Charger) PlatformFee(amount int64) int64 {
	return amount * int64(c.feeBps) / FeeDenominator
}

// Charge attempts to collect the subscription's current period.
//
// Outcomes:
//   - completed payment, nil error: funds moved (or the period was already
//     charged, flagged via AlreadyCharged).
//   - failed payment, *relay.DeclinedError: definitive decline, the caller
//     applies the failure to the subscription.
//   - pending payment, ErrChargeUnresolved: relay unreachable, outcome
//     unknown, no subscription transition.
func (c *Charger) Charge(ctx context.Context, sub *subscription.Subscription) (*ChargeOutcome, error) {
	key := payment.IdempotencyKey(sub.ID(), sub.CurrentPeriodStart())

	existing, err := c.payments.FindCompletedByIdempotencyKey(ctx, key)
	if err != nil && !errors.Is(err, payment.ErrNotFound) {
		return nil, fmt.Errorf("checking idempotency key: %w", err)
	}
	if existing != nil {
		c.logger.InfoContext(ctx, "billing period already charged",
			"subscription_id", sub.ID(),
			"idempotency_key", key,
			"tx_signature", existing.TxSignature(),
		)
		return &ChargeOutcome{Payment: existing, AlreadyCharged: true}, nil
	}

	p, err := payment.NewPending(payment.NewParams{
		SubscriptionID: sub.ID(),
		PlanID:         sub.PlanID(),
		MerchantID:     sub.MerchantID(),
		MerchantWallet: sub.MerchantWallet(),
		CustomerWallet: sub.CustomerWallet(),
		Amount:         sub.Amount(),
		Currency:       sub.Currency(),
		PeriodStart:    sub.CurrentPeriodStart(),
		PeriodEnd:      sub.CurrentPeriodEnd(),
	})
	if err != nil {
		return nil, err
	}
	if err := c.payments.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("saving pending payment: %w", err)
	}

	fee := c.PlatformFee(sub.Amount())
	timer := observability.StartTimer("relay.charge").WithMetrics(c.metrics)
	result, chargeErr := c.relay.Charge(ctx, relay.ChargeRequest{
		Reference:      key,
		CustomerWallet: sub.CustomerWallet(),
		MerchantWallet: sub.MerchantWallet(),
		Amount:         sub.Amount(),
		PlatformFee:    fee,
		Currency:       sub.Currency(),
	})
	timer.StopWithError(chargeErr)

	switch {
	case chargeErr == nil && result.Confirmed():
		if err := p.Complete(result.TxSignature, fee); err != nil {
			return nil, err
		}
		if err := c.payments.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("saving completed payment: %w", err)
		}
		c.recordSuccess(ctx, sub, p)
		return &ChargeOutcome{Payment: p}, nil

	case chargeErr == nil:
		// Submitted but not yet confirmed. Reconciliation picks it up.
		c.logger.InfoContext(ctx, "charge pending confirmation",
			"subscription_id", sub.ID(),
			"idempotency_key", key,
		)
		return &ChargeOutcome{Payment: p}, ErrChargeUnresolved

	case relay.IsDeclined(chargeErr):
		var declined *relay.DeclinedError
		errors.As(chargeErr, &declined)
		if err := p.Fail(declined.Reason); err != nil {
			return nil, err
		}
		if err := c.payments.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("saving failed payment: %w", err)
		}
		c.recordFailure(ctx, sub, declined.Reason)
		return &ChargeOutcome{Payment: p}, chargeErr

	default:
		c.logger.WarnContext(ctx, "charge outcome unknown",
			"subscription_id", sub.ID(),
			"idempotency_key", key,
			"error", chargeErr,
		)
		return &ChargeOutcome{Payment: p}, fmt.Errorf("%w: %w", ErrChargeUnresolved, chargeErr)
	}
}

// Reconcile settles a payment stuck in pending by asking the relay what
// happened. Returns true when the payment reached a final state.
func (c *Charger) Reconcile(ctx context.Context, p *payment.Payment) (bool, error) {
	result, err := c.relay.GetCharge(ctx, p.IdempotencyKey())
	switch {
	case errors.Is(err, relay.ErrChargeNotFound):
		// The relay never saw it, so the transfer cannot have happened.
		if err := p.Fail("charge never reached the relay"); err != nil {
			return false, err
		}
		return true, c.payments.Save(ctx, p)

	case relay.IsDeclined(err):
		var declined *relay.DeclinedError
		errors.As(err, &declined)
		if err := p.Fail(declined.Reason); err != nil {
			return false, err
		}
		return true, c.payments.Save(ctx, p)

	case err != nil:
		return false, err
	}

	switch result.Status {
	case relay.StatusConfirmed:
		if err := p.Complete(result.TxSignature, c.PlatformFee(p.Amount())); err != nil {
			return false, err
		}
		return true, c.payments.Save(ctx, p)
	case relay.StatusFailed:
		if err := p.Fail(result.Reason); err != nil {
			return false, err
		}
		return true, c.payments.Save(ctx, p)
	default:
		// Still pending at the relay.
		return false, nil
	}
}

func (c *Charger) recordSuccess(ctx context.Context, sub *subscription.Subscription, p *payment.Payment) {
	c.logger.InfoContext(ctx, "charge completed",
		"subscription_id", sub.ID(),
		"payment_id", p.ID(),
		"amount", p.Amount(),
		"platform_fee", p.PlatformFee(),
		"tx_signature", p.TxSignature(),
	)
	merchantTag := observability.T("merchant_id", sub.MerchantID().String())
	c.metrics.Counter(observability.MetricChargesSucceeded, 1, merchantTag)
	c.metrics.Counter(observability.MetricChargeVolume, p.Amount(), merchantTag)
	c.metrics.Counter(observability.MetricPlatformFees, p.PlatformFee(), merchantTag)
}

func (c *Charger) recordFailure(ctx context.Context, sub *subscription.Subscription, reason string) {
	c.logger.WarnContext(ctx, "charge declined",
		"subscription_id", sub.ID(),
		"reason", reason,
	)
	c.metrics.Counter(observability.MetricChargesFailed, 1,
		observability.T("merchant_id", sub.MerchantID().String()),
	)
}
