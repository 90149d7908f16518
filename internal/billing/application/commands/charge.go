package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/application/services"
	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/relay"
	"github.com/settlr/settlr/internal/shared/application"
	"github.com/settlr/settlr/pkg/observability"
)

// ErrNotChargeable is returned when charging a subscription that is not
// active or past due.
var ErrNotChargeable = errors.New("subscription cannot be charged in its current status")

// ChargeNow collects the current billing period on demand, outside the
// sweep. Used to retry a past-due subscription without waiting for the next
// sweeper run.
type ChargeNow struct {
	SubscriptionID uuid.UUID
	MerchantID     uuid.UUID
}

// ChargeOutcome is the result of an on-demand charge.
type ChargeOutcome struct {
	Subscription *subscription.Subscription
	Payment      *payment.Payment

	// AlreadyCharged is set when the period was settled before this call.
	AlreadyCharged bool
	// Unresolved is set when the relay could not be reached; the payment
	// stays pending until the sweeper reconciles it.
	Unresolved bool
}

// ChargeNowHandler executes on-demand charges.
type ChargeNowHandler struct {
	subs     subscription.Repository
	charger  *services.Charger
	recorder *application.EventRecorder
	uow      application.UnitOfWork
	logger   *slog.Logger
	metrics  observability.Metrics
	now      func() time.Time
}

// NewChargeNowHandler creates the on-demand charge handler.
func NewChargeNowHandler(
	subs subscription.Repository,
	charger *services.Charger,
	recorder *application.EventRecorder,
	uow application.UnitOfWork,
	logger *slog.Logger,
	metrics observability.Metrics,
) *ChargeNowHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &ChargeNowHandler{
		subs:     subs,
		charger:  charger,
		recorder: recorder,
		uow:      uow,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle charges the subscription's current period. A success on a past-due
// subscription restores it to active; a decline spends retry budget and can
// expire it.
func (h *ChargeNowHandler) Handle(ctx context.Context, cmd ChargeNow) (*ChargeOutcome, error) {
	sub, err := h.subs.FindByID(ctx, cmd.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if cmd.MerchantID != uuid.Nil && sub.MerchantID() != cmd.MerchantID {
		return nil, ErrNotOwned
	}
	if sub.Status() != subscription.StatusActive && sub.Status() != subscription.StatusPastDue {
		return nil, ErrNotChargeable
	}

	outcome, chargeErr := h.charger.Charge(ctx, sub)
	switch {
	case chargeErr == nil:
		if outcome.AlreadyCharged {
			return &ChargeOutcome{Subscription: sub, Payment: outcome.Payment, AlreadyCharged: true}, nil
		}
		if err := sub.MarkRenewed(outcome.Payment.ID()); err != nil {
			return nil, err
		}
		if err := h.save(ctx, sub); err != nil {
			return nil, err
		}
		h.logger.InfoContext(ctx, "on-demand charge succeeded",
			"subscription_id", sub.ID(),
			"payment_id", outcome.Payment.ID(),
		)
		h.metrics.Counter(observability.MetricChargesSucceeded, 1,
			observability.T("merchant_id", sub.MerchantID().String()),
		)
		return &ChargeOutcome{Subscription: sub, Payment: outcome.Payment}, nil

	case errors.Is(chargeErr, services.ErrChargeUnresolved):
		var p *payment.Payment
		if outcome != nil {
			p = outcome.Payment
		}
		h.logger.WarnContext(ctx, "on-demand charge unresolved, awaiting reconciliation",
			"subscription_id", sub.ID(),
		)
		return &ChargeOutcome{Subscription: sub, Payment: p, Unresolved: true}, nil

	default:
		var declined *relay.DeclinedError
		if !errors.As(chargeErr, &declined) {
			return nil, fmt.Errorf("charging subscription: %w", chargeErr)
		}
		if err := sub.RecordFailedCharge(declined.Reason); err != nil {
			return nil, err
		}
		if err := h.save(ctx, sub); err != nil {
			return nil, err
		}
		h.logger.InfoContext(ctx, "on-demand charge declined",
			"subscription_id", sub.ID(),
			"status", sub.Status(),
			"reason", declined.Reason,
		)
		return nil, chargeErr
	}
}

func (h *ChargeNowHandler) save(ctx context.Context, sub *subscription.Subscription) error {
	return application.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		if err := h.subs.Save(txCtx, sub); err != nil {
			return err
		}
		return h.recorder.Record(txCtx, sub, application.NewEventMetadata(sub.MerchantID()))
	})
}
