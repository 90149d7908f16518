// Package commands holds the billing write operations invoked by the API.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/application/services"
	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/relay"
	"github.com/settlr/settlr/internal/shared/application"
	"github.com/settlr/settlr/pkg/observability"
)

// ErrAlreadySubscribed is returned when the customer wallet already has an
// open subscription on the plan.
var ErrAlreadySubscribed = errors.New("wallet already has an open subscription for this plan")

// Subscribe enrolls a customer wallet in a plan.
type Subscribe struct {
	PlanID         uuid.UUID
	CustomerWallet string
	CustomerEmail  string
}

// SubscribeHandler creates subscriptions and runs the first charge.
type SubscribeHandler struct {
	plans      plan.Repository
	merchants  merchant.Repository
	subs       subscription.Repository
	charger    *services.Charger
	recorder   *application.EventRecorder
	uow        application.UnitOfWork
	maxRetries int
	logger     *slog.Logger
	metrics    observability.Metrics
	now        func() time.Time
}

// NewSubscribeHandler creates the subscribe handler. maxRetries seeds new
// subscriptions' retry budget.
func NewSubscribeHandler(
	plans plan.Repository,
	merchants merchant.Repository,
	subs subscription.Repository,
	charger *services.Charger,
	recorder *application.EventRecorder,
	uow application.UnitOfWork,
	maxRetries int,
	logger *slog.Logger,
	metrics observability.Metrics,
) *SubscribeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &SubscribeHandler{
		plans:      plans,
		merchants:  merchants,
		subs:       subs,
		charger:    charger,
		recorder:   recorder,
		uow:        uow,
		maxRetries: maxRetries,
		logger:     logger,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle creates the subscription. Plans with a trial start trialing and
// charge nothing; plans without one are charged immediately, and a declined
// first charge opens the subscription past_due without spending retry
// budget.
func (h *SubscribeHandler) Handle(ctx context.Context, cmd Subscribe) (*subscription.Subscription, error) {
	p, err := h.plans.FindByID(ctx, cmd.PlanID)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureSubscribable(); err != nil {
		return nil, err
	}

	m, err := h.merchants.FindByID(ctx, p.MerchantID())
	if err != nil {
		return nil, err
	}

	existing, err := h.subs.FindOpenByPlanAndWallet(ctx, p.ID(), cmd.CustomerWallet)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadySubscribed
	}

	sub, err := subscription.New(subscription.NewParams{
		MerchantID:     p.MerchantID(),
		PlanID:         p.ID(),
		MerchantWallet: m.WalletAddress(),
		CustomerWallet: cmd.CustomerWallet,
		CustomerEmail:  cmd.CustomerEmail,
		Amount:         p.Amount(),
		Currency:       p.Currency(),
		Interval:       p.Interval(),
		IntervalCount:  p.IntervalCount(),
		TrialDays:      p.TrialDays(),
		MaxRetries:     h.maxRetries,
	}, h.now())
	if err != nil {
		return nil, err
	}

	if sub.Status() == subscription.StatusActive {
		if err := h.firstCharge(ctx, sub); err != nil {
			return nil, err
		}
	}

	if err := h.save(ctx, sub); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID(),
		"plan_id", p.ID(),
		"merchant_id", p.MerchantID(),
		"status", sub.Status(),
	)
	h.metrics.Counter(observability.MetricSubscriptionsCreated, 1,
		observability.T("merchant_id", p.MerchantID().String()),
	)
	return sub, nil
}

func (h *SubscribeHandler) firstCharge(ctx context.Context, sub *subscription.Subscription) error {
	outcome, chargeErr := h.charger.Charge(ctx, sub)
	switch {
	case chargeErr == nil:
		return sub.MarkRenewed(outcome.Payment.ID())
	case relay.IsDeclined(chargeErr):
		var declined *relay.DeclinedError
		errors.As(chargeErr, &declined)
		return sub.MarkPastDue(declined.Reason)
	case errors.Is(chargeErr, services.ErrChargeUnresolved):
		// Subscription opens active; reconciliation settles the charge.
		return nil
	default:
		return fmt.Errorf("first charge: %w", chargeErr)
	}
}

func (h *SubscribeHandler) save(ctx context.Context, sub *subscription.Subscription) error {
	return application.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		if err := h.subs.Save(txCtx, sub); err != nil {
			return err
		}
		return h.recorder.Record(txCtx, sub, application.NewEventMetadata(sub.MerchantID()))
	})
}
