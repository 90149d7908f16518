package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/shared/application"
	"github.com/settlr/settlr/pkg/observability"
)

// ErrNotOwned is returned when a merchant operates on another merchant's
// subscription.
var ErrNotOwned = errors.New("subscription belongs to another merchant")

// LifecycleHandler applies merchant-initiated transitions: cancel, pause
// and resume.
type LifecycleHandler struct {
	subs     subscription.Repository
	recorder *application.EventRecorder
	uow      application.UnitOfWork
	logger   *slog.Logger
	metrics  observability.Metrics
	now      func() time.Time
}

// NewLifecycleHandler creates the lifecycle handler.
func NewLifecycleHandler(
	subs subscription.Repository,
	recorder *application.EventRecorder,
	uow application.UnitOfWork,
	logger *slog.Logger,
	metrics observability.Metrics,
) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &LifecycleHandler{
		subs:     subs,
		recorder: recorder,
		uow:      uow,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Cancel ends a subscription. Immediately forfeits the rest of the period;
// otherwise the subscription keeps running until the period ends and the
// sweeper completes the cancellation.
type Cancel struct {
	SubscriptionID uuid.UUID
	MerchantID     uuid.UUID
	Immediately    bool
}

func (h *LifecycleHandler) Cancel(ctx context.Context, cmd Cancel) (*subscription.Subscription, error) {
	sub, err := h.owned(ctx, cmd.SubscriptionID, cmd.MerchantID)
	if err != nil {
		return nil, err
	}

	if cmd.Immediately {
		err = sub.CancelImmediately(h.now())
	} else {
		err = sub.RequestCancellation(h.now())
	}
	if err != nil {
		return nil, err
	}

	if err := h.save(ctx, sub); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "subscription cancellation",
		"subscription_id", sub.ID(),
		"immediately", cmd.Immediately,
		"status", sub.Status(),
	)
	if cmd.Immediately {
		h.metrics.Counter(observability.MetricSubscriptionsCancelled, 1,
			observability.T("merchant_id", sub.MerchantID().String()),
		)
	}
	return sub, nil
}

// Pause suspends billing until resumed.
type Pause struct {
	SubscriptionID uuid.UUID
	MerchantID     uuid.UUID
}

func (h *LifecycleHandler) Pause(ctx context.Context, cmd Pause) (*subscription.Subscription, error) {
	sub, err := h.owned(ctx, cmd.SubscriptionID, cmd.MerchantID)
	if err != nil {
		return nil, err
	}
	if err := sub.Pause(h.now()); err != nil {
		return nil, err
	}
	if err := h.save(ctx, sub); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "subscription paused", "subscription_id", sub.ID())
	return sub, nil
}

// Resume restarts a paused subscription with a fresh period from now.
type Resume struct {
	SubscriptionID uuid.UUID
	MerchantID     uuid.UUID
}

func (h *LifecycleHandler) Resume(ctx context.Context, cmd Resume) (*subscription.Subscription, error) {
	sub, err := h.owned(ctx, cmd.SubscriptionID, cmd.MerchantID)
	if err != nil {
		return nil, err
	}
	if err := sub.Resume(h.now()); err != nil {
		return nil, err
	}
	if err := h.save(ctx, sub); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "subscription resumed",
		"subscription_id", sub.ID(),
		"period_end", sub.CurrentPeriodEnd(),
	)
	return sub, nil
}

func (h *LifecycleHandler) owned(ctx context.Context, subID, merchantID uuid.UUID) (*subscription.Subscription, error) {
	sub, err := h.subs.FindByID(ctx, subID)
	if err != nil {
		return nil, err
	}
	if merchantID != uuid.Nil && sub.MerchantID() != merchantID {
		return nil, ErrNotOwned
	}
	return sub, nil
}

func (h *LifecycleHandler) save(ctx context.Context, sub *subscription.Subscription) error {
	return application.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		if err := h.subs.Save(txCtx, sub); err != nil {
			return err
		}
		return h.recorder.Record(txCtx, sub, application.NewEventMetadata(sub.MerchantID()))
	})
}
