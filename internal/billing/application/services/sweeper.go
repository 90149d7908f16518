package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/relay"
	"github.com/settlr/settlr/internal/shared/application"
	"github.com/settlr/settlr/internal/shared/infrastructure/locking"
	"github.com/settlr/settlr/pkg/observability"
)

// SweepLockKey guards against concurrent sweeps across instances.
const SweepLockKey = "settlr:sweep:renewals"

// SweeperConfig tunes a sweep run.
type SweeperConfig struct {
	BatchSize int
	LockTTL   time.Duration
	// PendingTimeout is how long a payment may sit in pending before the
	// reconciliation phase asks the relay about it.
	PendingTimeout time.Duration
}

// DefaultSweeperConfig returns the sweep defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		BatchSize:      100,
		LockTTL:        10 * time.Minute,
		PendingTimeout: 30 * time.Minute,
	}
}

// RunSummary reports what a sweep run did.
type RunSummary struct {
	// Skipped is set when another instance held the sweep lock.
	Skipped bool `json:"skipped"`

	Processed       int `json:"processed"`
	TrialsConverted int `json:"trials_converted"`
	Charged         int `json:"charged"`
	Failed          int `json:"failed"`
	Cancelled       int `json:"cancelled"`
	Reconciled      int `json:"reconciled"`

	// Errors collects per-subscription failures. One bad subscription
	// never aborts the rest of the sweep.
	Errors []string `json:"errors,omitempty"`
}

// Sweeper drives time-based subscription transitions, in fixed order: trial
// conversions, renewals, scheduled cancellations, past-due retries, then
// payment reconciliation. Runs are serialized across instances by a
// distributed lock and re-runs are harmless thanks to charge idempotency.
type Sweeper struct {
	subs     subscription.Repository
	payments payment.Repository
	charger  *Charger
	recorder *application.EventRecorder
	uow      application.UnitOfWork
	locker   locking.Locker
	config   SweeperConfig
	logger   *slog.Logger
	metrics  observability.Metrics
	now      func() time.Time
}

// NewSweeper creates a renewal sweeper.
func NewSweeper(
	subs subscription.Repository,
	payments payment.Repository,
	charger *Charger,
	recorder *application.EventRecorder,
	uow application.UnitOfWork,
	locker locking.Locker,
	config SweeperConfig,
	logger *slog.Logger,
	metrics observability.Metrics,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweeperConfig().BatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultSweeperConfig().LockTTL
	}
	if config.PendingTimeout <= 0 {
		config.PendingTimeout = DefaultSweeperConfig().PendingTimeout
	}
	return &Sweeper{
		subs:     subs,
		payments: payments,
		charger:  charger,
		recorder: recorder,
		uow:      uow,
		locker:   locker,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce executes one full sweep. When another instance holds the lock the
// run returns immediately with Skipped set.
func (s *Sweeper) RunOnce(ctx context.Context) (RunSummary, error) {
	lock, err := s.locker.Acquire(ctx, SweepLockKey, s.config.LockTTL)
	if errors.Is(err, locking.ErrNotAcquired) {
		s.logger.InfoContext(ctx, "sweep already running elsewhere, skipping")
		s.metrics.Counter(observability.MetricSweepSkipped, 1)
		return RunSummary{Skipped: true}, nil
	}
	if err != nil {
		return RunSummary{}, fmt.Errorf("acquiring sweep lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "releasing sweep lock", "error", err)
		}
	}()

	start := s.now()
	var summary RunSummary

	s.convertTrials(ctx, &summary)
	s.renewDue(ctx, &summary)
	s.completeCancellations(ctx, &summary)
	s.retryPastDue(ctx, &summary)
	s.reconcilePending(ctx, &summary)

	duration := s.now().Sub(start)
	s.metrics.Counter(observability.MetricSweepRuns, 1)
	s.metrics.Timing(observability.MetricSweepDuration, duration)
	s.logger.InfoContext(ctx, "sweep completed",
		"duration", duration,
		"processed", summary.Processed,
		"trials_converted", summary.TrialsConverted,
		"charged", summary.Charged,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"reconciled", summary.Reconciled,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// convertTrials moves ended trials into their first paid period and
// attempts the first charge.
func (s *Sweeper) convertTrials(ctx context.Context, summary *RunSummary) {
	due, err := s.subs.DueForTrialConversion(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		summary.addError(fmt.Errorf("listing ended trials: %w", err))
		return
	}

	for _, sub := range due {
		summary.Processed++
		disposition, err := s.convertTrial(ctx, sub)
		if err != nil {
			summary.addError(fmt.Errorf("subscription %s: %w", sub.ID(), err))
			continue
		}
		summary.TrialsConverted++
		summary.count(disposition)
	}
}

func (s *Sweeper) convertTrial(ctx context.Context, sub *subscription.Subscription) (disposition, error) {
	if err := sub.ConvertTrial(s.now()); err != nil {
		return dispositionNone, err
	}

	result := dispositionNone
	outcome, chargeErr := s.charger.Charge(ctx, sub)
	switch {
	case chargeErr == nil:
		if err := sub.MarkRenewed(outcome.Payment.ID()); err != nil {
			return dispositionNone, err
		}
		result = dispositionCharged
	case relay.IsDeclined(chargeErr):
		// First charge of the subscription, so no retry budget is spent.
		var declined *relay.DeclinedError
		errors.As(chargeErr, &declined)
		if err := sub.MarkPastDue(declined.Reason); err != nil {
			return dispositionNone, err
		}
		result = dispositionFailed
	case errors.Is(chargeErr, ErrChargeUnresolved):
		// Keep the conversion; reconciliation settles the charge.
	default:
		return dispositionNone, chargeErr
	}

	return result, s.save(ctx, sub)
}

// renewDue advances and charges subscriptions whose period has ended.
func (s *Sweeper) renewDue(ctx context.Context, summary *RunSummary) {
	due, err := s.subs.DueForRenewal(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		summary.addError(fmt.Errorf("listing due renewals: %w", err))
		return
	}

	for _, sub := range due {
		summary.Processed++
		disposition, err := s.renew(ctx, sub)
		if err != nil {
			summary.addError(fmt.Errorf("subscription %s: %w", sub.ID(), err))
			continue
		}
		summary.count(disposition)
	}
}

func (s *Sweeper) renew(ctx context.Context, sub *subscription.Subscription) (disposition, error) {
	if err := sub.AdvancePeriod(); err != nil {
		return dispositionNone, err
	}

	result := dispositionNone
	outcome, chargeErr := s.charger.Charge(ctx, sub)
	switch {
	case chargeErr == nil:
		if err := sub.MarkRenewed(outcome.Payment.ID()); err != nil {
			return dispositionNone, err
		}
		result = dispositionCharged
	case relay.IsDeclined(chargeErr):
		var declined *relay.DeclinedError
		errors.As(chargeErr, &declined)
		if err := sub.RecordFailedCharge(declined.Reason); err != nil {
			return dispositionNone, err
		}
		result = dispositionFailed
	case errors.Is(chargeErr, ErrChargeUnresolved):
		// Keep the advanced period; reconciliation settles the charge. The
		// relay deduplicates on the idempotency key, so a later retry of
		// the same period cannot double-charge.
	default:
		return dispositionNone, chargeErr
	}

	return result, s.save(ctx, sub)
}

// retryPastDue re-attempts the current period of past_due subscriptions.
func (s *Sweeper) retryPastDue(ctx context.Context, summary *RunSummary) {
	due, err := s.subs.PastDueForRetry(ctx, s.config.BatchSize)
	if err != nil {
		summary.addError(fmt.Errorf("listing past due subscriptions: %w", err))
		return
	}

	for _, sub := range due {
		summary.Processed++
		disposition, err := s.retry(ctx, sub)
		if err != nil {
			summary.addError(fmt.Errorf("subscription %s: %w", sub.ID(), err))
			continue
		}
		summary.count(disposition)
	}
}

func (s *Sweeper) retry(ctx context.Context, sub *subscription.Subscription) (disposition, error) {
	result := dispositionNone
	outcome, chargeErr := s.charger.Charge(ctx, sub)
	switch {
	case chargeErr == nil:
		if err := sub.MarkRenewed(outcome.Payment.ID()); err != nil {
			return dispositionNone, err
		}
		result = dispositionCharged
	case relay.IsDeclined(chargeErr):
		var declined *relay.DeclinedError
		errors.As(chargeErr, &declined)
		if err := sub.RecordFailedCharge(declined.Reason); err != nil {
			return dispositionNone, err
		}
		result = dispositionFailed
	case errors.Is(chargeErr, ErrChargeUnresolved):
		return dispositionNone, nil
	default:
		return dispositionNone, chargeErr
	}

	return result, s.save(ctx, sub)
}

// completeCancellations finishes scheduled cancellations whose paid period
// has run out. Only trialing and active subscriptions complete here; a
// past_due subscription keeps retrying until it recovers or expires.
func (s *Sweeper) completeCancellations(ctx context.Context, summary *RunSummary) {
	due, err := s.subs.DueForCancellation(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		summary.addError(fmt.Errorf("listing due cancellations: %w", err))
		return
	}

	for _, sub := range due {
		summary.Processed++
		if err := sub.CompleteCancellation(s.now()); err != nil {
			summary.addError(fmt.Errorf("subscription %s: %w", sub.ID(), err))
			continue
		}
		if err := s.save(ctx, sub); err != nil {
			summary.addError(fmt.Errorf("subscription %s: %w", sub.ID(), err))
			continue
		}
		summary.Cancelled++
		s.metrics.Counter(observability.MetricSubscriptionsCancelled, 1)
	}
}

// reconcilePending settles payments stuck in pending longer than the
// timeout and applies the outcome to their subscription.
func (s *Sweeper) reconcilePending(ctx context.Context, summary *RunSummary) {
	cutoff := s.now().Add(-s.config.PendingTimeout)
	stale, err := s.payments.FindStalePending(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		summary.addError(fmt.Errorf("listing stale pending payments: %w", err))
		return
	}

	for _, p := range stale {
		resolved, err := s.charger.Reconcile(ctx, p)
		if err != nil {
			summary.addError(fmt.Errorf("payment %s: %w", p.ID(), err))
			continue
		}
		if !resolved {
			continue
		}
		if err := s.applyReconciled(ctx, p); err != nil {
			summary.addError(fmt.Errorf("payment %s: %w", p.ID(), err))
			continue
		}
		summary.Reconciled++
	}
}

func (s *Sweeper) applyReconciled(ctx context.Context, p *payment.Payment) error {
	sub, err := s.subs.FindByID(ctx, p.SubscriptionID())
	if err != nil {
		return err
	}
	if sub.Status().IsTerminal() {
		return nil
	}

	switch p.Status() {
	case payment.StatusCompleted:
		if err := sub.MarkRenewed(p.ID()); err != nil {
			return err
		}
	case payment.StatusFailed:
		if err := sub.RecordFailedCharge(p.FailureReason()); err != nil {
			return err
		}
	default:
		return nil
	}

	return s.save(ctx, sub)
}

// save persists the subscription and its pending events atomically.
func (s *Sweeper) save(ctx context.Context, sub *subscription.Subscription) error {
	return application.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.subs.Save(txCtx, sub); err != nil {
			return err
		}
		return s.recorder.Record(txCtx, sub, application.NewEventMetadata(sub.MerchantID()))
	})
}

func (r *RunSummary) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// disposition classifies a charge attempt for the run summary.
type disposition int

const (
	dispositionNone disposition = iota
	dispositionCharged
	dispositionFailed
)

func (r *RunSummary) count(d disposition) {
	switch d {
	case dispositionCharged:
		r.Charged++
	case dispositionFailed:
		r.Failed++
	}
}
