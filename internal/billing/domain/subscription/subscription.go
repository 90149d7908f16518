// Package subscription implements the recurring-billing lifecycle: trial
// conversion, renewal, retry with a bounded budget, pause/resume and
// cancellation. All state changes go through aggregate methods; request
// handlers and the sweeper never mutate fields directly.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/shared/domain"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further automatic transitions apply.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusTrialing, StatusActive, StatusPastDue, StatusPaused, StatusCancelled, StatusExpired:
		return Status(s), nil
	default:
		return "", fmt.Errorf("invalid subscription status %q", s)
	}
}

// DefaultMaxRetries bounds past-due charge attempts before expiry.
const DefaultMaxRetries = 3

var (
	// ErrNotTrialing is returned when converting a non-trialing subscription.
	ErrNotTrialing = errors.New("subscription is not trialing")
	// ErrNotActive is returned when renewing a subscription that is not active.
	ErrNotActive = errors.New("subscription is not active")
	// ErrNotPaused is returned when resuming a subscription that is not paused.
	ErrNotPaused = errors.New("subscription is not paused")
	// ErrNotPastDue is returned when retrying a subscription that is not past due.
	ErrNotPastDue = errors.New("subscription is not past due")
	// ErrTerminal is returned for any transition on a cancelled or expired
	// subscription.
	ErrTerminal = errors.New("subscription is in a terminal state")
	// ErrNotPausable is returned when pausing from a state other than
	// trialing or active.
	ErrNotPausable = errors.New("subscription cannot be paused in its current state")
	// ErrPeriodNotEnded is returned when completing a scheduled cancellation
	// before the paid period ran out.
	ErrPeriodNotEnded = errors.New("current period has not ended")
	// ErrRetriesExhausted is returned when retrying past the retry budget.
	ErrRetriesExhausted = errors.New("retry budget exhausted")
)

// Subscription is one customer's enrollment in one plan. The amount,
// currency and cadence are snapshotted from the plan at subscribe time so
// later plan edits never change what an existing subscriber pays.
type Subscription struct {
	domain.BaseAggregateRoot

	merchantID     uuid.UUID
	planID         uuid.UUID
	merchantWallet string
	customerWallet string
	customerEmail  string

	amount        int64
	currency      string
	interval      Interval
	intervalCount int

	status             Status
	currentPeriodStart time.Time
	currentPeriodEnd   time.Time
	trialEnd           *time.Time
	cancelAtPeriodEnd  bool
	cancelledAt        *time.Time
	pausedAt           *time.Time
	retryCount         int
	maxRetries         int
}

// NewParams carries the plan snapshot and parties for a new subscription.
type NewParams struct {
	MerchantID     uuid.UUID
	PlanID         uuid.UUID
	MerchantWallet string
	CustomerWallet string
	CustomerEmail  string
	Amount         int64
	Currency       string
	Interval       Interval
	IntervalCount  int
	TrialDays      int
	MaxRetries     int
}

// New creates a subscription starting at now. A plan with a trial opens in
// trialing with the first period spanning the trial; otherwise it opens
// active with a full billing period (the caller must attempt the first
// charge immediately).
func New(params NewParams, now time.Time) (*Subscription, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("subscription amount must be positive, got %d", params.Amount)
	}
	if params.CustomerWallet == "" {
		return nil, errors.New("customer wallet is required")
	}
	if params.MerchantWallet == "" {
		return nil, errors.New("merchant wallet is required")
	}
	if params.IntervalCount < 1 {
		params.IntervalCount = 1
	}
	if !params.Interval.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, params.Interval)
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = DefaultMaxRetries
	}
	if params.Currency == "" {
		params.Currency = "USDC"
	}

	s := &Subscription{
		BaseAggregateRoot: domain.NewBaseAggregateRoot(),
		merchantID:        params.MerchantID,
		planID:            params.PlanID,
		merchantWallet:    params.MerchantWallet,
		customerWallet:    params.CustomerWallet,
		customerEmail:     params.CustomerEmail,
		amount:            params.Amount,
		currency:          params.Currency,
		interval:          params.Interval,
		intervalCount:     params.IntervalCount,
		maxRetries:        params.MaxRetries,
	}

	if params.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, params.TrialDays)
		s.status = StatusTrialing
		s.trialEnd = &trialEnd
		s.currentPeriodStart = now
		s.currentPeriodEnd = trialEnd
	} else {
		end, err := PeriodEnd(now, s.interval, s.intervalCount)
		if err != nil {
			return nil, err
		}
		s.status = StatusActive
		s.currentPeriodStart = now
		s.currentPeriodEnd = end
	}

	s.AddDomainEvent(&Created{BaseEvent: s.newEvent(EventCreated), Subscription: s.Snapshot()})
	return s, nil
}

// RehydrateParams carries a persisted subscription row.
type RehydrateParams struct {
	ID                 uuid.UUID
	MerchantID         uuid.UUID
	PlanID             uuid.UUID
	MerchantWallet     string
	CustomerWallet     string
	CustomerEmail      string
	Amount             int64
	Currency           string
	Interval           Interval
	IntervalCount      int
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CancelledAt        *time.Time
	PausedAt           *time.Time
	RetryCount         int
	MaxRetries         int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int
}

// Rehydrate reconstructs a subscription from storage without emitting events.
func Rehydrate(params RehydrateParams) *Subscription {
	return &Subscription{
		BaseAggregateRoot: domain.RehydrateBaseAggregateRoot(
			domain.RehydrateBaseEntity(params.ID, params.CreatedAt, params.UpdatedAt),
			params.Version,
		),
		merchantID:         params.MerchantID,
		planID:             params.PlanID,
		merchantWallet:     params.MerchantWallet,
		customerWallet:     params.CustomerWallet,
		customerEmail:      params.CustomerEmail,
		amount:             params.Amount,
		currency:           params.Currency,
		interval:           params.Interval,
		intervalCount:      params.IntervalCount,
		status:             params.Status,
		currentPeriodStart: params.CurrentPeriodStart,
		currentPeriodEnd:   params.CurrentPeriodEnd,
		trialEnd:           params.TrialEnd,
		cancelAtPeriodEnd:  params.CancelAtPeriodEnd,
		cancelledAt:        params.CancelledAt,
		pausedAt:           params.PausedAt,
		retryCount:         params.RetryCount,
		maxRetries:         params.MaxRetries,
	}
}

// Accessors.

func (s *Subscription) MerchantID() uuid.UUID         { return s.merchantID }
func (s *Subscription) PlanID() uuid.UUID             { return s.planID }
func (s *Subscription) MerchantWallet() string        { return s.merchantWallet }
func (s *Subscription) CustomerWallet() string        { return s.customerWallet }
func (s *Subscription) CustomerEmail() string         { return s.customerEmail }
func (s *Subscription) Amount() int64                 { return s.amount }
func (s *Subscription) Currency() string              { return s.currency }
func (s *Subscription) Interval() Interval            { return s.interval }
func (s *Subscription) IntervalCount() int            { return s.intervalCount }
func (s *Subscription) Status() Status                { return s.status }
func (s *Subscription) CurrentPeriodStart() time.Time { return s.currentPeriodStart }
func (s *Subscription) CurrentPeriodEnd() time.Time   { return s.currentPeriodEnd }
func (s *Subscription) TrialEnd() *time.Time          { return s.trialEnd }
func (s *Subscription) CancelAtPeriodEnd() bool       { return s.cancelAtPeriodEnd }
func (s *Subscription) CancelledAt() *time.Time       { return s.cancelledAt }
func (s *Subscription) PausedAt() *time.Time          { return s.pausedAt }
func (s *Subscription) RetryCount() int               { return s.retryCount }
func (s *Subscription) MaxRetries() int               { return s.maxRetries }

// Snapshot returns the event/webhook view of the subscription.
func (s *Subscription) Snapshot() Snapshot {
	return Snapshot{
		SubscriptionID:     s.ID(),
		MerchantID:         s.merchantID,
		PlanID:             s.planID,
		CustomerWallet:     s.customerWallet,
		Status:             s.status,
		Amount:             s.amount,
		Currency:           s.currency,
		CurrentPeriodStart: s.currentPeriodStart,
		CurrentPeriodEnd:   s.currentPeriodEnd,
		TrialEnd:           s.trialEnd,
		RetryCount:         s.retryCount,
	}
}

// TrialEnded reports whether the trial has run out.
func (s *Subscription) TrialEnded(now time.Time) bool {
	return s.status == StatusTrialing && s.trialEnd != nil && !s.trialEnd.After(now)
}

// RenewalDue reports whether a normal renewal should run.
func (s *Subscription) RenewalDue(now time.Time) bool {
	return s.status == StatusActive && !s.cancelAtPeriodEnd && !s.currentPeriodEnd.After(now)
}

// ConvertTrial ends the trial and opens the first paid period at now. The
// caller must attempt the first charge right after.
func (s *Subscription) ConvertTrial(now time.Time) error {
	if s.status != StatusTrialing {
		return ErrNotTrialing
	}

	end, err := PeriodEnd(now, s.interval, s.intervalCount)
	if err != nil {
		return err
	}

	s.status = StatusActive
	s.currentPeriodStart = now
	s.currentPeriodEnd = end
	s.trialEnd = nil
	s.Touch()

	s.AddDomainEvent(&TrialConverted{BaseEvent: s.newEvent(EventTrialConverted), Subscription: s.Snapshot()})
	return nil
}

// AdvancePeriod moves the subscription into its next billing period. The
// new period starts exactly at the old period's end, never at now, so
// renewal timing cannot drift.
func (s *Subscription) AdvancePeriod() error {
	if s.status != StatusActive {
		return ErrNotActive
	}

	start := s.currentPeriodEnd
	end, err := PeriodEnd(start, s.interval, s.intervalCount)
	if err != nil {
		return err
	}

	s.currentPeriodStart = start
	s.currentPeriodEnd = end
	s.Touch()
	return nil
}

// MarkRenewed records a successful period charge: the retry budget resets
// and the renewed event fires. Also used when a past_due subscription
// recovers.
func (s *Subscription) MarkRenewed(paymentID uuid.UUID) error {
	if s.status.IsTerminal() {
		return ErrTerminal
	}

	s.status = StatusActive
	s.retryCount = 0
	s.Touch()

	s.AddDomainEvent(&Renewed{BaseEvent: s.newEvent(EventRenewed), Subscription: s.Snapshot(), PaymentID: paymentID})
	return nil
}

// MarkPastDue records a failed first charge (subscribe or trial conversion)
// without spending retry budget. Sweeper retries start counting from zero.
func (s *Subscription) MarkPastDue(reason string) error {
	if s.status.IsTerminal() {
		return ErrTerminal
	}

	s.status = StatusPastDue
	s.Touch()

	s.AddDomainEvent(&PaymentFailed{BaseEvent: s.newEvent(EventPaymentFailed), Subscription: s.Snapshot(), Reason: reason})
	return nil
}

// RecordFailedCharge spends one retry. When the budget is exhausted the
// subscription expires, firing the expired event exactly once.
func (s *Subscription) RecordFailedCharge(reason string) error {
	if s.status.IsTerminal() {
		return ErrTerminal
	}

	s.retryCount++
	s.Touch()

	if s.retryCount >= s.maxRetries {
		s.status = StatusExpired
		s.AddDomainEvent(&PaymentFailed{BaseEvent: s.newEvent(EventPaymentFailed), Subscription: s.Snapshot(), Reason: reason})
		s.AddDomainEvent(&Expired{BaseEvent: s.newEvent(EventExpired), Subscription: s.Snapshot()})
		return nil
	}

	s.status = StatusPastDue
	s.AddDomainEvent(&PaymentFailed{BaseEvent: s.newEvent(EventPaymentFailed), Subscription: s.Snapshot(), Reason: reason})
	return nil
}

// CanRetry reports whether a past_due subscription has retry budget left.
func (s *Subscription) CanRetry() bool {
	return s.status == StatusPastDue && s.retryCount < s.maxRetries
}

// RequestCancellation schedules cancellation at the end of the current
// period. The status stays as-is until the sweeper completes it.
func (s *Subscription) RequestCancellation(now time.Time) error {
	if s.status.IsTerminal() {
		return ErrTerminal
	}

	s.cancelAtPeriodEnd = true
	s.cancelledAt = &now
	s.Touch()
	return nil
}

// CancelImmediately cancels right now, forfeiting the rest of the period.
func (s *Subscription) CancelImmediately(now time.Time) error {
	if s.status.IsTerminal() {
		return ErrTerminal
	}

	s.status = StatusCancelled
	s.cancelledAt = &now
	s.Touch()

	s.AddDomainEvent(&Cancelled{BaseEvent: s.newEvent(EventCancelled), Subscription: s.Snapshot()})
	return nil
}

// CompleteCancellation finishes a scheduled cancellation once the paid
// period has ended.
func (s *Subscription) CompleteCancellation(now time.Time) error {
	if s.status.IsTerminal() {
		return ErrTerminal
	}
	if !s.cancelAtPeriodEnd {
		return errors.New("cancellation was not requested")
	}
	if s.currentPeriodEnd.After(now) {
		return ErrPeriodNotEnded
	}

	s.status = StatusCancelled
	s.Touch()

	s.AddDomainEvent(&Cancelled{BaseEvent: s.newEvent(EventCancelled), Subscription: s.Snapshot()})
	return nil
}

// Pause suspends billing. Only trialing and active subscriptions pause.
func (s *Subscription) Pause(now time.Time) error {
	if s.status != StatusActive && s.status != StatusTrialing {
		return ErrNotPausable
	}

	s.status = StatusPaused
	s.pausedAt = &now
	s.Touch()

	s.AddDomainEvent(&Paused{BaseEvent: s.newEvent(EventPaused), Subscription: s.Snapshot()})
	return nil
}

// Resume restarts a paused subscription with a fresh period beginning at
// now. No charge is attempted; the next renewal bills normally. Resuming
// anything but a paused subscription is rejected so the period can never be
// silently reset twice.
func (s *Subscription) Resume(now time.Time) error {
	if s.status != StatusPaused {
		return ErrNotPaused
	}

	end, err := PeriodEnd(now, s.interval, s.intervalCount)
	if err != nil {
		return err
	}

	s.status = StatusActive
	s.currentPeriodStart = now
	s.currentPeriodEnd = end
	s.pausedAt = nil
	s.Touch()

	s.AddDomainEvent(&Resumed{BaseEvent: s.newEvent(EventResumed), Subscription: s.Snapshot()})
	return nil
}

// ResetRetries clears the retry counter after a successful manual charge
// without changing status.
func (s *Subscription) ResetRetries() {
	s.retryCount = 0
	s.Touch()
}
