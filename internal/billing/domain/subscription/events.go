package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/shared/domain"
)

// AggregateType identifies subscription aggregates in the outbox.
const AggregateType = "subscription"

// Routing keys for subscription lifecycle events. Only renewed, expired and
// cancelled are forwarded to merchant webhooks; the rest are internal.
const (
	EventCreated        = "subscription.created"
	EventTrialConverted = "subscription.trial_converted"
	EventRenewed        = "subscription.renewed"
	EventPaymentFailed  = "subscription.payment_failed"
	EventExpired        = "subscription.expired"
	EventCancelled      = "subscription.cancelled"
	EventPaused         = "subscription.paused"
	EventResumed        = "subscription.resumed"
)

// Snapshot is the subscription view embedded in every lifecycle event, and
// ultimately in merchant webhook payloads.
type Snapshot struct {
	SubscriptionID     uuid.UUID  `json:"subscription_id"`
	MerchantID         uuid.UUID  `json:"merchant_id"`
	PlanID             uuid.UUID  `json:"plan_id"`
	CustomerWallet     string     `json:"customer_wallet"`
	Status             Status     `json:"status"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	RetryCount         int        `json:"retry_count"`
}

// Created fires when a subscription is opened.
type Created struct {
	domain.BaseEvent
	Subscription Snapshot `json:"subscription"`
}

// TrialConverted fires when a trial ends and billing begins.
type TrialConverted struct {
	domain.BaseEvent
	Subscription Snapshot `json:"subscription"`
}

// Renewed fires on every successful period charge, including recovery from
// past_due.
type Renewed struct {
	domain.BaseEvent
	Subscription Snapshot  `json:"subscription"`
	PaymentID    uuid.UUID `json:"payment_id"`
}

// PaymentFailed fires when a charge attempt fails.
type PaymentFailed struct {
	domain.BaseEvent
	Subscription Snapshot `json:"subscription"`
	Reason       string   `json:"reason"`
}

// Expired fires exactly once, when the retry budget is exhausted.
type Expired struct {
	domain.BaseEvent
	Subscription Snapshot `json:"subscription"`
}

// Cancelled fires when a subscription reaches the cancelled state, whether
// immediately or at period end.
type Cancelled struct {
	domain.BaseEvent
	Subscription Snapshot `json:"subscription"`
}

// Paused fires when a subscriber suspends billing.
type Paused struct {
	domain.BaseEvent
	Subscription Snapshot `json:"subscription"`
}

// Resumed fires when a paused subscription restarts with a fresh period.
type Resumed struct {
	domain.BaseEvent
	Subscription Snapshot `json:"subscription"`
}

func (s *Subscription) newEvent(routingKey string) domain.BaseEvent {
	return domain.NewBaseEvent(s.ID(), AggregateType, routingKey)
}
