package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/application/services"
	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// subscriptionActionRequest is the single entry point for subscription
// mutations. Action selects the operation; the remaining fields apply per
// action.
type subscriptionActionRequest struct {
	Action string `json:"action" validate:"required,oneof=subscribe cancel pause resume charge"`

	// Subscribe fields.
	PlanID         string `json:"plan_id" validate:"required_if=Action subscribe,omitempty,uuid"`
	CustomerWallet string `json:"customer_wallet" validate:"required_if=Action subscribe"`
	CustomerEmail  string `json:"customer_email" validate:"omitempty,email"`

	// Lifecycle fields.
	SubscriptionID string `json:"subscription_id" validate:"required_unless=Action subscribe,omitempty,uuid"`
	Immediately    bool   `json:"immediately"`
}

type createPlanRequest struct {
	Name          string `json:"name" validate:"required,max=120"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"omitempty,alpha,uppercase"`
	Interval      string `json:"interval" validate:"required,oneof=daily weekly monthly yearly"`
	IntervalCount int    `json:"interval_count" validate:"omitempty,gte=1"`
	TrialDays     int    `json:"trial_days" validate:"omitempty,gte=0"`
}

type updatePlanRequest struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=120"`
	Active *bool   `json:"active"`
}

type registerMerchantRequest struct {
	Name          string `json:"name" validate:"required,max=120"`
	Email         string `json:"email" validate:"required,email"`
	WalletAddress string `json:"wallet_address" validate:"required"`
}

type webhookConfigRequest struct {
	URL    string   `json:"url" validate:"required_if=Active true,omitempty,url"`
	Secret string   `json:"secret" validate:"required_if=Active true"`
	Events []string `json:"events" validate:"omitempty,dive,oneof=subscription.renewed subscription.expired subscription.cancelled"`
	Active bool     `json:"active"`
}

type subscriptionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	MerchantID         uuid.UUID  `json:"merchant_id"`
	PlanID             uuid.UUID  `json:"plan_id"`
	CustomerWallet     string     `json:"customer_wallet"`
	CustomerEmail      string     `json:"customer_email,omitempty"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	Interval           string     `json:"interval"`
	IntervalCount      int        `json:"interval_count"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	RetryCount         int        `json:"retry_count"`
	MaxRetries         int        `json:"max_retries"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func newSubscriptionResponse(sub *subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 sub.ID(),
		MerchantID:         sub.MerchantID(),
		PlanID:             sub.PlanID(),
		CustomerWallet:     sub.CustomerWallet(),
		CustomerEmail:      sub.CustomerEmail(),
		Amount:             sub.Amount(),
		Currency:           sub.Currency(),
		Interval:           string(sub.Interval()),
		IntervalCount:      sub.IntervalCount(),
		Status:             string(sub.Status()),
		CurrentPeriodStart: sub.CurrentPeriodStart(),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd(),
		TrialEnd:           sub.TrialEnd(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd(),
		CancelledAt:        sub.CancelledAt(),
		PausedAt:           sub.PausedAt(),
		RetryCount:         sub.RetryCount(),
		MaxRetries:         sub.MaxRetries(),
		CreatedAt:          sub.CreatedAt(),
		UpdatedAt:          sub.UpdatedAt(),
	}
}

func newSubscriptionListResponse(subs []*subscription.Subscription) []subscriptionResponse {
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, newSubscriptionResponse(sub))
	}
	return out
}

type paymentResponse struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Amount         int64     `json:"amount"`
	PlatformFee    int64     `json:"platform_fee"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	TxSignature    string    `json:"tx_signature,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	AttemptCount   int       `json:"attempt_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func newPaymentResponse(p *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID(),
		SubscriptionID: p.SubscriptionID(),
		Amount:         p.Amount(),
		PlatformFee:    p.PlatformFee(),
		Currency:       p.Currency(),
		Status:         string(p.Status()),
		TxSignature:    p.TxSignature(),
		FailureReason:  p.FailureReason(),
		PeriodStart:    p.PeriodStart(),
		PeriodEnd:      p.PeriodEnd(),
		AttemptCount:   p.AttemptCount(),
		CreatedAt:      p.CreatedAt(),
	}
}

type subscriptionDetailsResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	Payments     []paymentResponse    `json:"payments"`
}

type chargeResponse struct {
	Subscription   subscriptionResponse `json:"subscription"`
	Payment        *paymentResponse     `json:"payment,omitempty"`
	AlreadyCharged bool                 `json:"already_charged"`
	Unresolved     bool                 `json:"unresolved"`
}

type planResponse struct {
	ID            uuid.UUID `json:"id"`
	MerchantID    uuid.UUID `json:"merchant_id"`
	Name          string    `json:"name"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Interval      string    `json:"interval"`
	IntervalCount int       `json:"interval_count"`
	TrialDays     int       `json:"trial_days"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

func newPlanResponse(p *plan.Plan) planResponse {
	return planResponse{
		ID:            p.ID(),
		MerchantID:    p.MerchantID(),
		Name:          p.Name(),
		Amount:        p.Amount(),
		Currency:      p.Currency(),
		Interval:      string(p.Interval()),
		IntervalCount: p.IntervalCount(),
		TrialDays:     p.TrialDays(),
		Active:        p.IsActive(),
		CreatedAt:     p.CreatedAt(),
	}
}

type merchantResponse struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}

func newMerchantResponse(m *merchant.Merchant) merchantResponse {
	return merchantResponse{
		ID:            m.ID(),
		Name:          m.Name(),
		Email:         m.Email(),
		WalletAddress: m.WalletAddress(),
		CreatedAt:     m.CreatedAt(),
	}
}

// registeredMerchantResponse carries the API key exactly once, at
// registration. Only its hash is stored.
type registeredMerchantResponse struct {
	Merchant merchantResponse `json:"merchant"`
	APIKey   string           `json:"api_key"`
}

// webhookConfigResponse never echoes the signing secret.
type webhookConfigResponse struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
	Active bool     `json:"active"`
}

func newWebhookConfigResponse(cfg merchant.WebhookConfig) webhookConfigResponse {
	return webhookConfigResponse{
		URL:    cfg.URL,
		Events: cfg.Events,
		Active: cfg.Active,
	}
}

type deliveryResponse struct {
	ID             uuid.UUID  `json:"id"`
	EventID        uuid.UUID  `json:"event_id"`
	EventType      string     `json:"event_type"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	DeadLetteredAt *time.Time `json:"dead_lettered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newDeliveryResponse(d *delivery.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:             d.ID(),
		EventID:        d.EventID(),
		EventType:      d.EventType(),
		Status:         string(d.Status()),
		AttemptCount:   d.AttemptCount(),
		NextAttemptAt:  d.NextAttemptAt(),
		LastError:      d.LastError(),
		DeliveredAt:    d.DeliveredAt(),
		DeadLetteredAt: d.DeadLetteredAt(),
		CreatedAt:      d.CreatedAt(),
	}
}

type sweepResponse struct {
	Skipped         bool     `json:"skipped"`
	Processed       int      `json:"processed"`
	TrialsConverted int      `json:"trials_converted"`
	Charged         int      `json:"charged"`
	Failed          int      `json:"failed"`
	Cancelled       int      `json:"cancelled"`
	Reconciled      int      `json:"reconciled"`
	Errors          []string `json:"errors,omitempty"`
}

func newSweepResponse(summary services.RunSummary) sweepResponse {
	return sweepResponse{
		Skipped:         summary.Skipped,
		Processed:       summary.Processed,
		TrialsConverted: summary.TrialsConverted,
		Charged:         summary.Charged,
		Failed:          summary.Failed,
		Cancelled:       summary.Cancelled,
		Reconciled:      summary.Reconciled,
		Errors:          summary.Errors,
	}
}
