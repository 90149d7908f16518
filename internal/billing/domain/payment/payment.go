// Package payment records individual charge attempts. A payment row is the
// audit trail of every on-chain transfer the gateway requested, keyed for
// idempotency so a billing period is never charged twice.
package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/shared/domain"
)

// Status is the lifecycle state of a charge attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrNotPending is returned when completing or failing a payment that
	// already settled.
	ErrNotPending = errors.New("payment is not pending")
)

// IdempotencyKey derives the charge key for a subscription's billing period.
// One completed payment per key is enforced by the store, so re-running a
// sweep or retrying a request can never double-charge a period.
func IdempotencyKey(subscriptionID uuid.UUID, periodStart time.Time) string {
	return fmt.Sprintf("%s:%d", subscriptionID, periodStart.Unix())
}

// Payment is one charge attempt against a subscription's billing period.
type Payment struct {
	domain.BaseEntity

	subscriptionID uuid.UUID
	planID         uuid.UUID
	merchantID     uuid.UUID
	merchantWallet string
	customerWallet string

	amount      int64
	platformFee int64
	currency    string

	status        Status
	txSignature   string
	failureReason string

	idempotencyKey string
	periodStart    time.Time
	periodEnd      time.Time
	attemptCount   int
}

// NewParams carries the fields for a pending payment.
type NewParams struct {
	SubscriptionID uuid.UUID
	PlanID         uuid.UUID
	MerchantID     uuid.UUID
	MerchantWallet string
	CustomerWallet string
	Amount         int64
	Currency       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// NewPending opens a charge attempt. The payment stays pending until the
// relay confirms or rejects the transfer.
func NewPending(params NewParams) (*Payment, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %d", params.Amount)
	}
	if params.Currency == "" {
		params.Currency = "USDC"
	}

	return &Payment{
		BaseEntity:     domain.NewBaseEntity(),
		subscriptionID: params.SubscriptionID,
		planID:         params.PlanID,
		merchantID:     params.MerchantID,
		merchantWallet: params.MerchantWallet,
		customerWallet: params.CustomerWallet,
		amount:         params.Amount,
		currency:       params.Currency,
		status:         StatusPending,
		idempotencyKey: IdempotencyKey(params.SubscriptionID, params.PeriodStart),
		periodStart:    params.PeriodStart,
		periodEnd:      params.PeriodEnd,
		attemptCount:   1,
	}, nil
}

// RehydrateParams carries a persisted payment row.
type RehydrateParams struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	PlanID         uuid.UUID
	MerchantID     uuid.UUID
	MerchantWallet string
	CustomerWallet string
	Amount         int64
	PlatformFee    int64
	Currency       string
	Status         Status
	TxSignature    string
	FailureReason  string
	IdempotencyKey string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	AttemptCount   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Rehydrate reconstructs a payment from storage.
func Rehydrate(params RehydrateParams) *Payment {
	return &Payment{
		BaseEntity:     domain.RehydrateBaseEntity(params.ID, params.CreatedAt, params.UpdatedAt),
		subscriptionID: params.SubscriptionID,
		planID:         params.PlanID,
		merchantID:     params.MerchantID,
		merchantWallet: params.MerchantWallet,
		customerWallet: params.CustomerWallet,
		amount:         params.Amount,
		platformFee:    params.PlatformFee,
		currency:       params.Currency,
		status:         params.Status,
		txSignature:    params.TxSignature,
		failureReason:  params.FailureReason,
		idempotencyKey: params.IdempotencyKey,
		periodStart:    params.PeriodStart,
		periodEnd:      params.PeriodEnd,
		attemptCount:   params.AttemptCount,
	}
}

func (p *Payment) SubscriptionID() uuid.UUID { return p.subscriptionID }
func (p *Payment) PlanID() uuid.UUID         { return p.planID }
func (p *Payment) MerchantID() uuid.UUID     { return p.merchantID }
func (p *Payment) MerchantWallet() string    { return p.merchantWallet }
func (p *Payment) CustomerWallet() string    { return p.customerWallet }
func (p *Payment) Amount() int64             { return p.amount }
func (p *Payment) PlatformFee() int64        { return p.platformFee }
func (p *Payment) Currency() string          { return p.currency }
func (p *Payment) Status() Status            { return p.status }
func (p *Payment) TxSignature() string       { return p.txSignature }
func (p *Payment) FailureReason() string     { return p.failureReason }
func (p *Payment) IdempotencyKey() string    { return p.idempotencyKey }
func (p *Payment) PeriodStart() time.Time    { return p.periodStart }
func (p *Payment) PeriodEnd() time.Time      { return p.periodEnd }
func (p *Payment) AttemptCount() int         { return p.attemptCount }

// MerchantAmount is the amount minus the platform fee, what the merchant
// wallet actually receives.
func (p *Payment) MerchantAmount() int64 { return p.amount - p.platformFee }

// Complete settles the payment with the confirmed transaction signature and
// the platform fee that was withheld.
func (p *Payment) Complete(txSignature string, platformFee int64) error {
	if p.status != StatusPending {
		return ErrNotPending
	}
	if txSignature == "" {
		return errors.New("transaction signature is required")
	}
	if platformFee < 0 || platformFee > p.amount {
		return fmt.Errorf("platform fee %d out of range for amount %d", platformFee, p.amount)
	}

	p.status = StatusCompleted
	p.txSignature = txSignature
	p.platformFee = platformFee
	p.Touch()
	return nil
}

// Fail records a rejected or timed-out transfer.
func (p *Payment) Fail(reason string) error {
	if p.status != StatusPending {
		return ErrNotPending
	}

	p.status = StatusFailed
	p.failureReason = reason
	p.Touch()
	return nil
}

// RecordAttempt bumps the attempt counter when a pending payment is retried
// through the relay.
func (p *Payment) RecordAttempt() {
	p.attemptCount++
	p.Touch()
}

// StalePending reports whether the payment has been pending longer than the
// given timeout and should be reconciled.
func (p *Payment) StalePending(now time.Time, timeout time.Duration) bool {
	return p.status == StatusPending && now.Sub(p.CreatedAt()) >= timeout
}
