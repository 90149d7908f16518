// Package relay talks to the transaction relay service that builds, signs
// and submits the on-chain transfers. The gateway never touches keys or RPC
// nodes itself; the relay is the only path to the chain.
package relay

import (
	"context"
	"errors"
	"fmt"
)

// Charge statuses reported by the relay.
const (
	StatusConfirmed = "confirmed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// ErrUnavailable is returned when the relay cannot be reached or its
// circuit breaker is open. The charge outcome is unknown.
var ErrUnavailable = errors.New("relay unavailable")

// ErrChargeNotFound is returned when looking up a reference the relay has
// never seen.
var ErrChargeNotFound = errors.New("charge not found")

// DeclinedError is a definitive rejection from the relay, such as
// insufficient funds or a revoked delegation.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("charge declined: %s", e.Reason)
}

// IsDeclined reports whether the error is a definitive decline rather than
// a transport failure.
func IsDeclined(err error) bool {
	var declined *DeclinedError
	return errors.As(err, &declined)
}

// ChargeRequest asks the relay to move funds from the customer's delegated
// token account to the merchant, splitting out the platform fee. The
// reference is the billing idempotency key; the relay deduplicates on it.
type ChargeRequest struct {
	Reference      string `json:"reference"`
	CustomerWallet string `json:"customer_wallet"`
	MerchantWallet string `json:"merchant_wallet"`
	Amount         int64  `json:"amount"`
	PlatformFee    int64  `json:"platform_fee"`
	Currency       string `json:"currency"`
}

// ChargeResult is the relay's view of a submitted charge.
type ChargeResult struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	TxSignature string `json:"tx_signature"`
	Reason      string `json:"reason,omitempty"`
}

// Confirmed reports whether the transfer landed on chain.
func (r *ChargeResult) Confirmed() bool { return r.Status == StatusConfirmed }

// Client executes and inspects charges through the relay.
type Client interface {
	// Charge submits a transfer. A *DeclinedError means the charge
	// definitively failed; ErrUnavailable means the outcome is unknown and
	// the charge must be reconciled later.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	// GetCharge looks up a previously submitted charge by reference, used
	// by the sweeper to reconcile payments stuck in pending.
	GetCharge(ctx context.Context, reference string) (*ChargeResult, error)

	// Ping checks relay reachability for health reporting.
	Ping(ctx context.Context) error
}
