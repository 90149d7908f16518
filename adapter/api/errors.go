package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/settlr/settlr/internal/billing/application/commands"
	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/relay"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
)

// statusFor maps application and domain errors onto HTTP statuses.
// Unrecognized errors take the caller's fallback.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, plan.ErrNotFound),
		errors.Is(err, merchant.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, delivery.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, commands.ErrNotOwned):
		return http.StatusForbidden

	case errors.Is(err, commands.ErrAlreadySubscribed),
		errors.Is(err, subscription.ErrConcurrentModification),
		errors.Is(err, plan.ErrConcurrentModification),
		errors.Is(err, merchant.ErrConcurrentModification):
		return http.StatusConflict

	case relay.IsDeclined(err):
		return http.StatusPaymentRequired

	case errors.Is(err, commands.ErrNotChargeable),
		errors.Is(err, plan.ErrInactive),
		errors.Is(err, subscription.ErrInvalidInterval),
		errors.Is(err, subscription.ErrNotTrialing),
		errors.Is(err, subscription.ErrNotActive),
		errors.Is(err, subscription.ErrNotPaused),
		errors.Is(err, subscription.ErrNotPastDue),
		errors.Is(err, subscription.ErrNotPausable),
		errors.Is(err, subscription.ErrTerminal),
		errors.Is(err, merchant.ErrWebhookNotConfigured):
		return http.StatusBadRequest

	default:
		return fallback
	}
}

// respondError translates err into an HTTP error response. Internal failures
// are logged and masked; everything else surfaces the error message.
func respondError(w http.ResponseWriter, logger *slog.Logger, err error, fallback int) {
	status := statusFor(err, fallback)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
