package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/application/commands"
	"github.com/settlr/settlr/internal/billing/application/queries"
	"github.com/settlr/settlr/internal/billing/application/services"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
)

const defaultListLimit = 50

// SubscriptionHandler serves the subscription surface: the action dispatch
// endpoint, read endpoints and the cron-driven sweep.
type SubscriptionHandler struct {
	subscribe *commands.SubscribeHandler
	lifecycle *commands.LifecycleHandler
	chargeNow *commands.ChargeNowHandler
	queries   *queries.SubscriptionQueries
	sweeper   *services.Sweeper
	logger    *slog.Logger
}

// NewSubscriptionHandler creates the subscription handler.
func NewSubscriptionHandler(deps Dependencies, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscribe: deps.Subscribe,
		lifecycle: deps.Lifecycle,
		chargeNow: deps.ChargeNow,
		queries:   deps.Subscriptions,
		sweeper:   deps.Sweeper,
		logger:    logger,
	}
}

// Dispatch routes a subscription action to its command handler. merchantID
// is uuid.Nil for unauthenticated customer requests, which skips ownership
// checks.
func (h *SubscriptionHandler) Dispatch(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID) {
	var req subscriptionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Action == "subscribe" {
		h.handleSubscribe(w, r, req)
		return
	}

	// Validated as a UUID above.
	subscriptionID := uuid.MustParse(req.SubscriptionID)
	switch req.Action {
	case "cancel":
		h.handleLifecycle(w, r, func() (*subscription.Subscription, error) {
			return h.lifecycle.Cancel(r.Context(), commands.Cancel{
				SubscriptionID: subscriptionID,
				MerchantID:     merchantID,
				Immediately:    req.Immediately,
			})
		})
	case "pause":
		h.handleLifecycle(w, r, func() (*subscription.Subscription, error) {
			return h.lifecycle.Pause(r.Context(), commands.Pause{
				SubscriptionID: subscriptionID,
				MerchantID:     merchantID,
			})
		})
	case "resume":
		h.handleLifecycle(w, r, func() (*subscription.Subscription, error) {
			return h.lifecycle.Resume(r.Context(), commands.Resume{
				SubscriptionID: subscriptionID,
				MerchantID:     merchantID,
			})
		})
	case "charge":
		h.handleCharge(w, r, subscriptionID, merchantID)
	}
}

func (h *SubscriptionHandler) handleSubscribe(w http.ResponseWriter, r *http.Request, req subscriptionActionRequest) {
	sub, err := h.subscribe.Handle(r.Context(), commands.Subscribe{
		PlanID:         uuid.MustParse(req.PlanID),
		CustomerWallet: req.CustomerWallet,
		CustomerEmail:  req.CustomerEmail,
	})
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}
	// A declined first charge still opens the subscription, as past_due;
	// the response status field carries that outcome.
	writeJSON(w, http.StatusCreated, newSubscriptionResponse(sub))
}

func (h *SubscriptionHandler) handleLifecycle(w http.ResponseWriter, r *http.Request, op func() (*subscription.Subscription, error)) {
	sub, err := op()
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionResponse(sub))
}

func (h *SubscriptionHandler) handleCharge(w http.ResponseWriter, r *http.Request, subscriptionID, merchantID uuid.UUID) {
	outcome, err := h.chargeNow.Handle(r.Context(), commands.ChargeNow{
		SubscriptionID: subscriptionID,
		MerchantID:     merchantID,
	})
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}

	resp := chargeResponse{
		Subscription:   newSubscriptionResponse(outcome.Subscription),
		AlreadyCharged: outcome.AlreadyCharged,
		Unresolved:     outcome.Unresolved,
	}
	if outcome.Payment != nil {
		p := newPaymentResponse(outcome.Payment)
		resp.Payment = &p
	}
	status := http.StatusOK
	if outcome.Unresolved {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// List returns subscriptions matching the query filters.
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subs, err := h.queries.List(r.Context(), filter)
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": newSubscriptionListResponse(subs),
	})
}

// Get returns one subscription with its payment history.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("subscriptionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	details, err := h.queries.Get(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}

	payments := make([]paymentResponse, 0, len(details.Payments))
	for _, p := range details.Payments {
		payments = append(payments, newPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, subscriptionDetailsResponse{
		Subscription: newSubscriptionResponse(details.Subscription),
		Payments:     payments,
	})
}

// CronRenew runs one renewal sweep. Always answers 200 so schedulers do not
// retry a sweep that already ran; per-subscription failures ride in the
// summary.
func (h *SubscriptionHandler) CronRenew(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newSweepResponse(summary))
}

func listFilterFromQuery(r *http.Request) (subscription.ListFilter, error) {
	q := r.URL.Query()
	filter := subscription.ListFilter{
		CustomerWallet: q.Get("customer_wallet"),
		Limit:          defaultListLimit,
	}

	if raw := q.Get("merchant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return subscription.ListFilter{}, errors.New("invalid merchant_id")
		}
		filter.MerchantID = id
	}
	if raw := q.Get("plan_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return subscription.ListFilter{}, errors.New("invalid plan_id")
		}
		filter.PlanID = id
	}
	if raw := q.Get("status"); raw != "" {
		status, err := subscription.ParseStatus(raw)
		if err != nil {
			return subscription.ListFilter{}, err
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return subscription.ListFilter{}, errors.New("invalid limit")
		}
		filter.Limit = min(limit, 200)
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return subscription.ListFilter{}, errors.New("invalid offset")
		}
		filter.Offset = offset
	}
	return filter, nil
}
