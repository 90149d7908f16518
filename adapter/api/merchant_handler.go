package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/billing/application/commands"
	"github.com/settlr/settlr/internal/billing/application/queries"
	merchantapp "github.com/settlr/settlr/internal/merchants/application"
	"github.com/settlr/settlr/internal/merchants/domain/merchant"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
)

// MerchantHandler serves merchant accounts, plans, webhook configuration
// and the delivery log.
type MerchantHandler struct {
	merchants   *merchantapp.Service
	plans       *commands.PlanHandler
	planQueries *queries.PlanQueries
	deliveries  delivery.Repository
	logger      *slog.Logger
}

// NewMerchantHandler creates the merchant handler.
func NewMerchantHandler(deps Dependencies, logger *slog.Logger) *MerchantHandler {
	return &MerchantHandler{
		merchants:   deps.Merchants,
		plans:       deps.Plans,
		planQueries: deps.PlanQueries,
		deliveries:  deps.Deliveries,
		logger:      logger,
	}
}

// Register opens a merchant account. The response carries the API key; it
// is shown exactly once and only its hash is stored.
func (h *MerchantHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerMerchantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	registered, err := h.merchants.Register(r.Context(), merchantapp.Register{
		Name:          req.Name,
		Email:         req.Email,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		respondError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, registeredMerchantResponse{
		Merchant: newMerchantResponse(registered.Merchant),
		APIKey:   registered.APIKey,
	})
}

// Me returns the authenticated merchant's account.
func (h *MerchantHandler) Me(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID) {
	m, err := h.merchants.Get(r.Context(), merchantID)
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newMerchantResponse(m))
}

// GetWebhook returns the merchant's webhook configuration, secret omitted.
func (h *MerchantHandler) GetWebhook(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID) {
	m, err := h.merchants.Get(r.Context(), merchantID)
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookConfigResponse(m.Webhook()))
}

// ConfigureWebhook replaces the merchant's webhook endpoint configuration.
func (h *MerchantHandler) ConfigureWebhook(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID) {
	var req webhookConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.merchants.ConfigureWebhook(r.Context(), merchantID, merchant.WebhookConfig{
		URL:    req.URL,
		Secret: req.Secret,
		Events: req.Events,
		Active: req.Active,
	})
	if err != nil {
		respondError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookConfigResponse(m.Webhook()))
}

// ListPlans returns the authenticated merchant's plans.
func (h *MerchantHandler) ListPlans(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID) {
	plans, err := h.planQueries.ListByMerchant(r.Context(), merchantID)
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, newPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// CreatePlan defines a new recurring price for the merchant.
func (h *MerchantHandler) CreatePlan(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.plans.Create(r.Context(), commands.CreatePlan{
		MerchantID:    merchantID,
		Name:          req.Name,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Interval:      req.Interval,
		IntervalCount: req.IntervalCount,
		TrialDays:     req.TrialDays,
	})
	if err != nil {
		respondError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, newPlanResponse(p))
}

// UpdatePlan renames or toggles one of the merchant's plans.
func (h *MerchantHandler) UpdatePlan(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID) {
	planID, err := uuid.Parse(r.PathValue("planID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}

	var req updatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.plans.Update(r.Context(), commands.UpdatePlan{
		PlanID:     planID,
		MerchantID: merchantID,
		Name:       req.Name,
		Active:     req.Active,
	})
	if err != nil {
		respondError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, newPlanResponse(p))
}

// ListDeliveries returns the merchant's webhook delivery log, newest first.
func (h *MerchantHandler) ListDeliveries(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 200)
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	deliveries, err := h.deliveries.ListByMerchant(r.Context(), merchantID, limit, offset)
	if err != nil {
		respondError(w, h.logger, err, http.StatusInternalServerError)
		return
	}
	out := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, newDeliveryResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": out})
}
