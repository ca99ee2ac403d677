package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/service"
)

// AdminHandler bundles the operator surface: commission settings,
// payout resolution and the dead-letter webhook queue.
type AdminHandler struct {
	payments   *service.PaymentService
	commission *service.CommissionService
	webhooks   *service.WebhookService
}

func NewAdminHandler(payments *service.PaymentService, commission *service.CommissionService, webhooks *service.WebhookService) *AdminHandler {
	return &AdminHandler{payments: payments, commission: commission, webhooks: webhooks}
}

// ListCommissions returns all configured commission settings.
func (h *AdminHandler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	settings, err := h.commission.ListSettings(r.Context())
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "internal-error", "failed to list commission settings")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// SaveCommission creates or updates a commission setting at one scope.
func (h *AdminHandler) SaveCommission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency   *string `json:"currency"`
		ProviderID *string `json:"provider_id"`
		Rate       string  `json:"rate"`
		IsActive   *bool   `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-body", "Invalid request body")
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-rate", "Invalid rate")
		return
	}

	setting := models.CommissionSetting{
		CurrencyCode: req.Currency,
		Rate:         rate,
		IsActive:     true,
	}
	if req.IsActive != nil {
		setting.IsActive = *req.IsActive
	}
	if req.ProviderID != nil {
		pid, err := uuid.Parse(*req.ProviderID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "invalid-provider-id", "Invalid provider_id")
			return
		}
		setting.ProviderID = &pid
	}

	if err := h.commission.SaveSetting(r.Context(), &setting); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, setting)
}

// DeleteCommission removes a commission setting.
func (h *AdminHandler) DeleteCommission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-id", "Invalid id")
		return
	}
	if err := h.commission.DeleteSetting(r.Context(), id); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompletePayout settles an out-of-band payout and finishes the payment.
func (h *AdminHandler) CompletePayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payout, err := h.payments.CompletePayout(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, payout)
}

// FailPayout records an asynchronous payout failure and reopens the claim.
func (h *AdminHandler) FailPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-body", "Invalid request body")
		return
	}
	payout, err := h.payments.FailPayout(r.Context(), id, req.Reason)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, payout)
}

// RefundClaim refunds a stuck claim back to the payer.
func (h *AdminHandler) RefundClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-body", "Invalid request body")
		return
	}
	tx, err := h.payments.RefundClaim(r.Context(), id, req.Reason)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// ExhaustedWebhooks lists deliveries that ran out of retry attempts.
func (h *AdminHandler) ExhaustedWebhooks(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	items, err := h.webhooks.ListExhausted(r.Context(), limit)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "internal-error", "failed to list exhausted webhooks")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"webhooks": items})
}
