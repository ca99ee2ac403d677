package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/service"
)

// ClaimHandler serves the anonymous claim flow. No authentication: the
// code itself is the bearer credential.
type ClaimHandler struct {
	payments *service.PaymentService
}

func NewClaimHandler(payments *service.PaymentService) *ClaimHandler {
	return &ClaimHandler{payments: payments}
}

// Info returns how much a code is worth and whether it is still claimable.
func (h *ClaimHandler) Info(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	info, err := h.payments.GetClaimInfo(r.Context(), code)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"valid":             info.Valid,
		"reason":            info.Reason,
		"amount":            info.Amount,
		"currency":          info.Currency,
		"expires_at":        info.ExpiresAt,
		"seconds_remaining": int64(info.Remaining.Seconds()),
	})
}

// Claim redeems a code to the recipient destination in the body.
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))

	var req struct {
		Wallet      string         `json:"wallet"`
		CardToken   string         `json:"card_token"`
		BankDetails map[string]any `json:"bank_details"`
		Email       string         `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-body", "Invalid request body")
		return
	}

	recipient := models.Recipient{
		CryptoAddress: strings.TrimSpace(req.Wallet),
		CardToken:     strings.TrimSpace(req.CardToken),
		BankDetails:   req.BankDetails,
		Email:         strings.TrimSpace(req.Email),
	}

	payout, err := h.payments.Claim(r.Context(), code, recipient, r.RemoteAddr)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, payout)
}
