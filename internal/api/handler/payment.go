package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucpg/payment-gateway/internal/api/middleware"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type paymentResponse struct {
	Transaction models.Transaction `json:"transaction"`
	ClaimCode   string             `json:"claim_code"`
	ClaimURL    string             `json:"claim_url"`
}

func newPaymentResponse(p service.Payment) paymentResponse {
	return paymentResponse{
		Transaction: p.Transaction,
		ClaimCode:   p.PromoLink.Code,
		ClaimURL:    p.PromoLink.LinkURL,
	}
}

// Create opens a new payment for the API-key-authenticated provider.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount            string `json:"amount"`
		OriginalCurrency  string `json:"original_currency"`
		ConvertedCurrency string `json:"converted_currency"`
		PaymentMethod     string `json:"payment_method"`
		ContactEmail      string `json:"contact_email"`
		ContactTelegram   string `json:"contact_telegram"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-body", "Invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-amount", "Invalid amount")
		return
	}

	in := service.CreatePaymentInput{
		Amount:            amount,
		OriginalCurrency:  req.OriginalCurrency,
		ConvertedCurrency: req.ConvertedCurrency,
		PaymentMethod:     req.PaymentMethod,
		ContactEmail:      req.ContactEmail,
		ContactTelegram:   req.ContactTelegram,
	}
	if provider, ok := middleware.ProviderFromContext(r.Context()); ok {
		id := provider.ID
		in.ProviderID = &id
	}

	payment, err := h.payments.CreatePayment(r.Context(), in)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, newPaymentResponse(payment))
}

// Get returns the payment with its claim link, applying lazy expiry.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := h.payments.GetPayment(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, newPaymentResponse(payment))
}

// History returns the payment's audit trail.
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.payments.History(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"history": logs})
}

// Cancel cancels a payment that has not started processing.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.payments.CancelPayment(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// CreateCardIntent opens a card authorization for the payment.
func (h *PaymentHandler) CreateCardIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	intent, err := h.payments.CreateCardIntent(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]string{
		"intent_id":     intent.IntentID,
		"client_secret": intent.ClientSecret,
	})
}

// ConfirmCard confirms and captures the card authorization.
func (h *PaymentHandler) ConfirmCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		PaymentMethodID string `json:"payment_method_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-body", "Invalid request body")
		return
	}
	tx, err := h.payments.ConfirmCardPayment(r.Context(), id, req.PaymentMethodID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// DepositAddress generates the crypto deposit address for the payment.
func (h *PaymentHandler) DepositAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deposit, err := h.payments.GenerateDepositAddress(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"address":     deposit.Address,
		"currency":    deposit.Currency,
		"amount":      deposit.Amount,
		"payment_uri": deposit.PaymentURI,
	})
}

// CheckDeposit polls the chain for the expected deposit.
func (h *PaymentHandler) CheckDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, confirmed, err := h.payments.CheckCryptoDeposit(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"confirmed":   confirmed,
		"transaction": tx,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid-id", "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}
