package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ucpg/payment-gateway/internal/repository"
	"github.com/ucpg/payment-gateway/internal/service"
)

type CurrencyHandler struct {
	store    repository.Store
	exchange *service.ExchangeService
}

func NewCurrencyHandler(store repository.Store, exchange *service.ExchangeService) *CurrencyHandler {
	return &CurrencyHandler{store: store, exchange: exchange}
}

// List returns the supported currency catalog.
func (h *CurrencyHandler) List(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.store.Currencies().List(r.Context())
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "internal-error", "failed to list currencies")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"currencies": currencies})
}

// Rate quotes the current exchange rate for a pair.
func (h *CurrencyHandler) Rate(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(chi.URLParam(r, "from"))
	to := strings.ToUpper(chi.URLParam(r, "to"))

	rate, err := h.exchange.GetRate(r.Context(), from, to)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"from": from,
		"to":   to,
		"rate": rate,
	})
}
