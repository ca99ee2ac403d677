package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ucpg/payment-gateway/internal/api/problem"
	"github.com/ucpg/payment-gateway/internal/domain"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondDomainError maps the core error taxonomy onto HTTP statuses.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAlreadyUsed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, domain.ErrInsufficientFunds):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrExternalService):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrConfiguration):
		status = http.StatusInternalServerError
	}
	RespondError(w, r, status, strings.ReplaceAll(domain.CodeOf(err), "_", "-"), domain.MessageOf(err))
}
