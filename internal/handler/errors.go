package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yourorg/podbay/internal/domain"
)

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError maps a domain error to an HTTP status and writes the JSON body.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status := http.StatusInternalServerError
	msg := fallback

	switch {
	case errors.Is(err, domain.ErrInvalidPlan):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, domain.ErrInstanceNotFound), errors.Is(err, domain.ErrUserNotFound):
		status = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, domain.ErrPortRangeExhausted), errors.Is(err, domain.ErrDuplicatePort):
		status = http.StatusServiceUnavailable
		msg = err.Error()
	case errors.Is(err, domain.ErrDuplicateUser):
		status = http.StatusConflict
		msg = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: fallback, Message: msg})
}

// writeJSON writes a success payload.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
