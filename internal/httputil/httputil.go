// Package httputil holds the JSON request/response helpers shared by all
// handlers, including the mapping from domain errors to HTTP statuses.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"lv-margin/internal/types"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

// WriteError maps the shared error taxonomy onto HTTP statuses. Unknown
// errors become opaque 500s so internals never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, types.ErrInvalidState):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrInsufficientFunds):
		WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "insufficient funds"})
	case errors.Is(err, types.ErrBonusUnavailable):
		WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "bonus unavailable"})
	case errors.Is(err, types.ErrUpstreamUnavailable):
		WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable"})
	default:
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
