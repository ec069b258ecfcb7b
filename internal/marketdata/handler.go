package marketdata

import (
	"net/http"
	"strings"

	"lv-margin/internal/httputil"
)

type Handler struct {
	quotes *Quotes
}

func NewHandler(quotes *Quotes) *Handler {
	return &Handler{quotes: quotes}
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	quote, ok := h.quotes.Get(symbol)
	if !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "no quote for symbol"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}
