package ledger

import (
	"net/http"
	"time"

	"lv-margin/internal/httputil"

	"github.com/shopspring/decimal"
)

const defaultBonusTTL = 30 * 24 * time.Hour

type Handler struct {
	svc   *Service
	asset string
}

func NewHandler(svc *Service, asset string) *Handler {
	return &Handler{svc: svc, asset: asset}
}

func (h *Handler) Balances(w http.ResponseWriter, r *http.Request, userID string) {
	balances, err := h.svc.Balances(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balances)
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request, userID string) {
	amount, ok := readAmount(w, r)
	if !ok {
		return
	}
	if err := h.svc.Deposit(r.Context(), userID, h.asset, amount); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.Balances(w, r, userID)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request, userID string) {
	amount, ok := readAmount(w, r)
	if !ok {
		return
	}
	if err := h.svc.Withdraw(r.Context(), userID, h.asset, amount); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.Balances(w, r, userID)
}

func (h *Handler) Bonus(w http.ResponseWriter, r *http.Request, userID string) {
	grant, err := h.svc.ActiveBonus(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if grant == nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "no active bonus"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grant)
}

type grantBonusRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	TTLHours  int    `json:"ttl_hours"`
}

// GrantBonus is reachable only through the internal-token guard.
func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	var req grantBonusRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.AccountID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "account_id is required"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	ttl := defaultBonusTTL
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}
	grant, err := h.svc.GrantBonus(r.Context(), req.AccountID, amount, h.asset, ttl)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, grant)
}

func readAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req amountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return decimal.Decimal{}, false
	}
	return amount, true
}
