package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Balance struct {
	AccountID string          `json:"account_id"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

// BonusGrant is the liquidation-protection sub-ledger: a capped balance
// that may only offset a loss exceeding margin, never withdrawn or traded.
type BonusGrant struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Active    bool            `json:"active"`
	ExpiresAt time.Time       `json:"expires_at"`
	CreatedAt time.Time       `json:"created_at"`
}

func (g BonusGrant) Usable(now time.Time) bool {
	return g.Active && now.Before(g.ExpiresAt)
}

type BonusUsage struct {
	ID         string          `json:"id"`
	GrantID    string          `json:"grant_id"`
	PositionID string          `json:"position_id"`
	Amount     decimal.Decimal `json:"amount"`
	UsedAt     time.Time       `json:"used_at"`
}
