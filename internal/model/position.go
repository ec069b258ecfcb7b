package model

import (
	"time"

	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID             string               `json:"id"`
	AccountID      string               `json:"account_id"`
	Symbol         string               `json:"symbol"`
	Side           types.Side           `json:"side"`
	Qty            decimal.Decimal      `json:"qty"`
	EntryPrice     decimal.Decimal      `json:"entry_price"`
	Leverage       int                  `json:"leverage"`
	Margin         decimal.Decimal      `json:"margin"`
	Status         types.PositionStatus `json:"status"`
	BonusConsumed  decimal.Decimal      `json:"bonus_consumed"`
	ClosePrice     *decimal.Decimal     `json:"close_price,omitempty"`
	RealizedPnL    *decimal.Decimal     `json:"realized_pnl,omitempty"`
	ReturnedAmount *decimal.Decimal     `json:"returned_amount,omitempty"`
	OpenedAt       time.Time            `json:"opened_at"`
	ClosedAt       *time.Time           `json:"closed_at,omitempty"`
}

type LimitOrder struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Symbol      string            `json:"symbol"`
	Side        types.Side        `json:"side"`
	Qty         decimal.Decimal   `json:"qty"`
	TargetPrice decimal.Decimal   `json:"target_price"`
	Leverage    int               `json:"leverage"`
	Margin      decimal.Decimal   `json:"margin"`
	Status      types.OrderStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
