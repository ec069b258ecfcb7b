// Package positions implements the leveraged position lifecycle: margin
// sizing, PnL settlement, and the open/closing/closed transitions shared by
// user closes and auto-liquidation.
package positions

import (
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
)

const (
	MinLeverage = 1
	MaxLeverage = 40
)

// liquidationThreshold is the fraction of margin a position may lose before
// it is force-closed.
var liquidationThreshold = decimal.RequireFromString("0.8")

func ValidLeverage(lev int) bool {
	return lev >= MinLeverage && lev <= MaxLeverage
}

// RequiredMargin is notional divided by leverage: qty * price / leverage.
func RequiredMargin(qty, price decimal.Decimal, leverage int) decimal.Decimal {
	return qty.Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}

// RealizedPnL computes settlement PnL for a close at closePrice. The price
// move is taken relative to entry, scaled by leverage and margin. Rounding
// to 2 decimal places happens exactly once, here.
func RealizedPnL(side types.Side, entry, closePrice, margin decimal.Decimal, leverage int) decimal.Decimal {
	move := closePrice.Sub(entry).Div(entry)
	if side == types.SideShort {
		move = move.Neg()
	}
	return move.Mul(decimal.NewFromInt(int64(leverage))).Mul(margin).Round(2)
}

// LiquidationPrice is the price at which the position has lost the threshold
// fraction of its margin. Long: entry * (1 - T/leverage). Short: entry *
// (1 + T/leverage).
func LiquidationPrice(side types.Side, entry decimal.Decimal, leverage int) decimal.Decimal {
	step := liquidationThreshold.Div(decimal.NewFromInt(int64(leverage)))
	if side == types.SideLong {
		return entry.Mul(decimal.NewFromInt(1).Sub(step))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(step))
}

// ShouldLiquidate reports whether a price sample has reached the position's
// liquidation price.
func ShouldLiquidate(side types.Side, entry, price decimal.Decimal, leverage int) bool {
	liq := LiquidationPrice(side, entry, leverage)
	if side == types.SideLong {
		return price.LessThanOrEqual(liq)
	}
	return price.GreaterThanOrEqual(liq)
}
