package positions

import (
	"testing"

	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRequiredMargin(t *testing.T) {
	assert.True(t, d("10").Equal(RequiredMargin(d("1"), d("100"), 10)))
	assert.True(t, d("10").Equal(RequiredMargin(d("4"), d("100"), 40)))
	assert.True(t, d("50").Equal(RequiredMargin(d("0.5"), d("100"), 1)))
}

func TestValidLeverage(t *testing.T) {
	assert.False(t, ValidLeverage(0))
	assert.True(t, ValidLeverage(1))
	assert.True(t, ValidLeverage(40))
	assert.False(t, ValidLeverage(41))
	assert.False(t, ValidLeverage(-5))
}

func TestRealizedPnL(t *testing.T) {
	tests := []struct {
		name     string
		side     types.Side
		entry    string
		close    string
		margin   string
		leverage int
		want     string
	}{
		{"long profit", types.SideLong, "100", "110", "10", 10, "10"},
		{"long loss", types.SideLong, "100", "95", "10", 40, "-20"},
		{"short profit", types.SideShort, "100", "90", "10", 10, "10"},
		{"short loss", types.SideShort, "100", "110", "10", 10, "-10"},
		{"flat", types.SideLong, "100", "100", "10", 10, "0"},
		{"rounded once", types.SideLong, "3", "4", "10", 3, "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RealizedPnL(tt.side, d(tt.entry), d(tt.close), d(tt.margin), tt.leverage)
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestRealizedPnLRounding(t *testing.T) {
	// (101.333-100)/100 * 3 * 10 = 0.39999 -> 0.4 after the single rounding.
	got := RealizedPnL(types.SideLong, d("100"), d("101.333"), d("10"), 3)
	assert.True(t, d("0.4").Equal(got), "got %s", got)
}

func TestLiquidationPrice(t *testing.T) {
	// Long 10x: entry * (1 - 0.8/10) = entry * 0.92.
	assert.True(t, d("92").Equal(LiquidationPrice(types.SideLong, d("100"), 10)))
	// Short 10x: entry * 1.08.
	assert.True(t, d("108").Equal(LiquidationPrice(types.SideShort, d("100"), 10)))
	// Long 1x: entry * 0.2.
	assert.True(t, d("20").Equal(LiquidationPrice(types.SideLong, d("100"), 1)))
	// Long 40x: entry * 0.98.
	assert.True(t, d("98").Equal(LiquidationPrice(types.SideLong, d("100"), 40)))
}

func TestShouldLiquidate(t *testing.T) {
	assert.False(t, ShouldLiquidate(types.SideLong, d("100"), d("92.01"), 10))
	assert.True(t, ShouldLiquidate(types.SideLong, d("100"), d("92"), 10))
	assert.True(t, ShouldLiquidate(types.SideLong, d("100"), d("50"), 10))
	assert.False(t, ShouldLiquidate(types.SideShort, d("100"), d("107.99"), 10))
	assert.True(t, ShouldLiquidate(types.SideShort, d("100"), d("108"), 10))
}
