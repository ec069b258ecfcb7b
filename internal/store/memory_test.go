package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lv-margin/internal/model"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func insertOrder(t *testing.T, m *Memory, status types.OrderStatus) string {
	t.Helper()
	var id string
	err := m.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		id, err = tx.InsertOrder(context.Background(), model.LimitOrder{
			AccountID:   "acct",
			Symbol:      "BTC-USDT",
			Side:        types.SideLong,
			Qty:         d("1"),
			TargetPrice: d("100"),
			Leverage:    10,
			Margin:      d("10"),
			Status:      status,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func insertPosition(t *testing.T, m *Memory, status types.PositionStatus) string {
	t.Helper()
	var id string
	err := m.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		id, err = tx.InsertPosition(context.Background(), model.Position{
			AccountID:     "acct",
			Symbol:        "BTC-USDT",
			Side:          types.SideLong,
			Qty:           d("1"),
			EntryPrice:    d("100"),
			Leverage:      10,
			Margin:        d("10"),
			Status:        status,
			BonusConsumed: decimal.Zero,
			OpenedAt:      time.Now().UTC(),
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestClaimOrderIsExclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := insertOrder(t, m, types.OrderStatusPending)

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.ClaimOrder(ctx, id, types.OrderStatusPending, types.OrderStatusClaimed)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	o, err := m.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusClaimed, o.Status)
}

func TestClaimOrderWrongStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := insertOrder(t, m, types.OrderStatusCancelled)

	ok, err := m.ClaimOrder(ctx, id, types.OrderStatusPending, types.OrderStatusClaimed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimOrderUnknownID(t *testing.T) {
	m := NewMemory()
	_, err := m.ClaimOrder(context.Background(), "nope", types.OrderStatusPending, types.OrderStatusClaimed)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestClaimPositionIsExclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := insertPosition(t, m, types.PositionStatusOpen)

	ok, err := m.ClaimPosition(ctx, id, types.PositionStatusOpen, types.PositionStatusClosing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.ClaimPosition(ctx, id, types.PositionStatusOpen, types.PositionStatusClosing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithinTxRollsBackAllWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(tx Tx) error {
		if err := tx.PutBalance(ctx, model.Balance{
			AccountID: "acct", Asset: "USDT", Available: d("100"), Reserved: decimal.Zero,
		}); err != nil {
			return err
		}
		if _, err := tx.InsertOrder(ctx, model.LimitOrder{
			AccountID: "acct", Symbol: "BTC-USDT", Side: types.SideLong,
			Qty: d("1"), TargetPrice: d("100"), Leverage: 10, Margin: d("10"),
			Status: types.OrderStatusPending, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	balances, err := m.Balances(ctx, "acct")
	require.NoError(t, err)
	assert.Empty(t, balances)
	pending, err := m.ListPendingOrdersBySymbol(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSetPositionClosedComparesStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := insertPosition(t, m, types.PositionStatusOpen)

	price := d("95")
	pnl := d("-5")
	returned := d("5")
	now := time.Now().UTC()

	err := m.WithinTx(ctx, func(tx Tx) error {
		p, err := tx.GetPositionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		p.Status = types.PositionStatusClosed
		p.ClosePrice = &price
		p.RealizedPnL = &pnl
		p.ReturnedAmount = &returned
		p.ClosedAt = &now
		// Position is open, not closing: the compare must fail.
		ok, err := tx.SetPositionClosed(ctx, p, types.PositionStatusClosing)
		if err != nil {
			return err
		}
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	got, err := m.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusOpen, got.Status)
}

func TestBalanceForUpdateDefaultsToZero(t *testing.T) {
	m := NewMemory()
	err := m.WithinTx(context.Background(), func(tx Tx) error {
		b, err := tx.BalanceForUpdate(context.Background(), "acct", "USDT")
		if err != nil {
			return err
		}
		assert.True(t, b.Available.IsZero())
		assert.True(t, b.Reserved.IsZero())
		return nil
	})
	require.NoError(t, err)
}
