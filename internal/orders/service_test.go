package orders

import (
	"context"
	"testing"
	"time"

	"lv-margin/internal/ledger"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/positions"
	"lv-margin/internal/store"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	asset  = "USDT"
	symbol = "BTC-USDT"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	mem    *store.Memory
	ledger *ledger.Service
	quotes *marketdata.Quotes
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	mem := store.NewMemory()
	ldg := ledger.NewService(mem, log)
	quotes := marketdata.NewQuotes(nil, log)
	bus := marketdata.NewBus()
	pm := positions.NewManager(mem, ldg, quotes, bus, log, asset)
	svc := NewService(mem, ldg, pm, bus, log, asset)
	return &fixture{mem: mem, ledger: ldg, quotes: quotes, svc: svc}
}

func (f *fixture) fund(t *testing.T, account, amount string) {
	t.Helper()
	require.NoError(t, f.ledger.Deposit(context.Background(), account, asset, d(amount)))
}

func (f *fixture) balance(t *testing.T, account string) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	balances, err := f.mem.Balances(context.Background(), account)
	require.NoError(t, err)
	for _, b := range balances {
		if b.Asset == asset {
			return b.Available, b.Reserved
		}
	}
	return decimal.Zero, decimal.Zero
}

func placeParams(side types.Side, qty, target string, leverage int) PlaceParams {
	return PlaceParams{
		AccountID:   "acct",
		Symbol:      symbol,
		Side:        side,
		Qty:         d(qty),
		TargetPrice: d(target),
		Leverage:    leverage,
	}
}

func TestMatchTest(t *testing.T) {
	// Long fills at or below target.
	assert.True(t, MatchTest(types.SideLong, d("100"), d("100")))
	assert.True(t, MatchTest(types.SideLong, d("100"), d("99.5")))
	assert.False(t, MatchTest(types.SideLong, d("100"), d("100.01")))
	// Short fills at or above target.
	assert.True(t, MatchTest(types.SideShort, d("50"), d("51")))
	assert.True(t, MatchTest(types.SideShort, d("50"), d("50")))
	assert.False(t, MatchTest(types.SideShort, d("50"), d("49.99")))
}

func TestPlaceReservesMargin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "10")

	order, err := f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, order.Status)
	assert.True(t, d("10").Equal(order.Margin))

	avail, reserved := f.balance(t, "acct")
	assert.True(t, avail.IsZero())
	assert.True(t, d("10").Equal(reserved))
}

func TestPlaceInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "9.99")

	_, err := f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	avail, reserved := f.balance(t, "acct")
	assert.True(t, d("9.99").Equal(avail))
	assert.True(t, reserved.IsZero())
}

func TestCancelReleasesExactMargin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "10")

	order, err := f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, "acct", order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, cancelled.Status)

	avail, reserved := f.balance(t, "acct")
	assert.True(t, d("10").Equal(avail))
	assert.True(t, reserved.IsZero())
}

func TestDoubleCancelDoesNotMutateLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "10")

	order, err := f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "acct", order.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "acct", order.ID)
	assert.ErrorIs(t, err, types.ErrInvalidState)

	avail, reserved := f.balance(t, "acct")
	assert.True(t, d("10").Equal(avail))
	assert.True(t, reserved.IsZero())
}

func TestCancelForeignOrderIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "10")

	order, err := f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "other", order.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEditTargetPriceKeepsMargin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "10")

	order, err := f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)

	edited, err := f.svc.EditTargetPrice(ctx, "acct", order.ID, d("80"))
	require.NoError(t, err)
	assert.True(t, d("80").Equal(edited.TargetPrice))
	// Margin keeps its placement size.
	assert.True(t, d("10").Equal(edited.Margin))

	_, reserved := f.balance(t, "acct")
	assert.True(t, d("10").Equal(reserved))
}

func TestEditTargetPriceOnlyPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "10")

	order, err := f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "acct", order.ID)
	require.NoError(t, err)

	_, err = f.svc.EditTargetPrice(ctx, "acct", order.ID, d("80"))
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestExecuteSettlesIntoPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "10")

	order, err := f.svc.Place(ctx, placeParams(types.SideShort, "2", "50", 10))
	require.NoError(t, err)

	claimed, err := f.mem.ClaimOrder(ctx, order.ID, types.OrderStatusPending, types.OrderStatusClaimed)
	require.NoError(t, err)
	require.True(t, claimed)

	pos, err := f.svc.Execute(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusOpen, pos.Status)
	assert.Equal(t, types.SideShort, pos.Side)
	assert.True(t, d("50").Equal(pos.EntryPrice))
	assert.True(t, d("10").Equal(pos.Margin))

	got, err := f.mem.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusExecuted, got.Status)

	avail, reserved := f.balance(t, "acct")
	assert.True(t, avail.IsZero())
	assert.True(t, reserved.IsZero())
}

func TestExecuteRequiresClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "10")

	order, err := f.svc.Place(ctx, placeParams(types.SideShort, "2", "50", 10))
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, order.ID)
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

// flakyStore fails a configurable number of transactions to exercise the
// failure path of execution.
type flakyStore struct {
	*store.Memory
	failures int
}

func (f *flakyStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if f.failures > 0 {
		f.failures--
		return types.ErrUpstreamUnavailable
	}
	return f.Memory.WithinTx(ctx, fn)
}

func TestFailedExecuteReleasesClaim(t *testing.T) {
	log := zap.NewNop()
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem}
	ldg := ledger.NewService(mem, log)
	quotes := marketdata.NewQuotes(nil, log)
	bus := marketdata.NewBus()
	pm := positions.NewManager(mem, ldg, quotes, bus, log, asset)
	svc := NewService(flaky, ldg, pm, bus, log, asset)
	ctx := context.Background()

	require.NoError(t, ldg.Deposit(ctx, "acct", asset, d("10")))
	order, err := svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)

	claimed, err := mem.ClaimOrder(ctx, order.ID, types.OrderStatusPending, types.OrderStatusClaimed)
	require.NoError(t, err)
	require.True(t, claimed)

	flaky.failures = 1
	_, err = svc.Execute(ctx, order.ID)
	require.ErrorIs(t, err, types.ErrUpstreamUnavailable)

	// Claim released, order eligible again, margin still reserved.
	got, err := mem.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, got.Status)

	balances, err := mem.Balances(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, d("10").Equal(balances[0].Reserved))
}

// haltedTx reports zero rows from the terminal status write even though the
// caller holds the claim, the way a corrupted row would.
type haltedTx struct {
	store.Tx
}

func (haltedTx) SetOrderStatus(ctx context.Context, orderID string, from, to types.OrderStatus) (bool, error) {
	return false, nil
}

type haltedStore struct {
	*store.Memory
}

func (s *haltedStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Memory.WithinTx(ctx, func(tx store.Tx) error { return fn(haltedTx{Tx: tx}) })
}

func TestInvariantViolationHaltsOrder(t *testing.T) {
	log := zap.NewNop()
	mem := store.NewMemory()
	ldg := ledger.NewService(mem, log)
	quotes := marketdata.NewQuotes(nil, log)
	bus := marketdata.NewBus()
	pm := positions.NewManager(mem, ldg, quotes, bus, log, asset)
	ctx := context.Background()

	require.NoError(t, ldg.Deposit(ctx, "acct", asset, d("10")))
	order, err := NewService(mem, ldg, pm, bus, log, asset).Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)

	claimed, err := mem.ClaimOrder(ctx, order.ID, types.OrderStatusPending, types.OrderStatusClaimed)
	require.NoError(t, err)
	require.True(t, claimed)

	halted := NewService(&haltedStore{Memory: mem}, ldg, pm, bus, log, asset)
	_, err = halted.Execute(ctx, order.ID)
	require.ErrorIs(t, err, types.ErrInvariantViolation)

	// The claim is not released; the order stays claimed for an operator
	// instead of going back into the matching scan.
	got, err := mem.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusClaimed, got.Status)

	// The settlement rolled back with the transaction.
	balances, err := mem.Balances(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, d("10").Equal(balances[0].Reserved))
}

func TestHistoryListsTerminalOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "acct", "30")

	first, err := f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = f.svc.Place(ctx, placeParams(types.SideLong, "1", "100", 10))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "acct", first.ID)
	require.NoError(t, err)

	pending, err := f.svc.Pending(ctx, "acct", symbol)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	history, err := f.svc.History(ctx, "acct", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, first.ID, history[0].ID)
}
