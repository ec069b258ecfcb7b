package positions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-margin/internal/db"
	"lv-margin/internal/ledger"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/metrics"
	"lv-margin/internal/model"
	"lv-margin/internal/store"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	CloseReasonUser        = "user"
	CloseReasonLiquidation = "liquidation"
)

type Manager struct {
	store  store.Store
	ledger *ledger.Service
	quotes *marketdata.Quotes
	bus    *marketdata.Bus
	log    *zap.Logger
	asset  string
}

func NewManager(st store.Store, ldg *ledger.Service, quotes *marketdata.Quotes, bus *marketdata.Bus, log *zap.Logger, asset string) *Manager {
	return &Manager{store: st, ledger: ldg, quotes: quotes, bus: bus, log: log, asset: asset}
}

type OpenParams struct {
	AccountID string
	Symbol    string
	Side      types.Side
	Qty       decimal.Decimal
	Leverage  int
}

func (p OpenParams) validate() error {
	if !p.Side.Valid() {
		return fmt.Errorf("side must be long or short: %w", types.ErrInvalidState)
	}
	if p.Qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("qty must be positive: %w", types.ErrInvalidState)
	}
	if !ValidLeverage(p.Leverage) {
		return fmt.Errorf("leverage must be between %d and %d: %w", MinLeverage, MaxLeverage, types.ErrInvalidState)
	}
	if p.Symbol == "" {
		return fmt.Errorf("symbol is required: %w", types.ErrInvalidState)
	}
	return nil
}

// Open opens a market position at the current quote. Margin is reserved and
// settled in one transaction so the caller either ends up with an open
// position funded by consumed margin or an untouched balance.
func (m *Manager) Open(ctx context.Context, p OpenParams) (model.Position, error) {
	if err := p.validate(); err != nil {
		return model.Position{}, err
	}
	quote, ok := m.quotes.Get(p.Symbol)
	if !ok {
		return model.Position{}, fmt.Errorf("no quote for %s: %w", p.Symbol, types.ErrUpstreamUnavailable)
	}
	margin := RequiredMargin(p.Qty, quote.Price, p.Leverage)

	pos := model.Position{
		AccountID:     p.AccountID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Qty:           p.Qty,
		EntryPrice:    quote.Price,
		Leverage:      p.Leverage,
		Margin:        margin,
		Status:        types.PositionStatusOpen,
		BonusConsumed: decimal.Zero,
		OpenedAt:      time.Now().UTC(),
	}
	err := db.Retry(ctx, func() error {
		return m.store.WithinTx(ctx, func(tx store.Tx) error {
			if err := m.ledger.Reserve(ctx, tx, p.AccountID, m.asset, margin); err != nil {
				return err
			}
			if err := m.ledger.Settle(ctx, tx, p.AccountID, m.asset, margin); err != nil {
				return err
			}
			id, err := tx.InsertPosition(ctx, pos)
			if err != nil {
				return err
			}
			pos.ID = id
			return nil
		})
	})
	if err != nil {
		return model.Position{}, err
	}

	metrics.PositionsOpened.Inc()
	m.bus.Publish(marketdata.Event{Type: marketdata.EventPositionOpened, Data: pos})
	m.log.Info("position opened",
		zap.String("position_id", pos.ID),
		zap.String("account_id", pos.AccountID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Int("leverage", pos.Leverage),
		zap.String("margin", margin.String()))
	return pos, nil
}

// OpenFromOrderTx converts an executed limit order into an open position
// inside the coordinator's transaction. The order's margin is already
// reserved, so it is only settled here.
func (m *Manager) OpenFromOrderTx(ctx context.Context, tx store.Tx, o model.LimitOrder) (model.Position, error) {
	if err := m.ledger.Settle(ctx, tx, o.AccountID, m.asset, o.Margin); err != nil {
		return model.Position{}, err
	}
	pos := model.Position{
		AccountID:     o.AccountID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Qty:           o.Qty,
		EntryPrice:    o.TargetPrice,
		Leverage:      o.Leverage,
		Margin:        o.Margin,
		Status:        types.PositionStatusOpen,
		BonusConsumed: decimal.Zero,
		OpenedAt:      time.Now().UTC(),
	}
	id, err := tx.InsertPosition(ctx, pos)
	if err != nil {
		return model.Position{}, err
	}
	pos.ID = id
	return pos, nil
}

// Close settles a position at the current quote on the owner's request.
func (m *Manager) Close(ctx context.Context, accountID, positionID string) (model.Position, error) {
	pos, err := m.store.GetPosition(ctx, positionID)
	if err != nil {
		return model.Position{}, err
	}
	if pos.AccountID != accountID {
		return model.Position{}, fmt.Errorf("position %s: %w", positionID, types.ErrNotFound)
	}
	quote, ok := m.quotes.Get(pos.Symbol)
	if !ok {
		return model.Position{}, fmt.Errorf("no quote for %s: %w", pos.Symbol, types.ErrUpstreamUnavailable)
	}
	return m.close(ctx, pos, quote.Price, CloseReasonUser)
}

// Liquidate force-closes a position at the tick price that breached its
// liquidation level. Called by the engine; losing the claim race to a user
// close is not an error.
func (m *Manager) Liquidate(ctx context.Context, pos model.Position, price decimal.Decimal) (model.Position, error) {
	return m.close(ctx, pos, price, CloseReasonLiquidation)
}

// close is the single terminal transition. The closing claim makes user
// close and liquidation mutually exclusive; whoever wins the claim settles,
// the loser gets ErrInvalidState.
func (m *Manager) close(ctx context.Context, pos model.Position, price decimal.Decimal, reason string) (model.Position, error) {
	claimed, err := m.store.ClaimPosition(ctx, pos.ID, types.PositionStatusOpen, types.PositionStatusClosing)
	if err != nil {
		return model.Position{}, err
	}
	if !claimed {
		metrics.ClaimConflicts.Inc()
		return model.Position{}, fmt.Errorf("position %s is not open: %w", pos.ID, types.ErrInvalidState)
	}

	pnl := RealizedPnL(pos.Side, pos.EntryPrice, price, pos.Margin, pos.Leverage)
	returned := pos.Margin.Add(pnl)
	bonusConsumed := decimal.Zero

	err = db.Retry(ctx, func() error {
		bonusConsumed = decimal.Zero
		return m.store.WithinTx(ctx, func(tx store.Tx) error {
			if returned.LessThan(decimal.Zero) {
				consumed, err := m.ledger.ConsumeBonus(ctx, tx, pos.AccountID, pos.ID, returned.Abs())
				if err != nil && !errors.Is(err, types.ErrBonusUnavailable) {
					return err
				}
				bonusConsumed = consumed
			}
			payout := returned
			if payout.LessThan(decimal.Zero) {
				payout = decimal.Zero
			}
			if err := m.ledger.Credit(ctx, tx, pos.AccountID, m.asset, payout); err != nil {
				return err
			}

			now := time.Now().UTC()
			closed := pos
			closed.Status = types.PositionStatusClosed
			closed.ClosePrice = &price
			closed.RealizedPnL = &pnl
			closed.ReturnedAmount = &payout
			closed.BonusConsumed = bonusConsumed
			closed.ClosedAt = &now
			ok, err := tx.SetPositionClosed(ctx, closed, types.PositionStatusClosing)
			if err != nil {
				return err
			}
			if !ok {
				// We hold the closing claim; nothing else may move it.
				return fmt.Errorf("position %s left closing while claimed: %w", pos.ID, types.ErrInvariantViolation)
			}
			pos = closed
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, types.ErrInvariantViolation) {
			// Leave the position closing. A broken invariant must not be
			// retried on the next tick; it needs an operator.
			metrics.InvariantViolations.Inc()
			m.log.Error("position halted on invariant violation",
				zap.String("position_id", pos.ID), zap.Error(err))
			return model.Position{}, err
		}
		m.releaseClaim(ctx, pos.ID)
		return model.Position{}, err
	}

	metrics.PositionsClosed.WithLabelValues(reason).Inc()
	if bonusConsumed.GreaterThan(decimal.Zero) {
		metrics.BonusConsumed.Add(bonusConsumed.InexactFloat64())
	}
	evt := marketdata.EventPositionClosed
	if reason == CloseReasonLiquidation {
		evt = marketdata.EventPositionLiquidated
	}
	m.bus.Publish(marketdata.Event{Type: evt, Data: pos})
	m.log.Info("position closed",
		zap.String("position_id", pos.ID),
		zap.String("account_id", pos.AccountID),
		zap.String("reason", reason),
		zap.String("pnl", pnl.String()),
		zap.String("bonus_consumed", bonusConsumed.String()))
	return pos, nil
}

// releaseClaim returns a position to open after a failed settlement so a
// later close attempt can claim it again.
func (m *Manager) releaseClaim(ctx context.Context, positionID string) {
	ok, err := m.store.ClaimPosition(ctx, positionID, types.PositionStatusClosing, types.PositionStatusOpen)
	if err != nil || !ok {
		metrics.InvariantViolations.Inc()
		m.log.Error("failed to release closing claim",
			zap.String("position_id", positionID), zap.Bool("reverted", ok), zap.Error(err))
	}
}

func (m *Manager) Get(ctx context.Context, accountID, positionID string) (model.Position, error) {
	pos, err := m.store.GetPosition(ctx, positionID)
	if err != nil {
		return model.Position{}, err
	}
	if pos.AccountID != accountID {
		return model.Position{}, fmt.Errorf("position %s: %w", positionID, types.ErrNotFound)
	}
	return pos, nil
}

func (m *Manager) ListOpen(ctx context.Context, accountID string) ([]model.Position, error) {
	return m.store.ListOpenPositions(ctx, accountID)
}

func (m *Manager) History(ctx context.Context, accountID string, limit int) ([]model.Position, error) {
	return m.store.ListClosedPositions(ctx, accountID, limit)
}
