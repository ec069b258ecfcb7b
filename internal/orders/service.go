// Package orders implements the limit-order lifecycle. An order reserves its
// margin at placement; the reservation follows the order until it is either
// released by cancellation or settled into a position by execution.
package orders

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
	"lv-margin/internal/positions"
	"lv-margin/internal/store"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	store     store.Store
	ledger    *ledger.Service
	positions *positions.Manager
	bus       *marketdata.Bus
	log       *zap.Logger
	asset     string
}

func NewService(st store.Store, ldg *ledger.Service, pm *positions.Manager, bus *marketdata.Bus, log *zap.Logger, asset string) *Service {
	return &Service{store: st, ledger: ldg, positions: pm, bus: bus, log: log, asset: asset}
}

// MatchTest reports whether a price sample fills an order at targetPrice.
// A long fills when the market reaches or drops below its target, a short
// when the market reaches or rises above it.
func MatchTest(side types.Side, targetPrice, price decimal.Decimal) bool {
	if side == types.SideLong {
		return price.LessThanOrEqual(targetPrice)
	}
	return price.GreaterThanOrEqual(targetPrice)
}

type PlaceParams struct {
	AccountID   string
	Symbol      string
	Side        types.Side
	Qty         decimal.Decimal
	TargetPrice decimal.Decimal
	Leverage    int
}

func (p PlaceParams) validate() error {
	if !p.Side.Valid() {
		return fmt.Errorf("side must be long or short: %w", types.ErrInvalidState)
	}
	if p.Qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("qty must be positive: %w", types.ErrInvalidState)
	}
	if p.TargetPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("target price must be positive: %w", types.ErrInvalidState)
	}
	if !positions.ValidLeverage(p.Leverage) {
		return fmt.Errorf("leverage must be between %d and %d: %w",
			positions.MinLeverage, positions.MaxLeverage, types.ErrInvalidState)
	}
	if p.Symbol == "" {
		return fmt.Errorf("symbol is required: %w", types.ErrInvalidState)
	}
	return nil
}

// Place reserves margin sized at the target price and records the order as
// pending in the same transaction.
func (s *Service) Place(ctx context.Context, p PlaceParams) (model.LimitOrder, error) {
	if err := p.validate(); err != nil {
		return model.LimitOrder{}, err
	}
	margin := positions.RequiredMargin(p.Qty, p.TargetPrice, p.Leverage)
	now := time.Now().UTC()
	order := model.LimitOrder{
		AccountID:   p.AccountID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Qty:         p.Qty,
		TargetPrice: p.TargetPrice,
		Leverage:    p.Leverage,
		Margin:      margin,
		Status:      types.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := db.Retry(ctx, func() error {
		return s.store.WithinTx(ctx, func(tx store.Tx) error {
			if err := s.ledger.Reserve(ctx, tx, p.AccountID, s.asset, margin); err != nil {
				return err
			}
			id, err := tx.InsertOrder(ctx, order)
			if err != nil {
				return err
			}
			order.ID = id
			return nil
		})
	})
	if err != nil {
		return model.LimitOrder{}, err
	}
	s.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("account_id", order.AccountID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("target_price", order.TargetPrice.String()),
		zap.String("margin", margin.String()))
	return order, nil
}

// Cancel releases the order's margin and marks it cancelled. The status
// compare and the release commit together, so an order that raced into
// execution keeps its margin and the caller gets ErrInvalidState with no
// ledger mutation.
func (s *Service) Cancel(ctx context.Context, accountID, orderID string) (model.LimitOrder, error) {
	var order model.LimitOrder
	err := db.Retry(ctx, func() error {
		return s.store.WithinTx(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.AccountID != accountID {
				return fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
			}
			ok, err := tx.SetOrderStatus(ctx, orderID, types.OrderStatusPending, types.OrderStatusCancelled)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("order %s is not pending: %w", orderID, types.ErrInvalidState)
			}
			if err := s.ledger.Release(ctx, tx, o.AccountID, s.asset, o.Margin); err != nil {
				return err
			}
			o.Status = types.OrderStatusCancelled
			o.UpdatedAt = time.Now().UTC()
			order = o
			return nil
		})
	})
	if err != nil {
		return model.LimitOrder{}, err
	}
	metrics.OrdersCancelled.Inc()
	s.bus.Publish(marketdata.Event{Type: marketdata.EventOrderCancelled, Data: order})
	s.log.Info("order cancelled",
		zap.String("order_id", order.ID),
		zap.String("account_id", order.AccountID),
		zap.String("released", order.Margin.String()))
	return order, nil
}

// EditTargetPrice moves a pending order's target. The reserved margin is
// deliberately left at its placement size, so the executed position's margin
// reflects the original target, not the edited one.
func (s *Service) EditTargetPrice(ctx context.Context, accountID, orderID string, price decimal.Decimal) (model.LimitOrder, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return model.LimitOrder{}, fmt.Errorf("target price must be positive: %w", types.ErrInvalidState)
	}
	var order model.LimitOrder
	err := db.Retry(ctx, func() error {
		return s.store.WithinTx(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.AccountID != accountID {
				return fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
			}
			ok, err := tx.SetOrderTargetPrice(ctx, orderID, price, types.OrderStatusPending)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("order %s is not pending: %w", orderID, types.ErrInvalidState)
			}
			o.TargetPrice = price
			o.UpdatedAt = time.Now().UTC()
			order = o
			return nil
		})
	})
	if err != nil {
		return model.LimitOrder{}, err
	}
	s.log.Info("order target updated",
		zap.String("order_id", order.ID),
		zap.String("target_price", price.String()))
	return order, nil
}

// Execute settles a claimed order into an open position. The caller must
// hold the claim (pending -> claimed); on any failure the claim is released
// so a later tick can retry the order.
func (s *Service) Execute(ctx context.Context, orderID string) (model.Position, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return model.Position{}, err
	}
	if o.Status != types.OrderStatusClaimed {
		return model.Position{}, fmt.Errorf("order %s is not claimed: %w", orderID, types.ErrInvalidState)
	}

	var pos model.Position
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		p, err := s.positions.OpenFromOrderTx(ctx, tx, o)
		if err != nil {
			return err
		}
		ok, err := tx.SetOrderStatus(ctx, orderID, types.OrderStatusClaimed, types.OrderStatusExecuted)
		if err != nil {
			return err
		}
		if !ok {
			// We hold the claim; nothing else may move it.
			return fmt.Errorf("order %s left claimed while held: %w", orderID, types.ErrInvariantViolation)
		}
		pos = p
		return nil
	})
	if err != nil {
		metrics.ExecutionFailures.Inc()
		if errors.Is(err, types.ErrInvariantViolation) {
			// Leave the order claimed. A broken invariant must not be
			// retried on the next tick; it needs an operator.
			metrics.InvariantViolations.Inc()
			s.log.Error("order halted on invariant violation",
				zap.String("order_id", orderID), zap.Error(err))
			return model.Position{}, err
		}
		s.releaseClaim(ctx, orderID)
		return model.Position{}, err
	}

	metrics.OrdersExecuted.Inc()
	metrics.PositionsOpened.Inc()
	o.Status = types.OrderStatusExecuted
	s.bus.Publish(marketdata.Event{Type: marketdata.EventOrderExecuted, Data: o})
	s.bus.Publish(marketdata.Event{Type: marketdata.EventPositionOpened, Data: pos})
	s.log.Info("order executed",
		zap.String("order_id", orderID),
		zap.String("position_id", pos.ID),
		zap.String("entry_price", pos.EntryPrice.String()))
	return pos, nil
}

// releaseClaim returns a claimed order to pending after a failed execution.
func (s *Service) releaseClaim(ctx context.Context, orderID string) {
	ok, err := s.store.ClaimOrder(ctx, orderID, types.OrderStatusClaimed, types.OrderStatusPending)
	if err != nil || !ok {
		metrics.InvariantViolations.Inc()
		s.log.Error("failed to release order claim",
			zap.String("order_id", orderID), zap.Bool("reverted", ok), zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, accountID, orderID string) (model.LimitOrder, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return model.LimitOrder{}, err
	}
	if o.AccountID != accountID {
		return model.LimitOrder{}, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	return o, nil
}

func (s *Service) Pending(ctx context.Context, accountID, symbol string) ([]model.LimitOrder, error) {
	return s.store.ListPendingOrders(ctx, accountID, symbol)
}

func (s *Service) History(ctx context.Context, accountID string, limit int) ([]model.LimitOrder, error) {
	return s.store.ListOrderHistory(ctx, accountID, limit)
}
