// Package engine drives order execution and liquidation off the price feed.
// Every tick runs a match pass over pending orders and a liquidation pass
// over open positions for that symbol. Claims make both passes safe to run
// from multiple engine instances at once.
package engine

import (
	"context"
	"errors"

	"lv-margin/internal/marketdata"
	"lv-margin/internal/metrics"
	"lv-margin/internal/orders"
	"lv-margin/internal/positions"
	"lv-margin/internal/store"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Coordinator struct {
	store     store.Store
	orders    *orders.Service
	positions *positions.Manager
	bus       *marketdata.Bus
	log       *zap.Logger
}

func New(st store.Store, os *orders.Service, pm *positions.Manager, bus *marketdata.Bus, log *zap.Logger) *Coordinator {
	return &Coordinator{store: st, orders: os, positions: pm, bus: bus, log: log}
}

// Run consumes price events until ctx is cancelled. Ticks for one symbol
// are processed in arrival order.
func (c *Coordinator) Run(ctx context.Context) {
	ch := c.bus.Subscribe()
	defer c.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type != marketdata.EventPrice {
				continue
			}
			tick, ok := evt.Data.(marketdata.PriceTick)
			if !ok {
				continue
			}
			c.OnTick(ctx, tick)
		}
	}
}

// OnTick runs one match-and-liquidate pass for the tick's symbol.
func (c *Coordinator) OnTick(ctx context.Context, tick marketdata.PriceTick) {
	if tick.Symbol == "" || tick.Price.LessThanOrEqual(decimal.Zero) {
		metrics.InvalidTicks.Inc()
		return
	}
	c.matchOrders(ctx, tick)
	c.checkLiquidations(ctx, tick)
}

func (c *Coordinator) matchOrders(ctx context.Context, tick marketdata.PriceTick) {
	pending, err := c.store.ListPendingOrdersBySymbol(ctx, tick.Symbol)
	if err != nil {
		c.log.Warn("listing pending orders failed",
			zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}
	for _, o := range pending {
		if !orders.MatchTest(o.Side, o.TargetPrice, tick.Price) {
			continue
		}
		claimed, err := c.store.ClaimOrder(ctx, o.ID, types.OrderStatusPending, types.OrderStatusClaimed)
		if err != nil {
			c.log.Warn("order claim failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if !claimed {
			// Another engine instance or a cancel got there first.
			metrics.ClaimConflicts.Inc()
			continue
		}
		if _, err := c.orders.Execute(ctx, o.ID); err != nil {
			c.log.Warn("order execution failed",
				zap.String("order_id", o.ID),
				zap.String("price", tick.Price.String()),
				zap.Error(err))
		}
	}
}

func (c *Coordinator) checkLiquidations(ctx context.Context, tick marketdata.PriceTick) {
	open, err := c.store.ListOpenPositionsBySymbol(ctx, tick.Symbol)
	if err != nil {
		c.log.Warn("listing open positions failed",
			zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}
	for _, p := range open {
		if !positions.ShouldLiquidate(p.Side, p.EntryPrice, tick.Price, p.Leverage) {
			continue
		}
		if _, err := c.positions.Liquidate(ctx, p, tick.Price); err != nil {
			// Losing the closing claim to a concurrent user close is fine.
			if errors.Is(err, types.ErrInvalidState) {
				continue
			}
			c.log.Warn("liquidation failed",
				zap.String("position_id", p.ID),
				zap.String("price", tick.Price.String()),
				zap.Error(err))
		}
	}
}
