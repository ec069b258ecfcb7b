// Package store is the persistence layer for the margin engine. Postgres is
// the source of truth; the in-memory implementation mirrors its transactional
// semantics for tests and development.
package store

import (
	"context"

	"lv-margin/internal/model"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
)

// Store exposes read queries plus two primitives the engine's correctness
// rests on: WithinTx (all-or-nothing multi-record updates) and the Claim*
// compare-and-sets (at-most-once terminal transitions, durable on their own
// so a claim survives a crash between claim and execute).
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// ClaimOrder atomically moves an order from one status to another.
	// Returns false when the order is not in the expected status: the
	// caller lost the race and must not touch the order.
	ClaimOrder(ctx context.Context, orderID string, from, to types.OrderStatus) (bool, error)

	// ClaimPosition is the position-side equivalent, shared by user close
	// and auto-liquidation so the two are mutually exclusive.
	ClaimPosition(ctx context.Context, positionID string, from, to types.PositionStatus) (bool, error)

	GetPosition(ctx context.Context, positionID string) (model.Position, error)
	ListOpenPositions(ctx context.Context, accountID string) ([]model.Position, error)
	ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.Position, error)
	ListClosedPositions(ctx context.Context, accountID string, limit int) ([]model.Position, error)

	GetOrder(ctx context.Context, orderID string) (model.LimitOrder, error)
	ListPendingOrders(ctx context.Context, accountID, symbol string) ([]model.LimitOrder, error)
	ListPendingOrdersBySymbol(ctx context.Context, symbol string) ([]model.LimitOrder, error)
	ListOrderHistory(ctx context.Context, accountID string, limit int) ([]model.LimitOrder, error)

	Balances(ctx context.Context, accountID string) ([]model.Balance, error)
	ActiveBonus(ctx context.Context, accountID string) (*model.BonusGrant, error)
}

// Tx is the set of record operations available inside WithinTx. Every method
// either fully applies or the whole transaction rolls back.
type Tx interface {
	BalanceForUpdate(ctx context.Context, accountID, asset string) (model.Balance, error)
	PutBalance(ctx context.Context, b model.Balance) error

	ActiveBonusForUpdate(ctx context.Context, accountID string) (*model.BonusGrant, error)
	InsertBonusGrant(ctx context.Context, g model.BonusGrant) (string, error)
	SetBonusAmount(ctx context.Context, grantID string, amount decimal.Decimal) error
	InsertBonusUsage(ctx context.Context, u model.BonusUsage) error

	InsertPosition(ctx context.Context, p model.Position) (string, error)
	GetPositionForUpdate(ctx context.Context, positionID string) (model.Position, error)
	// SetPositionClosed writes the terminal fields guarded by a status
	// compare: only a position currently in `from` is updated.
	SetPositionClosed(ctx context.Context, p model.Position, from types.PositionStatus) (bool, error)

	InsertOrder(ctx context.Context, o model.LimitOrder) (string, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (model.LimitOrder, error)
	SetOrderStatus(ctx context.Context, orderID string, from, to types.OrderStatus) (bool, error)
	SetOrderTargetPrice(ctx context.Context, orderID string, price decimal.Decimal, from types.OrderStatus) (bool, error)
}
