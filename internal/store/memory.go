package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lv-margin/internal/model"
	"lv-margin/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is a mutex-guarded implementation with the same transactional
// semantics as Postgres. Used by tests and local development.
type Memory struct {
	mu        chanLock
	balances  map[string]model.Balance // accountID + "/" + asset
	grants    map[string]model.BonusGrant
	usages    []model.BonusUsage
	positions map[string]model.Position
	orders    map[string]model.LimitOrder
}

// chanLock is a channel-based mutex so WithinTx can respect ctx cancellation
// while waiting for the lock.
type chanLock chan struct{}

func (l chanLock) lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l chanLock) unlock() { <-l }

func NewMemory() *Memory {
	return &Memory{
		mu:        make(chanLock, 1),
		balances:  make(map[string]model.Balance),
		grants:    make(map[string]model.BonusGrant),
		positions: make(map[string]model.Position),
		orders:    make(map[string]model.LimitOrder),
	}
}

func balanceKey(accountID, asset string) string { return accountID + "/" + asset }

// WithinTx serializes all writers and rolls the full state back when fn
// fails, matching the all-or-nothing guarantee of the Postgres transaction.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := m.mu.lock(ctx); err != nil {
		return err
	}
	defer m.mu.unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	balances  map[string]model.Balance
	grants    map[string]model.BonusGrant
	usages    []model.BonusUsage
	positions map[string]model.Position
	orders    map[string]model.LimitOrder
}

func (m *Memory) snapshot() memSnapshot {
	s := memSnapshot{
		balances:  make(map[string]model.Balance, len(m.balances)),
		grants:    make(map[string]model.BonusGrant, len(m.grants)),
		usages:    append([]model.BonusUsage(nil), m.usages...),
		positions: make(map[string]model.Position, len(m.positions)),
		orders:    make(map[string]model.LimitOrder, len(m.orders)),
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.grants {
		s.grants[k] = v
	}
	for k, v := range m.positions {
		s.positions[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = v
	}
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.balances = s.balances
	m.grants = s.grants
	m.usages = s.usages
	m.positions = s.positions
	m.orders = s.orders
}

func (m *Memory) ClaimOrder(ctx context.Context, orderID string, from, to types.OrderStatus) (bool, error) {
	if err := m.mu.lock(ctx); err != nil {
		return false, err
	}
	defer m.mu.unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = o
	return true, nil
}

func (m *Memory) ClaimPosition(ctx context.Context, positionID string, from, to types.PositionStatus) (bool, error) {
	if err := m.mu.lock(ctx); err != nil {
		return false, err
	}
	defer m.mu.unlock()

	p, ok := m.positions[positionID]
	if !ok {
		return false, fmt.Errorf("position %s: %w", positionID, types.ErrNotFound)
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	m.positions[positionID] = p
	return true, nil
}

func (m *Memory) GetPosition(ctx context.Context, positionID string) (model.Position, error) {
	if err := m.mu.lock(ctx); err != nil {
		return model.Position{}, err
	}
	defer m.mu.unlock()

	p, ok := m.positions[positionID]
	if !ok {
		return model.Position{}, fmt.Errorf("position %s: %w", positionID, types.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) ListOpenPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	return m.listPositions(ctx, func(p model.Position) bool {
		return p.AccountID == accountID &&
			(p.Status == types.PositionStatusOpen || p.Status == types.PositionStatusClosing)
	}, 0)
}

func (m *Memory) ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.Position, error) {
	return m.listPositions(ctx, func(p model.Position) bool {
		return p.Symbol == symbol && p.Status == types.PositionStatusOpen
	}, 0)
}

func (m *Memory) ListClosedPositions(ctx context.Context, accountID string, limit int) ([]model.Position, error) {
	return m.listPositions(ctx, func(p model.Position) bool {
		return p.AccountID == accountID && p.Status == types.PositionStatusClosed
	}, clampLimit(limit))
}

func (m *Memory) listPositions(ctx context.Context, keep func(model.Position) bool, limit int) ([]model.Position, error) {
	if err := m.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer m.mu.unlock()

	var out []model.Position
	for _, p := range m.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetOrder(ctx context.Context, orderID string) (model.LimitOrder, error) {
	if err := m.mu.lock(ctx); err != nil {
		return model.LimitOrder{}, err
	}
	defer m.mu.unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return model.LimitOrder{}, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	return o, nil
}

func (m *Memory) ListPendingOrders(ctx context.Context, accountID, symbol string) ([]model.LimitOrder, error) {
	return m.listOrders(ctx, func(o model.LimitOrder) bool {
		return o.AccountID == accountID &&
			(o.Status == types.OrderStatusPending || o.Status == types.OrderStatusClaimed) &&
			(symbol == "" || o.Symbol == symbol)
	}, 0)
}

func (m *Memory) ListPendingOrdersBySymbol(ctx context.Context, symbol string) ([]model.LimitOrder, error) {
	return m.listOrders(ctx, func(o model.LimitOrder) bool {
		return o.Symbol == symbol && o.Status == types.OrderStatusPending
	}, 0)
}

func (m *Memory) ListOrderHistory(ctx context.Context, accountID string, limit int) ([]model.LimitOrder, error) {
	return m.listOrders(ctx, func(o model.LimitOrder) bool {
		return o.AccountID == accountID && o.Status != types.OrderStatusPending && o.Status != types.OrderStatusClaimed
	}, clampLimit(limit))
}

func (m *Memory) listOrders(ctx context.Context, keep func(model.LimitOrder) bool, limit int) ([]model.LimitOrder, error) {
	if err := m.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer m.mu.unlock()

	var out []model.LimitOrder
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Balances(ctx context.Context, accountID string) ([]model.Balance, error) {
	if err := m.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer m.mu.unlock()

	var out []model.Balance
	for _, b := range m.balances {
		if b.AccountID == accountID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (m *Memory) ActiveBonus(ctx context.Context, accountID string) (*model.BonusGrant, error) {
	if err := m.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer m.mu.unlock()
	return m.activeBonusLocked(accountID), nil
}

func (m *Memory) activeBonusLocked(accountID string) *model.BonusGrant {
	var best *model.BonusGrant
	now := time.Now().UTC()
	for id := range m.grants {
		g := m.grants[id]
		if g.AccountID != accountID || !g.Usable(now) {
			continue
		}
		if best == nil || g.CreatedAt.After(best.CreatedAt) {
			cp := g
			best = &cp
		}
	}
	return best
}

// memTx operates on live state; Memory.WithinTx restores the snapshot on
// failure. Tx methods run with the store lock already held.
type memTx struct {
	m *Memory
}

func (t *memTx) BalanceForUpdate(ctx context.Context, accountID, asset string) (model.Balance, error) {
	b, ok := t.m.balances[balanceKey(accountID, asset)]
	if !ok {
		return model.Balance{
			AccountID: accountID,
			Asset:     asset,
			Available: decimal.Zero,
			Reserved:  decimal.Zero,
		}, nil
	}
	return b, nil
}

func (t *memTx) PutBalance(ctx context.Context, b model.Balance) error {
	t.m.balances[balanceKey(b.AccountID, b.Asset)] = b
	return nil
}

func (t *memTx) ActiveBonusForUpdate(ctx context.Context, accountID string) (*model.BonusGrant, error) {
	return t.m.activeBonusLocked(accountID), nil
}

func (t *memTx) InsertBonusGrant(ctx context.Context, g model.BonusGrant) (string, error) {
	g.ID = uuid.New().String()
	t.m.grants[g.ID] = g
	return g.ID, nil
}

func (t *memTx) SetBonusAmount(ctx context.Context, grantID string, amount decimal.Decimal) error {
	g, ok := t.m.grants[grantID]
	if !ok {
		return fmt.Errorf("bonus grant %s: %w", grantID, types.ErrNotFound)
	}
	g.Amount = amount
	t.m.grants[grantID] = g
	return nil
}

func (t *memTx) InsertBonusUsage(ctx context.Context, u model.BonusUsage) error {
	u.ID = uuid.New().String()
	t.m.usages = append(t.m.usages, u)
	return nil
}

func (t *memTx) InsertPosition(ctx context.Context, p model.Position) (string, error) {
	p.ID = uuid.New().String()
	t.m.positions[p.ID] = p
	return p.ID, nil
}

func (t *memTx) GetPositionForUpdate(ctx context.Context, positionID string) (model.Position, error) {
	p, ok := t.m.positions[positionID]
	if !ok {
		return model.Position{}, fmt.Errorf("position %s: %w", positionID, types.ErrNotFound)
	}
	return p, nil
}

func (t *memTx) SetPositionClosed(ctx context.Context, p model.Position, from types.PositionStatus) (bool, error) {
	cur, ok := t.m.positions[p.ID]
	if !ok {
		return false, fmt.Errorf("position %s: %w", p.ID, types.ErrNotFound)
	}
	if cur.Status != from {
		return false, nil
	}
	t.m.positions[p.ID] = p
	return true, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o model.LimitOrder) (string, error) {
	o.ID = uuid.New().String()
	t.m.orders[o.ID] = o
	return o.ID, nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, orderID string) (model.LimitOrder, error) {
	o, ok := t.m.orders[orderID]
	if !ok {
		return model.LimitOrder{}, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	return o, nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, orderID string, from, to types.OrderStatus) (bool, error) {
	o, ok := t.m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	t.m.orders[orderID] = o
	return true, nil
}

func (t *memTx) SetOrderTargetPrice(ctx context.Context, orderID string, price decimal.Decimal, from types.OrderStatus) (bool, error) {
	o, ok := t.m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	if o.Status != from {
		return false, nil
	}
	o.TargetPrice = price
	o.UpdatedAt = time.Now().UTC()
	t.m.orders[orderID] = o
	return true, nil
}

var (
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)
