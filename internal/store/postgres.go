package store

import (
	"context"
	"errors"
	"time"

	"lv-margin/internal/db"
	"lv-margin/internal/model"
	"lv-margin/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	positionCols = "id, account_id, symbol, side, qty, entry_price, leverage, margin, status, bonus_consumed, close_price, realized_pnl, returned_amount, opened_at, closed_at"
	orderCols    = "id, account_id, symbol, side, qty, target_price, leverage, margin, status, created_at, updated_at"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return db.Classify(err)
	}
	defer tx.Rollback(ctx)
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return db.Classify(err)
	}
	return nil
}

func (s *Postgres) ClaimOrder(ctx context.Context, orderID string, from, to types.OrderStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, "update limit_orders set status = $1, updated_at = $2 where id = $3 and status = $4", string(to), time.Now().UTC(), orderID, string(from))
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) ClaimPosition(ctx context.Context, positionID string, from, to types.PositionStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, "update positions set status = $1 where id = $2 and status = $3", string(to), positionID, string(from))
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) GetPosition(ctx context.Context, positionID string) (model.Position, error) {
	row := s.pool.QueryRow(ctx, "select "+positionCols+" from positions where id = $1", positionID)
	return scanPosition(row)
}

func (s *Postgres) ListOpenPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, "select "+positionCols+" from positions where account_id = $1 and status in ('open','closing') order by opened_at desc", accountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	return scanPositions(rows)
}

func (s *Postgres) ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, "select "+positionCols+" from positions where symbol = $1 and status = 'open' order by opened_at asc", symbol)
	if err != nil {
		return nil, db.Classify(err)
	}
	return scanPositions(rows)
}

func (s *Postgres) ListClosedPositions(ctx context.Context, accountID string, limit int) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, "select "+positionCols+" from positions where account_id = $1 and status = 'closed' order by closed_at desc limit $2", accountID, clampLimit(limit))
	if err != nil {
		return nil, db.Classify(err)
	}
	return scanPositions(rows)
}

func (s *Postgres) GetOrder(ctx context.Context, orderID string) (model.LimitOrder, error) {
	row := s.pool.QueryRow(ctx, "select "+orderCols+" from limit_orders where id = $1", orderID)
	return scanOrder(row)
}

func (s *Postgres) ListPendingOrders(ctx context.Context, accountID, symbol string) ([]model.LimitOrder, error) {
	rows, err := s.pool.Query(ctx, "select "+orderCols+" from limit_orders where account_id = $1 and ($2 = '' or symbol = $2) and status in ('pending','claimed') order by created_at desc", accountID, symbol)
	if err != nil {
		return nil, db.Classify(err)
	}
	return scanOrders(rows)
}

func (s *Postgres) ListPendingOrdersBySymbol(ctx context.Context, symbol string) ([]model.LimitOrder, error) {
	rows, err := s.pool.Query(ctx, "select "+orderCols+" from limit_orders where symbol = $1 and status = 'pending' order by created_at asc", symbol)
	if err != nil {
		return nil, db.Classify(err)
	}
	return scanOrders(rows)
}

func (s *Postgres) ListOrderHistory(ctx context.Context, accountID string, limit int) ([]model.LimitOrder, error) {
	rows, err := s.pool.Query(ctx, "select "+orderCols+" from limit_orders where account_id = $1 and status in ('executed','cancelled') order by updated_at desc limit $2", accountID, clampLimit(limit))
	if err != nil {
		return nil, db.Classify(err)
	}
	return scanOrders(rows)
}

func (s *Postgres) Balances(ctx context.Context, accountID string) ([]model.Balance, error) {
	rows, err := s.pool.Query(ctx, "select account_id, asset, available, reserved from balances where account_id = $1 order by asset", accountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []model.Balance
	for rows.Next() {
		var b model.Balance
		if err := rows.Scan(&b.AccountID, &b.Asset, &b.Available, &b.Reserved); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, b)
	}
	return out, db.Classify(rows.Err())
}

func (s *Postgres) ActiveBonus(ctx context.Context, accountID string) (*model.BonusGrant, error) {
	row := s.pool.QueryRow(ctx, "select id, account_id, amount, currency, active, expires_at, created_at from bonus_grants where account_id = $1 and active and expires_at > now() order by created_at desc limit 1", accountID)
	g, err := scanBonus(row)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) BalanceForUpdate(ctx context.Context, accountID, asset string) (model.Balance, error) {
	b := model.Balance{AccountID: accountID, Asset: asset, Available: decimal.Zero, Reserved: decimal.Zero}
	err := t.tx.QueryRow(ctx, "select available, reserved from balances where account_id = $1 and asset = $2 for update", accountID, asset).Scan(&b.Available, &b.Reserved)
	if err != nil {
		if err == pgx.ErrNoRows {
			return b, nil
		}
		return b, db.Classify(err)
	}
	return b, nil
}

func (t *pgTx) PutBalance(ctx context.Context, b model.Balance) error {
	_, err := t.tx.Exec(ctx, "insert into balances (account_id, asset, available, reserved) values ($1,$2,$3,$4) on conflict (account_id, asset) do update set available = excluded.available, reserved = excluded.reserved", b.AccountID, b.Asset, b.Available, b.Reserved)
	return db.Classify(err)
}

func (t *pgTx) ActiveBonusForUpdate(ctx context.Context, accountID string) (*model.BonusGrant, error) {
	row := t.tx.QueryRow(ctx, "select id, account_id, amount, currency, active, expires_at, created_at from bonus_grants where account_id = $1 and active and expires_at > now() order by created_at desc limit 1 for update", accountID)
	g, err := scanBonus(row)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (t *pgTx) InsertBonusGrant(ctx context.Context, g model.BonusGrant) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, "insert into bonus_grants (account_id, amount, currency, active, expires_at, created_at) values ($1,$2,$3,$4,$5,$6) returning id", g.AccountID, g.Amount, g.Currency, g.Active, g.ExpiresAt, g.CreatedAt).Scan(&id)
	return id, db.Classify(err)
}

func (t *pgTx) SetBonusAmount(ctx context.Context, grantID string, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, "update bonus_grants set amount = $1 where id = $2", amount, grantID)
	return db.Classify(err)
}

func (t *pgTx) InsertBonusUsage(ctx context.Context, u model.BonusUsage) error {
	_, err := t.tx.Exec(ctx, "insert into bonus_usages (grant_id, position_id, amount, used_at) values ($1,$2,$3,$4)", u.GrantID, u.PositionID, u.Amount, u.UsedAt)
	return db.Classify(err)
}

func (t *pgTx) InsertPosition(ctx context.Context, p model.Position) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, "insert into positions (account_id, symbol, side, qty, entry_price, leverage, margin, status, bonus_consumed, opened_at) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) returning id",
		p.AccountID, p.Symbol, string(p.Side), p.Qty, p.EntryPrice, p.Leverage, p.Margin, string(p.Status), p.BonusConsumed, p.OpenedAt).Scan(&id)
	return id, db.Classify(err)
}

func (t *pgTx) GetPositionForUpdate(ctx context.Context, positionID string) (model.Position, error) {
	row := t.tx.QueryRow(ctx, "select "+positionCols+" from positions where id = $1 for update", positionID)
	return scanPosition(row)
}

func (t *pgTx) SetPositionClosed(ctx context.Context, p model.Position, from types.PositionStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, "update positions set status = 'closed', close_price = $1, realized_pnl = $2, returned_amount = $3, bonus_consumed = $4, closed_at = $5 where id = $6 and status = $7",
		p.ClosePrice, p.RealizedPnL, p.ReturnedAmount, p.BonusConsumed, p.ClosedAt, p.ID, string(from))
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o model.LimitOrder) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, "insert into limit_orders (account_id, symbol, side, qty, target_price, leverage, margin, status, created_at, updated_at) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) returning id",
		o.AccountID, o.Symbol, string(o.Side), o.Qty, o.TargetPrice, o.Leverage, o.Margin, string(o.Status), o.CreatedAt, o.UpdatedAt).Scan(&id)
	return id, db.Classify(err)
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, orderID string) (model.LimitOrder, error) {
	row := t.tx.QueryRow(ctx, "select "+orderCols+" from limit_orders where id = $1 for update", orderID)
	return scanOrder(row)
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID string, from, to types.OrderStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, "update limit_orders set status = $1, updated_at = $2 where id = $3 and status = $4", string(to), time.Now().UTC(), orderID, string(from))
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) SetOrderTargetPrice(ctx context.Context, orderID string, price decimal.Decimal, from types.OrderStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, "update limit_orders set target_price = $1, updated_at = $2 where id = $3 and status = $4", price, time.Now().UTC(), orderID, string(from))
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (model.Position, error) {
	var p model.Position
	var side, status string
	err := row.Scan(&p.ID, &p.AccountID, &p.Symbol, &side, &p.Qty, &p.EntryPrice, &p.Leverage, &p.Margin, &status, &p.BonusConsumed, &p.ClosePrice, &p.RealizedPnL, &p.ReturnedAmount, &p.OpenedAt, &p.ClosedAt)
	if err != nil {
		return p, db.Classify(err)
	}
	p.Side = types.Side(side)
	p.Status = types.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, db.Classify(rows.Err())
}

func scanOrder(row rowScanner) (model.LimitOrder, error) {
	var o model.LimitOrder
	var side, status string
	err := row.Scan(&o.ID, &o.AccountID, &o.Symbol, &side, &o.Qty, &o.TargetPrice, &o.Leverage, &o.Margin, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, db.Classify(err)
	}
	o.Side = types.Side(side)
	o.Status = types.OrderStatus(status)
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]model.LimitOrder, error) {
	defer rows.Close()
	var out []model.LimitOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, db.Classify(rows.Err())
}

func scanBonus(row rowScanner) (model.BonusGrant, error) {
	var g model.BonusGrant
	err := row.Scan(&g.ID, &g.AccountID, &g.Amount, &g.Currency, &g.Active, &g.ExpiresAt, &g.CreatedAt)
	if err != nil {
		return g, db.Classify(err)
	}
	return g, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
