// Package ledger owns every mutation of account balances. Funds move between
// available and reserved only through the operations below; callers compose
// them inside a single store transaction so a partial application can never
// be observed.
package ledger

import (
	"context"
	"fmt"
	"time"

	"lv-margin/internal/model"
	"lv-margin/internal/store"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	store store.Store
	log   *zap.Logger
}

func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log}
}

// Reserve moves amount from available to reserved.
func (s *Service) Reserve(ctx context.Context, tx store.Tx, accountID, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("reserve amount must be positive: %w", types.ErrInvalidState)
	}
	b, err := tx.BalanceForUpdate(ctx, accountID, asset)
	if err != nil {
		return err
	}
	if b.Available.LessThan(amount) {
		return fmt.Errorf("reserve %s %s for %s: %w", amount, asset, accountID, types.ErrInsufficientFunds)
	}
	b.Available = b.Available.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
	return tx.PutBalance(ctx, b)
}

// Release returns amount from reserved to available. Reserved going
// negative means a caller double-released; that is an invariant break,
// not a user error.
func (s *Service) Release(ctx context.Context, tx store.Tx, accountID, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("release amount must be positive: %w", types.ErrInvalidState)
	}
	b, err := tx.BalanceForUpdate(ctx, accountID, asset)
	if err != nil {
		return err
	}
	if b.Reserved.LessThan(amount) {
		s.log.Error("release exceeds reserved",
			zap.String("account_id", accountID),
			zap.String("asset", asset),
			zap.String("amount", amount.String()),
			zap.String("reserved", b.Reserved.String()))
		return fmt.Errorf("release %s %s for %s: %w", amount, asset, accountID, types.ErrInvariantViolation)
	}
	b.Reserved = b.Reserved.Sub(amount)
	b.Available = b.Available.Add(amount)
	return tx.PutBalance(ctx, b)
}

// Settle consumes amount out of reserved permanently, funding an opened
// position's margin.
func (s *Service) Settle(ctx context.Context, tx store.Tx, accountID, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("settle amount must be positive: %w", types.ErrInvalidState)
	}
	b, err := tx.BalanceForUpdate(ctx, accountID, asset)
	if err != nil {
		return err
	}
	if b.Reserved.LessThan(amount) {
		s.log.Error("settle exceeds reserved",
			zap.String("account_id", accountID),
			zap.String("asset", asset),
			zap.String("amount", amount.String()),
			zap.String("reserved", b.Reserved.String()))
		return fmt.Errorf("settle %s %s for %s: %w", amount, asset, accountID, types.ErrInvariantViolation)
	}
	b.Reserved = b.Reserved.Sub(amount)
	return tx.PutBalance(ctx, b)
}

// Credit adds amount to available (close proceeds, deposits). Zero is a
// no-op so a fully absorbed loss does not touch the balance row.
func (s *Service) Credit(ctx context.Context, tx store.Tx, accountID, asset string, amount decimal.Decimal) error {
	if amount.LessThan(decimal.Zero) {
		return fmt.Errorf("credit amount must not be negative: %w", types.ErrInvalidState)
	}
	if amount.IsZero() {
		return nil
	}
	b, err := tx.BalanceForUpdate(ctx, accountID, asset)
	if err != nil {
		return err
	}
	b.Available = b.Available.Add(amount)
	return tx.PutBalance(ctx, b)
}

// Deposit credits an account's available balance in its own transaction.
func (s *Service) Deposit(ctx context.Context, accountID, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("deposit amount must be positive: %w", types.ErrInvalidState)
	}
	return s.store.WithinTx(ctx, func(tx store.Tx) error {
		return s.Credit(ctx, tx, accountID, asset, amount)
	})
}

// Withdraw debits available only. Reserved margin and bonus are never
// withdrawable.
func (s *Service) Withdraw(ctx context.Context, accountID, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("withdraw amount must be positive: %w", types.ErrInvalidState)
	}
	return s.store.WithinTx(ctx, func(tx store.Tx) error {
		b, err := tx.BalanceForUpdate(ctx, accountID, asset)
		if err != nil {
			return err
		}
		if b.Available.LessThan(amount) {
			return fmt.Errorf("withdraw %s %s for %s: %w", amount, asset, accountID, types.ErrInsufficientFunds)
		}
		b.Available = b.Available.Sub(amount)
		return tx.PutBalance(ctx, b)
	})
}

func (s *Service) Balances(ctx context.Context, accountID string) ([]model.Balance, error) {
	return s.store.Balances(ctx, accountID)
}

func (s *Service) ActiveBonus(ctx context.Context, accountID string) (*model.BonusGrant, error) {
	return s.store.ActiveBonus(ctx, accountID)
}

func now() time.Time {
	return time.Now().UTC()
}
