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

// GrantBonus issues a liquidation-protection grant. The grant is usable for
// absorbing close losses only, never withdrawable.
func (s *Service) GrantBonus(ctx context.Context, accountID string, amount decimal.Decimal, currency string, ttl time.Duration) (model.BonusGrant, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return model.BonusGrant{}, fmt.Errorf("bonus amount must be positive: %w", types.ErrInvalidState)
	}
	if ttl <= 0 {
		return model.BonusGrant{}, fmt.Errorf("bonus ttl must be positive: %w", types.ErrInvalidState)
	}
	g := model.BonusGrant{
		AccountID: accountID,
		Amount:    amount,
		Currency:  currency,
		Active:    true,
		ExpiresAt: now().Add(ttl),
		CreatedAt: now(),
	}
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		id, err := tx.InsertBonusGrant(ctx, g)
		if err != nil {
			return err
		}
		g.ID = id
		return nil
	})
	if err != nil {
		return model.BonusGrant{}, err
	}
	s.log.Info("bonus granted",
		zap.String("account_id", accountID),
		zap.String("grant_id", g.ID),
		zap.String("amount", amount.String()))
	return g, nil
}

// ConsumeBonus decrements the account's active grant by up to `want` and
// records the usage against positionID. Returns the amount actually
// consumed, which is min(want, grant balance). Fails with BonusUnavailable
// when there is no usable grant; this is the only path by which a loss
// exceeding margin is ever absorbed.
func (s *Service) ConsumeBonus(ctx context.Context, tx store.Tx, accountID, positionID string, want decimal.Decimal) (decimal.Decimal, error) {
	if want.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("bonus consumption must be positive: %w", types.ErrInvalidState)
	}
	grant, err := tx.ActiveBonusForUpdate(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if grant == nil || !grant.Usable(now()) || grant.Amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("account %s: %w", accountID, types.ErrBonusUnavailable)
	}
	consumed := want
	if grant.Amount.LessThan(consumed) {
		consumed = grant.Amount
	}
	if err := tx.SetBonusAmount(ctx, grant.ID, grant.Amount.Sub(consumed)); err != nil {
		return decimal.Zero, err
	}
	usage := model.BonusUsage{
		GrantID:    grant.ID,
		PositionID: positionID,
		Amount:     consumed,
		UsedAt:     now(),
	}
	if err := tx.InsertBonusUsage(ctx, usage); err != nil {
		return decimal.Zero, err
	}
	return consumed, nil
}
