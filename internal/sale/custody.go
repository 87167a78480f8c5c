package sale

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/model"
)

// Withdrawal reports a committed transfer out of custody.
type Withdrawal struct {
	Amount   decimal.Decimal `json:"amount"`
	Treasury model.Address   `json:"treasury"`
}

// Withdraw moves amount of the payment token from custody to the treasury.
// Admin only.
func (s *Service) Withdraw(ctx context.Context, amount decimal.Decimal) (Withdrawal, error) {
	var w Withdrawal
	err := s.atomically(ctx, "withdraw", func(ctx context.Context, u *unit) error {
		if _, err := auth.Require(ctx, s.access, auth.RoleAdmin); err != nil {
			return err
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: %s", ErrZeroAmount, amount)
		}
		held, err := s.token.BalanceOf(ctx, s.custody)
		if err != nil {
			return fmt.Errorf("%w: custody balance: %w", ErrCollaborator, err)
		}
		if held.LessThan(amount) {
			return fmt.Errorf("%w: holding %s, requested %s", ErrInsufficientCustodyBalance, held, amount)
		}
		treasury, err := s.treasury.Treasury(ctx)
		if err != nil {
			return fmt.Errorf("%w: treasury address: %w", ErrCollaborator, err)
		}
		if treasury == "" {
			return fmt.Errorf("%w: treasury address is empty", ErrInvalidAccount)
		}

		if err := s.token.Transfer(ctx, s.custody, treasury, amount); err != nil {
			return fmt.Errorf("%w: %s to %s: %w", ErrTransferFailed, amount, treasury, err)
		}
		u.onAbort("return withdrawal", func(ctx context.Context) error {
			return s.token.Transfer(ctx, treasury, s.custody, amount)
		})

		e := s.newEvent(model.EventWithdrawn)
		e.Amount = amount
		e.Account = treasury
		u.emit(e)
		w = Withdrawal{Amount: amount, Treasury: treasury}
		return nil
	})
	if err != nil {
		return Withdrawal{}, err
	}

	s.log.Info("custody withdrawn", "amount", w.Amount.String(), "treasury", w.Treasury)
	return w, nil
}
