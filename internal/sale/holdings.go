package sale

import (
	"context"
	"fmt"
	"math"

	"github.com/atmx/lootbox-sale/internal/model"
)

// credit adds one unrevealed bundle to account's holding of orderID.
func (s *Service) credit(ctx context.Context, account model.Address, orderID uint64) (uint64, error) {
	n, err := s.store.GetHolding(ctx, account, orderID)
	if err != nil {
		return 0, err
	}
	if n == math.MaxUint64 {
		return 0, fmt.Errorf("holding of %s in order %d overflows", account, orderID)
	}
	n++
	if err := s.store.SetHolding(ctx, account, orderID, n); err != nil {
		return 0, err
	}
	return n, nil
}

// requireHolding fails unless account holds at least one bundle of orderID.
func (s *Service) requireHolding(ctx context.Context, account model.Address, orderID uint64) (uint64, error) {
	n, err := s.store.GetHolding(ctx, account, orderID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s in order %d", ErrInsufficientHoldings, account, orderID)
	}
	return n, nil
}

// debit removes one unrevealed bundle. The count never goes below zero.
func (s *Service) debit(ctx context.Context, account model.Address, orderID uint64) (uint64, error) {
	n, err := s.requireHolding(ctx, account, orderID)
	if err != nil {
		return 0, err
	}
	n--
	if err := s.store.SetHolding(ctx, account, orderID, n); err != nil {
		return 0, err
	}
	return n, nil
}
