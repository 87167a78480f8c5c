package sale

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/capacity"
	"github.com/atmx/lootbox-sale/internal/metrics"
	"github.com/atmx/lootbox-sale/internal/model"
)

// SellParams are the admin-supplied terms of an order.
type SellParams struct {
	Price        decimal.Decimal `json:"price"`
	SellUnit     uint64          `json:"sell_unit"`
	ListedAmount uint64          `json:"listed_amount"`
}

// validateSellParams applies the rule shared by create and edit.
func validateSellParams(p SellParams) error {
	switch {
	case p.ListedAmount == 0:
		return fmt.Errorf("%w: listed amount must be positive", ErrInvalidSellParameters)
	case p.SellUnit == 0:
		return fmt.Errorf("%w: sell unit must be positive", ErrInvalidSellParameters)
	case p.ListedAmount < p.SellUnit:
		return fmt.Errorf("%w: listed amount %d is below sell unit %d",
			ErrInvalidSellParameters, p.ListedAmount, p.SellUnit)
	case p.ListedAmount%p.SellUnit != 0:
		return fmt.Errorf("%w: listed amount %d is not a multiple of sell unit %d",
			ErrInvalidSellParameters, p.ListedAmount, p.SellUnit)
	}
	return nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	return nil
}

// SetCapacity replaces the global issuance ceiling. Admin only.
func (s *Service) SetCapacity(ctx context.Context, newCapacity uint64) (model.CapacityState, error) {
	var result model.CapacityState
	err := s.atomically(ctx, "set_capacity", func(ctx context.Context, u *unit) error {
		if _, err := auth.Require(ctx, s.access, auth.RoleAdmin); err != nil {
			return err
		}
		st, err := s.store.GetCapacity(ctx)
		if err != nil {
			return err
		}
		acc := capacity.FromState(st)
		if err := acc.SetCapacity(newCapacity); err != nil {
			return err
		}
		if err := s.store.SaveCapacity(ctx, acc.State()); err != nil {
			return err
		}

		e := s.newEvent(model.EventCapacityUpdated)
		e.Capacity = newCapacity
		u.emit(e)
		result = acc.State()
		return nil
	})
	if err != nil {
		return model.CapacityState{}, err
	}

	observeCapacity(result)
	s.log.Info("capacity updated", "capacity", result.Capacity, "issued", result.TotalIssued)
	return result, nil
}

// CreateSell lists a new order. Admin only.
func (s *Service) CreateSell(ctx context.Context, p SellParams) (model.SellOrder, error) {
	var (
		order model.SellOrder
		st    model.CapacityState
	)
	err := s.atomically(ctx, "create_sell", func(ctx context.Context, u *unit) error {
		if _, err := auth.Require(ctx, s.access, auth.RoleAdmin); err != nil {
			return err
		}
		if err := validateSellParams(p); err != nil {
			return err
		}
		if err := validatePrice(p.Price); err != nil {
			return err
		}

		id, err := s.store.NextOrderID(ctx)
		if err != nil {
			return err
		}

		cur, err := s.store.GetCapacity(ctx)
		if err != nil {
			return err
		}
		acc := capacity.FromState(cur)
		if err := acc.Reserve(p.ListedAmount); err != nil {
			return err
		}

		now := s.now()
		order = model.SellOrder{
			ID:           id,
			Price:        p.Price,
			SellUnit:     p.SellUnit,
			ListedAmount: p.ListedAmount,
			Status:       model.StatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.store.CreateOrder(ctx, &order); err != nil {
			return err
		}
		if err := s.store.SaveCapacity(ctx, acc.State()); err != nil {
			return err
		}

		e := s.newEvent(model.EventSellCreated)
		e.OrderID = orderRef(id)
		e.Price = p.Price
		e.SellUnit = p.SellUnit
		e.ListedAmount = p.ListedAmount
		u.emit(e)
		st = acc.State()
		return nil
	})
	if err != nil {
		return model.SellOrder{}, err
	}

	observeCapacity(st)
	s.log.Info("sell created",
		"order", order.ID,
		"price", order.Price.String(),
		"sell_unit", order.SellUnit,
		"listed", order.ListedAmount,
	)
	return order, nil
}

// EditSell overwrites the terms of an order that has not sold out and
// returns it to Active. Admin only.
func (s *Service) EditSell(ctx context.Context, id uint64, p SellParams) (model.SellOrder, error) {
	var (
		order model.SellOrder
		st    model.CapacityState
	)
	err := s.atomically(ctx, "edit_sell", func(ctx context.Context, u *unit) error {
		if _, err := auth.Require(ctx, s.access, auth.RoleAdmin); err != nil {
			return err
		}
		o, err := s.loadOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == model.StatusSoldOut {
			return fmt.Errorf("%w: %d", ErrOrderSoldOut, id)
		}
		if err := validateSellParams(p); err != nil {
			return err
		}
		if err := validatePrice(p.Price); err != nil {
			return err
		}
		if o.SoldAmount%p.SellUnit != 0 {
			return fmt.Errorf("%w: sold amount %d is not a multiple of sell unit %d",
				ErrInvalidSellParameters, o.SoldAmount, p.SellUnit)
		}
		if p.ListedAmount < o.SoldAmount || p.ListedAmount-o.SoldAmount < p.SellUnit {
			return fmt.Errorf("%w: listed %d, sold %d, sell unit %d",
				ErrInsufficientRemainder, p.ListedAmount, o.SoldAmount, p.SellUnit)
		}

		cur, err := s.store.GetCapacity(ctx)
		if err != nil {
			return err
		}
		acc := capacity.FromState(cur)
		if err := acc.Replace(o.ListedAmount, p.ListedAmount); err != nil {
			return err
		}

		o.Price = p.Price
		o.SellUnit = p.SellUnit
		o.ListedAmount = p.ListedAmount
		o.Status = model.StatusActive
		o.UpdatedAt = s.now()
		if err := s.store.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := s.store.SaveCapacity(ctx, acc.State()); err != nil {
			return err
		}

		e := s.newEvent(model.EventSellUpdated)
		e.OrderID = orderRef(id)
		e.Price = p.Price
		e.SellUnit = p.SellUnit
		e.ListedAmount = p.ListedAmount
		u.emit(e)
		order = *o
		st = acc.State()
		return nil
	})
	if err != nil {
		return model.SellOrder{}, err
	}

	observeCapacity(st)
	s.log.Info("sell updated",
		"order", order.ID,
		"price", order.Price.String(),
		"sell_unit", order.SellUnit,
		"listed", order.ListedAmount,
		"sold", order.SoldAmount,
	)
	return order, nil
}

// CancelSell stops an active order. Capacity it reserved stays reserved.
// Admin only.
func (s *Service) CancelSell(ctx context.Context, id uint64) (model.SellOrder, error) {
	var order model.SellOrder
	err := s.atomically(ctx, "cancel_sell", func(ctx context.Context, u *unit) error {
		if _, err := auth.Require(ctx, s.access, auth.RoleAdmin); err != nil {
			return err
		}
		o, err := s.loadOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != model.StatusActive {
			return fmt.Errorf("%w: %d is %s", ErrNotCancelable, id, o.Status)
		}

		o.Status = model.StatusCanceled
		o.UpdatedAt = s.now()
		if err := s.store.UpdateOrder(ctx, o); err != nil {
			return err
		}

		e := s.newEvent(model.EventSellCanceled)
		e.OrderID = orderRef(id)
		u.emit(e)
		order = *o
		return nil
	})
	if err != nil {
		return model.SellOrder{}, err
	}

	s.log.Info("sell canceled", "order", id)
	return order, nil
}

func observeCapacity(st model.CapacityState) {
	metrics.Capacity.Set(float64(st.Capacity))
	metrics.TotalIssued.Set(float64(st.TotalIssued))
}
