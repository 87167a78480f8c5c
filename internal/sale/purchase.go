package sale

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/metrics"
	"github.com/atmx/lootbox-sale/internal/model"
)

// Payment is how a purchase was settled: PaidByBalance or PaidByVesting.
type Payment interface {
	// Path names the settlement path for logs and metrics.
	Path() string
	// Amount is the price charged.
	Amount() decimal.Decimal
	event() model.EventKind
}

// PaidByBalance is an immediate pull of the price from the buyer's token
// balance into custody.
type PaidByBalance struct {
	Price   decimal.Decimal `json:"price"`
	Custody model.Address   `json:"custody"`
}

func (p PaidByBalance) Path() string            { return "balance" }
func (p PaidByBalance) Amount() decimal.Decimal { return p.Price }
func (p PaidByBalance) event() model.EventKind  { return model.EventPurchasedWithBalance }

// PaidByVesting is a debt recorded against the buyer's vested allocation.
type PaidByVesting struct {
	Price   decimal.Decimal `json:"price"`
	Claimed decimal.Decimal `json:"claimed"`
	Vested  decimal.Decimal `json:"vested"`
}

func (p PaidByVesting) Path() string            { return "vesting" }
func (p PaidByVesting) Amount() decimal.Decimal { return p.Price }
func (p PaidByVesting) event() model.EventKind  { return model.EventPurchasedWithVesting }

// Receipt is the result of a committed purchase.
type Receipt struct {
	Order    model.SellOrder `json:"order"`
	Payment  Payment         `json:"payment"`
	Holdings uint64          `json:"holdings"`
}

// BuyItem sells one bundle of an order to the calling account.
func (s *Service) BuyItem(ctx context.Context, orderID uint64) (Receipt, error) {
	var r Receipt
	err := s.atomically(ctx, "buy_item", func(ctx context.Context, u *unit) error {
		buyer, ok := auth.ActorFrom(ctx)
		if !ok {
			return auth.ErrNoActor
		}
		o, err := s.loadOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Remaining() < o.SellUnit {
			return fmt.Errorf("%w: order %d has %d left, unit %d",
				ErrSellLimitExceeded, orderID, o.Remaining(), o.SellUnit)
		}
		if o.Status != model.StatusActive {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidOrderStatus, orderID, o.Status)
		}

		o.SoldAmount += o.SellUnit
		if o.SoldAmount == o.ListedAmount {
			o.Status = model.StatusSoldOut
		}
		o.UpdatedAt = s.now()
		if err := s.store.UpdateOrder(ctx, o); err != nil {
			return err
		}

		held, err := s.credit(ctx, buyer, orderID)
		if err != nil {
			return err
		}

		// Settlement is the last step; only a failed commit can reverse it.
		pay, err := s.settle(ctx, u, buyer, o.Price)
		if err != nil {
			return err
		}

		e := s.newEvent(pay.event())
		e.OrderID = orderRef(orderID)
		e.Account = buyer
		e.SellUnit = o.SellUnit
		e.Price = o.Price
		u.emit(e)

		r = Receipt{Order: *o, Payment: pay, Holdings: held}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	metrics.PurchasesTotal.WithLabelValues(r.Payment.Path()).Inc()
	metrics.BundlesSold.Add(float64(r.Order.SellUnit))
	s.log.Info("bundle purchased",
		"order", orderID,
		"path", r.Payment.Path(),
		"price", r.Payment.Amount().String(),
		"sold", r.Order.SoldAmount,
		"status", r.Order.Status,
	)
	return r, nil
}

// settle picks the payment path from the buyer's token balance and charges
// price on it.
func (s *Service) settle(ctx context.Context, u *unit, buyer model.Address, price decimal.Decimal) (Payment, error) {
	balance, err := s.token.BalanceOf(ctx, buyer)
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %w", ErrCollaborator, buyer, err)
	}
	if balance.GreaterThanOrEqual(price) {
		return s.payFromBalance(ctx, u, buyer, price)
	}
	return s.payFromVesting(ctx, u, buyer, price)
}

func (s *Service) payFromBalance(ctx context.Context, u *unit, buyer model.Address, price decimal.Decimal) (Payment, error) {
	allowance, err := s.token.Allowance(ctx, buyer, s.custody)
	if err != nil {
		return nil, fmt.Errorf("%w: allowance of %s: %w", ErrCollaborator, buyer, err)
	}
	if allowance.LessThan(price) {
		return nil, fmt.Errorf("%w: %s approved %s, price %s", ErrAllowance, buyer, allowance, price)
	}
	if err := s.token.TransferFrom(ctx, s.custody, buyer, s.custody, price); err != nil {
		return nil, fmt.Errorf("%w: pull %s from %s: %w", ErrTransferFailed, price, buyer, err)
	}
	u.onAbort("refund buyer", func(ctx context.Context) error {
		return s.token.Refund(ctx, s.custody, buyer, price)
	})
	return PaidByBalance{Price: price, Custody: s.custody}, nil
}

func (s *Service) payFromVesting(ctx context.Context, u *unit, buyer model.Address, price decimal.Decimal) (Payment, error) {
	stats, err := s.vesting.Stats(ctx, buyer)
	if err != nil {
		return nil, fmt.Errorf("%w: vesting stats of %s: %w", ErrCollaborator, buyer, err)
	}
	if stats.Claimed.Add(price).GreaterThan(stats.Vested) {
		return nil, fmt.Errorf("%w: %s claimed %s of %s vested, price %s",
			ErrInsufficientVestedBalance, buyer, stats.Claimed, stats.Vested, price)
	}
	if err := s.vesting.RecordDebt(ctx, buyer, price); err != nil {
		return nil, fmt.Errorf("%w: %s for %s: %w", ErrDebtRecordFailed, price, buyer, err)
	}
	u.onAbort("clear vesting debt", func(ctx context.Context) error {
		return s.vesting.ClearDebt(ctx, buyer, price)
	})
	return PaidByVesting{Price: price, Claimed: stats.Claimed, Vested: stats.Vested}, nil
}
