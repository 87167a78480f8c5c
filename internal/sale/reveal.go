package sale

import (
	"context"
	"fmt"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/metrics"
	"github.com/atmx/lootbox-sale/internal/model"
)

// RevealInput redeems one bundle of a single-item order.
type RevealInput struct {
	OrderID    uint64        `json:"order_id"`
	Collection model.Address `json:"collection"`
	ItemID     uint64        `json:"item_id"`
	Buyer      model.Address `json:"buyer"`
}

// BatchRevealInput redeems one bundle of a multi-item order. Collections and
// ItemIDs pair up by index and must both have the order's sell unit length.
type BatchRevealInput struct {
	OrderID     uint64          `json:"order_id"`
	Collections []model.Address `json:"collections"`
	ItemIDs     []uint64        `json:"item_ids"`
	Buyer       model.Address   `json:"buyer"`
}

// Reveal reports what a committed reveal minted.
type Reveal struct {
	OrderID   uint64              `json:"order_id"`
	Buyer     model.Address       `json:"buyer"`
	Minted    []model.MintRequest `json:"minted"`
	Remaining uint64              `json:"remaining"`
}

// RevealOne converts one held bundle of a single-item order into a minted
// item. Automation only.
func (s *Service) RevealOne(ctx context.Context, in RevealInput) (Reveal, error) {
	var out Reveal
	err := s.atomically(ctx, "reveal_one", func(ctx context.Context, u *unit) error {
		if _, err := auth.Require(ctx, s.access, auth.RoleAutomation); err != nil {
			return err
		}
		if in.Buyer == "" {
			return fmt.Errorf("%w: buyer is required", ErrInvalidAccount)
		}
		o, err := s.loadOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if o.SellUnit != 1 {
			return fmt.Errorf("%w: order %d sells %d per bundle", ErrNotSingleUnitOrder, in.OrderID, o.SellUnit)
		}
		if _, err := s.requireHolding(ctx, in.Buyer, in.OrderID); err != nil {
			return err
		}
		if err := s.requireActive(ctx, in.Collection); err != nil {
			return err
		}

		left, err := s.debit(ctx, in.Buyer, in.OrderID)
		if err != nil {
			return err
		}

		e := s.newEvent(model.EventRevealed)
		e.OrderID = orderRef(in.OrderID)
		e.Collection = in.Collection
		e.ItemID = in.ItemID
		e.Account = in.Buyer
		u.emit(e)

		req := s.mintRequest(in.Collection, in.ItemID, in.Buyer)
		if err := s.mint(ctx, u, req); err != nil {
			return err
		}

		out = Reveal{OrderID: in.OrderID, Buyer: in.Buyer, Minted: []model.MintRequest{req}, Remaining: left}
		return nil
	})
	if err != nil {
		return Reveal{}, err
	}

	metrics.ItemsRevealed.WithLabelValues("single").Inc()
	s.log.Info("bundle revealed",
		"order", in.OrderID,
		"buyer", in.Buyer,
		"collection", in.Collection,
		"item", in.ItemID,
	)
	return out, nil
}

// RevealBatch converts one held bundle of a multi-item order into one minted
// item per (collection, item) pair. Every collection is checked before any
// mint is requested. Automation only.
func (s *Service) RevealBatch(ctx context.Context, in BatchRevealInput) (Reveal, error) {
	var out Reveal
	err := s.atomically(ctx, "reveal_batch", func(ctx context.Context, u *unit) error {
		if _, err := auth.Require(ctx, s.access, auth.RoleAutomation); err != nil {
			return err
		}
		if in.Buyer == "" {
			return fmt.Errorf("%w: buyer is required", ErrInvalidAccount)
		}
		o, err := s.loadOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if uint64(len(in.Collections)) != o.SellUnit || len(in.Collections) != len(in.ItemIDs) {
			return fmt.Errorf("%w: %d collections and %d items for sell unit %d",
				ErrInvalidBatchInput, len(in.Collections), len(in.ItemIDs), o.SellUnit)
		}
		if o.SellUnit <= 1 {
			return fmt.Errorf("%w: order %d sells %d per bundle", ErrNotMultiUnitOrder, in.OrderID, o.SellUnit)
		}
		if _, err := s.requireHolding(ctx, in.Buyer, in.OrderID); err != nil {
			return err
		}
		for i, c := range in.Collections {
			if err := s.requireActive(ctx, c); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}

		minted := make([]model.MintRequest, 0, len(in.Collections))
		for i, c := range in.Collections {
			e := s.newEvent(model.EventBatchRevealed)
			e.OrderID = orderRef(in.OrderID)
			e.Collection = c
			e.ItemID = in.ItemIDs[i]
			e.Account = in.Buyer
			u.emit(e)

			req := s.mintRequest(c, in.ItemIDs[i], in.Buyer)
			if err := s.mint(ctx, u, req); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			minted = append(minted, req)
		}

		left, err := s.debit(ctx, in.Buyer, in.OrderID)
		if err != nil {
			return err
		}

		out = Reveal{OrderID: in.OrderID, Buyer: in.Buyer, Minted: minted, Remaining: left}
		return nil
	})
	if err != nil {
		return Reveal{}, err
	}

	metrics.ItemsRevealed.WithLabelValues("batch").Add(float64(len(out.Minted)))
	s.log.Info("bundle batch revealed",
		"order", in.OrderID,
		"buyer", in.Buyer,
		"items", len(out.Minted),
	)
	return out, nil
}

func (s *Service) requireActive(ctx context.Context, collection model.Address) error {
	active, err := s.registry.IsActive(ctx, collection)
	if err != nil {
		return fmt.Errorf("%w: collection %s: %w", ErrCollaborator, collection, err)
	}
	if !active {
		return fmt.Errorf("%w: %s", ErrInactiveCollection, collection)
	}
	return nil
}

func (s *Service) mintRequest(collection model.Address, itemID uint64, to model.Address) model.MintRequest {
	return model.MintRequest{
		Collection: collection,
		ItemID:     itemID,
		To:         to,
		Amount:     1,
		Category:   s.category,
	}
}

func (s *Service) mint(ctx context.Context, u *unit, req model.MintRequest) error {
	if err := s.minter.Mint(ctx, req); err != nil {
		return fmt.Errorf("%w: item %d of %s to %s: %w", ErrMintFailed, req.ItemID, req.Collection, req.To, err)
	}
	u.onAbort("burn minted item", func(ctx context.Context) error {
		return s.minter.Burn(ctx, req)
	})
	return nil
}
