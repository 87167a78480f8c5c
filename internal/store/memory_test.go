package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/lootbox-sale/internal/model"
)

func seedOrder(t *testing.T, s *MemoryStore, ctx context.Context, id uint64) {
	t.Helper()
	err := s.CreateOrder(ctx, &model.SellOrder{
		ID:           id,
		Price:        decimal.NewFromInt(10),
		SellUnit:     2,
		ListedAmount: 20,
		Status:       model.StatusActive,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
}

func TestMemoryStore_OrderIDsAreDense(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for want := uint64(0); want < 3; want++ {
		id, err := s.NextOrderID(ctx)
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		if id != want {
			t.Fatalf("expected next id %d, got %d", want, id)
		}
		seedOrder(t, s, ctx, id)
	}

	orders, _ := s.ListOrders(ctx)
	if len(orders) != 3 || orders[0].ID != 0 || orders[2].ID != 2 {
		t.Errorf("expected orders 0..2 in order, got %+v", orders)
	}
}

func TestMemoryStore_GetOrderNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetOrder(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReadsReturnCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedOrder(t, s, ctx, 0)

	o, _ := s.GetOrder(ctx, 0)
	o.SoldAmount = 20

	again, _ := s.GetOrder(ctx, 0)
	if again.SoldAmount != 0 {
		t.Errorf("mutating a returned order must not change the store, got sold=%d", again.SoldAmount)
	}
}

func TestMemoryStore_TxCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(txCtx context.Context) error {
		seedOrder(t, s, txCtx, 0)
		if err := s.SetHolding(txCtx, "buyer", 0, 1); err != nil {
			return err
		}

		// Staged writes are visible inside the transaction only.
		if n, _ := s.GetHolding(txCtx, "buyer", 0); n != 1 {
			t.Errorf("expected staged holding=1, got %d", n)
		}
		if n, _ := s.GetHolding(ctx, "buyer", 0); n != 0 {
			t.Errorf("expected committed holding=0 before commit, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	if n, _ := s.GetHolding(ctx, "buyer", 0); n != 1 {
		t.Errorf("expected holding=1 after commit, got %d", n)
	}
	if id, _ := s.NextOrderID(ctx); id != 1 {
		t.Errorf("expected next id 1 after commit, got %d", id)
	}
}

func TestMemoryStore_TxRollback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedOrder(t, s, ctx, 0)
	if err := s.SaveCapacity(ctx, model.CapacityState{Capacity: 100, TotalIssued: 20}); err != nil {
		t.Fatalf("save capacity: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(txCtx context.Context) error {
		o, _ := s.GetOrder(txCtx, 0)
		o.SoldAmount = 2
		if err := s.UpdateOrder(txCtx, o); err != nil {
			return err
		}
		if err := s.SaveCapacity(txCtx, model.CapacityState{Capacity: 100, TotalIssued: 60}); err != nil {
			return err
		}
		if err := s.SetHolding(txCtx, "buyer", 0, 1); err != nil {
			return err
		}
		orderID := uint64(0)
		if err := s.AppendEvent(txCtx, &model.Event{ID: "e1", Kind: model.EventSellUpdated, OrderID: &orderID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	o, _ := s.GetOrder(ctx, 0)
	if o.SoldAmount != 0 {
		t.Errorf("rolled back order must keep sold=0, got %d", o.SoldAmount)
	}
	c, _ := s.GetCapacity(ctx)
	if c.TotalIssued != 20 {
		t.Errorf("rolled back capacity must keep issued=20, got %d", c.TotalIssued)
	}
	if n, _ := s.GetHolding(ctx, "buyer", 0); n != 0 {
		t.Errorf("rolled back holding must stay 0, got %d", n)
	}
	if events, _ := s.ListEventsByOrder(ctx, 0); len(events) != 0 {
		t.Errorf("rolled back events must be discarded, got %d", len(events))
	}
}

func TestMemoryStore_Holdings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.SetHolding(ctx, "alice", 2, 3)
	_ = s.SetHolding(ctx, "alice", 0, 1)
	_ = s.SetHolding(ctx, "bob", 0, 5)
	_ = s.SetHolding(ctx, "alice", 1, 0)

	holdings, err := s.ListHoldings(ctx, "alice")
	if err != nil {
		t.Fatalf("list holdings: %v", err)
	}
	if len(holdings) != 2 {
		t.Fatalf("expected 2 holdings for alice, got %d", len(holdings))
	}
	if holdings[0].OrderID != 0 || holdings[1].OrderID != 2 || holdings[1].Count != 3 {
		t.Errorf("unexpected holdings: %+v", holdings)
	}
}

func TestMemoryStore_EventsByOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	zero, one := uint64(0), uint64(1)
	_ = s.AppendEvent(ctx, &model.Event{ID: "a", Kind: model.EventSellCreated, OrderID: &zero})
	_ = s.AppendEvent(ctx, &model.Event{ID: "b", Kind: model.EventCapacityUpdated})
	_ = s.AppendEvent(ctx, &model.Event{ID: "c", Kind: model.EventSellCreated, OrderID: &one})
	_ = s.AppendEvent(ctx, &model.Event{ID: "d", Kind: model.EventSellCanceled, OrderID: &zero})

	events, _ := s.ListEventsByOrder(ctx, 0)
	if len(events) != 2 || events[0].ID != "a" || events[1].ID != "d" {
		t.Errorf("expected events a,d for order 0, got %+v", events)
	}
}

func TestMemoryStore_TxReadsMergeStagedWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedOrder(t, s, ctx, 0)
	_ = s.SetHolding(ctx, "alice", 0, 2)
	zero := uint64(0)
	_ = s.AppendEvent(ctx, &model.Event{ID: "a", Kind: model.EventSellCreated, OrderID: &zero})

	err := s.WithTx(ctx, func(txCtx context.Context) error {
		seedOrder(t, s, txCtx, 1)
		o, _ := s.GetOrder(txCtx, 0)
		o.SoldAmount = 4
		if err := s.UpdateOrder(txCtx, o); err != nil {
			return err
		}
		if err := s.SetHolding(txCtx, "alice", 0, 0); err != nil {
			return err
		}
		if err := s.SetHolding(txCtx, "alice", 1, 1); err != nil {
			return err
		}
		if err := s.AppendEvent(txCtx, &model.Event{ID: "b", Kind: model.EventSellUpdated, OrderID: &zero}); err != nil {
			return err
		}

		orders, _ := s.ListOrders(txCtx)
		if len(orders) != 2 || orders[0].SoldAmount != 4 || orders[1].ID != 1 {
			t.Errorf("expected staged orders in tx, got %+v", orders)
		}
		holdings, _ := s.ListHoldings(txCtx, "alice")
		if len(holdings) != 1 || holdings[0].OrderID != 1 {
			t.Errorf("expected only order 1 held in tx, got %+v", holdings)
		}
		if events, _ := s.ListEventsByOrder(txCtx, 0); len(events) != 2 {
			t.Errorf("expected committed and staged events in tx, got %d", len(events))
		}
		if events, _ := s.ListEventsByOrder(ctx, 0); len(events) != 1 {
			t.Errorf("expected only committed events outside tx, got %d", len(events))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	events, _ := s.ListEventsByOrder(ctx, 0)
	if len(events) != 2 || events[0].ID != "a" || events[1].ID != "b" {
		t.Errorf("expected events a,b after commit, got %+v", events)
	}
	holdings, _ := s.ListHoldings(ctx, "alice")
	if len(holdings) != 1 || holdings[0].OrderID != 1 || holdings[0].Count != 1 {
		t.Errorf("unexpected holdings after commit: %+v", holdings)
	}
	if id, _ := s.NextOrderID(ctx); id != 2 {
		t.Errorf("expected next id 2 after commit, got %d", id)
	}
}
