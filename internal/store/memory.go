package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/lootbox-sale/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A transaction records only what it writes in an overlay that reads
// consult first; commit folds the overlay into the committed state and
// appends its events. Callers must serialize transactions themselves.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint64
	orders   map[uint64]model.SellOrder
	capacity model.CapacityState
	holdings map[holdingKey]uint64
	events   []model.Event
}

type holdingKey struct {
	account model.Address
	orderID uint64
}

// memTx is the write overlay of one transaction.
type memTx struct {
	nextID   *uint64
	orders   map[uint64]model.SellOrder
	capacity *model.CapacityState
	holdings map[holdingKey]uint64
	events   []model.Event
}

type memTxKey struct{}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[uint64]model.SellOrder),
		holdings: make(map[holdingKey]uint64),
	}
}

func txOf(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txOf(ctx) != nil {
		return fn(ctx)
	}

	tx := &memTx{
		orders:   make(map[uint64]model.SellOrder),
		holdings: make(map[holdingKey]uint64),
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.nextID != nil {
		s.nextID = *tx.nextID
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	if tx.capacity != nil {
		s.capacity = *tx.capacity
	}
	for k, n := range tx.holdings {
		s.setHolding(k, n)
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *MemoryStore) setHolding(k holdingKey, n uint64) {
	if n == 0 {
		delete(s.holdings, k)
		return
	}
	s.holdings[k] = n
}

// The helpers below read through the overlay of tx, which may be nil.
// Callers hold s.mu.

func (s *MemoryStore) nextOrderID(tx *memTx) uint64 {
	if tx != nil && tx.nextID != nil {
		return *tx.nextID
	}
	return s.nextID
}

func (s *MemoryStore) order(tx *memTx, id uint64) (model.SellOrder, bool) {
	if tx != nil {
		if o, ok := tx.orders[id]; ok {
			return o, true
		}
	}
	o, ok := s.orders[id]
	return o, ok
}

func (s *MemoryStore) holding(tx *memTx, k holdingKey) uint64 {
	if tx != nil {
		if n, ok := tx.holdings[k]; ok {
			return n
		}
	}
	return s.holdings[k]
}

func (s *MemoryStore) NextOrderID(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOrderID(txOf(ctx)), nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *model.SellOrder) error {
	tx := txOf(ctx)
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	} else {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	if _, exists := s.order(tx, o.ID); exists {
		return fmt.Errorf("order %d already exists", o.ID)
	}
	next := s.nextOrderID(tx)
	if o.ID >= next {
		next = o.ID + 1
	}
	if tx != nil {
		tx.orders[o.ID] = *o
		tx.nextID = &next
		return nil
	}
	s.orders[o.ID] = *o
	s.nextID = next
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id uint64) (*model.SellOrder, error) {
	s.mu.RLock()
	o, ok := s.order(txOf(ctx), id)
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return &o, nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, o *model.SellOrder) error {
	tx := txOf(ctx)
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	} else {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	if _, ok := s.order(tx, o.ID); !ok {
		return fmt.Errorf("order %d: %w", o.ID, ErrNotFound)
	}
	if tx != nil {
		tx.orders[o.ID] = *o
		return nil
	}
	s.orders[o.ID] = *o
	return nil
}

func (s *MemoryStore) ListOrders(ctx context.Context) ([]model.SellOrder, error) {
	tx := txOf(ctx)
	s.mu.RLock()
	orders := make([]model.SellOrder, 0, len(s.orders))
	for id, o := range s.orders {
		if tx != nil {
			if staged, ok := tx.orders[id]; ok {
				o = staged
			}
		}
		orders = append(orders, o)
	}
	if tx != nil {
		for id, o := range tx.orders {
			if _, ok := s.orders[id]; !ok {
				orders = append(orders, o)
			}
		}
	}
	s.mu.RUnlock()
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (s *MemoryStore) GetCapacity(ctx context.Context) (model.CapacityState, error) {
	if tx := txOf(ctx); tx != nil && tx.capacity != nil {
		return *tx.capacity, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity, nil
}

func (s *MemoryStore) SaveCapacity(ctx context.Context, c model.CapacityState) error {
	if tx := txOf(ctx); tx != nil {
		tx.capacity = &c
		return nil
	}
	s.mu.Lock()
	s.capacity = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetHolding(ctx context.Context, account model.Address, orderID uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holding(txOf(ctx), holdingKey{account, orderID}), nil
}

func (s *MemoryStore) SetHolding(ctx context.Context, account model.Address, orderID uint64, count uint64) error {
	key := holdingKey{account, orderID}
	if tx := txOf(ctx); tx != nil {
		tx.holdings[key] = count
		return nil
	}
	s.mu.Lock()
	s.setHolding(key, count)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListHoldings(ctx context.Context, account model.Address) ([]model.Holding, error) {
	tx := txOf(ctx)
	counts := make(map[uint64]uint64)
	s.mu.RLock()
	for k, n := range s.holdings {
		if k.account == account {
			counts[k.orderID] = n
		}
	}
	s.mu.RUnlock()
	if tx != nil {
		for k, n := range tx.holdings {
			if k.account == account {
				counts[k.orderID] = n
			}
		}
	}

	var result []model.Holding
	for orderID, n := range counts {
		if n > 0 {
			result = append(result, model.Holding{Account: account, OrderID: orderID, Count: n})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OrderID < result[j].OrderID })
	return result, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e *model.Event) error {
	if tx := txOf(ctx); tx != nil {
		tx.events = append(tx.events, *e)
		return nil
	}
	s.mu.Lock()
	s.events = append(s.events, *e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListEventsByOrder(ctx context.Context, orderID uint64) ([]model.Event, error) {
	var result []model.Event
	match := func(events []model.Event) {
		for _, e := range events {
			if e.OrderID != nil && *e.OrderID == orderID {
				result = append(result, e)
			}
		}
	}
	s.mu.RLock()
	match(s.events)
	s.mu.RUnlock()
	if tx := txOf(ctx); tx != nil {
		match(tx.events)
	}
	return result, nil
}
