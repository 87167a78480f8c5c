package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/lootbox-sale/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Inside a transaction reads bypass the cache and invalidations are deferred
// until the transaction commits, so the cache never serves staged state.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

type cacheTxKey struct{}

// pendingKeys collects cache keys invalidated by an open transaction.
type pendingKeys struct {
	mu   sync.Mutex
	keys []string
}

func (p *pendingKeys) add(keys ...string) {
	p.mu.Lock()
	p.keys = append(p.keys, keys...)
	p.mu.Unlock()
}

func (s *CachedStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(cacheTxKey{}).(*pendingKeys); ok {
		return s.primary.WithTx(ctx, fn)
	}

	pending := &pendingKeys{}
	err := s.primary.WithTx(ctx, func(txCtx context.Context) error {
		return fn(context.WithValue(txCtx, cacheTxKey{}, pending))
	})
	if err != nil {
		return err
	}
	if len(pending.keys) > 0 {
		s.rdb.Del(ctx, pending.keys...)
	}
	return nil
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(cacheTxKey{}).(*pendingKeys)
	return ok
}

// invalidate drops keys now, or after commit when inside a transaction.
func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if pending, ok := ctx.Value(cacheTxKey{}).(*pendingKeys); ok {
		pending.add(keys...)
		return
	}
	s.rdb.Del(ctx, keys...)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.SellOrder) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.invalidate(ctx, orderKey(o.ID))
	return nil
}

func (s *CachedStore) UpdateOrder(ctx context.Context, o *model.SellOrder) error {
	if err := s.primary.UpdateOrder(ctx, o); err != nil {
		return err
	}
	s.invalidate(ctx, orderKey(o.ID))
	return nil
}

func (s *CachedStore) SetHolding(ctx context.Context, account model.Address, orderID uint64, count uint64) error {
	if err := s.primary.SetHolding(ctx, account, orderID, count); err != nil {
		return err
	}
	s.invalidate(ctx, holdingKeyOf(account, orderID), holdingsKey(account))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrder(ctx context.Context, id uint64) (*model.SellOrder, error) {
	if inTx(ctx) {
		return s.primary.GetOrder(ctx, id)
	}

	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o model.SellOrder
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	// Cache miss: read from primary.
	o, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, orderKey(id), data, s.ttl)
	}
	return o, nil
}

func (s *CachedStore) GetHolding(ctx context.Context, account model.Address, orderID uint64) (uint64, error) {
	if inTx(ctx) {
		return s.primary.GetHolding(ctx, account, orderID)
	}

	if v, err := s.rdb.Get(ctx, holdingKeyOf(account, orderID)).Result(); err == nil {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n, nil
		}
	}

	n, err := s.primary.GetHolding(ctx, account, orderID)
	if err != nil {
		return 0, err
	}
	s.rdb.Set(ctx, holdingKeyOf(account, orderID), strconv.FormatUint(n, 10), s.ttl)
	return n, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, account model.Address) ([]model.Holding, error) {
	if inTx(ctx) {
		return s.primary.ListHoldings(ctx, account)
	}

	data, err := s.rdb.Get(ctx, holdingsKey(account)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, account)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(account), data, s.ttl)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) NextOrderID(ctx context.Context) (uint64, error) {
	return s.primary.NextOrderID(ctx)
}

func (s *CachedStore) ListOrders(ctx context.Context) ([]model.SellOrder, error) {
	return s.primary.ListOrders(ctx)
}

func (s *CachedStore) GetCapacity(ctx context.Context) (model.CapacityState, error) {
	return s.primary.GetCapacity(ctx)
}

func (s *CachedStore) SaveCapacity(ctx context.Context, c model.CapacityState) error {
	return s.primary.SaveCapacity(ctx, c)
}

func (s *CachedStore) AppendEvent(ctx context.Context, e *model.Event) error {
	return s.primary.AppendEvent(ctx, e)
}

func (s *CachedStore) ListEventsByOrder(ctx context.Context, orderID uint64) ([]model.Event, error) {
	return s.primary.ListEventsByOrder(ctx, orderID)
}

// --- Cache keys ---

func orderKey(id uint64) string { return fmt.Sprintf("lootbox:order:%d", id) }
func holdingsKey(account model.Address) string {
	return fmt.Sprintf("lootbox:holdings:%s", account)
}
func holdingKeyOf(account model.Address, orderID uint64) string {
	return fmt.Sprintf("lootbox:holding:%s:%d", account, orderID)
}
