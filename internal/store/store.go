// Package store defines the persistence interface for the sale ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/atmx/lootbox-sale/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Every mutation made inside WithTx is
// applied together when fn returns nil and discarded otherwise.
type Store interface {
	// WithTx runs fn in a transaction carried by the context passed to fn.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// --- Sell orders ---

	// NextOrderID returns the id the next created order will receive.
	NextOrderID(ctx context.Context) (uint64, error)

	// CreateOrder persists a new order and advances the id cursor past it.
	CreateOrder(ctx context.Context, order *model.SellOrder) error

	// GetOrder retrieves an order by id.
	GetOrder(ctx context.Context, id uint64) (*model.SellOrder, error)

	// UpdateOrder overwrites an existing order.
	UpdateOrder(ctx context.Context, order *model.SellOrder) error

	// ListOrders returns all orders by ascending id.
	ListOrders(ctx context.Context) ([]model.SellOrder, error)

	// --- Capacity ---

	// GetCapacity returns the capacity accountant state (zero when unset).
	GetCapacity(ctx context.Context) (model.CapacityState, error)

	// SaveCapacity replaces the capacity accountant state.
	SaveCapacity(ctx context.Context, state model.CapacityState) error

	// --- Holdings ---

	// GetHolding returns the unrevealed bundle count (zero when absent).
	GetHolding(ctx context.Context, account model.Address, orderID uint64) (uint64, error)

	// SetHolding replaces the unrevealed bundle count.
	SetHolding(ctx context.Context, account model.Address, orderID uint64, count uint64) error

	// ListHoldings returns the non-zero holdings of an account.
	ListHoldings(ctx context.Context, account model.Address) ([]model.Holding, error)

	// --- Immutable event log ---

	// AppendEvent records a notification.
	AppendEvent(ctx context.Context, event *model.Event) error

	// ListEventsByOrder returns an order's notifications in emission order.
	ListEventsByOrder(ctx context.Context, orderID uint64) ([]model.Event, error)
}
