// Package model defines the core domain types shared across the sale ledger.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Address identifies an account on the external ledgers: buyers, the custody
// account, the treasury, and collectible collections.
type Address string

// OrderStatus is the lifecycle state of a sell order.
type OrderStatus string

const (
	StatusActive   OrderStatus = "active"
	StatusSoldOut  OrderStatus = "sold_out"
	StatusCanceled OrderStatus = "canceled"
)

// SellOrder is a published offer to sell fixed-size bundles at a fixed price.
// IDs are dense from zero and allocated by the order book.
type SellOrder struct {
	ID           uint64          `json:"id" db:"id"`
	Price        decimal.Decimal `json:"price" db:"price"`                 // per purchase, in payment token
	SellUnit     uint64          `json:"sell_unit" db:"sell_unit"`         // bundles per purchase
	ListedAmount uint64          `json:"listed_amount" db:"listed_amount"` // multiple of SellUnit
	SoldAmount   uint64          `json:"sold_amount" db:"sold_amount"`
	Status       OrderStatus     `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining returns how many bundles can still be sold.
func (o SellOrder) Remaining() uint64 {
	if o.SoldAmount >= o.ListedAmount {
		return 0
	}
	return o.ListedAmount - o.SoldAmount
}

// CapacityState is the persisted form of the capacity accountant.
type CapacityState struct {
	Capacity    uint64 `json:"capacity"`
	TotalIssued uint64 `json:"total_issued"`
}

// Holding counts bundles an account bought from one order but has not
// revealed yet.
type Holding struct {
	Account Address `json:"account"`
	OrderID uint64  `json:"order_id"`
	Count   uint64  `json:"count"`
}

// EventKind names a notification emitted by the sale ledger.
type EventKind string

const (
	EventCapacityUpdated      EventKind = "CapacityUpdated"
	EventSellCreated          EventKind = "SellCreated"
	EventSellUpdated          EventKind = "SellUpdated"
	EventSellCanceled         EventKind = "SellCanceled"
	EventPurchasedWithBalance EventKind = "PurchasedWithBalance"
	EventPurchasedWithVesting EventKind = "PurchasedWithVesting"
	EventRevealed             EventKind = "Revealed"
	EventBatchRevealed        EventKind = "BatchRevealed"
	EventWithdrawn            EventKind = "Withdrawn"
)

// Event is an immutable notification record. Only the fields relevant to
// Kind are set; OrderID is nil for CapacityUpdated and Withdrawn.
type Event struct {
	ID           string          `json:"id" db:"id"`
	Kind         EventKind       `json:"kind" db:"kind"`
	OrderID      *uint64         `json:"order_id,omitempty" db:"order_id"`
	Account      Address         `json:"account,omitempty" db:"account"` // buyer or treasury
	Collection   Address         `json:"collection,omitempty" db:"collection"`
	ItemID       uint64          `json:"item_id,omitempty" db:"item_id"`
	Price        decimal.Decimal `json:"price" db:"price"`
	SellUnit     uint64          `json:"sell_unit,omitempty" db:"sell_unit"`
	ListedAmount uint64          `json:"listed_amount,omitempty" db:"listed_amount"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Capacity     uint64          `json:"capacity,omitempty" db:"capacity"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// MintRequest asks the minting collaborator for one unit of an item.
type MintRequest struct {
	Collection Address `json:"collection"`
	ItemID     uint64  `json:"item_id"`
	To         Address `json:"to"`
	Amount     uint64  `json:"amount"`
	Category   string  `json:"category"`
}

// VestingStats is a buyer's position on the vesting ledger.
type VestingStats struct {
	Claimed decimal.Decimal `json:"claimed"`
	Vested  decimal.Decimal `json:"vested"`
}
