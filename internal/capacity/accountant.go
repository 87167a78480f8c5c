// Package capacity implements the global issuance ceiling shared by every
// sell order.
//
// Each order reserves its listed amount when it is created. An edit first
// releases the order's previous listed amount and then reserves the new one.
// The accountant is a plain value: callers load it from the store, mutate a
// copy, and persist it only when the surrounding operation commits.
package capacity

import (
	"errors"
	"fmt"
	"math"

	"github.com/atmx/lootbox-sale/internal/model"
)

var (
	// ErrInvalidCapacity is returned when a new ceiling is zero or does not
	// exceed the amount already issued.
	ErrInvalidCapacity = errors.New("capacity: invalid capacity")

	// ErrCapacityExceeded is returned when a reservation would push total
	// issuance beyond the ceiling.
	ErrCapacityExceeded = errors.New("capacity: capacity exceeded")
)

// Accountant tracks aggregate issuance against a configured ceiling.
// Invariant: TotalIssued <= Capacity after every successful mutation.
type Accountant struct {
	// Capacity is the ceiling on bundles issued across all orders.
	Capacity uint64

	// TotalIssued is the sum of listed amounts reserved so far.
	TotalIssued uint64
}

// FromState builds an accountant from its persisted form.
func FromState(st model.CapacityState) Accountant {
	return Accountant{Capacity: st.Capacity, TotalIssued: st.TotalIssued}
}

// State returns the persisted form of the accountant.
func (a Accountant) State() model.CapacityState {
	return model.CapacityState{Capacity: a.Capacity, TotalIssued: a.TotalIssued}
}

// Available returns how much can still be reserved.
func (a Accountant) Available() uint64 {
	if a.TotalIssued >= a.Capacity {
		return 0
	}
	return a.Capacity - a.TotalIssued
}

// SetCapacity replaces the ceiling. The new ceiling must be positive and
// strictly greater than what is already issued.
func (a *Accountant) SetCapacity(newCapacity uint64) error {
	if newCapacity == 0 || newCapacity <= a.TotalIssued {
		return fmt.Errorf("%w: %d (issued %d)", ErrInvalidCapacity, newCapacity, a.TotalIssued)
	}
	a.Capacity = newCapacity
	return nil
}

// Reserve adds amount to total issuance.
func (a *Accountant) Reserve(amount uint64) error {
	if amount > math.MaxUint64-a.TotalIssued || a.TotalIssued+amount > a.Capacity {
		return fmt.Errorf("%w: reserve %d with %d of %d issued",
			ErrCapacityExceeded, amount, a.TotalIssued, a.Capacity)
	}
	a.TotalIssued += amount
	return nil
}

// Release subtracts amount from total issuance, flooring at zero.
func (a *Accountant) Release(amount uint64) {
	if amount > a.TotalIssued {
		a.TotalIssued = 0
		return
	}
	a.TotalIssued -= amount
}

// Replace releases previous and reserves next. On failure the accountant is
// left exactly as it was.
func (a *Accountant) Replace(previous, next uint64) error {
	staged := *a
	staged.Release(previous)
	if err := staged.Reserve(next); err != nil {
		return err
	}
	*a = staged
	return nil
}
