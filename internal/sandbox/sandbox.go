// Package sandbox provides in-memory stand-ins for the sale ledger's external
// collaborators. The development server wires them by default and tests use
// them to inject failures.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/model"
)

var (
	ErrInsufficientBalance   = errors.New("sandbox: insufficient balance")
	ErrInsufficientAllowance = errors.New("sandbox: insufficient allowance")
	ErrNegativeAmount        = errors.New("sandbox: negative amount")
	ErrNoDebt                = errors.New("sandbox: debt not recorded")
	ErrNotMinted             = errors.New("sandbox: item was not minted")
)

// --- Token ledger ---

type allowanceKey struct {
	owner, spender model.Address
}

// Tokens is a fungible token ledger.
type Tokens struct {
	mu         sync.Mutex
	balances   map[model.Address]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
	failErr    error
}

func NewTokens() *Tokens {
	return &Tokens{
		balances:   make(map[model.Address]decimal.Decimal),
		allowances: make(map[allowanceKey]decimal.Decimal),
	}
}

// Fund credits amount to account.
func (t *Tokens) Fund(account model.Address, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = t.balances[account].Add(amount)
}

// Approve sets how much spender may pull from owner.
func (t *Tokens) Approve(owner, spender model.Address, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner, spender}] = amount
}

// FailTransfers makes every transfer fail with err until called with nil.
func (t *Tokens) FailTransfers(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failErr = err
}

func (t *Tokens) BalanceOf(_ context.Context, account model.Address) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

func (t *Tokens) Allowance(_ context.Context, owner, spender model.Address) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[allowanceKey{owner, spender}], nil
}

func (t *Tokens) TransferFrom(_ context.Context, spender, owner, to model.Address, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return t.failErr
	}
	key := allowanceKey{owner, spender}
	if t.allowances[key].LessThan(amount) {
		return fmt.Errorf("%w: %s to %s", ErrInsufficientAllowance, owner, spender)
	}
	if err := t.move(owner, to, amount); err != nil {
		return err
	}
	t.allowances[key] = t.allowances[key].Sub(amount)
	return nil
}

// Refund returns amount from spender to owner and restores the allowance a
// TransferFrom(spender, owner, spender, amount) consumed.
func (t *Tokens) Refund(_ context.Context, spender, owner model.Address, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return t.failErr
	}
	if err := t.move(spender, owner, amount); err != nil {
		return err
	}
	key := allowanceKey{owner, spender}
	t.allowances[key] = t.allowances[key].Add(amount)
	return nil
}

func (t *Tokens) Transfer(_ context.Context, from, to model.Address, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return t.failErr
	}
	return t.move(from, to, amount)
}

func (t *Tokens) move(from, to model.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if t.balances[from].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, t.balances[from], amount)
	}
	t.balances[from] = t.balances[from].Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return nil
}

// --- Vesting ledger ---

// Vesting is a vesting ledger. Recorded debt counts as claimed.
type Vesting struct {
	mu      sync.Mutex
	stats   map[model.Address]model.VestingStats
	debts   map[model.Address]decimal.Decimal
	failErr error
}

func NewVesting() *Vesting {
	return &Vesting{
		stats: make(map[model.Address]model.VestingStats),
		debts: make(map[model.Address]decimal.Decimal),
	}
}

// SetStats replaces account's claimed and vested amounts.
func (v *Vesting) SetStats(account model.Address, claimed, vested decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats[account] = model.VestingStats{Claimed: claimed, Vested: vested}
}

// FailDebts makes RecordDebt fail with err until called with nil.
func (v *Vesting) FailDebts(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failErr = err
}

// Debt returns the outstanding debt of account.
func (v *Vesting) Debt(account model.Address) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debts[account]
}

func (v *Vesting) Stats(_ context.Context, account model.Address) (model.VestingStats, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats[account], nil
}

func (v *Vesting) RecordDebt(_ context.Context, account model.Address, amount decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failErr != nil {
		return v.failErr
	}
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	st := v.stats[account]
	st.Claimed = st.Claimed.Add(amount)
	v.stats[account] = st
	v.debts[account] = v.debts[account].Add(amount)
	return nil
}

func (v *Vesting) ClearDebt(_ context.Context, account model.Address, amount decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.debts[account].LessThan(amount) {
		return fmt.Errorf("%w: %s owes %s", ErrNoDebt, account, v.debts[account])
	}
	st := v.stats[account]
	st.Claimed = st.Claimed.Sub(amount)
	v.stats[account] = st
	v.debts[account] = v.debts[account].Sub(amount)
	return nil
}

// --- Collection registry ---

// Registry tracks which collections accept mints. Unknown collections are
// inactive.
type Registry struct {
	mu     sync.RWMutex
	active map[model.Address]bool
}

func NewRegistry(active ...model.Address) *Registry {
	r := &Registry{active: make(map[model.Address]bool)}
	for _, c := range active {
		r.active[c] = true
	}
	return r
}

func (r *Registry) SetActive(collection model.Address, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[collection] = active
}

func (r *Registry) IsActive(_ context.Context, collection model.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[collection], nil
}

// --- Minter ---

// Minter records mint requests.
type Minter struct {
	mu     sync.Mutex
	minted []model.MintRequest
	burned int
	failOn map[uint64]error
}

func NewMinter() *Minter {
	return &Minter{failOn: make(map[uint64]error)}
}

// FailOn makes minting itemID fail with err. A nil err clears it.
func (m *Minter) FailOn(itemID uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOn, itemID)
		return
	}
	m.failOn[itemID] = err
}

// Minted returns the mints that have not been burned, oldest first.
func (m *Minter) Minted() []model.MintRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.minted)
}

// Burned returns how many mints were reversed.
func (m *Minter) Burned() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.burned
}

func (m *Minter) Mint(_ context.Context, req model.MintRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[req.ItemID]; err != nil {
		return err
	}
	m.minted = append(m.minted, req)
	return nil
}

func (m *Minter) Burn(_ context.Context, req model.MintRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.minted) - 1; i >= 0; i-- {
		if m.minted[i] == req {
			m.minted = slices.Delete(m.minted, i, i+1)
			m.burned++
			return nil
		}
	}
	return fmt.Errorf("%w: %d of %s", ErrNotMinted, req.ItemID, req.Collection)
}

// --- Treasury ---

// Treasury is a fixed treasury address.
type Treasury model.Address

func (t Treasury) Treasury(context.Context) (model.Address, error) {
	return model.Address(t), nil
}

// --- Access control ---

// Access grants roles to accounts.
type Access struct {
	mu    sync.RWMutex
	roles map[auth.Role]map[model.Address]bool
}

func NewAccess() *Access {
	return &Access{roles: make(map[auth.Role]map[model.Address]bool)}
}

// Grant gives role to each account. Empty accounts are ignored.
func (a *Access) Grant(role auth.Role, accounts ...model.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.roles[role] == nil {
		a.roles[role] = make(map[model.Address]bool)
	}
	for _, acc := range accounts {
		if acc != "" {
			a.roles[role][acc] = true
		}
	}
}

// Revoke removes role from account.
func (a *Access) Revoke(role auth.Role, account model.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.roles[role], account)
}

func (a *Access) HasRole(_ context.Context, role auth.Role, account model.Address) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles[role][account], nil
}
