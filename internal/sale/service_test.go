package sale_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/capacity"
	"github.com/atmx/lootbox-sale/internal/model"
	"github.com/atmx/lootbox-sale/internal/sale"
	"github.com/atmx/lootbox-sale/internal/sandbox"
	"github.com/atmx/lootbox-sale/internal/store"
)

const (
	admin    model.Address = "admin"
	bot      model.Address = "bot"
	custody  model.Address = "custody"
	treasury model.Address = "treasury"
	alice    model.Address = "alice"
	bob      model.Address = "bob"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func as(account model.Address) context.Context {
	return auth.WithActor(context.Background(), account)
}

// recorder collects published notifications.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// faultyStore fails writes on demand. failEvents aborts an operation at
// commit time, after every collaborator call has been made.
type faultyStore struct {
	*store.MemoryStore
	failHolding error
	failEvents  error
}

func (f *faultyStore) SetHolding(ctx context.Context, account model.Address, orderID uint64, count uint64) error {
	if f.failHolding != nil {
		return f.failHolding
	}
	return f.MemoryStore.SetHolding(ctx, account, orderID, count)
}

func (f *faultyStore) AppendEvent(ctx context.Context, e *model.Event) error {
	if f.failEvents != nil {
		return f.failEvents
	}
	return f.MemoryStore.AppendEvent(ctx, e)
}

type testEnv struct {
	svc      *sale.Service
	store    *faultyStore
	tokens   *sandbox.Tokens
	vesting  *sandbox.Vesting
	registry *sandbox.Registry
	minter   *sandbox.Minter
	access   *sandbox.Access
	notes    *recorder
}

// newTestEnv builds a service over the memory store and sandbox
// collaborators with capacity set to 100.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithMinter(t, nil)
}

func newTestEnvWithMinter(t *testing.T, minter sale.Minter) *testEnv {
	t.Helper()
	e := &testEnv{
		store:    &faultyStore{MemoryStore: store.NewMemoryStore()},
		tokens:   sandbox.NewTokens(),
		vesting:  sandbox.NewVesting(),
		registry: sandbox.NewRegistry("c1", "c2", "c3"),
		minter:   sandbox.NewMinter(),
		access:   sandbox.NewAccess(),
		notes:    &recorder{},
	}
	e.access.Grant(auth.RoleAdmin, admin)
	e.access.Grant(auth.RoleAutomation, bot)
	if minter == nil {
		minter = e.minter
	}

	clock := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
	svc, err := sale.New(sale.Deps{
		Store:    e.store,
		Access:   e.access,
		Token:    e.tokens,
		Vesting:  e.vesting,
		Registry: e.registry,
		Minter:   minter,
		Treasury: sandbox.Treasury(treasury),
		Notifier: e.notes,
	}, sale.Config{Custody: custody, Category: "lootbox"},
		sale.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	e.svc = svc

	_, err = svc.SetCapacity(as(admin), 100)
	require.NoError(t, err)
	e.notes.reset()
	return e
}

func (e *testEnv) createOrder(t *testing.T, price string, unit, listed uint64) model.SellOrder {
	t.Helper()
	o, err := e.svc.CreateSell(as(admin), sale.SellParams{Price: d(price), SellUnit: unit, ListedAmount: listed})
	require.NoError(t, err)
	return o
}

// fund gives buyer a token balance fully approved to custody.
func (e *testEnv) fund(buyer model.Address, amount string) {
	e.tokens.Fund(buyer, d(amount))
	e.tokens.Approve(buyer, custody, d(amount))
}

func (e *testEnv) balance(t *testing.T, account model.Address) decimal.Decimal {
	t.Helper()
	b, err := e.tokens.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b
}

func (e *testEnv) allowance(t *testing.T, owner model.Address) decimal.Decimal {
	t.Helper()
	a, err := e.tokens.Allowance(context.Background(), owner, custody)
	require.NoError(t, err)
	return a
}

func (e *testEnv) holding(t *testing.T, account model.Address, orderID uint64) uint64 {
	t.Helper()
	n, err := e.svc.HoldingOf(context.Background(), account, orderID)
	require.NoError(t, err)
	return n
}

func (e *testEnv) order(t *testing.T, id uint64) model.SellOrder {
	t.Helper()
	o, err := e.svc.Order(context.Background(), id)
	require.NoError(t, err)
	return o
}

// --- Construction ---

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := sale.New(sale.Deps{}, sale.Config{Custody: custody})
	assert.Error(t, err)

	deps := sale.Deps{
		Store:    store.NewMemoryStore(),
		Access:   sandbox.NewAccess(),
		Token:    sandbox.NewTokens(),
		Vesting:  sandbox.NewVesting(),
		Registry: sandbox.NewRegistry(),
		Minter:   sandbox.NewMinter(),
		Treasury: sandbox.Treasury(treasury),
	}
	_, err = sale.New(deps, sale.Config{})
	assert.ErrorIs(t, err, sale.ErrInvalidAccount)

	svc, err := sale.New(deps, sale.Config{Custody: custody})
	require.NoError(t, err)
	assert.Equal(t, custody, svc.Custody())
}

// --- Capacity ---

func TestSetCapacity(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "10", 2, 20)

	_, err := e.svc.SetCapacity(as(admin), 0)
	assert.ErrorIs(t, err, capacity.ErrInvalidCapacity)
	assert.Equal(t, sale.KindValidation, sale.Classify(err))

	_, err = e.svc.SetCapacity(as(admin), 20)
	assert.ErrorIs(t, err, capacity.ErrInvalidCapacity)

	st, err := e.svc.SetCapacity(as(admin), 21)
	require.NoError(t, err)
	assert.Equal(t, model.CapacityState{Capacity: 21, TotalIssued: 20}, st)

	last := e.notes.events[len(e.notes.events)-1]
	assert.Equal(t, model.EventCapacityUpdated, last.Kind)
	assert.Equal(t, uint64(21), last.Capacity)
	assert.Nil(t, last.OrderID)
}

// --- Order book ---

func TestCreateSell_ScenarioA(t *testing.T) {
	e := newTestEnv(t)

	o := e.createOrder(t, "10", 2, 20)
	assert.Equal(t, uint64(0), o.ID)
	assert.Equal(t, model.StatusActive, o.Status)
	assert.Equal(t, uint64(0), o.SoldAmount)

	st, err := e.svc.Capacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), st.TotalIssued)

	require.Len(t, e.notes.events, 1)
	ev := e.notes.events[0]
	assert.Equal(t, model.EventSellCreated, ev.Kind)
	require.NotNil(t, ev.OrderID)
	assert.Equal(t, uint64(0), *ev.OrderID)
	assert.True(t, ev.Price.Equal(d("10")))
	assert.Equal(t, uint64(2), ev.SellUnit)
	assert.Equal(t, uint64(20), ev.ListedAmount)

	second := e.createOrder(t, "5", 1, 10)
	assert.Equal(t, uint64(1), second.ID)
}

func TestCreateSell_Validation(t *testing.T) {
	tests := []struct {
		name   string
		params sale.SellParams
		want   error
	}{
		{"zero listed", sale.SellParams{Price: d("1"), SellUnit: 1, ListedAmount: 0}, sale.ErrInvalidSellParameters},
		{"zero unit", sale.SellParams{Price: d("1"), SellUnit: 0, ListedAmount: 4}, sale.ErrInvalidSellParameters},
		{"listed below unit", sale.SellParams{Price: d("1"), SellUnit: 5, ListedAmount: 4}, sale.ErrInvalidSellParameters},
		{"not a multiple", sale.SellParams{Price: d("1"), SellUnit: 3, ListedAmount: 10}, sale.ErrInvalidSellParameters},
		{"zero price", sale.SellParams{Price: decimal.Zero, SellUnit: 2, ListedAmount: 4}, sale.ErrInvalidPrice},
		{"negative price", sale.SellParams{Price: d("-1"), SellUnit: 2, ListedAmount: 4}, sale.ErrInvalidPrice},
		{"over capacity", sale.SellParams{Price: d("1"), SellUnit: 1, ListedAmount: 101}, capacity.ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			_, err := e.svc.CreateSell(as(admin), tt.params)
			assert.ErrorIs(t, err, tt.want)

			orders, err := e.svc.Orders(context.Background())
			require.NoError(t, err)
			assert.Empty(t, orders)
			st, _ := e.svc.Capacity(context.Background())
			assert.Equal(t, uint64(0), st.TotalIssued)
			assert.Empty(t, e.notes.events)
		})
	}
}

func TestCreateSell_RequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	params := sale.SellParams{Price: d("1"), SellUnit: 1, ListedAmount: 1}

	_, err := e.svc.CreateSell(as(alice), params)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, sale.KindAuthorization, sale.Classify(err))

	_, err = e.svc.CreateSell(context.Background(), params)
	assert.ErrorIs(t, err, auth.ErrNoActor)

	_, err = e.svc.SetCapacity(as(bot), 500)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestEditSell_ScenarioB(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "10", 2, 20)

	_, err := e.svc.EditSell(as(admin), 0, sale.SellParams{Price: d("10"), SellUnit: 2, ListedAmount: 120})
	assert.ErrorIs(t, err, capacity.ErrCapacityExceeded)
	assert.Equal(t, sale.KindState, sale.Classify(err))

	st, _ := e.svc.Capacity(context.Background())
	assert.Equal(t, uint64(20), st.TotalIssued)
	assert.Equal(t, uint64(20), e.order(t, 0).ListedAmount)
}

func TestEditSell_ReplacesReservation(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "10", 2, 20)
	e.createOrder(t, "1", 1, 30)

	// 100 - 30 from the other order leaves exactly 70 for order 0.
	o, err := e.svc.EditSell(as(admin), 0, sale.SellParams{Price: d("12.5"), SellUnit: 5, ListedAmount: 70})
	require.NoError(t, err)
	assert.True(t, o.Price.Equal(d("12.5")))
	assert.Equal(t, uint64(5), o.SellUnit)
	assert.Equal(t, uint64(70), o.ListedAmount)

	st, _ := e.svc.Capacity(context.Background())
	assert.Equal(t, uint64(100), st.TotalIssued)

	_, err = e.svc.EditSell(as(admin), 0, sale.SellParams{Price: d("1"), SellUnit: 1, ListedAmount: 71})
	assert.ErrorIs(t, err, capacity.ErrCapacityExceeded)
}

func TestEditSell_KeepsSoldAmount(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "10", 2, 20)
	e.fund(alice, "20")
	for i := 0; i < 2; i++ {
		_, err := e.svc.BuyItem(as(alice), 0)
		require.NoError(t, err)
	}

	_, err := e.svc.EditSell(as(admin), 0, sale.SellParams{Price: d("10"), SellUnit: 2, ListedAmount: 4})
	assert.ErrorIs(t, err, sale.ErrInsufficientRemainder)

	_, err = e.svc.EditSell(as(admin), 0, sale.SellParams{Price: d("10"), SellUnit: 3, ListedAmount: 9})
	assert.ErrorIs(t, err, sale.ErrInvalidSellParameters)

	o, err := e.svc.EditSell(as(admin), 0, sale.SellParams{Price: d("3"), SellUnit: 1, ListedAmount: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), o.SoldAmount)
	assert.Equal(t, model.StatusActive, o.Status)
}

func TestEditSell_Errors(t *testing.T) {
	e := newTestEnv(t)
	params := sale.SellParams{Price: d("1"), SellUnit: 1, ListedAmount: 1}

	_, err := e.svc.EditSell(as(admin), 7, params)
	assert.ErrorIs(t, err, sale.ErrOrderNotFound)
	assert.Equal(t, sale.KindNotFound, sale.Classify(err))

	e.createOrder(t, "1", 1, 1)
	e.fund(alice, "1")
	_, err = e.svc.BuyItem(as(alice), 0)
	require.NoError(t, err)
	require.Equal(t, model.StatusSoldOut, e.order(t, 0).Status)

	_, err = e.svc.EditSell(as(admin), 0, sale.SellParams{Price: d("1"), SellUnit: 1, ListedAmount: 5})
	assert.ErrorIs(t, err, sale.ErrOrderSoldOut)

	e.createOrder(t, "1", 2, 4)
	_, err = e.svc.EditSell(as(admin), 1, sale.SellParams{Price: decimal.Zero, SellUnit: 2, ListedAmount: 4})
	assert.ErrorIs(t, err, sale.ErrInvalidPrice)

	_, err = e.svc.EditSell(as(alice), 1, params)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestCancelSell(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "10", 2, 20)

	o, err := e.svc.CancelSell(as(admin), 0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, o.Status)

	// Cancel keeps the reservation.
	st, _ := e.svc.Capacity(context.Background())
	assert.Equal(t, uint64(20), st.TotalIssued)

	_, err = e.svc.CancelSell(as(admin), 0)
	assert.ErrorIs(t, err, sale.ErrNotCancelable)
	assert.Equal(t, sale.KindState, sale.Classify(err))

	_, err = e.svc.CancelSell(as(admin), 9)
	assert.ErrorIs(t, err, sale.ErrOrderNotFound)

	e.fund(alice, "10")
	_, err = e.svc.BuyItem(as(alice), 0)
	assert.ErrorIs(t, err, sale.ErrInvalidOrderStatus)

	// Editing a canceled order relists it.
	o, err = e.svc.EditSell(as(admin), 0, sale.SellParams{Price: d("10"), SellUnit: 2, ListedAmount: 20})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, o.Status)
	_, err = e.svc.BuyItem(as(alice), 0)
	assert.NoError(t, err)

	assert.Equal(t, []model.EventKind{
		model.EventSellCreated,
		model.EventSellCanceled,
		model.EventSellUpdated,
		model.EventPurchasedWithBalance,
	}, e.notes.kinds())
}

func TestEvents_RecordedPerOrder(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "10", 2, 20)
	e.createOrder(t, "1", 1, 1)
	e.fund(alice, "10")
	_, err := e.svc.BuyItem(as(alice), 0)
	require.NoError(t, err)

	events, err := e.svc.Events(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventSellCreated, events[0].Kind)
	assert.Equal(t, model.EventPurchasedWithBalance, events[1].Kind)
	assert.Equal(t, alice, events[1].Account)
	assert.NotEmpty(t, events[1].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want sale.Kind
	}{
		{nil, sale.KindNone},
		{sale.ErrInvalidBatchInput, sale.KindValidation},
		{sale.ErrZeroAmount, sale.KindValidation},
		{auth.ErrNoActor, sale.KindAuthorization},
		{sale.ErrOrderNotFound, sale.KindNotFound},
		{sale.ErrInsufficientHoldings, sale.KindState},
		{sale.ErrAllowance, sale.KindFunds},
		{sale.ErrInsufficientCustodyBalance, sale.KindFunds},
		{sale.ErrInactiveCollection, sale.KindExternal},
		{sale.ErrMintFailed, sale.KindExternal},
		{sale.ErrReentrantCall, sale.KindConflict},
		{errors.New("disk full"), sale.KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sale.Classify(tt.err), "%v", tt.err)
	}

	wrapped := errors.Join(errors.New("context"), sale.ErrOrderSoldOut)
	assert.Equal(t, sale.KindState, sale.Classify(wrapped))
	assert.Equal(t, "state", sale.KindState.String())
	assert.Equal(t, "ok", sale.KindNone.String())
}

// --- Invariants ---

func TestInvariants_HoldAcrossOperations(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "2", 2, 10)
	e.createOrder(t, "1", 1, 30)
	e.createOrder(t, "3", 3, 30)
	e.fund(alice, "1000")
	e.vesting.SetStats(bob, decimal.Zero, d("1000"))

	buyers := []model.Address{alice, bob}
	for i := 0; i < 40; i++ {
		buyer := buyers[i%2]
		_, _ = e.svc.BuyItem(as(buyer), uint64(i%3))
		if i == 20 {
			_, _ = e.svc.EditSell(as(admin), 2, sale.SellParams{Price: d("3"), SellUnit: 3, ListedAmount: 36})
		}
		if i == 30 {
			_, _ = e.svc.SetCapacity(as(admin), 99)
		}

		orders, err := e.svc.Orders(context.Background())
		require.NoError(t, err)
		var listed uint64
		for _, o := range orders {
			assert.LessOrEqual(t, o.SoldAmount, o.ListedAmount)
			assert.Zero(t, o.SoldAmount%o.SellUnit)
			if o.SoldAmount == o.ListedAmount {
				assert.Equal(t, model.StatusSoldOut, o.Status)
			}
			listed += o.ListedAmount
		}
		st, err := e.svc.Capacity(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, st.TotalIssued, st.Capacity)
		assert.Equal(t, listed, st.TotalIssued)
	}
}

func TestBuyItem_ConcurrentBuyersAreSerialized(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "1", 2, 40)

	const n = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < n; i++ {
		buyer := model.Address("buyer-" + string(rune('a'+i)))
		e.fund(buyer, "1")
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.svc.BuyItem(as(buyer), 0); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, succeeded)
	o := e.order(t, 0)
	assert.Equal(t, uint64(40), o.SoldAmount)
	assert.Equal(t, model.StatusSoldOut, o.Status)
	assert.True(t, e.balance(t, custody).Equal(d("20")))
}
