// Package sale implements the loot box sale ledger: the sell order book,
// capacity accounting, purchase settlement, the holdings ledger, and
// redemption of held bundles into minted collectibles.
//
// Every public operation is serialized on the service and runs as one
// transaction. Store writes are staged and committed together; calls into
// external collaborators that move value register a compensating call that
// runs if anything later in the operation fails.
package sale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/metrics"
	"github.com/atmx/lootbox-sale/internal/model"
	"github.com/atmx/lootbox-sale/internal/store"
)

// Deps are the collaborators a Service is built from. Notifier is optional.
type Deps struct {
	Store    store.Store
	Access   auth.Authorizer
	Token    TokenLedger
	Vesting  VestingLedger
	Registry CollectionRegistry
	Minter   Minter
	Treasury TreasurySource
	Notifier Notifier
}

// Config holds the service's own identity on the external ledgers.
type Config struct {
	// Custody is the account that receives purchase payments and that
	// buyers approve as spender.
	Custody model.Address

	// Category tags every mint request issued by reveals.
	Category string
}

// Service owns the sale ledger. Use New to construct one.
type Service struct {
	store    store.Store
	access   auth.Authorizer
	token    TokenLedger
	vesting  VestingLedger
	registry CollectionRegistry
	minter   Minter
	treasury TreasurySource
	notifier Notifier

	custody  model.Address
	category string

	log *slog.Logger
	now func() time.Time

	// sem is a one-slot semaphore serializing operations; see enter.
	sem chan struct{}
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a sale ledger service.
func New(deps Deps, cfg Config, opts ...Option) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("sale: store is required")
	case deps.Access == nil:
		return nil, errors.New("sale: authorizer is required")
	case deps.Token == nil:
		return nil, errors.New("sale: token ledger is required")
	case deps.Vesting == nil:
		return nil, errors.New("sale: vesting ledger is required")
	case deps.Registry == nil:
		return nil, errors.New("sale: collection registry is required")
	case deps.Minter == nil:
		return nil, errors.New("sale: minter is required")
	case deps.Treasury == nil:
		return nil, errors.New("sale: treasury source is required")
	}
	if cfg.Custody == "" {
		return nil, fmt.Errorf("%w: custody account is required", ErrInvalidAccount)
	}

	s := &Service{
		store:    deps.Store,
		access:   deps.Access,
		token:    deps.Token,
		vesting:  deps.Vesting,
		registry: deps.Registry,
		minter:   deps.Minter,
		treasury: deps.Treasury,
		notifier: deps.Notifier,
		custody:  cfg.Custody,
		category: cfg.Category,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		sem:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Custody returns the account holding purchase payments.
func (s *Service) Custody() model.Address { return s.custody }

// opKey marks a context as belonging to an in-flight operation of svc.
type opKey struct{ svc *Service }

// enter serializes the caller behind every other operation. A context that
// already carries this service's marker comes from a collaborator called
// during an operation and is rejected with ErrReentrantCall. Any other
// caller waits for the slot until its context is done.
func (s *Service) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(opKey{s}) != nil {
		return ctx, func() {}, ErrReentrantCall
	}
	if ctx.Err() != nil {
		return ctx, func() {}, fmt.Errorf("wait for ledger: %w", ctx.Err())
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, func() {}, fmt.Errorf("wait for ledger: %w", ctx.Err())
	}
	return context.WithValue(ctx, opKey{s}, struct{}{}), func() { <-s.sem }, nil
}

// unit collects what an operation stages besides store writes.
type unit struct {
	events []model.Event
	undo   []compensation
}

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

func (u *unit) emit(e model.Event) {
	u.events = append(u.events, e)
}

// onAbort registers the inverse of an external call that already succeeded.
func (u *unit) onAbort(name string, fn func(ctx context.Context) error) {
	u.undo = append(u.undo, compensation{name: name, fn: fn})
}

// atomically runs fn as one serialized transaction. Staged events are
// persisted with the transaction and published after it commits.
func (s *Service) atomically(ctx context.Context, op string, fn func(ctx context.Context, u *unit) error) error {
	start := time.Now()
	err := s.runAtomically(ctx, op, fn)
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.OperationsTotal.WithLabelValues(op, Classify(err).String()).Inc()
	return err
}

func (s *Service) runAtomically(ctx context.Context, op string, fn func(ctx context.Context, u *unit) error) error {
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	u := &unit{}
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := fn(txCtx, u); err != nil {
			return err
		}
		for i := range u.events {
			if err := s.store.AppendEvent(txCtx, &u.events[i]); err != nil {
				return fmt.Errorf("record %s: %w", u.events[i].Kind, err)
			}
		}
		return nil
	})
	if err != nil {
		s.compensate(ctx, op, u)
		return err
	}

	if s.notifier != nil {
		for _, e := range u.events {
			s.notifier.Publish(e)
		}
	}
	return nil
}

// compensate undoes external side effects in reverse order. Failures are
// logged; the original error is what the caller sees.
func (s *Service) compensate(ctx context.Context, op string, u *unit) {
	ctx = context.WithoutCancel(ctx)
	for i := len(u.undo) - 1; i >= 0; i-- {
		c := u.undo[i]
		s.log.Warn("compensating aborted operation", "op", op, "action", c.name)
		if err := c.fn(ctx); err != nil {
			metrics.Compensations.WithLabelValues("failed").Inc()
			s.log.Error("compensation failed", "op", op, "action", c.name, "err", err)
			continue
		}
		metrics.Compensations.WithLabelValues("ok").Inc()
	}
}

// read runs a query serialized with operations.
func (s *Service) read(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (s *Service) newEvent(kind model.EventKind) model.Event {
	return model.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: s.now(),
	}
}

func orderRef(id uint64) *uint64 {
	return &id
}

// loadOrder fetches an order that was created at some point.
func (s *Service) loadOrder(ctx context.Context, id uint64) (*model.SellOrder, error) {
	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if o.ListedAmount == 0 {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o, nil
}

// --- Queries ---

// Order returns one order.
func (s *Service) Order(ctx context.Context, id uint64) (model.SellOrder, error) {
	var o *model.SellOrder
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.loadOrder(ctx, id)
		return err
	})
	if err != nil {
		return model.SellOrder{}, err
	}
	return *o, nil
}

// Orders returns every order by ascending id.
func (s *Service) Orders(ctx context.Context) ([]model.SellOrder, error) {
	var orders []model.SellOrder
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		orders, err = s.store.ListOrders(ctx)
		return err
	})
	return orders, err
}

// Capacity returns the issuance ceiling and what has been reserved.
func (s *Service) Capacity(ctx context.Context) (model.CapacityState, error) {
	var c model.CapacityState
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.store.GetCapacity(ctx)
		return err
	})
	return c, err
}

// Holdings returns an account's unrevealed bundles.
func (s *Service) Holdings(ctx context.Context, account model.Address) ([]model.Holding, error) {
	var h []model.Holding
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		h, err = s.store.ListHoldings(ctx, account)
		return err
	})
	return h, err
}

// HoldingOf returns an account's unrevealed bundles from one order.
func (s *Service) HoldingOf(ctx context.Context, account model.Address, orderID uint64) (uint64, error) {
	var n uint64
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.store.GetHolding(ctx, account, orderID)
		return err
	})
	return n, err
}

// Events returns the notifications recorded for an order.
func (s *Service) Events(ctx context.Context, orderID uint64) ([]model.Event, error) {
	var events []model.Event
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		events, err = s.store.ListEventsByOrder(ctx, orderID)
		return err
	})
	return events, err
}
