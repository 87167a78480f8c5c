package sale

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/lootbox-sale/internal/model"
)

// TokenLedger is the fungible payment-token ledger.
type TokenLedger interface {
	BalanceOf(ctx context.Context, account model.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, owner, spender model.Address) (decimal.Decimal, error)
	// TransferFrom pulls amount from owner to to using spender's allowance.
	TransferFrom(ctx context.Context, spender, owner, to model.Address, amount decimal.Decimal) error
	// Refund reverses TransferFrom(spender, owner, spender, amount): the
	// tokens go back to owner and spender's allowance is restored.
	Refund(ctx context.Context, spender, owner model.Address, amount decimal.Decimal) error
	// Transfer pushes amount from one account to another.
	Transfer(ctx context.Context, from, to model.Address, amount decimal.Decimal) error
}

// VestingLedger records purchases paid against a buyer's vested allocation.
type VestingLedger interface {
	Stats(ctx context.Context, account model.Address) (model.VestingStats, error)
	RecordDebt(ctx context.Context, account model.Address, amount decimal.Decimal) error
	// ClearDebt reverses a RecordDebt of the same amount.
	ClearDebt(ctx context.Context, account model.Address, amount decimal.Decimal) error
}

// CollectionRegistry reports whether a collectible collection accepts mints.
type CollectionRegistry interface {
	IsActive(ctx context.Context, collection model.Address) (bool, error)
}

// Minter issues collectibles.
type Minter interface {
	Mint(ctx context.Context, req model.MintRequest) error
	// Burn reverses a Mint of the same request.
	Burn(ctx context.Context, req model.MintRequest) error
}

// TreasurySource resolves where withdrawn funds are sent.
type TreasurySource interface {
	Treasury(ctx context.Context) (model.Address, error)
}

// Notifier receives committed notifications.
type Notifier interface {
	Publish(event model.Event)
}
