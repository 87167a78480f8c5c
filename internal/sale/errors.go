package sale

import (
	"errors"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/capacity"
)

var (
	// Validation.
	ErrInvalidPrice          = errors.New("sale: price must be positive")
	ErrInvalidSellParameters = errors.New("sale: invalid sell parameters")
	ErrInvalidBatchInput     = errors.New("sale: invalid batch input")
	ErrInvalidAccount        = errors.New("sale: invalid account")
	ErrZeroAmount            = errors.New("sale: amount must be positive")

	// State.
	ErrOrderNotFound         = errors.New("sale: order not found")
	ErrOrderSoldOut          = errors.New("sale: order sold out")
	ErrInsufficientRemainder = errors.New("sale: listed amount leaves no sellable unit")
	ErrNotCancelable         = errors.New("sale: order is not cancelable")
	ErrSellLimitExceeded     = errors.New("sale: sell limit exceeded")
	ErrInvalidOrderStatus    = errors.New("sale: order is not active")
	ErrNotSingleUnitOrder    = errors.New("sale: order does not sell single items")
	ErrNotMultiUnitOrder     = errors.New("sale: order does not sell multi-item bundles")
	ErrInsufficientHoldings  = errors.New("sale: no unrevealed bundle held")

	// Funds.
	ErrAllowance                  = errors.New("sale: insufficient allowance")
	ErrTransferFailed             = errors.New("sale: token transfer failed")
	ErrInsufficientVestedBalance  = errors.New("sale: insufficient vested balance")
	ErrInsufficientCustodyBalance = errors.New("sale: insufficient custody balance")

	// External dependencies.
	ErrInactiveCollection = errors.New("sale: collection is not active")
	ErrMintFailed         = errors.New("sale: mint request failed")
	ErrDebtRecordFailed   = errors.New("sale: vesting debt record failed")
	ErrCollaborator       = errors.New("sale: collaborator call failed")

	// ErrReentrantCall is returned when an operation is invoked from inside
	// another operation of the same service.
	ErrReentrantCall = errors.New("sale: reentrant call")
)

// Kind is the taxonomy class of an error.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindState
	KindFunds
	KindExternal
	KindConflict
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindFunds:
		return "funds"
	case KindExternal:
		return "external"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidPrice, KindValidation},
	{ErrInvalidSellParameters, KindValidation},
	{ErrInvalidBatchInput, KindValidation},
	{ErrInvalidAccount, KindValidation},
	{ErrZeroAmount, KindValidation},
	{capacity.ErrInvalidCapacity, KindValidation},

	{auth.ErrUnauthorized, KindAuthorization},
	{auth.ErrNoActor, KindAuthorization},

	{ErrOrderNotFound, KindNotFound},

	{ErrOrderSoldOut, KindState},
	{ErrInsufficientRemainder, KindState},
	{ErrNotCancelable, KindState},
	{ErrSellLimitExceeded, KindState},
	{ErrInvalidOrderStatus, KindState},
	{ErrNotSingleUnitOrder, KindState},
	{ErrNotMultiUnitOrder, KindState},
	{ErrInsufficientHoldings, KindState},
	{capacity.ErrCapacityExceeded, KindState},

	{ErrAllowance, KindFunds},
	{ErrTransferFailed, KindFunds},
	{ErrInsufficientVestedBalance, KindFunds},
	{ErrInsufficientCustodyBalance, KindFunds},

	{ErrInactiveCollection, KindExternal},
	{ErrMintFailed, KindExternal},
	{ErrDebtRecordFailed, KindExternal},
	{ErrCollaborator, KindExternal},

	{ErrReentrantCall, KindConflict},
}

// Classify maps an error returned by the service to its taxonomy class.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
