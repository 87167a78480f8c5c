// Package auth carries the calling account through a request and checks it
// against an external access-control service.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/lootbox-sale/internal/model"
)

// Role is a capability granted by the access-control service.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleAutomation Role = "automation"
)

var (
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("auth: caller lacks required role")

	// ErrNoActor is returned when a gated operation runs without a caller.
	ErrNoActor = errors.New("auth: no calling account")
)

// Authorizer answers role predicates for accounts.
type Authorizer interface {
	HasRole(ctx context.Context, role Role, account model.Address) (bool, error)
}

// Decision is the outcome of a successful guard check.
type Decision struct {
	Actor model.Address
	Role  Role
}

type actorKey struct{}

// WithActor returns a context carrying the calling account.
func WithActor(ctx context.Context, account model.Address) context.Context {
	return context.WithValue(ctx, actorKey{}, account)
}

// ActorFrom returns the calling account, if any.
func ActorFrom(ctx context.Context) (model.Address, bool) {
	account, ok := ctx.Value(actorKey{}).(model.Address)
	return account, ok && account != ""
}

// Require checks that the caller in ctx holds role.
func Require(ctx context.Context, az Authorizer, role Role) (Decision, error) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		return Decision{}, ErrNoActor
	}
	allowed, err := az.HasRole(ctx, role, actor)
	if err != nil {
		return Decision{}, fmt.Errorf("check role %s for %s: %w", role, actor, err)
	}
	if !allowed {
		return Decision{}, fmt.Errorf("%w: %s is not %s", ErrUnauthorized, actor, role)
	}
	return Decision{Actor: actor, Role: role}, nil
}
