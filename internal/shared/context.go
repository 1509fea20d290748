package shared

import (
	"context"
	"strings"
)

// Role identifies the kind of actor requesting an operation.
type Role string

// Supported roles.
const (
	RoleCustomer  Role = "CUSTOMER"
	RoleCashier   Role = "CASHIER"
	RoleStaff     Role = "STAFF"
	RoleWarehouse Role = "WAREHOUSE"
	RoleShipper   Role = "SHIPPER"
	RoleManager   Role = "MANAGER"
	RoleAdmin     Role = "ADMIN"
	RoleSystem    Role = "SYSTEM"
)

// ParseRole normalises a role name. Unknown names yield an empty role.
func ParseRole(raw string) Role {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case RoleCustomer, RoleCashier, RoleStaff, RoleWarehouse, RoleShipper, RoleManager, RoleAdmin, RoleSystem:
		return role
	}
	return ""
}

// IsElevated reports roles allowed to bypass workflow adjacency.
func (r Role) IsElevated() bool {
	return r == RoleManager || r == RoleAdmin
}

// Actor is the authenticated principal behind a request.
type Actor struct {
	ID       int64
	Role     Role
	BranchID int64
}

// SystemActor is used by schedulers and webhooks.
var SystemActor = Actor{Role: RoleSystem}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
