package rbac

import (
	"marketcall/internal/auth"

	"github.com/samber/lo"
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	// RoleAdmin passes every role check. It is issued to support staff only.
	RoleAdmin = "admin"
)

// Allows reports whether id may use a route open to roles.
func Allows(id auth.Identity, roles ...string) bool {
	return id.Role == RoleAdmin || lo.Contains(roles, id.Role)
}
