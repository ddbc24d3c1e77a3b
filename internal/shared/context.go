package shared

import "context"

// Role names recognised by the authorization checks.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

// Identity is the authenticated caller attached to each request.
type Identity struct {
	UserID int64
	Role   string
	Branch string
}

// Unrestricted reports whether the caller may operate across branches.
func (id Identity) Unrestricted() bool {
	return id.Role == RoleAdmin
}

// CanOverrideLock reports whether the caller may edit locked ledger entries.
func (id Identity) CanOverrideLock() bool {
	return id.Role == RoleAdmin || id.Role == RoleManager
}

// CanAccessBranch reports whether the caller may touch records of the branch.
func (id Identity) CanAccessBranch(branch string) bool {
	return id.Unrestricted() || id.Branch == branch
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
