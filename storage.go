package rbac

import (
	"context"
	"time"
)

// ListFilter narrows and pages list queries. A zero Limit means no limit.
type ListFilter struct {
	Domain string
	Limit  int
	Offset int
}

// Storage is the persistence contract the engine depends on. Lookups for
// missing entities return an error wrapping ErrNotFound, never a zero value.
// Thread-safety is declared by the backend, not assumed by the engine;
// the in-memory and SQL stores shipped with this module are safe for
// concurrent readers.
type Storage interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	// DeleteUser performs a soft delete: the user's status transitions to
	// StatusDeleted so assignments referencing it stay resolvable.
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, filter ListFilter) ([]*User, error)

	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context, filter ListFilter) ([]*Role, error)

	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	DeletePermission(ctx context.Context, id string) error
	ListPermissions(ctx context.Context, filter ListFilter) ([]*Permission, error)

	CreateResource(ctx context.Context, resource *Resource) error
	GetResource(ctx context.Context, id string) (*Resource, error)
	UpdateResource(ctx context.Context, resource *Resource) error
	DeleteResource(ctx context.Context, id string) error

	// AssignRole records a user/role link. Re-assigning an existing
	// (user, role, domain) triple reactivates it (clears revocation).
	AssignRole(ctx context.Context, assignment *RoleAssignment) error
	// RevokeRole marks the assignment revoked; it is not deleted.
	RevokeRole(ctx context.Context, userID, roleID, domain string) error
	// ListAssignments returns every assignment for the user, active or not,
	// optionally filtered by domain. Activity filtering is the caller's job
	// so expiry stays lazy.
	ListAssignments(ctx context.Context, userID, domain string) ([]*RoleAssignment, error)
	// ListRoleUsers returns user IDs holding assignments to the role.
	ListRoleUsers(ctx context.Context, roleID string) ([]string, error)
}

// Cache is the optional decision-cache contract. Implementations must be
// safe for concurrent use. A Cache instance is owned by exactly one Engine;
// there is no process-wide shared cache.
type Cache interface {
	Get(ctx context.Context, key string) (*Decision, bool)
	Set(ctx context.Context, key string, dec *Decision, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// AuditSink receives decision records after each check. The engine calls it
// from a background worker: a failing or slow sink never changes or delays
// the decision itself.
type AuditSink interface {
	Record(ctx context.Context, entry *AuditEntry) error
}
