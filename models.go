package rbac

import (
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// EntityStatus is the lifecycle status of a user, role, or resource.
type EntityStatus string

const (
	StatusActive    EntityStatus = "active"
	StatusInactive  EntityStatus = "inactive"
	StatusSuspended EntityStatus = "suspended"
	StatusDeleted   EntityStatus = "deleted"
)

// Wildcard matches any action or resource type in a permission.
const Wildcard = "*"

// User represents an authorization subject. Users are never physically
// removed once referenced by assignments; deletion sets StatusDeleted.
type User struct {
	ID         string         `json:"id" yaml:"id"`
	Email      string         `json:"email,omitempty" yaml:"email,omitempty"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Status     EntityStatus   `json:"status" yaml:"status"`
	Domain     string         `json:"domain,omitempty" yaml:"domain,omitempty"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at"`
}

// IsActive reports whether the user may be granted access at all.
func (u *User) IsActive() bool {
	return u.Status == StatusActive || u.Status == ""
}

// HasAttribute checks an attribute for existence, or equality when value is non-nil.
func (u *User) HasAttribute(key string, value any) bool {
	v, ok := u.Attributes[key]
	if !ok {
		return false
	}
	if value == nil {
		return true
	}
	return equalValues(v, value)
}

// Role is a named permission bundle with at most one parent role.
// Permissions holds direct grants as permission IDs; the effective set is
// computed by the HierarchyResolver.
type Role struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Permissions []string       `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	ParentID    string         `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Domain      string         `json:"domain,omitempty" yaml:"domain,omitempty"`
	Status      EntityStatus   `json:"status" yaml:"status"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"updated_at"`
}

// IsActive reports whether the role participates in decisions.
func (r *Role) IsActive() bool {
	return r.Status == StatusActive || r.Status == ""
}

// HasPermission checks a direct grant only; inherited grants are resolved
// by the HierarchyResolver.
func (r *Role) HasPermission(permissionID string) bool {
	for _, id := range r.Permissions {
		if id == permissionID {
			return true
		}
	}
	return false
}

// HasParent reports whether the role inherits from another role.
func (r *Role) HasParent() bool { return r.ParentID != "" }

// Permission grants an action on a resource type, optionally narrowed by a
// condition tree. Either Action or ResourceType may be the Wildcard marker.
type Permission struct {
	ID           string     `json:"id" yaml:"id"`
	ResourceType string     `json:"resource_type" yaml:"resource_type"`
	Action       string     `json:"action" yaml:"action"`
	Description  string     `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions   Conditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`

	compiled *CompiledConditions
}

// Conditions maps a dotted field path to operator/value pairs, e.g.
//
//	{"resource.owner_id": {"==": "{{user.id}}"}, "user.level": {">": 5}}
//
// All entries are ANDed.
type Conditions map[string]map[string]any

// Matches reports whether this permission covers the (resourceType, action)
// pair, honoring wildcards.
func (p *Permission) Matches(resourceType, action string) bool {
	resourceMatch := p.ResourceType == Wildcard || p.ResourceType == resourceType
	actionMatch := p.Action == Wildcard || p.Action == action
	return resourceMatch && actionMatch
}

// IsExact reports whether the permission matches without relying on a
// wildcard. Exact candidates are considered before wildcard fallbacks.
func (p *Permission) IsExact(resourceType, action string) bool {
	return p.ResourceType == resourceType && p.Action == action
}

// Conditional reports whether the permission carries a condition tree.
func (p *Permission) Conditional() bool { return len(p.Conditions) > 0 }

// Compiled returns the compiled form of the condition tree, compiling on
// first use. Permissions created through the engine or builders are compiled
// eagerly so malformed conditions surface as PolicyError at creation time.
func (p *Permission) Compiled() (*CompiledConditions, error) {
	if p.compiled != nil {
		return p.compiled, nil
	}
	cc, err := CompileConditions(p.Conditions)
	if err != nil {
		return nil, err
	}
	p.compiled = cc
	return cc, nil
}

// Resource is an addressable target of authorization checks. Its attribute
// map feeds ABAC condition evaluation; a resource is not itself a subject.
type Resource struct {
	ID         string         `json:"id,omitempty" yaml:"id,omitempty"`
	Type       string         `json:"type" yaml:"type"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	ParentID   string         `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Domain     string         `json:"domain,omitempty" yaml:"domain,omitempty"`
	Status     EntityStatus   `json:"status" yaml:"status"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at"`
}

// TypeOnly builds a resource value that identifies only a resource type,
// for checks that are not about one concrete object.
func TypeOnly(resourceType string) *Resource {
	return &Resource{Type: resourceType}
}

// RoleAssignment links a user to a role, optionally scoped to a domain and
// bounded by an expiry timestamp. Expired or revoked assignments are excluded
// from decisions without being deleted (lazy expiry).
type RoleAssignment struct {
	UserID    string         `json:"user_id" yaml:"user_id"`
	RoleID    string         `json:"role_id" yaml:"role_id"`
	Domain    string         `json:"domain,omitempty" yaml:"domain,omitempty"`
	GrantedBy string         `json:"granted_by,omitempty" yaml:"granted_by,omitempty"`
	GrantedAt time.Time      `json:"granted_at" yaml:"granted_at"`
	ExpiresAt time.Time      `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Revoked   bool           `json:"revoked,omitempty" yaml:"revoked,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Expired reports whether the assignment's expiry has passed.
func (a *RoleAssignment) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// ActiveAt reports whether the assignment counts toward decisions at now.
func (a *RoleAssignment) ActiveAt(now time.Time) bool {
	return !a.Revoked && !a.Expired(now)
}

// ============================================================================
// DECISIONS
// ============================================================================

// Decision is the outcome of a single authorization check. An ordinary deny
// is a Decision, not an error; the error channel is reserved for integrity
// failures (storage, hierarchy corruption).
type Decision struct {
	Allowed            bool      `json:"allowed"`
	Reason             string    `json:"reason"`
	MatchedPermissions []string  `json:"matched_permissions,omitempty"`
	UserID             string    `json:"user_id"`
	Action             string    `json:"action"`
	ResourceType       string    `json:"resource_type"`
	ResourceID         string    `json:"resource_id,omitempty"`
	Domain             string    `json:"domain,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// CheckRequest is one item of a CheckBatch call.
type CheckRequest struct {
	UserID   string
	Action   string
	Resource *Resource
	Context  map[string]any
	Domain   string
}

// BatchResult pairs a batch item with its outcome. Exactly one of Decision
// and Err is set: a storage or hierarchy failure on one item is reported
// here instead of aborting the batch.
type BatchResult struct {
	Decision *Decision
	Err      error
}

// AuditEntry is the record emitted to the audit sink after each check.
type AuditEntry struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	UserID             string    `json:"user_id"`
	Action             string    `json:"action"`
	ResourceType       string    `json:"resource_type"`
	ResourceID         string    `json:"resource_id,omitempty"`
	Domain             string    `json:"domain,omitempty"`
	Allowed            bool      `json:"allowed"`
	Reason             string    `json:"reason"`
	MatchedPermissions []string  `json:"matched_permissions,omitempty"`
}

// AuditFilter selects audit entries in query APIs.
type AuditFilter struct {
	UserID       string
	ResourceType string
	ResourceID   string
	Action       string
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
}
