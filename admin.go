package rbac

import (
	"context"
	"time"
)

// Administrative mutation API. Every method validates referential integrity
// before writing, then invalidates the hierarchy and decision caches so the
// next check observes the change.

// CreateUser validates and stores a new user.
func (e *Engine) CreateUser(ctx context.Context, user *User) error {
	if user == nil {
		return &ValidationError{Field: "user", Message: "must not be nil"}
	}
	if user.ID == "" {
		return &ValidationError{Field: "user.id", Message: "must not be empty"}
	}
	if user.Status == "" {
		user.Status = StatusActive
	}
	if !validStatus(user.Status) {
		return &ValidationError{Field: "user.status", Message: "unknown status " + string(user.Status)}
	}
	now := e.clock()
	user.CreatedAt = now
	user.UpdatedAt = now
	if err := e.storage.CreateUser(ctx, user); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("user created", "user", user.ID, "domain", user.Domain)
	return nil
}

// SetUserStatus transitions a user between lifecycle states.
func (e *Engine) SetUserStatus(ctx context.Context, userID string, status EntityStatus) error {
	if !validStatus(status) {
		return &ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}
	user, err := e.storage.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	user.Status = status
	user.UpdatedAt = e.clock()
	if err := e.storage.UpdateUser(ctx, user); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("user status changed", "user", userID, "status", string(status))
	return nil
}

// UpdateUserAttributes replaces the user's attribute map.
func (e *Engine) UpdateUserAttributes(ctx context.Context, userID string, attrs map[string]any) error {
	user, err := e.storage.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	user.Attributes = attrs
	user.UpdatedAt = e.clock()
	if err := e.storage.UpdateUser(ctx, user); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

// DeleteUser soft-deletes the user. Historical audit entries keep referring
// to the ID; subsequent checks deny.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if err := e.storage.DeleteUser(ctx, userID); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("user deleted", "user", userID)
	return nil
}

// CreateRole validates and stores a new role. The parent must exist and the
// resulting chain must stay acyclic and within the depth bound; every
// referenced permission must already exist.
func (e *Engine) CreateRole(ctx context.Context, role *Role) error {
	if role == nil {
		return &ValidationError{Field: "role", Message: "must not be nil"}
	}
	if role.ID == "" {
		return &ValidationError{Field: "role.id", Message: "must not be empty"}
	}
	if role.Status == "" {
		role.Status = StatusActive
	}
	if role.ParentID != "" {
		if _, err := e.storage.GetRole(ctx, role.ParentID); err != nil {
			return err
		}
		if err := e.resolver.ValidateParent(ctx, role.ID, role.ParentID); err != nil {
			return err
		}
	}
	if err := e.checkPermissionRefs(ctx, role.Permissions); err != nil {
		return err
	}
	now := e.clock()
	role.CreatedAt = now
	role.UpdatedAt = now
	if err := e.storage.CreateRole(ctx, role); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("role created", "role", role.ID, "parent", role.ParentID)
	return nil
}

// UpdateRole revalidates and stores the role.
func (e *Engine) UpdateRole(ctx context.Context, role *Role) error {
	if role == nil {
		return &ValidationError{Field: "role", Message: "must not be nil"}
	}
	if _, err := e.storage.GetRole(ctx, role.ID); err != nil {
		return err
	}
	if role.ParentID != "" {
		if _, err := e.storage.GetRole(ctx, role.ParentID); err != nil {
			return err
		}
		if err := e.resolver.ValidateParent(ctx, role.ID, role.ParentID); err != nil {
			return err
		}
	}
	if err := e.checkPermissionRefs(ctx, role.Permissions); err != nil {
		return err
	}
	role.UpdatedAt = e.clock()
	if err := e.storage.UpdateRole(ctx, role); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

// SetRoleParent rewires a role's parent link. An empty parentID detaches the
// role from its parent.
func (e *Engine) SetRoleParent(ctx context.Context, roleID, parentID string) error {
	role, err := e.storage.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if parentID != "" {
		if _, err := e.storage.GetRole(ctx, parentID); err != nil {
			return err
		}
		if err := e.resolver.ValidateParent(ctx, roleID, parentID); err != nil {
			return err
		}
	}
	role.ParentID = parentID
	role.UpdatedAt = e.clock()
	if err := e.storage.UpdateRole(ctx, role); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("role parent changed", "role", roleID, "parent", parentID)
	return nil
}

// AddPermissionToRole appends a permission reference, idempotently.
func (e *Engine) AddPermissionToRole(ctx context.Context, roleID, permissionID string) error {
	role, err := e.storage.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if _, err := e.storage.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if role.HasPermission(permissionID) {
		return nil
	}
	role.Permissions = append(role.Permissions, permissionID)
	role.UpdatedAt = e.clock()
	if err := e.storage.UpdateRole(ctx, role); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

// RemovePermissionFromRole drops a permission reference if present.
func (e *Engine) RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	role, err := e.storage.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	kept := role.Permissions[:0]
	removed := false
	for _, id := range role.Permissions {
		if id == permissionID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		return nil
	}
	role.Permissions = kept
	role.UpdatedAt = e.clock()
	if err := e.storage.UpdateRole(ctx, role); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

// DeleteRole removes a role. Roles that still parent other roles cannot be
// deleted; reparent or delete the children first.
func (e *Engine) DeleteRole(ctx context.Context, roleID string) error {
	children, err := e.resolver.ResolveDescendants(ctx, roleID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return &ValidationError{Field: "role.id", Message: "role " + roleID + " still has child roles"}
	}
	if err := e.storage.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("role deleted", "role", roleID)
	return nil
}

// CreatePermission compiles the permission's conditions before storing it, so
// a malformed policy is rejected at write time instead of surfacing during a
// check.
func (e *Engine) CreatePermission(ctx context.Context, perm *Permission) error {
	if perm == nil {
		return &ValidationError{Field: "permission", Message: "must not be nil"}
	}
	if perm.ID == "" {
		return &ValidationError{Field: "permission.id", Message: "must not be empty"}
	}
	if perm.ResourceType == "" {
		return &ValidationError{Field: "permission.resource_type", Message: "must not be empty"}
	}
	if perm.Action == "" {
		return &ValidationError{Field: "permission.action", Message: "must not be empty"}
	}
	if _, err := perm.Compiled(); err != nil {
		return err
	}
	perm.CreatedAt = e.clock()
	if err := e.storage.CreatePermission(ctx, perm); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("permission created", "permission", perm.ID,
		"action", perm.Action, "resource_type", perm.ResourceType)
	return nil
}

// DeletePermission removes a permission. Role references to it become inert
// and are skipped during resolution.
func (e *Engine) DeletePermission(ctx context.Context, permissionID string) error {
	if err := e.storage.DeletePermission(ctx, permissionID); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

// CreateResource registers a resource instance with its attributes.
func (e *Engine) CreateResource(ctx context.Context, res *Resource) error {
	if res == nil {
		return &ValidationError{Field: "resource", Message: "must not be nil"}
	}
	if res.ID == "" {
		return &ValidationError{Field: "resource.id", Message: "must not be empty"}
	}
	if res.Type == "" {
		return &ValidationError{Field: "resource.type", Message: "must not be empty"}
	}
	if err := e.storage.CreateResource(ctx, res); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

// UpdateResource replaces a stored resource's attributes.
func (e *Engine) UpdateResource(ctx context.Context, res *Resource) error {
	if res == nil {
		return &ValidationError{Field: "resource", Message: "must not be nil"}
	}
	if err := e.storage.UpdateResource(ctx, res); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

// DeleteResource removes a resource instance.
func (e *Engine) DeleteResource(ctx context.Context, resourceID string) error {
	if err := e.storage.DeleteResource(ctx, resourceID); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

// AssignRole grants a role to a user in a domain. expiresAt may be zero for
// a grant without expiry. Re-assigning a revoked or expired pair reactivates
// it with the new expiry.
func (e *Engine) AssignRole(ctx context.Context, userID, roleID, domain string, expiresAt time.Time) error {
	if _, err := e.storage.GetUser(ctx, userID); err != nil {
		return err
	}
	if _, err := e.storage.GetRole(ctx, roleID); err != nil {
		return err
	}
	a := &RoleAssignment{
		UserID:    userID,
		RoleID:    roleID,
		Domain:    domain,
		GrantedAt: e.clock(),
		ExpiresAt: expiresAt,
	}
	if err := e.storage.AssignRole(ctx, a); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("role assigned", "user", userID, "role", roleID, "domain", domain)
	return nil
}

// RevokeRole marks the assignment revoked. Takes effect on the next check.
func (e *Engine) RevokeRole(ctx context.Context, userID, roleID, domain string) error {
	if err := e.storage.RevokeRole(ctx, userID, roleID, domain); err != nil {
		return err
	}
	e.invalidate(ctx)
	e.logger.Info("role revoked", "user", userID, "role", roleID, "domain", domain)
	return nil
}

func (e *Engine) checkPermissionRefs(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := e.storage.GetPermission(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func validStatus(s EntityStatus) bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}
