package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/rbac"
	"github.com/oarkflow/squealx"
)

// SQLStore persists the full rbac.Storage surface in SQL (squealx).
// Attribute maps and permission lists ride in JSON columns so the schema
// stays the same across drivers.
type SQLStore struct {
	db *squealx.DB
}

func NewSQLStore(db *squealx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) CreateUser(ctx context.Context, u *rbac.User) error {
	attrs, _ := json.Marshal(u.Attributes)
	q := `INSERT INTO users(id, email, name, attributes_json, status, domain, created_at, updated_at) VALUES(:id, :email, :name, :attributes_json, :status, :domain, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": u.ID, "email": u.Email, "name": u.Name,
		"attributes_json": string(attrs), "status": string(u.Status), "domain": u.Domain,
		"created_at": u.CreatedAt, "updated_at": u.UpdatedAt,
	})
	if err != nil {
		return &rbac.StorageError{Op: "create user", Err: err}
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*rbac.User, error) {
	q := `SELECT id, email, name, attributes_json, status, domain, created_at, updated_at FROM users WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, &rbac.StorageError{Op: "get user", Err: err}
	}
	defer r.Close()
	if !r.Next() {
		return nil, &rbac.NotFoundError{Kind: "user", ID: id}
	}
	return scanUser(r)
}

func (s *SQLStore) UpdateUser(ctx context.Context, u *rbac.User) error {
	attrs, _ := json.Marshal(u.Attributes)
	q := `UPDATE users SET email=:email, name=:name, attributes_json=:attributes_json, status=:status, domain=:domain, updated_at=:updated_at WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": u.ID, "email": u.Email, "name": u.Name,
		"attributes_json": string(attrs), "status": string(u.Status), "domain": u.Domain,
		"updated_at": u.UpdatedAt,
	})
	if err != nil {
		return &rbac.StorageError{Op: "update user", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.NotFoundError{Kind: "user", ID: u.ID}
	}
	return nil
}

func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	q := `UPDATE users SET status=:status, updated_at=:updated_at WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": id, "status": string(rbac.StatusDeleted), "updated_at": time.Now(),
	})
	if err != nil {
		return &rbac.StorageError{Op: "delete user", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.NotFoundError{Kind: "user", ID: id}
	}
	return nil
}

func (s *SQLStore) ListUsers(ctx context.Context, filter rbac.ListFilter) ([]*rbac.User, error) {
	q := `SELECT id FROM users WHERE (:domain = '' OR domain = :domain) ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"domain": filter.Domain})
	if err != nil {
		return nil, &rbac.StorageError{Op: "list users", Err: err}
	}
	defer r.Close()
	out := make([]*rbac.User, 0)
	for r.Next() {
		var id string
		_ = r.Scan(&id)
		if u, err := s.GetUser(ctx, id); err == nil {
			out = append(out, u)
		}
	}
	return paginate(out, filter), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*rbac.User, error) {
	var id, email, name, attrsJSON, status, domain string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&id, &email, &name, &attrsJSON, &status, &domain, &createdRaw, &updatedRaw); err != nil {
		return nil, &rbac.StorageError{Op: "scan user", Err: err}
	}
	u := &rbac.User{ID: id, Email: email, Name: name, Status: rbac.EntityStatus(status), Domain: domain}
	_ = json.Unmarshal([]byte(attrsJSON), &u.Attributes)
	u.CreatedAt = scanTime(createdRaw)
	u.UpdatedAt = scanTime(updatedRaw)
	return u, nil
}

func (s *SQLStore) CreateRole(ctx context.Context, role *rbac.Role) error {
	perms, _ := json.Marshal(role.Permissions)
	meta, _ := json.Marshal(role.Metadata)
	q := `INSERT INTO roles(id, name, description, permissions_json, parent_id, domain, status, metadata_json, created_at, updated_at) VALUES(:id, :name, :description, :permissions_json, :parent_id, :domain, :status, :metadata_json, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": role.ID, "name": role.Name, "description": role.Description,
		"permissions_json": string(perms), "parent_id": role.ParentID, "domain": role.Domain,
		"status": string(role.Status), "metadata_json": string(meta),
		"created_at": role.CreatedAt, "updated_at": role.UpdatedAt,
	})
	if err != nil {
		return &rbac.StorageError{Op: "create role", Err: err}
	}
	return nil
}

func (s *SQLStore) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	q := `SELECT id, name, description, permissions_json, parent_id, domain, status, metadata_json, created_at, updated_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, &rbac.StorageError{Op: "get role", Err: err}
	}
	defer r.Close()
	if !r.Next() {
		return nil, &rbac.NotFoundError{Kind: "role", ID: id}
	}
	return scanRole(r)
}

func (s *SQLStore) UpdateRole(ctx context.Context, role *rbac.Role) error {
	perms, _ := json.Marshal(role.Permissions)
	meta, _ := json.Marshal(role.Metadata)
	q := `UPDATE roles SET name=:name, description=:description, permissions_json=:permissions_json, parent_id=:parent_id, domain=:domain, status=:status, metadata_json=:metadata_json, updated_at=:updated_at WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": role.ID, "name": role.Name, "description": role.Description,
		"permissions_json": string(perms), "parent_id": role.ParentID, "domain": role.Domain,
		"status": string(role.Status), "metadata_json": string(meta),
		"updated_at": role.UpdatedAt,
	})
	if err != nil {
		return &rbac.StorageError{Op: "update role", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.NotFoundError{Kind: "role", ID: role.ID}
	}
	return nil
}

func (s *SQLStore) DeleteRole(ctx context.Context, id string) error {
	q := `DELETE FROM roles WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return &rbac.StorageError{Op: "delete role", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.NotFoundError{Kind: "role", ID: id}
	}
	return nil
}

func (s *SQLStore) ListRoles(ctx context.Context, filter rbac.ListFilter) ([]*rbac.Role, error) {
	q := `SELECT id FROM roles WHERE (:domain = '' OR domain = '' OR domain = :domain) ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"domain": filter.Domain})
	if err != nil {
		return nil, &rbac.StorageError{Op: "list roles", Err: err}
	}
	defer r.Close()
	out := make([]*rbac.Role, 0)
	for r.Next() {
		var id string
		_ = r.Scan(&id)
		if role, err := s.GetRole(ctx, id); err == nil {
			out = append(out, role)
		}
	}
	return paginate(out, filter), nil
}

func scanRole(r rowScanner) (*rbac.Role, error) {
	var id, name, description, permsJSON, parentID, domain, status, metaJSON string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&id, &name, &description, &permsJSON, &parentID, &domain, &status, &metaJSON, &createdRaw, &updatedRaw); err != nil {
		return nil, &rbac.StorageError{Op: "scan role", Err: err}
	}
	role := &rbac.Role{
		ID: id, Name: name, Description: description,
		ParentID: parentID, Domain: domain, Status: rbac.EntityStatus(status),
	}
	_ = json.Unmarshal([]byte(permsJSON), &role.Permissions)
	_ = json.Unmarshal([]byte(metaJSON), &role.Metadata)
	role.CreatedAt = scanTime(createdRaw)
	role.UpdatedAt = scanTime(updatedRaw)
	return role, nil
}

func (s *SQLStore) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	conds, _ := json.Marshal(p.Conditions)
	q := `INSERT INTO permissions(id, resource_type, action, description, conditions_json, created_at) VALUES(:id, :resource_type, :action, :description, :conditions_json, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "resource_type": p.ResourceType, "action": p.Action,
		"description": p.Description, "conditions_json": string(conds), "created_at": p.CreatedAt,
	})
	if err != nil {
		return &rbac.StorageError{Op: "create permission", Err: err}
	}
	return nil
}

func (s *SQLStore) GetPermission(ctx context.Context, id string) (*rbac.Permission, error) {
	q := `SELECT id, resource_type, action, description, conditions_json, created_at FROM permissions WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, &rbac.StorageError{Op: "get permission", Err: err}
	}
	defer r.Close()
	if !r.Next() {
		return nil, &rbac.NotFoundError{Kind: "permission", ID: id}
	}
	var idv, resourceType, action, description, condsJSON string
	var createdRaw interface{}
	if err := r.Scan(&idv, &resourceType, &action, &description, &condsJSON, &createdRaw); err != nil {
		return nil, &rbac.StorageError{Op: "scan permission", Err: err}
	}
	p := &rbac.Permission{ID: idv, ResourceType: resourceType, Action: action, Description: description}
	_ = json.Unmarshal([]byte(condsJSON), &p.Conditions)
	p.CreatedAt = scanTime(createdRaw)
	return p, nil
}

func (s *SQLStore) DeletePermission(ctx context.Context, id string) error {
	q := `DELETE FROM permissions WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return &rbac.StorageError{Op: "delete permission", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.NotFoundError{Kind: "permission", ID: id}
	}
	return nil
}

func (s *SQLStore) ListPermissions(ctx context.Context, filter rbac.ListFilter) ([]*rbac.Permission, error) {
	q := `SELECT id FROM permissions ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, &rbac.StorageError{Op: "list permissions", Err: err}
	}
	defer r.Close()
	out := make([]*rbac.Permission, 0)
	for r.Next() {
		var id string
		_ = r.Scan(&id)
		if p, err := s.GetPermission(ctx, id); err == nil {
			out = append(out, p)
		}
	}
	return paginate(out, filter), nil
}

func (s *SQLStore) CreateResource(ctx context.Context, res *rbac.Resource) error {
	attrs, _ := json.Marshal(res.Attributes)
	q := `INSERT INTO resources(id, type, attributes_json, parent_id, domain, status, created_at, updated_at) VALUES(:id, :type, :attributes_json, :parent_id, :domain, :status, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": res.ID, "type": res.Type, "attributes_json": string(attrs),
		"parent_id": res.ParentID, "domain": res.Domain, "status": string(res.Status),
		"created_at": res.CreatedAt, "updated_at": res.UpdatedAt,
	})
	if err != nil {
		return &rbac.StorageError{Op: "create resource", Err: err}
	}
	return nil
}

func (s *SQLStore) GetResource(ctx context.Context, id string) (*rbac.Resource, error) {
	q := `SELECT id, type, attributes_json, parent_id, domain, status, created_at, updated_at FROM resources WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, &rbac.StorageError{Op: "get resource", Err: err}
	}
	defer r.Close()
	if !r.Next() {
		return nil, &rbac.NotFoundError{Kind: "resource", ID: id}
	}
	var idv, typ, attrsJSON, parentID, domain, status string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&idv, &typ, &attrsJSON, &parentID, &domain, &status, &createdRaw, &updatedRaw); err != nil {
		return nil, &rbac.StorageError{Op: "scan resource", Err: err}
	}
	res := &rbac.Resource{ID: idv, Type: typ, ParentID: parentID, Domain: domain, Status: rbac.EntityStatus(status)}
	_ = json.Unmarshal([]byte(attrsJSON), &res.Attributes)
	res.CreatedAt = scanTime(createdRaw)
	res.UpdatedAt = scanTime(updatedRaw)
	return res, nil
}

func (s *SQLStore) UpdateResource(ctx context.Context, res *rbac.Resource) error {
	attrs, _ := json.Marshal(res.Attributes)
	q := `UPDATE resources SET type=:type, attributes_json=:attributes_json, parent_id=:parent_id, domain=:domain, status=:status, updated_at=:updated_at WHERE id=:id`
	result, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": res.ID, "type": res.Type, "attributes_json": string(attrs),
		"parent_id": res.ParentID, "domain": res.Domain, "status": string(res.Status),
		"updated_at": time.Now(),
	})
	if err != nil {
		return &rbac.StorageError{Op: "update resource", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &rbac.NotFoundError{Kind: "resource", ID: res.ID}
	}
	return nil
}

func (s *SQLStore) DeleteResource(ctx context.Context, id string) error {
	q := `DELETE FROM resources WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return &rbac.StorageError{Op: "delete resource", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.NotFoundError{Kind: "resource", ID: id}
	}
	return nil
}

// AssignRole upserts on the (user, role, domain) key so re-assigning a
// revoked or expired pair reactivates it.
func (s *SQLStore) AssignRole(ctx context.Context, a *rbac.RoleAssignment) error {
	del := `DELETE FROM role_assignments WHERE user_id = :user_id AND role_id = :role_id AND domain = :domain`
	if _, err := s.db.NamedExecContext(ctx, del, map[string]any{
		"user_id": a.UserID, "role_id": a.RoleID, "domain": a.Domain,
	}); err != nil {
		return &rbac.StorageError{Op: "assign role", Err: err}
	}
	q := `INSERT INTO role_assignments(user_id, role_id, domain, granted_by, granted_at, expires_at, revoked) VALUES(:user_id, :role_id, :domain, :granted_by, :granted_at, :expires_at, 0)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id": a.UserID, "role_id": a.RoleID, "domain": a.Domain,
		"granted_by": a.GrantedBy, "granted_at": a.GrantedAt,
		"expires_at": sqlNullTimeOrNil(a.ExpiresAt),
	})
	if err != nil {
		return &rbac.StorageError{Op: "assign role", Err: err}
	}
	return nil
}

func (s *SQLStore) RevokeRole(ctx context.Context, userID, roleID, domain string) error {
	q := `UPDATE role_assignments SET revoked = 1 WHERE user_id = :user_id AND role_id = :role_id AND domain = :domain`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id": userID, "role_id": roleID, "domain": domain,
	})
	if err != nil {
		return &rbac.StorageError{Op: "revoke role", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.NotFoundError{Kind: "assignment", ID: userID + "/" + roleID}
	}
	return nil
}

func (s *SQLStore) ListAssignments(ctx context.Context, userID, domain string) ([]*rbac.RoleAssignment, error) {
	q := `SELECT user_id, role_id, domain, granted_by, granted_at, expires_at, revoked FROM role_assignments WHERE user_id = :user_id AND (:domain = '' OR domain = '' OR domain = :domain) ORDER BY role_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID, "domain": domain})
	if err != nil {
		return nil, &rbac.StorageError{Op: "list assignments", Err: err}
	}
	defer r.Close()
	out := make([]*rbac.RoleAssignment, 0)
	for r.Next() {
		var uid, rid, dom, grantedBy string
		var grantedRaw, expiresRaw, revokedRaw interface{}
		if err := r.Scan(&uid, &rid, &dom, &grantedBy, &grantedRaw, &expiresRaw, &revokedRaw); err != nil {
			return nil, &rbac.StorageError{Op: "scan assignment", Err: err}
		}
		a := &rbac.RoleAssignment{
			UserID: uid, RoleID: rid, Domain: dom, GrantedBy: grantedBy,
			GrantedAt: scanTime(grantedRaw), Revoked: scanBool(revokedRaw),
		}
		if expiresRaw != nil {
			a.ExpiresAt = scanTime(expiresRaw)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLStore) ListRoleUsers(ctx context.Context, roleID string) ([]string, error) {
	q := `SELECT DISTINCT user_id FROM role_assignments WHERE role_id = :role_id ORDER BY user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_id": roleID})
	if err != nil {
		return nil, &rbac.StorageError{Op: "list role users", Err: err}
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var id string
		_ = r.Scan(&id)
		out = append(out, id)
	}
	return out, nil
}
