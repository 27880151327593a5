package stores

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oarkflow/rbac"
)

// MemoryStore implements rbac.Storage in process. Reads return copies so
// callers cannot mutate stored state through aliased maps.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*rbac.User
	roles       map[string]*rbac.Role
	permissions map[string]*rbac.Permission
	resources   map[string]*rbac.Resource
	assignments map[assignmentKey]*rbac.RoleAssignment
}

type assignmentKey struct {
	userID string
	roleID string
	domain string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*rbac.User),
		roles:       make(map[string]*rbac.Role),
		permissions: make(map[string]*rbac.Permission),
		resources:   make(map[string]*rbac.Resource),
		assignments: make(map[assignmentKey]*rbac.RoleAssignment),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *rbac.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return &rbac.ValidationError{Field: "user.id", Message: "user " + u.ID + " already exists"}
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, &rbac.NotFoundError{Kind: "user", ID: id}
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, u *rbac.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return &rbac.NotFoundError{Kind: "user", ID: u.ID}
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

// DeleteUser soft-deletes: the record stays so audit history and assignment
// rows keep a referent, but the user can no longer be granted access.
func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return &rbac.NotFoundError{Kind: "user", ID: id}
	}
	u.Status = rbac.StatusDeleted
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, filter rbac.ListFilter) ([]*rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.User, 0, len(s.users))
	for _, u := range s.users {
		if filter.Domain != "" && u.Domain != filter.Domain {
			continue
		}
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, filter), nil
}

func (s *MemoryStore) CreateRole(ctx context.Context, r *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[r.ID]; exists {
		return &rbac.ValidationError{Field: "role.id", Message: "role " + r.ID + " already exists"}
	}
	s.roles[r.ID] = cloneRole(r)
	return nil
}

func (s *MemoryStore) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, &rbac.NotFoundError{Kind: "role", ID: id}
	}
	return cloneRole(r), nil
}

func (s *MemoryStore) UpdateRole(ctx context.Context, r *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return &rbac.NotFoundError{Kind: "role", ID: r.ID}
	}
	s.roles[r.ID] = cloneRole(r)
	return nil
}

func (s *MemoryStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return &rbac.NotFoundError{Kind: "role", ID: id}
	}
	delete(s.roles, id)
	return nil
}

func (s *MemoryStore) ListRoles(ctx context.Context, filter rbac.ListFilter) ([]*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		if filter.Domain != "" && r.Domain != "" && r.Domain != filter.Domain {
			continue
		}
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, filter), nil
}

func (s *MemoryStore) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.permissions[p.ID]; exists {
		return &rbac.ValidationError{Field: "permission.id", Message: "permission " + p.ID + " already exists"}
	}
	s.permissions[p.ID] = clonePermission(p)
	return nil
}

func (s *MemoryStore) GetPermission(ctx context.Context, id string) (*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return nil, &rbac.NotFoundError{Kind: "permission", ID: id}
	}
	return clonePermission(p), nil
}

func (s *MemoryStore) DeletePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[id]; !ok {
		return &rbac.NotFoundError{Kind: "permission", ID: id}
	}
	delete(s.permissions, id)
	return nil
}

func (s *MemoryStore) ListPermissions(ctx context.Context, filter rbac.ListFilter) ([]*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, clonePermission(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, filter), nil
}

func (s *MemoryStore) CreateResource(ctx context.Context, r *rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.resources[r.ID]; exists {
		return &rbac.ValidationError{Field: "resource.id", Message: "resource " + r.ID + " already exists"}
	}
	s.resources[r.ID] = cloneResource(r)
	return nil
}

func (s *MemoryStore) GetResource(ctx context.Context, id string) (*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, &rbac.NotFoundError{Kind: "resource", ID: id}
	}
	return cloneResource(r), nil
}

func (s *MemoryStore) UpdateResource(ctx context.Context, r *rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.ID]; !ok {
		return &rbac.NotFoundError{Kind: "resource", ID: r.ID}
	}
	s.resources[r.ID] = cloneResource(r)
	return nil
}

func (s *MemoryStore) DeleteResource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[id]; !ok {
		return &rbac.NotFoundError{Kind: "resource", ID: id}
	}
	delete(s.resources, id)
	return nil
}

func (s *MemoryStore) AssignRole(ctx context.Context, a *rbac.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{userID: a.UserID, roleID: a.RoleID, domain: a.Domain}
	cp := *a
	cp.Revoked = false
	s.assignments[key] = &cp
	return nil
}

func (s *MemoryStore) RevokeRole(ctx context.Context, userID, roleID, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{userID: userID, roleID: roleID, domain: domain}
	a, ok := s.assignments[key]
	if !ok {
		return &rbac.NotFoundError{Kind: "assignment", ID: userID + "/" + roleID}
	}
	a.Revoked = true
	return nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context, userID, domain string) ([]*rbac.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.RoleAssignment, 0, 4)
	for key, a := range s.assignments {
		if key.userID != userID {
			continue
		}
		if domain != "" && key.domain != "" && key.domain != domain {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (s *MemoryStore) ListRoleUsers(ctx context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for key := range s.assignments {
		if key.roleID != roleID {
			continue
		}
		if _, ok := seen[key.userID]; ok {
			continue
		}
		seen[key.userID] = struct{}{}
		out = append(out, key.userID)
	}
	sort.Strings(out)
	return out, nil
}

// MemoryAuditStore buffers audit entries in memory. It implements
// rbac.AuditSink and adds query support for tests and small deployments.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []*rbac.AuditEntry
	nextID  int
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Record(ctx context.Context, entry *rbac.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if cp.ID == "" {
		s.nextID++
		cp.ID = "audit-" + strconv.Itoa(s.nextID)
	}
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryAuditStore) Query(ctx context.Context, filter rbac.AuditFilter) ([]*rbac.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*rbac.AuditEntry, 0)
	for _, e := range s.entries {
		if !matchAudit(e, filter) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len reports how many entries were recorded.
func (s *MemoryAuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func matchAudit(e *rbac.AuditEntry, f rbac.AuditFilter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

func paginate[T any](items []T, filter rbac.ListFilter) []T {
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return []T{}
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(items) {
		items = items[:filter.Limit]
	}
	return items
}

func cloneUser(u *rbac.User) *rbac.User {
	cp := *u
	cp.Attributes = cloneAnyMap(u.Attributes)
	return &cp
}

func cloneRole(r *rbac.Role) *rbac.Role {
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	cp.Metadata = cloneAnyMap(r.Metadata)
	return &cp
}

func clonePermission(p *rbac.Permission) *rbac.Permission {
	cp := *p
	if p.Conditions != nil {
		conds := make(rbac.Conditions, len(p.Conditions))
		for field, ops := range p.Conditions {
			conds[field] = cloneAnyMap(ops)
		}
		cp.Conditions = conds
	}
	return &cp
}

func cloneResource(r *rbac.Resource) *rbac.Resource {
	cp := *r
	cp.Attributes = cloneAnyMap(r.Attributes)
	return &cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
