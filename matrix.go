package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// PermissionsMatrix is a tabular role/permission view for administrative
// tooling. Rows are permissions, columns are roles; a cell reports whether
// the role holds the permission directly or through an ancestor.
type PermissionsMatrix struct {
	Roles []*Role
	Rows  []MatrixRow
}

// MatrixRow is one permission across every role.
type MatrixRow struct {
	PermissionID string
	ResourceType string
	Action       string
	Description  string
	Cells        map[string]MatrixCell // keyed by role ID
}

// MatrixCell is a single role/permission intersection.
type MatrixCell struct {
	RoleID       string
	PermissionID string
	Granted      bool
	Inherited    bool
	SourceRole   string // the ancestor granting it, when inherited
}

// MatrixManager builds and edits permission matrices on top of an Engine.
// Edits go through the engine's validating admin API so cache invalidation
// happens as usual.
type MatrixManager struct {
	engine *Engine
}

func NewMatrixManager(engine *Engine) *MatrixManager {
	return &MatrixManager{engine: engine}
}

// BuildMatrix assembles the matrix for one domain. Inherited grants carry
// the ID of the nearest ancestor that holds the permission directly.
func (m *MatrixManager) BuildMatrix(ctx context.Context, domain string) (*PermissionsMatrix, error) {
	roles, err := m.engine.storage.ListRoles(ctx, ListFilter{Domain: domain})
	if err != nil {
		return nil, err
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })

	perms, err := m.engine.storage.ListPermissions(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })

	// direct holders, then ancestor chains for inheritance attribution
	direct := make(map[string]map[string]bool, len(roles))
	ancestors := make(map[string][]string, len(roles))
	for _, r := range roles {
		set := make(map[string]bool, len(r.Permissions))
		for _, pid := range r.Permissions {
			set[pid] = true
		}
		direct[r.ID] = set
		chain, err := m.engine.resolver.ResolveAncestors(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		ancestors[r.ID] = chain
	}
	directOf := func(roleID, permID string) bool {
		if set, ok := direct[roleID]; ok {
			return set[permID]
		}
		role, err := m.engine.storage.GetRole(ctx, roleID)
		if err != nil {
			return false
		}
		return role.HasPermission(permID)
	}

	matrix := &PermissionsMatrix{Roles: roles, Rows: make([]MatrixRow, 0, len(perms))}
	for _, p := range perms {
		row := MatrixRow{
			PermissionID: p.ID,
			ResourceType: p.ResourceType,
			Action:       p.Action,
			Description:  p.Description,
			Cells:        make(map[string]MatrixCell, len(roles)),
		}
		for _, r := range roles {
			cell := MatrixCell{RoleID: r.ID, PermissionID: p.ID}
			if direct[r.ID][p.ID] {
				cell.Granted = true
			} else {
				for _, anc := range ancestors[r.ID] {
					if directOf(anc, p.ID) {
						cell.Granted = true
						cell.Inherited = true
						cell.SourceRole = anc
						break
					}
				}
			}
			row.Cells[r.ID] = cell
		}
		matrix.Rows = append(matrix.Rows, row)
	}
	return matrix, nil
}

// Grant adds a direct permission to a role.
func (m *MatrixManager) Grant(ctx context.Context, roleID, permissionID string) error {
	return m.engine.AddPermissionToRole(ctx, roleID, permissionID)
}

// Revoke removes a direct permission from a role. Inherited grants cannot be
// revoked at the child; they must be removed from the source role.
func (m *MatrixManager) Revoke(ctx context.Context, roleID, permissionID string) error {
	role, err := m.engine.storage.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if !role.HasPermission(permissionID) {
		return &ValidationError{
			Field:   "permission_id",
			Message: fmt.Sprintf("role %s does not hold %s directly", roleID, permissionID),
		}
	}
	return m.engine.RemovePermissionFromRole(ctx, roleID, permissionID)
}

// Render formats the matrix as an aligned text table. Inherited grants show
// as "(✓)" to distinguish them from direct ones.
func (m *PermissionsMatrix) Render() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-40s", "Permission"))
	for _, r := range m.Roles {
		b.WriteString(fmt.Sprintf(" │ %-10s", r.ID))
	}
	b.WriteString("\n")
	for _, row := range m.Rows {
		label := row.ResourceType + " - " + row.Action
		b.WriteString(fmt.Sprintf("%-40s", label))
		for _, r := range m.Roles {
			cell := row.Cells[r.ID]
			mark := "✗"
			switch {
			case cell.Granted && cell.Inherited:
				mark = "(✓)"
			case cell.Granted:
				mark = "✓"
			}
			b.WriteString(fmt.Sprintf(" │ %-10s", mark))
		}
		b.WriteString("\n")
	}
	return b.String()
}
