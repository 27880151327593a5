package rbac_test

import (
	"context"
	"testing"

	rbac "github.com/oarkflow/rbac"
	"github.com/oarkflow/rbac/stores"
)

func newHierarchyFixture(t *testing.T) (*stores.MemoryStore, *rbac.HierarchyResolver) {
	t.Helper()
	store := stores.NewMemoryStore()
	resolver := rbac.NewHierarchyResolver(store, 0)
	return store, resolver
}

func mustCreateRole(t *testing.T, store *stores.MemoryStore, role *rbac.Role) {
	t.Helper()
	if err := store.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("create role %s: %v", role.ID, err)
	}
}

func TestResolveEffectivePermissionsChain(t *testing.T) {
	ctx := context.Background()
	store, resolver := newHierarchyFixture(t)
	mustCreateRole(t, store, &rbac.Role{ID: "viewer", Permissions: []string{"perm-read"}})
	mustCreateRole(t, store, &rbac.Role{ID: "editor", ParentID: "viewer", Permissions: []string{"perm-edit"}})
	mustCreateRole(t, store, &rbac.Role{ID: "admin", ParentID: "editor", Permissions: []string{"perm-delete"}})

	perms, err := resolver.ResolveEffectivePermissions(ctx, "admin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"perm-read", "perm-edit", "perm-delete"} {
		if _, ok := perms[want]; !ok {
			t.Fatalf("admin should inherit %s, got %v", want, perms)
		}
	}

	perms, err = resolver.ResolveEffectivePermissions(ctx, "viewer")
	if err != nil {
		t.Fatalf("resolve viewer: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("viewer must not gain child permissions: %v", perms)
	}
}

func TestResolveEffectivePermissionsDeterministic(t *testing.T) {
	ctx := context.Background()
	store, resolver := newHierarchyFixture(t)
	mustCreateRole(t, store, &rbac.Role{ID: "base", Permissions: []string{"p1", "p2"}})
	mustCreateRole(t, store, &rbac.Role{ID: "derived", ParentID: "base", Permissions: []string{"p3"}})

	first, err := resolver.ResolveEffectivePermissions(ctx, "derived")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := resolver.ResolveEffectivePermissions(ctx, "derived")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if len(again) != len(first) {
			t.Fatalf("resolution diverged: %v vs %v", first, again)
		}
		for id := range first {
			if _, ok := again[id]; !ok {
				t.Fatalf("resolution lost %s on pass %d", id, i)
			}
		}
	}
}

func TestResolveCircularDependency(t *testing.T) {
	ctx := context.Background()
	store, resolver := newHierarchyFixture(t)
	mustCreateRole(t, store, &rbac.Role{ID: "a", Permissions: []string{"pa"}})
	mustCreateRole(t, store, &rbac.Role{ID: "b", ParentID: "a", Permissions: []string{"pb"}})

	// corrupt the graph behind the resolver's back
	a, err := store.GetRole(ctx, "a")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	a.ParentID = "b"
	if err := store.UpdateRole(ctx, a); err != nil {
		t.Fatalf("update role: %v", err)
	}

	_, err = resolver.ResolveEffectivePermissions(ctx, "a")
	herr, ok := rbac.IsHierarchyError(err)
	if !ok {
		t.Fatalf("expected HierarchyError, got %v", err)
	}
	if herr.Kind != rbac.CircularDependency {
		t.Fatalf("expected circular dependency, got %s", herr.Kind)
	}
}

func TestResolveMaxDepthExceeded(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	resolver := rbac.NewHierarchyResolver(store, 3)
	mustCreateRole(t, store, &rbac.Role{ID: "r0"})
	mustCreateRole(t, store, &rbac.Role{ID: "r1", ParentID: "r0"})
	mustCreateRole(t, store, &rbac.Role{ID: "r2", ParentID: "r1"})
	mustCreateRole(t, store, &rbac.Role{ID: "r3", ParentID: "r2"})

	if _, err := resolver.ResolveEffectivePermissions(ctx, "r2"); err != nil {
		t.Fatalf("chain within bound should resolve: %v", err)
	}
	_, err := resolver.ResolveEffectivePermissions(ctx, "r3")
	herr, ok := rbac.IsHierarchyError(err)
	if !ok || herr.Kind != rbac.MaxDepthExceeded {
		t.Fatalf("expected max depth exceeded, got %v", err)
	}
}

func TestResolveSkipsInactiveRolePermissions(t *testing.T) {
	ctx := context.Background()
	store, resolver := newHierarchyFixture(t)
	mustCreateRole(t, store, &rbac.Role{ID: "parent", Status: rbac.StatusInactive, Permissions: []string{"pp"}})
	mustCreateRole(t, store, &rbac.Role{ID: "child", ParentID: "parent", Permissions: []string{"pc"}})

	perms, err := resolver.ResolveEffectivePermissions(ctx, "child")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := perms["pp"]; ok {
		t.Fatalf("inactive ancestor permissions must not flow down")
	}
	if _, ok := perms["pc"]; !ok {
		t.Fatalf("child's own permissions missing")
	}
}

func TestResolveAncestorsAndDescendants(t *testing.T) {
	ctx := context.Background()
	store, resolver := newHierarchyFixture(t)
	mustCreateRole(t, store, &rbac.Role{ID: "root"})
	mustCreateRole(t, store, &rbac.Role{ID: "mid", ParentID: "root"})
	mustCreateRole(t, store, &rbac.Role{ID: "leaf-a", ParentID: "mid"})
	mustCreateRole(t, store, &rbac.Role{ID: "leaf-b", ParentID: "mid"})

	ancestors, err := resolver.ResolveAncestors(ctx, "leaf-a")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(ancestors) != 2 || ancestors[0] != "mid" || ancestors[1] != "root" {
		t.Fatalf("unexpected ancestors %v", ancestors)
	}

	descendants, err := resolver.ResolveDescendants(ctx, "root")
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if len(descendants) != 3 {
		t.Fatalf("expected 3 descendants, got %v", descendants)
	}

	ok, err := resolver.IsAncestor(ctx, "root", "leaf-b")
	if err != nil || !ok {
		t.Fatalf("root should be an ancestor of leaf-b (err=%v)", err)
	}
	ok, err = resolver.IsAncestor(ctx, "leaf-a", "root")
	if err != nil || ok {
		t.Fatalf("leaf must not be an ancestor of root (err=%v)", err)
	}
}

func TestInvalidateDiscardsCachedResolution(t *testing.T) {
	ctx := context.Background()
	store, resolver := newHierarchyFixture(t)
	mustCreateRole(t, store, &rbac.Role{ID: "worker", Permissions: []string{"p-old"}})

	if _, err := resolver.ResolveEffectivePermissions(ctx, "worker"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	role, err := store.GetRole(ctx, "worker")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	role.Permissions = []string{"p-new"}
	if err := store.UpdateRole(ctx, role); err != nil {
		t.Fatalf("update role: %v", err)
	}

	// stale until invalidated
	perms, err := resolver.ResolveEffectivePermissions(ctx, "worker")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := perms["p-old"]; !ok {
		t.Fatalf("expected cached pre-mutation set, got %v", perms)
	}

	resolver.Invalidate()
	perms, err = resolver.ResolveEffectivePermissions(ctx, "worker")
	if err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if _, ok := perms["p-new"]; !ok {
		t.Fatalf("expected fresh set after invalidate, got %v", perms)
	}
}

func TestValidateParentRejectsCycle(t *testing.T) {
	ctx := context.Background()
	store, resolver := newHierarchyFixture(t)
	mustCreateRole(t, store, &rbac.Role{ID: "top"})
	mustCreateRole(t, store, &rbac.Role{ID: "bottom", ParentID: "top"})

	if err := resolver.ValidateParent(ctx, "top", "bottom"); err == nil {
		t.Fatalf("reparenting top under bottom must be rejected")
	}
	if err := resolver.ValidateParent(ctx, "bottom", "bottom"); err == nil {
		t.Fatalf("self-parent must be rejected")
	}
	if err := resolver.ValidateParent(ctx, "bottom", "top"); err != nil {
		t.Fatalf("existing valid link rejected: %v", err)
	}
}
