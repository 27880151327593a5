package rbac_test

import (
	"context"
	"testing"
	"time"

	rbac "github.com/oarkflow/rbac"
	"github.com/oarkflow/rbac/stores"
)

func TestCheckBatchMultipleRequests(t *testing.T) {
	engine := newTestEngine(t, rbac.WithBatchWorkers(4))
	seedDocumentWorld(t, engine)
	ctx := context.Background()

	reqs := []rbac.CheckRequest{
		{UserID: "alice", Action: "read", Resource: rbac.TypeOnly("document")},
		{UserID: "alice", Action: "delete", Resource: rbac.TypeOnly("document")},
		{UserID: "alice", Action: "edit", Resource: &rbac.Resource{
			Type: "document", ID: "doc-1", Attributes: map[string]any{"owner_id": "alice"},
		}},
		{UserID: "ghost", Action: "read", Resource: rbac.TypeOnly("document")},
	}
	results := engine.CheckBatch(ctx, reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("result %d errored: %v", i, res.Err)
		}
		if res.Decision == nil {
			t.Fatalf("result %d has no decision", i)
		}
	}
	if !results[0].Decision.Allowed {
		t.Fatalf("read should be allowed")
	}
	if results[1].Decision.Allowed {
		t.Fatalf("delete should be denied")
	}
	if !results[2].Decision.Allowed {
		t.Fatalf("owner edit should be allowed: %s", results[2].Decision.Reason)
	}
	if results[3].Decision.Allowed {
		t.Fatalf("unknown user should be denied")
	}
}

func TestCheckBatchIsolatesFailures(t *testing.T) {
	store := stores.NewMemoryStore()
	engine, err := rbac.NewEngine(store)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()

	if err := engine.CreatePermission(ctx, rbac.NewPermissionBuilder().
		ID("perm-read").Resource("document").Action("read").Build()); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := engine.CreateRole(ctx, rbac.NewRoleBuilder().ID("reader").Permissions("perm-read").Build()); err != nil {
		t.Fatalf("create reader: %v", err)
	}
	if err := engine.CreateRole(ctx, &rbac.Role{ID: "broken-a"}); err != nil {
		t.Fatalf("create broken-a: %v", err)
	}
	if err := engine.CreateRole(ctx, &rbac.Role{ID: "broken-b", ParentID: "broken-a"}); err != nil {
		t.Fatalf("create broken-b: %v", err)
	}
	for _, id := range []string{"good", "bad"} {
		if err := engine.CreateUser(ctx, rbac.NewUserBuilder().ID(id).Build()); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	if err := engine.AssignRole(ctx, "good", "reader", "", time.Time{}); err != nil {
		t.Fatalf("assign good: %v", err)
	}
	if err := engine.AssignRole(ctx, "bad", "broken-b", "", time.Time{}); err != nil {
		t.Fatalf("assign bad: %v", err)
	}

	// introduce a cycle under the bad user only
	a, err := store.GetRole(ctx, "broken-a")
	if err != nil {
		t.Fatalf("get broken-a: %v", err)
	}
	a.ParentID = "broken-b"
	if err := store.UpdateRole(ctx, a); err != nil {
		t.Fatalf("update broken-a: %v", err)
	}
	engine.Resolver().Invalidate()

	results := engine.CheckBatch(ctx, []rbac.CheckRequest{
		{UserID: "good", Action: "read", Resource: rbac.TypeOnly("document")},
		{UserID: "bad", Action: "read", Resource: rbac.TypeOnly("document")},
		{UserID: "good", Action: "read", Resource: rbac.TypeOnly("document")},
	})

	if results[0].Err != nil || !results[0].Decision.Allowed {
		t.Fatalf("first item should succeed: %+v", results[0])
	}
	if results[2].Err != nil || !results[2].Decision.Allowed {
		t.Fatalf("third item should succeed despite the failure between: %+v", results[2])
	}
	if _, ok := rbac.IsHierarchyError(results[1].Err); !ok {
		t.Fatalf("second item should report the hierarchy error, got %+v", results[1])
	}
	if results[1].Decision != nil {
		t.Fatalf("errored item must not carry a decision")
	}
}

func TestCheckBatchEmpty(t *testing.T) {
	engine := newTestEngine(t)
	results := engine.CheckBatch(context.Background(), nil)
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestCheckBatchCancellation(t *testing.T) {
	engine := newTestEngine(t, rbac.WithBatchWorkers(1))
	seedDocumentWorld(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reqs := make([]rbac.CheckRequest, 16)
	for i := range reqs {
		reqs[i] = rbac.CheckRequest{UserID: "alice", Action: "read", Resource: rbac.TypeOnly("document")}
	}
	results := engine.CheckBatch(ctx, reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	// every slot is filled: either an evaluated decision or the context error
	for i, res := range results {
		if res.Decision == nil && res.Err == nil {
			t.Fatalf("result %d left empty after cancellation", i)
		}
		if res.Err != nil && res.Err != context.Canceled {
			t.Fatalf("result %d carries unexpected error %v", i, res.Err)
		}
	}
}

func TestCheckBatchDomainOverride(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	if err := engine.CreatePermission(ctx, rbac.NewPermissionBuilder().
		ID("perm-read").Resource("document").Action("read").Build()); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := engine.CreateRole(ctx, rbac.NewRoleBuilder().ID("reader").Permissions("perm-read").Build()); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := engine.CreateUser(ctx, rbac.NewUserBuilder().ID("frank").Build()); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := engine.AssignRole(ctx, "frank", "reader", "tenant-1", time.Time{}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	results := engine.CheckBatch(ctx, []rbac.CheckRequest{
		{UserID: "frank", Action: "read", Resource: rbac.TypeOnly("document"), Domain: "tenant-1"},
		{UserID: "frank", Action: "read", Resource: rbac.TypeOnly("document"), Domain: "tenant-2"},
	})
	if results[0].Err != nil || !results[0].Decision.Allowed {
		t.Fatalf("tenant-1 check should allow: %+v", results[0])
	}
	if results[1].Err != nil || results[1].Decision.Allowed {
		t.Fatalf("tenant-2 check should deny: %+v", results[1])
	}
}
