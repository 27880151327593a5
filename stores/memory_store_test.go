package stores

import (
	"context"
	"testing"
	"time"

	"github.com/oarkflow/rbac"
)

func TestMemoryStoreUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u := &rbac.User{ID: "u1", Email: "u1@corp.example", Status: rbac.StatusActive,
		Attributes: map[string]any{"dept": "eng"}}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateUser(ctx, u); err == nil {
		t.Fatalf("duplicate create should fail")
	}

	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// mutate the returned copy; the store must not see it
	got.Attributes["dept"] = "sales"
	again, _ := s.GetUser(ctx, "u1")
	if again.Attributes["dept"] != "eng" {
		t.Fatalf("store leaked its internal map")
	}

	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deleted, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("soft-deleted user must stay readable: %v", err)
	}
	if deleted.Status != rbac.StatusDeleted {
		t.Fatalf("expected deleted status, got %s", deleted.Status)
	}

	if _, err := s.GetUser(ctx, "missing"); !rbac.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestMemoryStoreListUsersFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, u := range []*rbac.User{
		{ID: "a", Domain: "t1"},
		{ID: "b", Domain: "t2"},
		{ID: "c", Domain: "t1"},
	} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	users, err := s.ListUsers(ctx, rbac.ListFilter{Domain: "t1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 || users[0].ID != "a" || users[1].ID != "c" {
		t.Fatalf("unexpected list %v", users)
	}

	paged, err := s.ListUsers(ctx, rbac.ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "b" {
		t.Fatalf("unexpected page %v", paged)
	}
}

func TestMemoryStoreAssignmentReactivation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := &rbac.RoleAssignment{UserID: "u1", RoleID: "r1", GrantedAt: time.Now()}
	if err := s.AssignRole(ctx, a); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.RevokeRole(ctx, "u1", "r1", ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	list, _ := s.ListAssignments(ctx, "u1", "")
	if len(list) != 1 || !list[0].Revoked {
		t.Fatalf("revocation not recorded: %+v", list)
	}

	// re-assign clears the revocation
	if err := s.AssignRole(ctx, a); err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	list, _ = s.ListAssignments(ctx, "u1", "")
	if len(list) != 1 || list[0].Revoked {
		t.Fatalf("re-assignment should reactivate: %+v", list)
	}

	if err := s.RevokeRole(ctx, "u1", "nope", ""); !rbac.IsNotFound(err) {
		t.Fatalf("revoking a missing assignment should be NotFound, got %v", err)
	}
}

func TestMemoryStoreListRoleUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, a := range []*rbac.RoleAssignment{
		{UserID: "u1", RoleID: "r1"},
		{UserID: "u2", RoleID: "r1", Domain: "t1"},
		{UserID: "u3", RoleID: "r2"},
	} {
		if err := s.AssignRole(ctx, a); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	users, err := s.ListRoleUsers(ctx, "r1")
	if err != nil {
		t.Fatalf("list role users: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Fatalf("unexpected users %v", users)
	}
}

func TestMemoryAuditStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()
	base := time.Now()
	entries := []*rbac.AuditEntry{
		{UserID: "u1", Action: "read", ResourceType: "doc", Allowed: true, Timestamp: base},
		{UserID: "u1", Action: "write", ResourceType: "doc", Allowed: false, Timestamp: base.Add(time.Minute)},
		{UserID: "u2", Action: "read", ResourceType: "doc", Allowed: true, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", s.Len())
	}

	got, err := s.Query(ctx, rbac.AuditFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for u1, got %d", len(got))
	}
	got, err = s.Query(ctx, rbac.AuditFilter{StartTime: base.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("time filter failed, got %d", len(got))
	}
	got, err = s.Query(ctx, rbac.AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("limit ignored, got %d", len(got))
	}
	// IDs are assigned on record
	if got[0].ID == "" {
		t.Fatalf("entry should have an assigned ID")
	}
}
