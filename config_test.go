package rbac_test

import (
	"context"
	"testing"

	rbac "github.com/oarkflow/rbac"
	"github.com/oarkflow/rbac/stores"
)

const seedYAML = `
version: 1
engine:
  decision_cache_ttl_ms: 2000
  batch_worker_count: 4
permissions:
  - id: perm-doc-read
    resource_type: document
    action: read
  - id: perm-doc-edit-own
    resource_type: document
    action: edit
    conditions:
      resource.owner_id:
        "==": "{{user.id}}"
roles:
  - id: viewer
    name: Viewer
    permissions: [perm-doc-read]
  - id: editor
    name: Editor
    parent_id: viewer
    permissions: [perm-doc-edit-own]
users:
  - id: alice
    email: alice@corp.example
assignments:
  - user_id: alice
    role_id: editor
`

func TestLoadYAMLAndApply(t *testing.T) {
	loader := rbac.NewConfigLoader()
	cfg, err := loader.LoadYAML([]byte(seedYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if len(cfg.Roles) != 2 || len(cfg.Permissions) != 2 {
		t.Fatalf("unexpected config shape: %+v", cfg)
	}

	engine, err := rbac.NewEngine(stores.NewMemoryStore())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}

	allowed, err := engine.Can(ctx, "alice", "read", rbac.TypeOnly("document"), nil)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !allowed {
		t.Fatalf("seeded editor should inherit read")
	}
}

func TestApplyConfigOrdersRolesByParent(t *testing.T) {
	// children listed before parents still load
	cfg := &rbac.Config{
		Roles: []*rbac.Role{
			{ID: "leaf", ParentID: "mid"},
			{ID: "mid", ParentID: "root"},
			{ID: "root"},
		},
	}
	engine, err := rbac.NewEngine(stores.NewMemoryStore())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	if err := engine.ApplyConfig(context.Background(), cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	ancestors, err := engine.Resolver().ResolveAncestors(context.Background(), "leaf")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("expected full chain, got %v", ancestors)
	}
}

func TestConfigRoundtripJSON(t *testing.T) {
	cfg := &rbac.Config{
		Version: 1,
		Permissions: []*rbac.Permission{
			{ID: "p1", ResourceType: "doc", Action: "read"},
		},
		Hierarchy: map[string]string{"child": "parent"},
	}
	raw, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	back, err := rbac.NewConfigLoader().LoadJSON(raw)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if back.Version != 1 || len(back.Permissions) != 1 || back.Hierarchy["child"] != "parent" {
		t.Fatalf("roundtrip lost data: %+v", back)
	}
}

func TestApplyConfigRejectsMalformedConditions(t *testing.T) {
	cfg := &rbac.Config{
		Permissions: []*rbac.Permission{
			{ID: "bad", ResourceType: "doc", Action: "read",
				Conditions: rbac.Conditions{"user.level": {"??": 1}}},
		},
	}
	engine, err := rbac.NewEngine(stores.NewMemoryStore())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	if err := engine.ApplyConfig(context.Background(), cfg); err == nil {
		t.Fatalf("malformed conditions must fail the load")
	}
}
