package rbac

import (
	"context"
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a declarative bootstrap snapshot: entities and assignments to
// seed a store with, plus engine tuning. It is a load-time convenience, not
// a live configuration surface.
type Config struct {
	Version     uint16            `json:"version" yaml:"version"`
	Users       []*User           `json:"users" yaml:"users"`
	Roles       []*Role           `json:"roles" yaml:"roles"`
	Permissions []*Permission     `json:"permissions" yaml:"permissions"`
	Resources   []*Resource       `json:"resources" yaml:"resources"`
	Assignments []*RoleAssignment `json:"assignments" yaml:"assignments"`
	Engine      EngineConfig      `json:"engine" yaml:"engine"`
	Hierarchy   map[string]string `json:"hierarchy" yaml:"hierarchy"` // child -> parent
}

type EngineConfig struct {
	DecisionCacheTTL  int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	MaxHierarchyDepth int   `json:"max_hierarchy_depth" yaml:"max_hierarchy_depth"`
	BatchWorkerCount  int   `json:"batch_worker_count" yaml:"batch_worker_count"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ApplyConfig applies engine settings and seeds storage through the
// validating admin API. Permissions load first so role references resolve,
// then roles in dependency order, then users, resources and assignments.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if cfg.Engine.DecisionCacheTTL > 0 {
		e.decisionCacheTTL = time.Duration(cfg.Engine.DecisionCacheTTL) * time.Millisecond
	}
	if cfg.Engine.BatchWorkerCount > 0 {
		e.batchWorkers = cfg.Engine.BatchWorkerCount
	}
	if cfg.Engine.MaxHierarchyDepth > 0 {
		e.maxDepth = cfg.Engine.MaxHierarchyDepth
		e.resolver = NewHierarchyResolver(e.storage, e.maxDepth)
	}

	for _, p := range cfg.Permissions {
		if err := e.CreatePermission(ctx, p); err != nil {
			return err
		}
	}
	for _, r := range orderRolesByParent(cfg.Roles) {
		if err := e.CreateRole(ctx, r); err != nil {
			return err
		}
	}
	for child, parent := range cfg.Hierarchy {
		if err := e.SetRoleParent(ctx, child, parent); err != nil {
			return err
		}
	}
	for _, u := range cfg.Users {
		if err := e.CreateUser(ctx, u); err != nil {
			return err
		}
	}
	for _, r := range cfg.Resources {
		if err := e.CreateResource(ctx, r); err != nil {
			return err
		}
	}
	for _, a := range cfg.Assignments {
		if err := e.AssignRole(ctx, a.UserID, a.RoleID, a.Domain, a.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// orderRolesByParent sorts roles so parents precede children. Roles whose
// parent is not part of the config keep their position; a cycle in the input
// surfaces later as a HierarchyError from CreateRole.
func orderRolesByParent(roles []*Role) []*Role {
	byID := make(map[string]*Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	ordered := make([]*Role, 0, len(roles))
	placed := make(map[string]bool, len(roles))
	var place func(r *Role, depth int)
	place = func(r *Role, depth int) {
		if placed[r.ID] || depth > len(roles) {
			return
		}
		if parent, ok := byID[r.ParentID]; ok && !placed[parent.ID] {
			place(parent, depth+1)
		}
		if !placed[r.ID] {
			placed[r.ID] = true
			ordered = append(ordered, r)
		}
	}
	for _, r := range roles {
		place(r, 0)
	}
	return ordered
}
