package rbac

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultMaxHierarchyDepth bounds the parent chain walked during resolution.
const DefaultMaxHierarchyDepth = 10

// HierarchyResolver computes effective permission sets through role
// inheritance. Roles form a forest (single parent); resolution walks the
// parent chain with a visited set and a hop bound so a corrupted graph is
// reported as a HierarchyError instead of looping.
//
// Resolved sets are cached per role, tagged with a generation counter.
// Any role-graph write bumps the generation (Invalidate), which atomically
// discards every stale entry without tracking transitive dependents.
type HierarchyResolver struct {
	storage  Storage
	maxDepth int

	gen   atomic.Uint64
	mu    sync.RWMutex
	cache map[string]hierarchyCacheEntry
}

type hierarchyCacheEntry struct {
	perms map[string]struct{}
	gen   uint64
}

// NewHierarchyResolver builds a resolver over storage. maxDepth <= 0 selects
// DefaultMaxHierarchyDepth.
func NewHierarchyResolver(storage Storage, maxDepth int) *HierarchyResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxHierarchyDepth
	}
	return &HierarchyResolver{
		storage:  storage,
		maxDepth: maxDepth,
		cache:    make(map[string]hierarchyCacheEntry),
	}
}

// Invalidate discards all cached resolutions. Call on any mutation to a
// role's direct permissions or parent link.
func (h *HierarchyResolver) Invalidate() {
	h.gen.Add(1)
}

// ResolveEffectivePermissions returns the union of the role's direct
// permission IDs and those of every ancestor. A role revisited during the
// ascent yields a CircularDependency HierarchyError; a chain longer than the
// depth bound yields MaxDepthExceeded. Both are integrity errors, never
// silently swallowed into a deny.
func (h *HierarchyResolver) ResolveEffectivePermissions(ctx context.Context, roleID string) (map[string]struct{}, error) {
	gen := h.gen.Load()
	h.mu.RLock()
	if entry, ok := h.cache[roleID]; ok && entry.gen == gen {
		h.mu.RUnlock()
		return cloneSet(entry.perms), nil
	}
	h.mu.RUnlock()

	perms := make(map[string]struct{})
	visited := make(map[string]bool, h.maxDepth)
	currentID := roleID
	for hops := 0; ; hops++ {
		if visited[currentID] {
			return nil, &HierarchyError{Kind: CircularDependency, RoleID: currentID}
		}
		if hops >= h.maxDepth {
			return nil, &HierarchyError{Kind: MaxDepthExceeded, RoleID: roleID}
		}
		visited[currentID] = true

		role, err := h.storage.GetRole(ctx, currentID)
		if err != nil {
			if IsNotFound(err) && currentID != roleID {
				// dangling parent reference: stop the ascent
				break
			}
			return nil, err
		}
		if role.IsActive() {
			for _, pid := range role.Permissions {
				perms[pid] = struct{}{}
			}
		}
		if role.ParentID == "" {
			break
		}
		currentID = role.ParentID
	}

	h.mu.Lock()
	h.cache[roleID] = hierarchyCacheEntry{perms: perms, gen: gen}
	h.mu.Unlock()
	return cloneSet(perms), nil
}

// ResolveAncestors returns the role's parent chain, immediate parent first,
// with the same cycle and depth protection as permission resolution.
func (h *HierarchyResolver) ResolveAncestors(ctx context.Context, roleID string) ([]string, error) {
	ancestors := make([]string, 0, 4)
	visited := map[string]bool{}
	currentID := roleID
	for hops := 0; ; hops++ {
		if visited[currentID] {
			return nil, &HierarchyError{Kind: CircularDependency, RoleID: currentID}
		}
		if hops >= h.maxDepth {
			return nil, &HierarchyError{Kind: MaxDepthExceeded, RoleID: roleID}
		}
		visited[currentID] = true

		role, err := h.storage.GetRole(ctx, currentID)
		if err != nil {
			if IsNotFound(err) && currentID != roleID {
				break
			}
			return nil, err
		}
		if role.ParentID == "" {
			break
		}
		ancestors = append(ancestors, role.ParentID)
		currentID = role.ParentID
	}
	return ancestors, nil
}

// IsAncestor reports whether ancestorID appears in roleID's parent chain.
func (h *HierarchyResolver) IsAncestor(ctx context.Context, ancestorID, roleID string) (bool, error) {
	ancestors, err := h.ResolveAncestors(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, id := range ancestors {
		if id == ancestorID {
			return true, nil
		}
	}
	return false, nil
}

// ResolveDescendants returns every role that transitively inherits from
// roleID, in breadth-first order. Used by administrative queries such as
// the permissions matrix.
func (h *HierarchyResolver) ResolveDescendants(ctx context.Context, roleID string) ([]string, error) {
	all, err := h.storage.ListRoles(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	children := make(map[string][]string, len(all))
	for _, r := range all {
		if r.ParentID != "" {
			children[r.ParentID] = append(children[r.ParentID], r.ID)
		}
	}

	descendants := make([]string, 0)
	visited := map[string]bool{roleID: true}
	queue := []string{roleID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			if visited[child] {
				return nil, &HierarchyError{Kind: CircularDependency, RoleID: child}
			}
			visited[child] = true
			descendants = append(descendants, child)
			queue = append(queue, child)
		}
	}
	return descendants, nil
}

// ValidateParent checks whether setting parentID on roleID keeps the graph
// acyclic and within the depth bound. Used at role-mutation time so
// corruption is rejected before it reaches storage.
func (h *HierarchyResolver) ValidateParent(ctx context.Context, roleID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == roleID {
		return &HierarchyError{Kind: CircularDependency, RoleID: roleID}
	}
	visited := map[string]bool{roleID: true}
	currentID := parentID
	for hops := 0; ; hops++ {
		if visited[currentID] {
			return &HierarchyError{Kind: CircularDependency, RoleID: currentID}
		}
		if hops >= h.maxDepth {
			return &HierarchyError{Kind: MaxDepthExceeded, RoleID: roleID}
		}
		visited[currentID] = true

		role, err := h.storage.GetRole(ctx, currentID)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		if role.ParentID == "" {
			return nil
		}
		currentID = role.ParentID
	}
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
