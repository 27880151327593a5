package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/rbac/logger"
)

const (
	defaultDecisionCacheTTL = time.Second
	defaultBatchWorkers     = 8
	defaultAuditBuffer      = 1024
)

// Engine is the authorization decision point. It combines role hierarchy
// resolution with attribute condition evaluation and answers every request
// deny-by-default: access is granted only when a resolved permission matches
// the requested action and resource type and its conditions hold.
type Engine struct {
	storage   Storage
	cache     Cache
	evaluator *PolicyEvaluator
	resolver  *HierarchyResolver
	logger    logger.Logger

	decisionCacheTTL time.Duration
	maxDepth         int
	batchWorkers     int
	clock            func() time.Time

	// asynchronous audit channel to keep the decision hot path allocation-light
	auditSink AuditSink
	auditCh   chan AuditEntry
	auditWG   sync.WaitGroup
	closeOnce sync.Once
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// WithCache installs a decision cache. Only unconditional decisions made
// without caller-supplied context are cached; everything else is recomputed.
func WithCache(c Cache) EngineOption {
	return func(e *Engine) error {
		e.cache = c
		return nil
	}
}

// WithAuditSink installs an audit sink. Entries are delivered by a background
// worker and dropped when the buffer is full rather than blocking checks.
func WithAuditSink(s AuditSink) EngineOption {
	return func(e *Engine) error {
		e.auditSink = s
		return nil
	}
}

// WithLogger installs a Logger on the Engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l == nil {
			return &ValidationError{Field: "logger", Message: "must not be nil"}
		}
		e.logger = l
		return nil
	}
}

// WithDecisionCacheTTL sets how long cached decisions stay valid.
func WithDecisionCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return &ValidationError{Field: "decision_cache_ttl", Message: "must be positive"}
		}
		e.decisionCacheTTL = ttl
		return nil
	}
}

// WithMaxHierarchyDepth bounds role parent chains.
func WithMaxHierarchyDepth(depth int) EngineOption {
	return func(e *Engine) error {
		if depth <= 0 {
			return &ValidationError{Field: "max_hierarchy_depth", Message: "must be positive"}
		}
		e.maxDepth = depth
		return nil
	}
}

// WithBatchWorkers sets the CheckBatch worker pool size.
func WithBatchWorkers(n int) EngineOption {
	return func(e *Engine) error {
		if n <= 0 {
			return &ValidationError{Field: "batch_workers", Message: "must be positive"}
		}
		e.batchWorkers = n
		return nil
	}
}

// NewEngine builds an Engine over storage. The zero configuration uses no
// decision cache, no audit sink and a null logger.
func NewEngine(storage Storage, opts ...EngineOption) (*Engine, error) {
	if storage == nil {
		return nil, &ValidationError{Field: "storage", Message: "must not be nil"}
	}
	e := &Engine{
		storage:          storage,
		evaluator:        NewPolicyEvaluator(),
		logger:           logger.NewNullLogger(),
		decisionCacheTTL: defaultDecisionCacheTTL,
		maxDepth:         DefaultMaxHierarchyDepth,
		batchWorkers:     defaultBatchWorkers,
		clock:            time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.resolver = NewHierarchyResolver(storage, e.maxDepth)

	if e.auditSink != nil {
		e.auditCh = make(chan AuditEntry, defaultAuditBuffer)
		e.auditWG.Add(1)
		go func() {
			defer e.auditWG.Done()
			bg := context.Background()
			for entry := range e.auditCh {
				if err := e.auditSink.Record(bg, &entry); err != nil {
					e.logger.Error("audit record failed", "user", entry.UserID, "error", err.Error())
				}
			}
		}()
	}
	return e, nil
}

// Close flushes the audit worker. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.auditCh != nil {
			close(e.auditCh)
			e.auditWG.Wait()
		}
	})
	return nil
}

// Resolver exposes the hierarchy resolver for administrative queries.
func (e *Engine) Resolver() *HierarchyResolver { return e.resolver }

// Storage exposes the backing store.
func (e *Engine) Storage() Storage { return e.storage }

// Can is the boolean convenience form of Check. Denials are false; only
// infrastructure and integrity failures surface as errors.
func (e *Engine) Can(ctx context.Context, userID, action string, resource *Resource, extra map[string]any) (bool, error) {
	dec, err := e.Check(ctx, userID, action, resource, extra)
	if err != nil {
		return false, err
	}
	return dec.Allowed, nil
}

// Require returns nil when access is allowed and an error wrapping
// ErrAccessDenied otherwise. Useful for guard clauses in handlers.
func (e *Engine) Require(ctx context.Context, userID, action string, resource *Resource, extra map[string]any) error {
	dec, err := e.Check(ctx, userID, action, resource, extra)
	if err != nil {
		return err
	}
	if !dec.Allowed {
		return fmt.Errorf("user %s cannot %s %s: %s: %w", userID, action, resource.Type, dec.Reason, ErrAccessDenied)
	}
	return nil
}

// Check answers a single authorization question with a full Decision.
// extra is merged into the evaluation context under the caller's own keys
// and wins over the engine-assembled user/resource/time sections.
func (e *Engine) Check(ctx context.Context, userID, action string, resource *Resource, extra map[string]any) (*Decision, error) {
	if resource == nil {
		return nil, &ValidationError{Field: "resource", Message: "must not be nil"}
	}
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if action == "" {
		return nil, &ValidationError{Field: "action", Message: "must not be empty"}
	}

	cacheable := e.cache != nil && len(extra) == 0
	key := decisionKey(resource.Domain, userID, action, resource.Type)
	if cacheable {
		if dec, ok := e.cache.Get(ctx, key); ok {
			e.logger.Debug("decision cache hit", "key", key)
			e.audit(ctx, dec)
			return dec, nil
		}
	}

	dec, unconditional, err := e.decide(ctx, userID, action, resource, extra)
	if err != nil {
		return nil, err
	}

	if cacheable && unconditional {
		e.cache.Set(ctx, key, dec, e.decisionCacheTTL)
	}
	e.audit(ctx, dec)
	return dec, nil
}

// decide runs the full resolution pipeline. The second return reports whether
// the outcome depended only on role structure, never on request attributes,
// which makes it safe to cache under the coarse key.
func (e *Engine) decide(ctx context.Context, userID, action string, resource *Resource, extra map[string]any) (*Decision, bool, error) {
	now := e.clock()
	dec := &Decision{
		Allowed:      false,
		UserID:       userID,
		Action:       action,
		ResourceType: resource.Type,
		ResourceID:   resource.ID,
		Domain:       resource.Domain,
		Timestamp:    now,
	}

	user, err := e.storage.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			dec.Reason = fmt.Sprintf("user %s not found", userID)
			return dec, true, nil
		}
		return nil, false, err
	}
	if !user.IsActive() {
		dec.Reason = fmt.Sprintf("user %s is %s", userID, user.Status)
		return dec, true, nil
	}

	assignments, err := e.storage.ListAssignments(ctx, userID, resource.Domain)
	if err != nil {
		return nil, false, err
	}
	roleIDs := make([]string, 0, len(assignments))
	sawExpired := false
	for _, a := range assignments {
		if a.ActiveAt(now) {
			roleIDs = append(roleIDs, a.RoleID)
		} else if a.Expired(now) && !a.Revoked {
			sawExpired = true
		}
	}
	if len(roleIDs) == 0 {
		if sawExpired {
			dec.Reason = fmt.Sprintf("user %s has no active roles in domain %q (expired assignments only)", userID, resource.Domain)
		} else {
			dec.Reason = fmt.Sprintf("user %s has no active roles in domain %q", userID, resource.Domain)
		}
		return dec, true, nil
	}

	// Effective permission IDs across every active role, hierarchy included.
	// Hierarchy corruption is a hard error here, never a deny.
	permIDs := make(map[string]struct{})
	for _, roleID := range roleIDs {
		set, err := e.resolver.ResolveEffectivePermissions(ctx, roleID)
		if err != nil {
			return nil, false, err
		}
		for id := range set {
			permIDs[id] = struct{}{}
		}
	}

	exact, wildcard, err := e.candidatePermissions(ctx, permIDs, action, resource.Type)
	if err != nil {
		return nil, false, err
	}
	if len(exact) == 0 && len(wildcard) == 0 {
		dec.Reason = fmt.Sprintf("no permission grants %s on %s", action, resource.Type)
		return dec, true, nil
	}

	var evalCtx map[string]any
	buildCtx := func() (map[string]any, error) {
		if evalCtx != nil {
			return evalCtx, nil
		}
		built, err := e.assembleContext(ctx, user, resource, now, extra)
		if err != nil {
			return nil, err
		}
		evalCtx = built
		return evalCtx, nil
	}

	unconditional := true
	tried := make([]string, 0, len(exact)+len(wildcard))
	for _, tier := range [][]*Permission{exact, wildcard} {
		for _, perm := range tier {
			if !perm.Conditional() {
				dec.Allowed = true
				dec.Reason = fmt.Sprintf("granted by permission %s", perm.ID)
				dec.MatchedPermissions = append(dec.MatchedPermissions, perm.ID)
				return dec, unconditional, nil
			}
			unconditional = false
			cc, err := perm.Compiled()
			if err != nil {
				return nil, false, err
			}
			ec, err := buildCtx()
			if err != nil {
				return nil, false, err
			}
			if e.evaluator.Evaluate(cc, ec) {
				dec.Allowed = true
				dec.Reason = fmt.Sprintf("granted by permission %s (conditions satisfied)", perm.ID)
				dec.MatchedPermissions = append(dec.MatchedPermissions, perm.ID)
				return dec, false, nil
			}
			tried = append(tried, perm.ID)
		}
	}

	dec.Reason = fmt.Sprintf("conditions not satisfied for %s on %s (evaluated: %s)",
		action, resource.Type, strings.Join(tried, ", "))
	return dec, false, nil
}

// candidatePermissions loads and partitions the resolved permissions into the
// exact (resource type and action both literal matches) and wildcard tiers.
// Exact candidates are always evaluated before any wildcard one.
func (e *Engine) candidatePermissions(ctx context.Context, permIDs map[string]struct{}, action, resourceType string) (exact, wildcard []*Permission, err error) {
	ids := make([]string, 0, len(permIDs))
	for id := range permIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		perm, err := e.storage.GetPermission(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				// role references a permission deleted out from under it
				continue
			}
			return nil, nil, err
		}
		if !perm.Matches(resourceType, action) {
			continue
		}
		if perm.IsExact(resourceType, action) {
			exact = append(exact, perm)
		} else {
			wildcard = append(wildcard, perm)
		}
	}
	return exact, wildcard, nil
}

// assembleContext builds the evaluation context: user and resource attribute
// maps, a time section, then caller extras merged on top.
func (e *Engine) assembleContext(ctx context.Context, user *User, resource *Resource, now time.Time, extra map[string]any) (map[string]any, error) {
	userSection := map[string]any{
		"id":     user.ID,
		"email":  user.Email,
		"name":   user.Name,
		"status": string(user.Status),
		"domain": user.Domain,
	}
	for k, v := range user.Attributes {
		userSection[k] = v
	}

	resourceSection := map[string]any{
		"id":     resource.ID,
		"type":   resource.Type,
		"domain": resource.Domain,
	}
	attrs := resource.Attributes
	if resource.ID != "" {
		if stored, err := e.storage.GetResource(ctx, resource.ID); err == nil {
			for k, v := range stored.Attributes {
				resourceSection[k] = v
			}
		} else if !IsNotFound(err) {
			return nil, err
		}
	}
	for k, v := range attrs {
		resourceSection[k] = v
	}

	built := map[string]any{
		"user":     userSection,
		"resource": resourceSection,
		"time": map[string]any{
			"hour":        now.Hour(),
			"day_of_week": int(now.Weekday()),
			"timestamp":   now.Unix(),
			"current":     now,
		},
	}
	for k, v := range extra {
		built[k] = v
	}
	return built, nil
}

// CheckBatch evaluates requests concurrently over a bounded worker pool.
// Each result slot lines up with its request; one bad request never poisons
// the others. When ctx is cancelled, remaining items carry the context error.
func (e *Engine) CheckBatch(ctx context.Context, requests []CheckRequest) []BatchResult {
	results := make([]BatchResult, len(requests))
	if len(requests) == 0 {
		return results
	}
	workers := e.batchWorkers
	if workers > len(requests) {
		workers = len(requests)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				req := requests[i]
				res := req.Resource
				if res != nil && res.Domain == "" && req.Domain != "" {
					r := *res
					r.Domain = req.Domain
					res = &r
				}
				dec, err := e.Check(ctx, req.UserID, req.Action, res, req.Context)
				results[i] = BatchResult{Decision: dec, Err: err}
			}
		}()
	}

	cancelled := -1
feed:
	for i := range requests {
		select {
		case indexes <- i:
		case <-ctx.Done():
			cancelled = i
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	if cancelled >= 0 {
		for i := cancelled; i < len(requests); i++ {
			if results[i].Decision == nil && results[i].Err == nil {
				results[i] = BatchResult{Err: ctx.Err()}
			}
		}
	}
	return results
}

// GetEffectivePermissions returns every permission the user holds in the
// domain through active assignments and role inheritance, sorted by ID.
func (e *Engine) GetEffectivePermissions(ctx context.Context, userID, domain string) ([]*Permission, error) {
	user, err := e.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return []*Permission{}, nil
	}

	roles, err := e.GetUserRoles(ctx, userID, domain)
	if err != nil {
		return nil, err
	}
	permIDs := make(map[string]struct{})
	for _, role := range roles {
		set, err := e.resolver.ResolveEffectivePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for id := range set {
			permIDs[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(permIDs))
	for id := range permIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	perms := make([]*Permission, 0, len(ids))
	for _, id := range ids {
		perm, err := e.storage.GetPermission(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

// GetUserRoles returns the roles behind the user's active assignments in the
// domain. Expired and revoked assignments are skipped.
func (e *Engine) GetUserRoles(ctx context.Context, userID, domain string) ([]*Role, error) {
	assignments, err := e.storage.ListAssignments(ctx, userID, domain)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	roles := make([]*Role, 0, len(assignments))
	for _, a := range assignments {
		if !a.ActiveAt(now) {
			continue
		}
		role, err := e.storage.GetRole(ctx, a.RoleID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

// GetAllowedActions lists the distinct actions the user's effective
// permissions grant on the resource type, conditions not considered.
func (e *Engine) GetAllowedActions(ctx context.Context, userID, domain, resourceType string) ([]string, error) {
	perms, err := e.GetEffectivePermissions(ctx, userID, domain)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	actions := make([]string, 0)
	for _, p := range perms {
		if p.ResourceType != resourceType && p.ResourceType != Wildcard {
			continue
		}
		if _, ok := seen[p.Action]; ok {
			continue
		}
		seen[p.Action] = struct{}{}
		actions = append(actions, p.Action)
	}
	sort.Strings(actions)
	return actions, nil
}

func (e *Engine) audit(ctx context.Context, dec *Decision) {
	e.logger.Debug("authorization decision",
		"user", dec.UserID,
		"action", dec.Action,
		"resource_type", dec.ResourceType,
		"resource_id", dec.ResourceID,
		"domain", dec.Domain,
		"allowed", dec.Allowed,
		"reason", dec.Reason)

	if e.auditCh == nil {
		return
	}
	entry := AuditEntry{
		UserID:             dec.UserID,
		Action:             dec.Action,
		ResourceType:       dec.ResourceType,
		ResourceID:         dec.ResourceID,
		Domain:             dec.Domain,
		Allowed:            dec.Allowed,
		Reason:             dec.Reason,
		MatchedPermissions: dec.MatchedPermissions,
		Timestamp:          dec.Timestamp,
	}
	select {
	case e.auditCh <- entry:
		// queued
	default:
		// drop instead of blocking the hot path
		e.logger.Error("audit entry dropped, channel full",
			"user_id", dec.UserID, "action", dec.Action, "resource_type", dec.ResourceType)
	}
}

func decisionKey(domain, userID, action, resourceType string) string {
	return domain + "|" + userID + "|" + action + "|" + resourceType
}

// invalidate clears every derived artifact after a write: the hierarchy
// cache generation and any cached decisions.
func (e *Engine) invalidate(ctx context.Context) {
	e.resolver.Invalidate()
	if e.cache != nil {
		e.cache.Clear(ctx)
	}
}
