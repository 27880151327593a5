package rbac

import (
	"errors"
	"fmt"
)

// Sentinel errors. Entity lookups wrap ErrNotFound; Require wraps
// ErrAccessDenied so callers can branch between "forbidden" and "system
// failure" with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
)

// NotFoundError identifies which entity a failed lookup was about.
type NotFoundError struct {
	Kind string // "user", "role", "permission", "resource", "assignment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsNotFound reports whether err stems from a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAccessDenied reports whether err is an ordinary denial rather than a
// hard failure.
func IsAccessDenied(err error) bool { return errors.Is(err, ErrAccessDenied) }

// ValidationError reports malformed input detected at mutation time:
// empty identifiers, dangling permission references, bad status values.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// HierarchyErrorKind distinguishes the two role-graph integrity failures.
type HierarchyErrorKind string

const (
	CircularDependency HierarchyErrorKind = "circular_dependency"
	MaxDepthExceeded   HierarchyErrorKind = "max_depth_exceeded"
)

// HierarchyError signals a corrupted role graph: a cycle in the parent
// chain or a chain deeper than the configured bound. These indicate data
// corruption needing operator attention and are never folded into a deny.
type HierarchyError struct {
	Kind   HierarchyErrorKind
	RoleID string
}

func (e *HierarchyError) Error() string {
	switch e.Kind {
	case CircularDependency:
		return fmt.Sprintf("role hierarchy: circular dependency at role %s", e.RoleID)
	case MaxDepthExceeded:
		return fmt.Sprintf("role hierarchy: max depth exceeded resolving role %s", e.RoleID)
	}
	return fmt.Sprintf("role hierarchy: %s at role %s", e.Kind, e.RoleID)
}

// IsHierarchyError extracts a HierarchyError from err, if present.
func IsHierarchyError(err error) (*HierarchyError, bool) {
	var he *HierarchyError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// PolicyError reports a malformed condition tree detected when a
// permission's conditions are compiled.
type PolicyError struct {
	Field   string // dotted field path, when applicable
	Op      string // operator, when applicable
	Message string
}

func (e *PolicyError) Error() string {
	msg := "policy: " + e.Message
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q", e.Field)
		if e.Op != "" {
			msg += fmt.Sprintf(", operator %q", e.Op)
		}
		msg += ")"
	}
	return msg
}

// StorageError wraps an opaque backend failure. It propagates to callers of
// Check as a hard error; it is never converted into an allow or a deny.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
