package rbac

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ============================================================================
// CONDITION COMPILATION
// ============================================================================

// Supported condition operators.
const (
	OpEq         = "=="
	OpNe         = "!="
	OpGt         = ">"
	OpLt         = "<"
	OpGte        = ">="
	OpLte        = "<="
	OpIn         = "in"
	OpNotIn      = "not_in"
	OpContains   = "contains"
	OpStartsWith = "startswith"
	OpEndsWith   = "endswith"
	OpMatches    = "matches"
)

var supportedOps = map[string]bool{
	OpEq: true, OpNe: true,
	OpGt: true, OpLt: true, OpGte: true, OpLte: true,
	OpIn: true, OpNotIn: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true,
	OpMatches: true,
}

// pathSegment is one step of a dotted field path, with optional indexing
// ("tags[0]").
type pathSegment struct {
	key      string
	index    int
	hasIndex bool
}

// fieldPath is a parsed dotted path like "resource.owner_id".
type fieldPath []pathSegment

func (p fieldPath) String() string {
	parts := make([]string, 0, len(p))
	for _, s := range p {
		if s.hasIndex {
			parts = append(parts, fmt.Sprintf("%s[%d]", s.key, s.index))
		} else {
			parts = append(parts, s.key)
		}
	}
	return strings.Join(parts, ".")
}

func parseFieldPath(path string) (fieldPath, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &PolicyError{Field: path, Message: "empty field path"}
	}
	segs := strings.Split(path, ".")
	out := make(fieldPath, 0, len(segs))
	for _, seg := range segs {
		if seg == "" {
			return nil, &PolicyError{Field: path, Message: "empty path segment"}
		}
		if open := strings.IndexByte(seg, '['); open != -1 {
			closeIdx := strings.IndexByte(seg, ']')
			if closeIdx != len(seg)-1 || closeIdx < open+2 {
				return nil, &PolicyError{Field: path, Message: "malformed index in path segment " + seg}
			}
			idx, err := strconv.Atoi(seg[open+1 : closeIdx])
			if err != nil || idx < 0 {
				return nil, &PolicyError{Field: path, Message: "malformed index in path segment " + seg}
			}
			if seg[:open] == "" {
				return nil, &PolicyError{Field: path, Message: "missing key before index in path segment " + seg}
			}
			out = append(out, pathSegment{key: seg[:open], index: idx, hasIndex: true})
			continue
		}
		out = append(out, pathSegment{key: seg})
	}
	return out, nil
}

// resolvePath walks a nested map context. The boolean is false when any
// step is undefined or a non-map intermediate, which fails the condition
// closed rather than raising.
func resolvePath(ctx map[string]any, path fieldPath) (any, bool) {
	var cur any = ctx
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg.key]
		if !ok {
			return nil, false
		}
		if seg.hasIndex {
			list, ok := asSlice(cur)
			if !ok || seg.index >= len(list) {
				return nil, false
			}
			cur = list[seg.index]
		}
	}
	return cur, true
}

var templateRe = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)

// compilePattern anchors the pattern at the start of the subject, so
// "dev@corp" matches "dev@corp.example" but not "x-dev@corp.example".
func compilePattern(pat string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pat + ")")
}

// compiledTerm is one (field, operator, value) triple with everything
// parseable resolved ahead of time.
type compiledTerm struct {
	field    string
	path     fieldPath
	op       string
	value    any
	template fieldPath      // non-nil when value is a "{{path}}" reference
	re       *regexp.Regexp // precompiled pattern for literal "matches"
	set      []any          // normalized collection for in/not_in
}

// CompiledConditions is a condition tree with field paths, template
// references, and match patterns parsed once at permission-creation time.
type CompiledConditions struct {
	terms []compiledTerm
}

// Empty reports whether the tree carries no conditions (always satisfied).
func (c *CompiledConditions) Empty() bool { return c == nil || len(c.terms) == 0 }

// Len returns the number of ANDed terms.
func (c *CompiledConditions) Len() int {
	if c == nil {
		return 0
	}
	return len(c.terms)
}

// CompileConditions validates and compiles a raw condition tree. Malformed
// paths, unknown operators, non-collection in/not_in values, and invalid
// literal regex patterns are reported as PolicyError here instead of
// surfacing at evaluation time.
func CompileConditions(conds Conditions) (*CompiledConditions, error) {
	cc := &CompiledConditions{}
	for field, ops := range conds {
		path, err := parseFieldPath(field)
		if err != nil {
			return nil, err
		}
		if len(ops) == 0 {
			return nil, &PolicyError{Field: field, Message: "no operators for field"}
		}
		for op, value := range ops {
			if !supportedOps[op] {
				return nil, &PolicyError{Field: field, Op: op, Message: "unknown operator"}
			}
			term := compiledTerm{field: field, path: path, op: op, value: value}
			if s, ok := value.(string); ok {
				if m := templateRe.FindStringSubmatch(s); m != nil {
					tp, err := parseFieldPath(m[1])
					if err != nil {
						return nil, &PolicyError{Field: field, Op: op, Message: "malformed template reference " + s}
					}
					term.template = tp
				}
			}
			switch op {
			case OpIn, OpNotIn:
				if term.template == nil {
					set, ok := asSlice(value)
					if !ok {
						return nil, &PolicyError{Field: field, Op: op, Message: "value must be a collection"}
					}
					term.set = set
				}
			case OpMatches:
				if term.template == nil {
					pat, ok := value.(string)
					if !ok {
						return nil, &PolicyError{Field: field, Op: op, Message: "pattern must be a string"}
					}
					re, err := compilePattern(pat)
					if err != nil {
						return nil, &PolicyError{Field: field, Op: op, Message: "invalid pattern: " + err.Error()}
					}
					term.re = re
				}
			}
			cc.terms = append(cc.terms, term)
		}
	}
	return cc, nil
}

// MustCompileConditions panics on malformed conditions. For tests and
// static condition literals only.
func MustCompileConditions(conds Conditions) *CompiledConditions {
	cc, err := CompileConditions(conds)
	if err != nil {
		panic(err)
	}
	return cc
}

// ============================================================================
// VALUE COMPARISON
// ============================================================================

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

// toFloat normalizes numeric values, including numeric-looking strings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// equalValues compares after type coercion: numeric-looking operands are
// compared as numbers, booleans accept their string spellings, everything
// else falls back to string equality.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if ab, ok := a.(bool); ok {
		switch bv := b.(type) {
		case bool:
			return ab == bv
		case string:
			return ab == (strings.EqualFold(bv, "true") || bv == "1" || strings.EqualFold(bv, "yes"))
		}
	}
	return toString(a) == toString(b)
}

// orderValues compares numerically. Non-numeric operands make ordering
// conditions false, not an error.
func orderValues(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

// containsValue implements "contains": substring on strings, membership on
// collections.
func containsValue(actual, expected any) bool {
	if list, ok := asSlice(actual); ok {
		for _, item := range list {
			if equalValues(item, expected) {
				return true
			}
		}
		return false
	}
	if s, ok := actual.(string); ok {
		return strings.Contains(s, toString(expected))
	}
	return false
}

func memberOf(actual any, set []any) bool {
	for _, item := range set {
		if equalValues(actual, item) {
			return true
		}
	}
	return false
}
