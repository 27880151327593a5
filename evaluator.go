package rbac

import (
	"strings"
)

// PolicyEvaluator judges compiled condition trees against a context mapping.
// Evaluation is a pure function of its inputs: no state, no side effects,
// and no dependence on term order beyond short-circuiting the AND, so batch
// items can evaluate the same tree concurrently.
type PolicyEvaluator struct{}

// NewPolicyEvaluator returns an evaluator. It is stateless and safe to share.
func NewPolicyEvaluator() *PolicyEvaluator { return &PolicyEvaluator{} }

// Evaluate reports whether every term of the tree is satisfied by the
// context. An empty tree is always satisfied. Missing context fields,
// unresolvable template references, and non-numeric ordering operands all
// evaluate to false: conditions fail closed, they never fail open and never
// panic on absent data.
func (e *PolicyEvaluator) Evaluate(cc *CompiledConditions, context map[string]any) bool {
	if cc.Empty() {
		return true
	}
	for i := range cc.terms {
		if !e.evalTerm(&cc.terms[i], context) {
			return false
		}
	}
	return true
}

// EvaluateConditions compiles and evaluates a raw condition tree in one
// step. Prefer compiling once via CompileConditions on hot paths.
func (e *PolicyEvaluator) EvaluateConditions(conds Conditions, context map[string]any) (bool, error) {
	cc, err := CompileConditions(conds)
	if err != nil {
		return false, err
	}
	return e.Evaluate(cc, context), nil
}

func (e *PolicyEvaluator) evalTerm(term *compiledTerm, context map[string]any) bool {
	actual, ok := resolvePath(context, term.path)
	if !ok {
		return false
	}

	expected := term.value
	set := term.set
	re := term.re
	if term.template != nil {
		resolved, ok := resolvePath(context, term.template)
		if !ok {
			return false
		}
		expected = resolved
		if term.op == OpIn || term.op == OpNotIn {
			s, ok := asSlice(resolved)
			if !ok {
				return false
			}
			set = s
		}
	}

	switch term.op {
	case OpEq:
		return equalValues(actual, expected)
	case OpNe:
		return !equalValues(actual, expected)
	case OpGt:
		c, ok := orderValues(actual, expected)
		return ok && c > 0
	case OpLt:
		c, ok := orderValues(actual, expected)
		return ok && c < 0
	case OpGte:
		c, ok := orderValues(actual, expected)
		return ok && c >= 0
	case OpLte:
		c, ok := orderValues(actual, expected)
		return ok && c <= 0
	case OpIn:
		return memberOf(actual, set)
	case OpNotIn:
		return !memberOf(actual, set)
	case OpContains:
		return containsValue(actual, expected)
	case OpStartsWith:
		return strings.HasPrefix(toString(actual), toString(expected))
	case OpEndsWith:
		return strings.HasSuffix(toString(actual), toString(expected))
	case OpMatches:
		if re == nil {
			// template-resolved pattern: compile here, malformed => false
			pat, ok := expected.(string)
			if !ok {
				return false
			}
			r, err := compilePattern(pat)
			if err != nil {
				return false
			}
			re = r
		}
		return re.MatchString(toString(actual))
	}
	return false
}
