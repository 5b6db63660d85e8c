package verify

import "time"

// RuleScope selects what text a rule inspects.
type RuleScope string

const (
	// ScopeUnit inspects the body of the declaration named by AppliesTo.
	ScopeUnit RuleScope = "unit"
	// ScopeFile inspects the whole compiled file.
	ScopeFile RuleScope = "file"
)

// FileTargetKey is the unit-map key shared by all file-scoped rules.
const FileTargetKey = "@file"

// Rule is a declarative check against one source unit. Rules are authored
// per exercise and are read-only at evaluation time.
type Rule struct {
	ID        string
	AppliesTo string
	Scope     RuleScope
	// RequiredMarkers must all occur in the unit text for the rule to pass.
	RequiredMarkers []string
	// ForbiddenMarkers must all be absent, e.g. placeholder tokens.
	ForbiddenMarkers []string
	// DiagnosticOrder lists markers in priority order; the first unmet one
	// determines the failure message. Markers not listed are checked after,
	// in declaration order.
	DiagnosticOrder []string
	// Condition is an optional expr-lang expression over the unit text.
	Condition string
}

// TargetKey returns the unit-map key this rule is evaluated against.
func (r Rule) TargetKey() string {
	if r.Scope == ScopeFile {
		return FileTargetKey
	}
	return r.AppliesTo
}

// RuleResult is the outcome of evaluating one rule. Never mutated after
// creation.
type RuleResult struct {
	RuleID  string
	Passed  bool
	Skipped bool
	Message string
	// ExecutionTime is recorded for reporting only, never for control flow.
	ExecutionTime time.Duration
}
