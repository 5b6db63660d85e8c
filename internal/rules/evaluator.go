// Package rules evaluates declarative exercise rules against located source
// units. Evaluation is a pure function of the unit text: no I/O and no
// mutation of shared state beyond the compiled-expression cache.
package rules

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"excheck/internal/domain/verify"
)

// Evaluator runs ordered diagnostic rules against source units. It caches
// compiled rule conditions so repeated runs over the same exercise do not
// recompile expressions.
type Evaluator struct {
	logger *zap.Logger

	cacheMu sync.RWMutex
	cache   map[string]*vm.Program
}

// NewEvaluator constructs an Evaluator. A nil logger is replaced with a nop.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		logger: logger,
		cache:  make(map[string]*vm.Program),
	}
}

// Evaluate runs every rule against its target unit. It is total: the result
// slice always has one entry per rule, in declaration order, and a rule
// whose evaluation blows up is contained to a single internal-error result.
func (e *Evaluator) Evaluate(units map[string]*verify.SourceUnit, rules []verify.Rule) []verify.RuleResult {
	results := make([]verify.RuleResult, len(rules))
	for i, rule := range rules {
		results[i] = e.evaluateRule(units[rule.TargetKey()], rule)
	}
	return results
}

func (e *Evaluator) evaluateRule(unit *verify.SourceUnit, rule verify.Rule) (result verify.RuleResult) {
	start := time.Now()

	defer func() {
		result.RuleID = rule.ID
		result.ExecutionTime = time.Since(start)

		if r := recover(); r != nil {
			e.logger.Error("rule evaluation panicked",
				zap.String("rule", rule.ID),
				zap.Any("panic", r))
			result = verify.RuleResult{
				RuleID:        rule.ID,
				Passed:        false,
				Message:       fmt.Sprintf("internal error evaluating rule %s", rule.ID),
				ExecutionTime: time.Since(start),
			}
		}
	}()

	if unit == nil {
		result.Message = fmt.Sprintf("no function, assignment or class named %q was found", rule.AppliesTo)
		return result
	}

	if msg, ok := firstUnmetMarker(unit.Text, rule); !ok {
		result.Message = msg
		return result
	}

	if rule.Condition != "" {
		ok, err := e.checkCondition(unit, rule.Condition)
		if err != nil {
			e.logger.Warn("rule condition failed to evaluate",
				zap.String("rule", rule.ID),
				zap.Error(err))
			result.Message = fmt.Sprintf("internal error evaluating rule %s", rule.ID)
			return result
		}
		if !ok {
			result.Message = fmt.Sprintf("%s does not satisfy: %s", describeTarget(rule), rule.Condition)
			return result
		}
	}

	result.Passed = true
	return result
}

// firstUnmetMarker walks the rule's diagnostic order and reports the first
// unmet marker check, so feedback names the most specific missing piece.
// Markers absent from DiagnosticOrder are checked afterwards in declaration
// order. Returns ok=true when every marker check is met.
func firstUnmetMarker(text string, rule verify.Rule) (string, bool) {
	forbidden := make(map[string]bool, len(rule.ForbiddenMarkers))
	for _, marker := range rule.ForbiddenMarkers {
		forbidden[marker] = true
	}

	checked := make(map[string]bool, len(rule.DiagnosticOrder))
	check := func(marker string) (string, bool) {
		checked[marker] = true
		if forbidden[marker] {
			if strings.Contains(text, marker) {
				return fmt.Sprintf("%s still contains %s", describeTarget(rule), marker), false
			}
			return "", true
		}
		if !strings.Contains(text, marker) {
			return fmt.Sprintf("%s should implement %s", describeTarget(rule), marker), false
		}
		return "", true
	}

	for _, marker := range rule.DiagnosticOrder {
		if msg, ok := check(marker); !ok {
			return msg, ok
		}
	}
	for _, marker := range rule.RequiredMarkers {
		if checked[marker] {
			continue
		}
		if msg, ok := check(marker); !ok {
			return msg, ok
		}
	}
	for _, marker := range rule.ForbiddenMarkers {
		if checked[marker] {
			continue
		}
		if msg, ok := check(marker); !ok {
			return msg, ok
		}
	}

	return "", true
}

func describeTarget(rule verify.Rule) string {
	if rule.Scope == verify.ScopeFile {
		return "the file"
	}
	return rule.AppliesTo
}

func (e *Evaluator) checkCondition(unit *verify.SourceUnit, condition string) (bool, error) {
	program, err := e.compile(condition)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, conditionEnv(unit))
	if err != nil {
		return false, fmt.Errorf("run condition: %w", err)
	}

	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("condition returned %T, want bool", out)
	}
	return ok, nil
}

// compile returns a cached program or compiles and caches a new one.
func (e *Evaluator) compile(condition string) (*vm.Program, error) {
	e.cacheMu.RLock()
	program, found := e.cache[condition]
	e.cacheMu.RUnlock()
	if found {
		return program, nil
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if program, found := e.cache[condition]; found {
		return program, nil
	}

	program, err := expr.Compile(condition, conditionOptions(nil)...)
	if err != nil {
		return nil, fmt.Errorf("compile condition: %w", err)
	}

	e.cache[condition] = program
	return program, nil
}

// CheckCondition validates that a rule condition compiles. Used by catalog
// validation so authoring mistakes surface at load time, not mid-run.
func CheckCondition(condition string) error {
	if condition == "" {
		return nil
	}
	_, err := expr.Compile(condition, conditionOptions(nil)...)
	if err != nil {
		return fmt.Errorf("compile condition: %w", err)
	}
	return nil
}

func conditionEnv(unit *verify.SourceUnit) map[string]any {
	text := unit.Text
	return map[string]any{
		"text":  text,
		"name":  unit.Name,
		"kind":  string(unit.Kind),
		"found": true,
		"contains": func(marker string) bool {
			return strings.Contains(text, marker)
		},
		"count": func(marker string) int {
			return strings.Count(text, marker)
		},
	}
}

func conditionOptions(unit *verify.SourceUnit) []expr.Option {
	// Complexity cap keeps a typo'd condition from stalling a run.
	const maxNodes = 200

	env := map[string]any{
		"text":     "",
		"name":     "",
		"kind":     "",
		"found":    false,
		"contains": func(string) bool { return false },
		"count":    func(string) int { return 0 },
	}
	if unit != nil {
		env = conditionEnv(unit)
	}

	return []expr.Option{
		expr.Env(env),
		expr.AsBool(),
		expr.MaxNodes(maxNodes),
	}
}
