// Package report combines rule results and compiler diagnostics into a
// single run report with a derived status.
package report

import (
	"time"

	"github.com/google/uuid"

	"excheck/internal/domain/verify"
)

// Aggregate builds the run report for one finished run. Status is derived
// from the inputs, never set independently; rule order in the output mirrors
// declaration order; total execution time is the sum of per-rule timings so
// the report stays deterministic regardless of scheduling.
func Aggregate(
	exerciseID string,
	token uint64,
	tests []verify.RuleResult,
	compilationErrors []verify.CompilationError,
	consoleOutput []string,
) verify.ExerciseRunReport {
	var total time.Duration
	for _, test := range tests {
		total += test.ExecutionTime
	}

	return verify.ExerciseRunReport{
		ExerciseID:         exerciseID,
		ReportID:           uuid.NewString(),
		Status:             verify.DeriveStatus(tests, compilationErrors),
		Tests:              tests,
		CompilationErrors:  compilationErrors,
		ConsoleOutput:      consoleOutput,
		TotalExecutionTime: total,
		RunToken:           token,
	}
}

// SkippedResults marks every rule as skipped. Used when a failed compile
// means units could not be produced: reporting those rules as failed would
// mislead the learner about which specific requirement is unmet.
func SkippedResults(rules []verify.Rule) []verify.RuleResult {
	results := make([]verify.RuleResult, len(rules))
	for i, rule := range rules {
		results[i] = verify.RuleResult{
			RuleID:  rule.ID,
			Skipped: true,
			Message: "skipped: the file did not compile",
		}
	}
	return results
}

// InProgress is the report snapshot delivered when a run has been dispatched
// but the transpiler and evaluator have not finished yet.
func InProgress(exerciseID string, token uint64) verify.ExerciseRunReport {
	return verify.ExerciseRunReport{
		ExerciseID: exerciseID,
		ReportID:   uuid.NewString(),
		Status:     verify.StatusInProgress,
		RunToken:   token,
	}
}
