package verify

import "time"

// Status is the overall state of one exercise run.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CompilationError is a diagnostic produced by the transpiler collaborator.
type CompilationError struct {
	File    string
	Line    int
	Column  int
	Code    string
	Message string
}

// ExerciseRunReport is the externally visible unit of truth for one run.
type ExerciseRunReport struct {
	ExerciseID        string
	ReportID          string
	Status            Status
	Tests             []RuleResult
	CompilationErrors []CompilationError
	ConsoleOutput     []string
	// TotalExecutionTime is the sum of per-rule timings, not wall clock.
	TotalExecutionTime time.Duration
	RunToken           uint64
}

// DeriveStatus computes the run status from rule results and compiler
// diagnostics. It is the only way a report status may be set for a finished
// run; compilation errors take precedence over rule failures.
func DeriveStatus(tests []RuleResult, compilationErrors []CompilationError) Status {
	if len(compilationErrors) > 0 {
		return StatusFailed
	}
	for _, test := range tests {
		if test.Skipped {
			continue
		}
		if !test.Passed {
			return StatusFailed
		}
	}
	return StatusCompleted
}

// Counts summarizes the report's rule results. Skipped results are counted
// separately and never as failures.
func (r ExerciseRunReport) Counts() (passed, failed, skipped int) {
	for _, test := range r.Tests {
		switch {
		case test.Skipped:
			skipped++
		case test.Passed:
			passed++
		default:
			failed++
		}
	}
	return passed, failed, skipped
}
