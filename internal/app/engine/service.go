// Package engine coordinates one verification run: read the learner's file,
// transpile it, locate the units the exercise's rules refer to, evaluate the
// rules and aggregate everything into a run report.
package engine

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"excheck/internal/domain/verify"
	"excheck/internal/locator"
	"excheck/internal/ports"
	"excheck/internal/report"
	"excheck/internal/rules"
)

// Service runs exercises through the transpile-locate-evaluate pipeline.
type Service struct {
	transpiler ports.Transpiler
	evaluator  *rules.Evaluator
	logger     *zap.Logger
}

// NewService constructs a Service with the provided transpiler dependency.
// A nil logger is replaced with a nop.
func NewService(transpiler ports.Transpiler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		transpiler: transpiler,
		evaluator:  rules.NewEvaluator(logger),
		logger:     logger,
	}
}

// RunExercise performs a one-shot verification run. It never returns an
// error for ordinary grading conditions: compilation failure and rule
// failure are represented as data in the report. The error return is
// reserved for context cancellation.
func (s *Service) RunExercise(ctx context.Context, exercise verify.Exercise) (verify.ExerciseRunReport, error) {
	return s.RunWithToken(ctx, exercise, 0)
}

// RunWithToken is RunExercise with an explicit run token, stamped into the
// report so the watch coordinator can discard superseded results.
func (s *Service) RunWithToken(ctx context.Context, exercise verify.Exercise, token uint64) (rep verify.ExerciseRunReport, err error) {
	defer func() {
		// Outermost boundary: an unexpected internal error becomes a
		// synthetic failed report, so hosts never need their own recovery
		// around a run.
		if r := recover(); r != nil {
			s.logger.Error("verification run panicked",
				zap.String("exercise", exercise.ID),
				zap.Any("panic", r))
			rep = s.syntheticFailure(exercise, token, fmt.Sprintf("internal error: %v", r))
			err = nil
		}
	}()

	source, readErr := os.ReadFile(exercise.FilePath)
	if readErr != nil {
		return s.syntheticFailure(exercise, token, fmt.Sprintf("read source: %v", readErr)), nil
	}

	result, transpileErr := s.transpiler.Transpile(ctx, exercise, string(source))
	if transpileErr != nil {
		if ctx.Err() != nil {
			return verify.ExerciseRunReport{}, ctx.Err()
		}
		return s.syntheticFailure(exercise, token, fmt.Sprintf("transpile: %v", transpileErr)), nil
	}

	var tests []verify.RuleResult
	if len(result.CompilationErrors) > 0 {
		tests = report.SkippedResults(exercise.Rules)
	} else {
		units := locator.LocateAll(result.CompiledText, exercise.Rules)
		tests = s.evaluator.Evaluate(units, exercise.Rules)
	}

	return report.Aggregate(exercise.ID, token, tests, result.CompilationErrors, result.ConsoleOutput), nil
}

// syntheticFailure represents an infrastructure failure as a failed report
// with a single compilation error, keeping the propagation policy uniform.
func (s *Service) syntheticFailure(exercise verify.Exercise, token uint64, message string) verify.ExerciseRunReport {
	compErrs := []verify.CompilationError{{
		File:    exercise.FilePath,
		Message: message,
	}}
	return report.Aggregate(exercise.ID, token, report.SkippedResults(exercise.Rules), compErrs, nil)
}

// Close releases the underlying transpiler.
func (s *Service) Close() error {
	return s.transpiler.Close()
}
