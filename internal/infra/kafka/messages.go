package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"excheck/internal/domain/verify"
)

type reportEnvelope struct {
	ExerciseID        string                     `json:"exercise_id"`
	ReportID          string                     `json:"report_id"`
	Status            verify.Status              `json:"status"`
	RunToken          uint64                     `json:"run_token"`
	Tests             []testResultEnvelope       `json:"tests,omitempty"`
	CompilationErrors []compilationErrorEnvelope `json:"compilation_errors,omitempty"`
	ConsoleOutput     []string                   `json:"console_output,omitempty"`
	TotalTimeMs       int64                      `json:"total_time_ms"`
	Timestamp         time.Time                  `json:"timestamp"`
}

type testResultEnvelope struct {
	Name            string `json:"name"`
	Passed          bool   `json:"passed"`
	Skipped         bool   `json:"skipped,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

type compilationErrorEnvelope struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func encodeReport(rep verify.ExerciseRunReport) ([]byte, error) {
	envelope := reportEnvelope{
		ExerciseID:    rep.ExerciseID,
		ReportID:      rep.ReportID,
		Status:        rep.Status,
		RunToken:      rep.RunToken,
		ConsoleOutput: rep.ConsoleOutput,
		TotalTimeMs:   rep.TotalExecutionTime.Milliseconds(),
		Timestamp:     time.Now().UTC(),
	}

	for _, test := range rep.Tests {
		entry := testResultEnvelope{
			Name:            test.RuleID,
			Passed:          test.Passed,
			Skipped:         test.Skipped,
			ExecutionTimeMs: test.ExecutionTime.Milliseconds(),
		}
		if !test.Passed && !test.Skipped {
			entry.Error = test.Message
		}
		envelope.Tests = append(envelope.Tests, entry)
	}

	for _, compErr := range rep.CompilationErrors {
		envelope.CompilationErrors = append(envelope.CompilationErrors, compilationErrorEnvelope{
			File:    compErr.File,
			Line:    compErr.Line,
			Column:  compErr.Column,
			Code:    compErr.Code,
			Message: compErr.Message,
		})
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return payload, nil
}
