package docker

import (
	"regexp"
	"strconv"
	"strings"

	"excheck/internal/domain/verify"
)

// tsc --pretty false diagnostics: `file.ts(12,5): error TS2304: message`.
// Global diagnostics have no location: `error TS18003: message`.
var (
	locDiagnosticRe    = regexp.MustCompile(`^(.+)\((\d+),(\d+)\): (?:error|warning) (TS\d+): (.*)$`)
	globalDiagnosticRe = regexp.MustCompile(`^(?:error|warning) (TS\d+): (.*)$`)
)

// parseDiagnostics splits transpiler output into compilation errors and
// plain console lines.
func parseDiagnostics(output string) ([]verify.CompilationError, []string) {
	var diags []verify.CompilationError
	var console []string

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if m := locDiagnosticRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			colNo, _ := strconv.Atoi(m[3])
			diags = append(diags, verify.CompilationError{
				File:    m[1],
				Line:    lineNo,
				Column:  colNo,
				Code:    m[4],
				Message: m[5],
			})
			continue
		}

		if m := globalDiagnosticRe.FindStringSubmatch(line); m != nil {
			diags = append(diags, verify.CompilationError{
				Code:    m[1],
				Message: m[2],
			})
			continue
		}

		console = append(console, line)
	}

	return diags, console
}
