// Package console renders run reports for a terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"

	"excheck/internal/domain/verify"
	"excheck/internal/ports"
)

// Ensure Presenter implements ports.ResultPresenter.
var _ ports.ResultPresenter = (*Presenter)(nil)

// Presenter writes human-readable reports to a writer, one block per
// report. Safe for concurrent use.
type Presenter struct {
	mu  sync.Mutex
	out io.Writer

	pass *color.Color
	fail *color.Color
	skip *color.Color
	head *color.Color
}

// NewPresenter constructs a Presenter. A nil writer defaults to stdout.
func NewPresenter(out io.Writer) *Presenter {
	if out == nil {
		out = os.Stdout
	}
	return &Presenter{
		out:  out,
		pass: color.New(color.FgGreen),
		fail: color.New(color.FgRed),
		skip: color.New(color.FgYellow),
		head: color.New(color.Bold),
	}
}

// Present renders one report. Compilation errors take display precedence
// over rule results: unresolved compilation means rule results were not
// meaningfully computable.
func (p *Presenter) Present(rep verify.ExerciseRunReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rep.Status == verify.StatusInProgress {
		fmt.Fprintf(p.out, "%s verifying...\n", p.head.Sprint(rep.ExerciseID))
		return
	}

	passed, failed, skipped := rep.Counts()
	p.head.Fprintf(p.out, "%s [%s]", rep.ExerciseID, rep.Status)
	fmt.Fprintf(p.out, " %d passed, %d failed, %d skipped (%s)\n",
		passed, failed, skipped, rep.TotalExecutionTime.Round(time.Millisecond))

	for _, compErr := range rep.CompilationErrors {
		if compErr.Line > 0 {
			p.fail.Fprintf(p.out, "  ✗ %s(%d,%d)", compErr.File, compErr.Line, compErr.Column)
		} else {
			p.fail.Fprintf(p.out, "  ✗ %s", compErr.File)
		}
		if compErr.Code != "" {
			fmt.Fprintf(p.out, " %s", compErr.Code)
		}
		fmt.Fprintf(p.out, ": %s\n", compErr.Message)
	}

	for _, test := range rep.Tests {
		switch {
		case test.Skipped:
			p.skip.Fprintf(p.out, "  - %s", test.RuleID)
			fmt.Fprintf(p.out, " (%s)\n", test.Message)
		case test.Passed:
			p.pass.Fprintf(p.out, "  ✓ %s\n", test.RuleID)
		default:
			p.fail.Fprintf(p.out, "  ✗ %s", test.RuleID)
			fmt.Fprintf(p.out, ": %s\n", test.Message)
		}
	}

	for _, line := range rep.ConsoleOutput {
		fmt.Fprintf(p.out, "    %s\n", line)
	}
}
