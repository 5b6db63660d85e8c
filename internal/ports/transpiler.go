package ports

import (
	"context"

	"excheck/internal/domain/verify"
)

// TranspileResult is what the transpiler collaborator produced for one
// source file. CompilationErrors being non-empty means the compiled text is
// not inspectable and rule evaluation must be short-circuited.
type TranspileResult struct {
	CompiledText      string
	CompilationErrors []verify.CompilationError
	// ConsoleOutput carries tool output lines that are not diagnostics.
	ConsoleOutput []string
}

// Transpiler turns learner source into inspectable text. Implementations
// report compilation failure as data, not as an error: the error return is
// reserved for infrastructure trouble (the tool could not be invoked at
// all).
type Transpiler interface {
	Transpile(ctx context.Context, exercise verify.Exercise, source string) (TranspileResult, error)
	Close() error
}
