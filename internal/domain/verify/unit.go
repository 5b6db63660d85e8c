package verify

// UnitKind identifies the declaration form a source unit was extracted from.
type UnitKind string

const (
	UnitFunction   UnitKind = "function"
	UnitAssignment UnitKind = "assignment"
	UnitClass      UnitKind = "class"
	// UnitFile is the synthetic unit covering the whole compiled file,
	// used by file-scoped rules.
	UnitFile UnitKind = "file"
)

// SourceUnit is the text span of one named declaration's body. Units are
// immutable and scoped to a single evaluation pass.
type SourceUnit struct {
	Name string
	Kind UnitKind
	// Text is the body between the delimiting braces, braces excluded.
	// For UnitFile it is the entire source.
	Text        string
	StartOffset int
	EndOffset   int
}
