// Package locator extracts the body text of named declarations from raw,
// possibly syntactically broken source. It does not parse the language; it
// only performs enough structural scanning to isolate declaration bodies,
// treating string, template and comment contents as non-structural.
package locator

import (
	"regexp"
	"strings"

	"excheck/internal/domain/verify"
)

// Locate finds the declaration named unitName and returns its body as a
// SourceUnit, or nil when no function, assignment or class declaration with
// that name exists or its body is unbalanced. It never fails on broken
// input; learner files are expected to be mid-edit.
func Locate(source, unitName string) *verify.SourceUnit {
	if unitName == "" {
		return nil
	}

	mask := structuralMask(source)

	type pattern struct {
		kind verify.UnitKind
		re   *regexp.Regexp
	}

	quoted := regexp.QuoteMeta(unitName)
	patterns := []pattern{
		{verify.UnitFunction, regexp.MustCompile(`\bfunction\s+` + quoted + `\s*\(`)},
		{verify.UnitAssignment, regexp.MustCompile(`\b(?:const|let|var)\s+` + quoted + `\s*=`)},
		{verify.UnitClass, regexp.MustCompile(`\bclass\s+` + quoted + `\b`)},
	}

	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(source, -1) {
			if !mask[loc[0]] {
				continue
			}

			open := openingBrace(source, mask, p.kind, loc[1])
			if open < 0 {
				continue
			}

			end := matchBrace(source, mask, open)
			if end < 0 {
				continue
			}

			return &verify.SourceUnit{
				Name:        unitName,
				Kind:        p.kind,
				Text:        source[open+1 : end],
				StartOffset: loc[0],
				EndOffset:   end + 1,
			}
		}
	}

	return nil
}

// FileUnit wraps the whole source as a synthetic unit for file-scoped rules.
func FileUnit(source string) *verify.SourceUnit {
	return &verify.SourceUnit{
		Name:      verify.FileTargetKey,
		Kind:      verify.UnitFile,
		Text:      source,
		EndOffset: len(source),
	}
}

// LocateAll resolves every unit the given rules refer to. Units that cannot
// be located are present in the map as nil so the evaluator can report them
// as missing declarations.
func LocateAll(source string, rules []verify.Rule) map[string]*verify.SourceUnit {
	units := make(map[string]*verify.SourceUnit, len(rules))
	for _, rule := range rules {
		key := rule.TargetKey()
		if _, seen := units[key]; seen {
			continue
		}
		if rule.Scope == verify.ScopeFile {
			units[key] = FileUnit(source)
			continue
		}
		units[key] = Locate(source, rule.AppliesTo)
	}
	return units
}

// openingBrace locates the unit's body brace starting just past the matched
// declaration head. Returns -1 when the declaration has no braced body.
func openingBrace(source string, mask []bool, kind verify.UnitKind, from int) int {
	switch kind {
	case verify.UnitFunction:
		// The match ends just past the parameter list's opening paren.
		close := matchParen(source, mask, from-1)
		if close < 0 {
			return -1
		}
		return braceAfter(source, mask, close+1)
	case verify.UnitAssignment:
		return assignmentBrace(source, mask, from)
	case verify.UnitClass:
		return braceAfter(source, mask, from)
	default:
		return -1
	}
}

// assignmentBrace handles `const name = <function or arrow>`. The assigned
// value must be a function expression or an arrow with a braced body;
// anything else is not a code unit.
func assignmentBrace(source string, mask []bool, from int) int {
	i := nextCode(source, mask, from)
	if i < 0 {
		return -1
	}

	if keywordAt(source, i, "async") {
		i = nextCode(source, mask, i+len("async"))
		if i < 0 {
			return -1
		}
	}

	if keywordAt(source, i, "function") {
		open := indexCodeByte(source, mask, i, '(')
		if open < 0 {
			return -1
		}
		close := matchParen(source, mask, open)
		if close < 0 {
			return -1
		}
		return braceAfter(source, mask, close+1)
	}

	return arrowBrace(source, mask, i)
}

// arrowBrace scans for `=>` at paren depth zero and returns the brace that
// immediately follows it. Expression-bodied arrows have no braced body.
func arrowBrace(source string, mask []bool, from int) int {
	depth := 0
	for i := from; i < len(source); i++ {
		if !mask[i] {
			continue
		}
		switch source[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '=':
			if depth == 0 && i+1 < len(source) && mask[i+1] && source[i+1] == '>' {
				j := nextCode(source, mask, i+2)
				if j >= 0 && source[j] == '{' {
					return j
				}
				return -1
			}
		case ';', '{':
			if depth == 0 {
				return -1
			}
		}
	}
	return -1
}

// braceAfter walks structural characters from i and returns the first `{`,
// tolerating whatever sits between a declaration head and its body (extends
// clauses, return type annotations). A `;` or `}` ends the statement first.
func braceAfter(source string, mask []bool, i int) int {
	for ; i < len(source); i++ {
		if !mask[i] {
			continue
		}
		switch source[i] {
		case '{':
			return i
		case ';', '}':
			return -1
		}
	}
	return -1
}

// matchBrace returns the index of the `}` closing the brace at open, or -1
// when the source is malformed or truncated and depth never returns to zero.
func matchBrace(source string, mask []bool, open int) int {
	depth := 0
	for i := open; i < len(source); i++ {
		if !mask[i] {
			continue
		}
		switch source[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func matchParen(source string, mask []bool, open int) int {
	depth := 0
	for i := open; i < len(source); i++ {
		if !mask[i] {
			continue
		}
		switch source[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// nextCode returns the first structural, non-whitespace index at or past i.
func nextCode(source string, mask []bool, i int) int {
	for ; i < len(source); i++ {
		if mask[i] && !isSpace(source[i]) {
			return i
		}
	}
	return -1
}

func indexCodeByte(source string, mask []bool, i int, b byte) int {
	for ; i < len(source); i++ {
		if mask[i] && source[i] == b {
			return i
		}
	}
	return -1
}

func keywordAt(source string, i int, word string) bool {
	if !strings.HasPrefix(source[i:], word) {
		return false
	}
	rest := source[i+len(word):]
	return rest == "" || !isIdentByte(rest[0])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
