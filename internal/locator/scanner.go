package locator

// structuralMask computes, per byte, whether that byte participates in the
// program's structure. Bytes inside string literals, template literals and
// comments are non-structural, so brace counting ignores them. Template
// interpolations (`${...}`) switch back to structural code; the brace pair
// delimiting the interpolation itself stays non-structural so it never
// shifts unit depth.
//
// Unterminated single- and double-quoted strings end at the line break,
// which keeps the scanner usable on mid-edit input.
func structuralMask(source string) []bool {
	const (
		stCode = iota
		stLineComment
		stBlockComment
		stSingle
		stDouble
		stTemplate
	)

	mask := make([]bool, len(source))
	state := stCode
	depth := 0
	// Brace depth captured when entering each `${`; a closing brace at that
	// depth resumes the surrounding template.
	var interp []int

	for i := 0; i < len(source); i++ {
		ch := source[i]

		switch state {
		case stCode:
			switch {
			case ch == '/' && i+1 < len(source) && source[i+1] == '/':
				state = stLineComment
				i++
			case ch == '/' && i+1 < len(source) && source[i+1] == '*':
				state = stBlockComment
				i++
			case ch == '\'':
				state = stSingle
			case ch == '"':
				state = stDouble
			case ch == '`':
				state = stTemplate
			case ch == '{':
				depth++
				mask[i] = true
			case ch == '}':
				if n := len(interp); n > 0 && depth == interp[n-1] {
					interp = interp[:n-1]
					state = stTemplate
				} else {
					depth--
					mask[i] = true
				}
			default:
				mask[i] = true
			}

		case stLineComment:
			if ch == '\n' {
				state = stCode
			}

		case stBlockComment:
			if ch == '*' && i+1 < len(source) && source[i+1] == '/' {
				state = stCode
				i++
			}

		case stSingle:
			switch ch {
			case '\\':
				i++
			case '\'', '\n':
				state = stCode
			}

		case stDouble:
			switch ch {
			case '\\':
				i++
			case '"', '\n':
				state = stCode
			}

		case stTemplate:
			switch {
			case ch == '\\':
				i++
			case ch == '`':
				state = stCode
			case ch == '$' && i+1 < len(source) && source[i+1] == '{':
				interp = append(interp, depth)
				state = stCode
				i++
			}
		}
	}

	return mask
}
