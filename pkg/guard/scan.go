package guard

import "strings"

// textShape holds per-byte analysis of a SQL string: whether each byte lies
// outside string literals and quoted identifiers, and its parenthesis depth.
// Computed once per statement and shared by every scan that must ignore
// quoted content.
type textShape struct {
	outside []bool
	depth   []int
}

// analyzeText walks the SQL once with a quote-aware state machine. Single
// quotes honor both the SQL standard '' escape and backslash escapes; double
// quotes delimit identifiers.
func analyzeText(s string) *textShape {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	shape := &textShape{
		outside: make([]bool, len(s)),
		depth:   make([]int, len(s)),
	}

	state := stateNormal
	depth := 0
	var prev byte

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch state {
		case stateNormal:
			shape.outside[i] = true
			switch ch {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			}
		case stateSingleQuote:
			// A doubled quote ('') exits and immediately re-enters on the
			// next character, which keeps the scan inside the string.
			if ch == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		shape.depth[i] = depth
		prev = ch
	}

	return shape
}

// asciiLower lowercases A-Z bytes only, preserving byte offsets so positions
// computed on the lowered text map directly onto the original.
func asciiLower(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= 'A' && ch <= 'Z' {
			ch += 'a' - 'A'
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isIdentByte(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

// keywordAt reports whether the lowered text has word at offset i with
// identifier boundaries on both sides.
func keywordAt(lower string, i int, word string) bool {
	if i+len(word) > len(lower) || lower[i:i+len(word)] != word {
		return false
	}
	if i > 0 && isIdentByte(lower[i-1]) {
		return false
	}
	if end := i + len(word); end < len(lower) && isIdentByte(lower[end]) {
		return false
	}
	return true
}

// indexKeyword returns the offset of the first occurrence of word at or after
// from, outside quoted content. With topLevel set, occurrences inside
// parentheses are skipped. Returns -1 if not found.
func indexKeyword(lower string, shape *textShape, word string, from int, topLevel bool) int {
	for i := from; i+len(word) <= len(lower); i++ {
		if !shape.outside[i] {
			continue
		}
		if topLevel && shape.depth[i] > 0 {
			continue
		}
		if keywordAt(lower, i, word) {
			return i
		}
	}
	return -1
}

// countKeyword counts occurrences of word outside quoted content at any depth.
func countKeyword(lower string, shape *textShape, word string) int {
	count := 0
	for i := 0; i+len(word) <= len(lower); i++ {
		if shape.outside[i] && keywordAt(lower, i, word) {
			count++
		}
	}
	return count
}

// maxParenDepth returns the deepest parenthesis nesting outside quoted content.
func maxParenDepth(shape *textShape) int {
	max := 0
	for _, d := range shape.depth {
		if d > max {
			max = d
		}
	}
	return max
}

// hasSemicolonOutsideStrings reports whether the SQL contains any semicolon
// outside of string literals. With the trailing semicolon already stripped,
// any hit means multiple chained statements.
func hasSemicolonOutsideStrings(s string, shape *textShape) bool {
	return semicolonIndex(s, shape) >= 0
}

// semicolonIndex returns the offset of the first semicolon outside string
// literals, or -1.
func semicolonIndex(s string, shape *textShape) int {
	for i := 0; i < len(s); i++ {
		if shape.outside[i] && s[i] == ';' {
			return i
		}
	}
	return -1
}

// hasCommentMarker reports whether the SQL contains a line (--) or block (/*)
// comment marker outside string literals.
func hasCommentMarker(s string, shape *textShape) bool {
	for i := 0; i+1 < len(s); i++ {
		if !shape.outside[i] || !shape.outside[i+1] {
			continue
		}
		if s[i] == '-' && s[i+1] == '-' {
			return true
		}
		if s[i] == '/' && s[i+1] == '*' {
			return true
		}
	}
	return false
}

// splitUnionBranches splits the statement on top-level UNION / UNION ALL
// keywords, ignoring occurrences inside string literals or parentheses.
// A statement without UNION comes back as a single branch.
func splitUnionBranches(original string) []string {
	lower := asciiLower(original)
	shape := analyzeText(original)

	var branches []string
	start := 0
	i := 0
	for {
		idx := indexKeyword(lower, shape, "union", i, true)
		if idx < 0 {
			break
		}
		branches = append(branches, strings.TrimSpace(original[start:idx]))

		next := idx + len("union")
		// Swallow a following ALL keyword.
		if allIdx := indexKeyword(lower, shape, "all", next, true); allIdx >= 0 {
			between := strings.TrimSpace(lower[next:allIdx])
			if between == "" {
				next = allIdx + len("all")
			}
		}
		start = next
		i = next
	}
	branches = append(branches, strings.TrimSpace(original[start:]))
	return branches
}

// SplitStatements breaks a SQL script into individual statements on
// semicolons outside string literals. Empty fragments are dropped. The CLI
// uses this to lint whole files one statement at a time; the pipeline itself
// still refuses chained statements in a single call.
func SplitStatements(script string) []string {
	shape := analyzeText(script)

	var statements []string
	start := 0
	for i := 0; i < len(script); i++ {
		if script[i] == ';' && shape.outside[i] {
			if stmt := strings.TrimSpace(script[start:i]); stmt != "" {
				statements = append(statements, stmt)
			}
			start = i + 1
		}
	}
	if stmt := strings.TrimSpace(script[start:]); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// blankStrings replaces every byte inside string literals and quoted
// identifiers with a space, so regular expressions can run over the result
// without matching quoted content. Offsets are preserved.
func blankStrings(s string, shape *textShape) string {
	b := []byte(s)
	for i := range b {
		if !shape.outside[i] {
			b[i] = ' '
		}
	}
	return string(b)
}

// stripTrailingSemicolon removes one trailing semicolon plus surrounding
// whitespace.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
