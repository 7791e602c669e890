// Package sqltext provides lightweight lexical helpers over raw SQL input:
// statement splitting, connection-override directives, read detection, and
// best-effort extraction of the primary table of a SELECT. None of this is
// a SQL parser; the helpers prefer returning nothing over guessing.
package sqltext

import (
	"regexp"
	"strings"
)

// Split breaks raw SQL text into individual trimmed statements on top-level
// semicolons, discarding empty segments.
//
// Known limitation: semicolons inside string literals or dollar-quoted
// blocks are treated as separators. Multi-statement scripts relying on
// embedded semicolons are split incorrectly; this matches the established
// behavior of the editor and is deliberate.
func Split(sqlText string) []string {
	var out []string
	for _, part := range strings.Split(sqlText, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var (
	commentDirectiveRe = regexp.MustCompile(`(?im)^[ \t]*--[ \t]*connection[ \t]*:[ \t]*(\S+)[^\n]*\n?`)
	useDirectiveRe     = regexp.MustCompile(`(?im)^[ \t]*use[ \t]+connection[ \t]+([^\s;]+)[ \t]*;?[^\n]*\n?`)
)

// ExtractConnectionDirective recognizes a leading connection override in
// either form:
//
//	-- connection: NAME
//	USE CONNECTION NAME;
//
// case-insensitively. It strips exactly one such directive and returns the
// override name (empty if absent) and the cleaned SQL text.
func ExtractConnectionDirective(sqlText string) (name, remaining string) {
	if m := commentDirectiveRe.FindStringSubmatch(sqlText); m != nil {
		return m[1], replaceFirst(commentDirectiveRe, sqlText)
	}
	if m := useDirectiveRe.FindStringSubmatch(sqlText); m != nil {
		return m[1], replaceFirst(useDirectiveRe, sqlText)
	}
	return "", sqlText
}

// replaceFirst removes only the first match of re from s.
func replaceFirst(re *regexp.Regexp, s string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + s[loc[1]:]
}

// readPrefixes are the statement keywords that produce row sets.
var readPrefixes = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN", "PRAGMA"}

// IsReadQuery reports whether the statement is expected to return rows.
func IsReadQuery(stmt string) bool {
	q := strings.ToUpper(strings.TrimSpace(stmt))
	for _, p := range readPrefixes {
		if strings.HasPrefix(q, p) {
			return true
		}
	}
	return false
}

// FirstTableFromSelect extracts the first identifier after a top-level FROM
// keyword, preserving schema qualification and stripping quoting. It does
// not resolve joins, subqueries, or aliases; when the FROM target is not a
// plain identifier it returns the empty string rather than guessing.
func FirstTableFromSelect(selectSQL string) string {
	rest, ok := afterTopLevelFrom(selectSQL)
	if !ok {
		return ""
	}
	rest = strings.TrimSpace(rest)
	if rest == "" || rest[0] == '(' {
		// Derived table; ambiguous.
		return ""
	}
	return readIdentifier(rest)
}

// afterTopLevelFrom scans for the FROM keyword at parenthesis depth zero,
// skipping single-quoted literals and quoted identifiers.
func afterTopLevelFrom(s string) (string, bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case '\'', '"', '`':
			i = skipQuoted(s, i, c)
		default:
			if depth == 0 && (c == 'f' || c == 'F') && hasKeywordAt(s, i, "FROM") {
				return s[i+4:], true
			}
		}
	}
	return "", false
}

// skipQuoted returns the index of the closing quote (or the last byte when
// unterminated).
func skipQuoted(s string, start int, quote byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] == quote {
			return i
		}
	}
	return len(s) - 1
}

// hasKeywordAt reports whether s[i:] begins with the keyword bounded by
// non-identifier characters on both sides.
func hasKeywordAt(s string, i int, kw string) bool {
	if i+len(kw) > len(s) {
		return false
	}
	if !strings.EqualFold(s[i:i+len(kw)], kw) {
		return false
	}
	if i > 0 && isIdentChar(s[i-1]) {
		return false
	}
	if i+len(kw) < len(s) && isIdentChar(s[i+len(kw)]) {
		return false
	}
	return true
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// readIdentifier consumes one possibly schema-qualified, possibly quoted
// identifier from the start of s and returns it with quoting stripped.
func readIdentifier(s string) string {
	var parts []string
	i := 0
	for {
		var part string
		part, i = readIdentPart(s, i)
		if part == "" {
			return ""
		}
		parts = append(parts, part)
		if i < len(s) && s[i] == '.' {
			i++
			continue
		}
		break
	}
	return strings.Join(parts, ".")
}

func readIdentPart(s string, i int) (string, int) {
	if i >= len(s) {
		return "", i
	}
	if q := s[i]; q == '"' || q == '`' {
		end := skipQuoted(s, i, q)
		if end <= i {
			return "", i
		}
		return s[i+1 : end], end + 1
	}
	start := i
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	return s[start:i], i
}
