package fingerprint

import (
	"fmt"
	"regexp"
	"strings"
)

// glob is a compiled glob pattern. Supported syntax: * (any run of
// characters), ? (single character), [set] character classes. Matching
// is case-insensitive for path-like keys.
type glob struct {
	pattern string
	re      *regexp.Regexp
}

// compileGlob translates a glob into an anchored regexp.
func compileGlob(pattern string, caseInsensitive bool) (*glob, error) {
	var b strings.Builder
	if caseInsensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("^")

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			// Pass character classes through, with ! meaning negation
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta(string(ch)))
				continue
			}
			class := pattern[i : i+end+1]
			if strings.HasPrefix(class, "[!") {
				class = "[^" + class[2:]
			}
			b.WriteString(class)
			i += end
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compiling glob %q: %w", pattern, err)
	}
	return &glob{pattern: pattern, re: re}, nil
}

// Match reports whether value matches the glob. A nil glob never
// matches.
func (g *glob) Match(value string) bool {
	if g == nil {
		return false
	}
	return g.re.MatchString(value)
}

// caseInsensitiveKeys are matcher keys whose globs ignore case.
var caseInsensitiveKeys = map[string]struct{}{
	"path":    {},
	"package": {},
}
