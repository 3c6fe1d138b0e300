package fingerprint

import (
	"fmt"
	"strings"
)

// Parse parses rule-file text into a Ruleset. One rule per line:
//
//	matcher:"pattern" [matcher:"pattern" ...] -> part [part ...] [attr="value" ...]
//
// Lines starting with # are comments; blank lines are skipped. A parse
// error names the offending line.
func Parse(text string) (*Ruleset, error) {
	rs := &Ruleset{}
	for lineno, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := parseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno+1, err)
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

// parseRule parses a single rule line.
func parseRule(line string) (*Rule, error) {
	matcherPart, fingerprintPart, found := strings.Cut(line, "->")
	if !found {
		return nil, fmt.Errorf("missing -> separator")
	}

	rule := &Rule{}

	matcherTokens, err := tokenize(matcherPart)
	if err != nil {
		return nil, err
	}
	if len(matcherTokens) == 0 {
		return nil, fmt.Errorf("rule has no matchers")
	}
	for _, tok := range matcherTokens {
		m, err := parseMatcher(tok)
		if err != nil {
			return nil, err
		}
		rule.Matchers = append(rule.Matchers, *m)
	}

	valueTokens, err := tokenize(fingerprintPart)
	if err != nil {
		return nil, err
	}
	for _, tok := range valueTokens {
		tok = strings.TrimSuffix(tok, ",")
		if tok == "" {
			continue
		}
		if key, value, isAttr := splitAttribute(tok); isAttr {
			if rule.Attributes == nil {
				rule.Attributes = make(map[string]string)
			}
			rule.Attributes[key] = value
			continue
		}
		rule.Fingerprint = append(rule.Fingerprint, unquote(tok))
	}
	if len(rule.Fingerprint) == 0 {
		return nil, fmt.Errorf("rule has no fingerprint values")
	}

	return rule, nil
}

// parseMatcher parses a [!]key:"pattern" token.
func parseMatcher(tok string) (*Matcher, error) {
	negated := strings.HasPrefix(tok, "!")
	tok = strings.TrimPrefix(tok, "!")

	key, pattern, found := strings.Cut(tok, ":")
	if !found || key == "" {
		return nil, fmt.Errorf("invalid matcher %q", tok)
	}
	pattern = unquote(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("matcher %q has empty pattern", key)
	}
	if !validMatcherKey(key) {
		return nil, fmt.Errorf("unknown matcher %q", key)
	}

	_, caseInsensitive := caseInsensitiveKeys[key]
	g, err := compileGlob(pattern, caseInsensitive)
	if err != nil {
		return nil, err
	}

	return &Matcher{
		Key:     key,
		Pattern: pattern,
		Negated: negated,
		glob:    g,
	}, nil
}

// validMatcherKey reports whether key names a matchable attribute.
func validMatcherKey(key string) bool {
	switch key {
	case "type", "value", "message", "module", "function", "path",
		"package", "level", "logger", "family", "app", "release":
		return true
	}
	return strings.HasPrefix(key, "tags.") && len(key) > len("tags.")
}

// splitAttribute recognizes key="value" tokens (attribute assignments).
// Template braces disqualify a token so that {{ tags.x }} parts with =
// inside never misparse.
func splitAttribute(tok string) (key, value string, ok bool) {
	if strings.Contains(tok, "{{") {
		return "", "", false
	}
	key, value, found := strings.Cut(tok, "=")
	if !found || key == "" || strings.ContainsAny(key, `:"`) {
		return "", "", false
	}
	return key, unquote(value), true
}

// unquote strips surrounding double quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// tokenize splits a rule fragment on whitespace, keeping quoted spans
// (and {{ ... }} template spans) intact.
func tokenize(s string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	braceDepth := 0

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case ch == '{' && i+1 < len(s) && s[i+1] == '{':
			braceDepth++
			current.WriteString("{{")
			i++
		case ch == '}' && i+1 < len(s) && s[i+1] == '}':
			if braceDepth > 0 {
				braceDepth--
			}
			current.WriteString("}}")
			i++
		case (ch == ' ' || ch == '\t') && !inQuotes && braceDepth == 0:
			flush()
		default:
			current.WriteByte(ch)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()

	return tokens, nil
}
