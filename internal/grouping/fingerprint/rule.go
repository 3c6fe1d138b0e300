// Package fingerprint implements server-side fingerprinting rules:
// user-configured matchers that override the default grouping of an
// event with a custom fingerprint.
package fingerprint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fidde/groupsink/pkg/models"
)

// Matcher keys that match against individual stack frames rather than
// event-level attributes. A frame-scoped matcher matches when any frame
// does.
var frameMatcherKeys = map[string]struct{}{
	"module":   {},
	"function": {},
	"path":     {},
	"package":  {},
	"app":      {},
}

// Matcher is one [attribute, pattern] pair of a rule.
type Matcher struct {
	// Key is the matched attribute (type, value, message, module,
	// function, path, package, level, logger, family, app, release,
	// or tags.<name>)
	Key string `json:"key"`

	// Pattern is a glob (*, ?, [set])
	Pattern string `json:"pattern"`

	// Negated inverts the match
	Negated bool `json:"negated,omitempty"`

	glob *glob
}

// isFrameMatcher reports whether the matcher applies per-frame.
func (m *Matcher) isFrameMatcher() bool {
	_, ok := frameMatcherKeys[m.Key]
	return ok
}

// Match evaluates the matcher against the event.
func (m *Matcher) Match(event *models.Event) bool {
	matched := m.matchValue(event)
	if m.Negated {
		return !matched
	}
	return matched
}

func (m *Matcher) matchValue(event *models.Event) bool {
	if m.isFrameMatcher() {
		return m.matchFrames(event)
	}

	switch m.Key {
	case "type":
		if ex := event.TopException(); ex != nil {
			return m.glob.Match(ex.Type)
		}
		return false
	case "value":
		if ex := event.TopException(); ex != nil {
			return m.glob.Match(ex.Value)
		}
		return false
	case "message":
		message := event.Message
		if message == "" {
			if ex := event.TopException(); ex != nil {
				message = ex.Value
			}
		}
		return m.glob.Match(message)
	case "level":
		return m.glob.Match(models.NormalizeLevel(event.Level))
	case "logger":
		return m.glob.Match(event.Logger)
	case "family":
		return m.glob.Match(platformFamily(event.Platform))
	case "release":
		return m.glob.Match(event.Release)
	default:
		if tag, ok := strings.CutPrefix(m.Key, "tags."); ok {
			return m.glob.Match(event.Tags[tag])
		}
		return false
	}
}

func (m *Matcher) matchFrames(event *models.Event) bool {
	for i := range event.Exceptions {
		for j := range event.Exceptions[i].Stacktrace {
			frame := &event.Exceptions[i].Stacktrace[j]
			var value string
			switch m.Key {
			case "module":
				value = frame.Module
			case "function":
				value = frame.Function
			case "path":
				value = frame.Path()
			case "package":
				value = frame.Package
			case "app":
				if frame.InApp == (m.Pattern == "yes") {
					return true
				}
				continue
			}
			if value != "" && m.glob.Match(value) {
				return true
			}
		}
	}
	return false
}

// text renders the matcher back to its rule-file form.
func (m *Matcher) text() string {
	neg := ""
	if m.Negated {
		neg = "!"
	}
	return fmt.Sprintf("%s%s:%q", neg, m.Key, m.Pattern)
}

// Rule maps a conjunction of matchers to a fingerprint.
type Rule struct {
	// Matchers must all match for the rule to apply
	Matchers []Matcher `json:"matchers"`

	// Fingerprint is the ordered list of fingerprint parts; parts may
	// contain template variables like {{ type }} or {{ default }}
	Fingerprint []string `json:"fingerprint"`

	// Attributes holds rule annotations such as title="..."
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Match evaluates all matchers; every one must pass.
func (r *Rule) Match(event *models.Event) bool {
	for i := range r.Matchers {
		if !r.Matchers[i].Match(event) {
			return false
		}
	}
	return len(r.Matchers) > 0
}

// Text renders the human-readable rendition of the rule, which is also
// valid rule-file syntax.
func (r *Rule) Text() string {
	var b strings.Builder
	for i := range r.Matchers {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(r.Matchers[i].text())
	}
	b.WriteString(" -> ")
	b.WriteString(strings.Join(r.Fingerprint, " "))
	for _, key := range sortedKeys(r.Attributes) {
		fmt.Fprintf(&b, " %s=%q", key, r.Attributes[key])
	}
	return b.String()
}

// Match is the outcome of evaluating a ruleset against an event.
type Match struct {
	// Rule is the first rule that matched
	Rule *Rule `json:"rule"`

	// Values are the fingerprint parts with template variables resolved
	Values []string `json:"values"`

	// Attributes are the matched rule's annotations
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Ruleset is an ordered list of rules. The first match wins.
type Ruleset struct {
	Rules []*Rule `json:"rules"`
}

// Match returns the first matching rule with its resolved fingerprint,
// or nil when no rule matches.
func (rs *Ruleset) Match(event *models.Event) *Match {
	if rs == nil {
		return nil
	}
	for _, rule := range rs.Rules {
		if rule.Match(event) {
			return &Match{
				Rule:       rule,
				Values:     resolveTemplates(rule.Fingerprint, event),
				Attributes: rule.Attributes,
			}
		}
	}
	return nil
}

// platformFamily buckets platforms the way matcher families expect.
func platformFamily(platform string) string {
	switch platform {
	case "javascript", "node":
		return "javascript"
	case "cocoa", "objc", "native", "c", "cpp":
		return "native"
	case "":
		return "other"
	default:
		return platform
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
