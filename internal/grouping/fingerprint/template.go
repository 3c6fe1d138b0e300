package fingerprint

import (
	"regexp"
	"strings"

	"github.com/fidde/groupsink/pkg/models"
)

// DefaultVar is the template variable that splices the server-side
// grouping into a fingerprint. It survives resolution untouched; the
// variant builder decides what it means.
const DefaultVar = "{{ default }}"

var templateVarRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9._-]+)\s*\}\}`)

// resolveTemplates substitutes template variables in the fingerprint
// parts with values from the event. {{ default }} is canonicalized but
// kept as a marker; unknown variables resolve to "<unknown>".
func resolveTemplates(fingerprint []string, event *models.Event) []string {
	resolved := make([]string, 0, len(fingerprint))
	for _, part := range fingerprint {
		resolved = append(resolved, templateVarRe.ReplaceAllStringFunc(part, func(m string) string {
			name := strings.TrimSpace(m[2 : len(m)-2])
			if name == "default" {
				return DefaultVar
			}
			return resolveVar(name, event)
		}))
	}
	return resolved
}

// ResolveClient resolves template variables in the event's own client
// fingerprint.
func ResolveClient(event *models.Event) []string {
	return resolveTemplates(event.Fingerprint, event)
}

// IsDefault reports whether the resolved part is the default marker.
func IsDefault(part string) bool {
	return part == DefaultVar
}

// resolveVar looks one template variable up on the event, with
// frame-scoped variables taken from the crashing frame.
func resolveVar(name string, event *models.Event) string {
	var value string
	switch name {
	case "type":
		if ex := event.TopException(); ex != nil {
			value = ex.Type
		}
	case "message":
		value = event.Message
		if value == "" {
			if ex := event.TopException(); ex != nil {
				value = ex.Value
			}
		}
	case "module":
		if f := crashingFrame(event); f != nil {
			value = f.Module
		}
	case "function":
		if f := crashingFrame(event); f != nil {
			value = f.Function
		}
	case "package":
		if f := crashingFrame(event); f != nil {
			value = f.Package
		}
	case "path":
		if f := crashingFrame(event); f != nil {
			value = f.Path()
		}
	case "level":
		value = models.NormalizeLevel(event.Level)
	case "logger":
		value = event.Logger
	case "transaction":
		value = event.Transaction
	default:
		if tag, ok := strings.CutPrefix(name, "tags."); ok {
			value = event.Tags[tag]
		}
	}
	if value == "" {
		return "<unknown>"
	}
	return value
}

// crashingFrame returns the most recent in-app frame of the outermost
// exception, falling back to the most recent frame of any kind.
func crashingFrame(event *models.Event) *models.Frame {
	ex := event.TopException()
	if ex == nil || len(ex.Stacktrace) == 0 {
		return nil
	}
	for i := len(ex.Stacktrace) - 1; i >= 0; i-- {
		if ex.Stacktrace[i].InApp {
			return &ex.Stacktrace[i]
		}
	}
	return &ex.Stacktrace[len(ex.Stacktrace)-1]
}
