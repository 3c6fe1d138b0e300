package grouping

import (
	"strings"

	"github.com/fidde/groupsink/pkg/models"
)

// maxCulpritLength caps the rendered culprit.
const maxCulpritLength = 200

// fillMetadata derives the group's display metadata from the event. A
// rule title attribute overrides the computed title.
func (g *Grouper) fillMetadata(result *Result, event *models.Event, ruleAttrs map[string]string) {
	if ex := event.TopException(); ex != nil {
		result.Metadata.Type = ex.Type
		result.Metadata.Value = ex.Value
		result.Title = ex.Type
		if result.Title == "" {
			result.Title = firstLine(ex.Value)
		}
	} else {
		result.Metadata.Type = "message"
		result.Metadata.Value = event.Message
		result.Title = firstLine(event.Message)
	}
	if result.Title == "" {
		result.Title = "<untitled>"
	}

	if title, ok := ruleAttrs["title"]; ok && title != "" {
		result.Title = title
	}
	result.Metadata.Title = result.Title

	result.Culprit = culprit(event)
}

// culprit renders the most recent contributing in-app frame as
// "module in function", falling back to the transaction.
func culprit(event *models.Event) string {
	frame := culpritFrame(event)
	if frame == nil {
		return truncate(event.Transaction, maxCulpritLength)
	}

	location := frame.Module
	if location == "" {
		location = frame.Filename
	}

	var rendered string
	switch {
	case location != "" && frame.Function != "":
		rendered = location + " in " + frame.Function
	case location != "":
		rendered = location
	default:
		rendered = frame.Function
	}
	return truncate(rendered, maxCulpritLength)
}

// culpritFrame picks the most recent in-app frame, then the most
// recent frame of any kind.
func culpritFrame(event *models.Event) *models.Frame {
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

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
