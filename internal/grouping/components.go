package grouping

import (
	"github.com/fidde/groupsink/pkg/models"
)

// Hints attached to non-contributing components.
const (
	hintNonAppFrame     = "non app frame"
	hintRecursion       = "ignored due to recursion"
	hintNoContribFrames = "ignored because it contains no contributing frames"
	hintStacktraceWins  = "ignored because stacktrace takes precedence"
	hintNoStacktrace    = "ignored because there is no stacktrace or exception data"
	hintStrippedValues  = "stripped common values"
)

// buildRootComponent builds the component tree for one component
// variant (app or system). Message-only events group on the message in
// the system variant; the app variant is non-contributing for them.
func (g *Grouper) buildRootComponent(event *models.Event, variant string) *Component {
	if len(event.Exceptions) > 0 {
		return g.buildExceptionRoot(event, variant)
	}

	message, stripped := g.normalizeValue(event.Message)
	msg := NewComponent("message", message)
	if stripped {
		msg.Hint = hintStrippedValues
	}
	root := NewComponent(variant, msg)
	if variant == VariantApp {
		root.MarkNonContributing(hintNoStacktrace)
	}
	return root
}

// buildExceptionRoot builds the chained-exception tree, oldest cause
// first. Single exceptions skip the chain wrapper.
func (g *Grouper) buildExceptionRoot(event *models.Event, variant string) *Component {
	if len(event.Exceptions) == 1 {
		ex := g.buildExceptionComponent(event, &event.Exceptions[0], variant)
		root := NewComponent(variant, ex)
		root.Contributes = ex.Contributes
		root.Hint = ex.Hint
		return root
	}

	values := make([]any, 0, len(event.Exceptions))
	anyContributes := false
	for i := range event.Exceptions {
		ex := g.buildExceptionComponent(event, &event.Exceptions[i], variant)
		anyContributes = anyContributes || ex.Contributes
		values = append(values, ex)
	}

	chain := NewComponent("chained-exception")
	chain.Values = values
	if !anyContributes {
		chain.MarkNonContributing(hintNoContribFrames)
	}

	root := NewComponent(variant, chain)
	root.Contributes = chain.Contributes
	root.Hint = chain.Hint
	return root
}

// buildExceptionComponent builds stacktrace + type + value children
// for one exception.
func (g *Grouper) buildExceptionComponent(event *models.Event, ex *models.Exception, variant string) *Component {
	stacktrace := g.buildStacktraceComponent(event, ex, variant)

	typeComponent := NewComponent("type", ex.Type)
	if ex.Type == "" {
		typeComponent.MarkNonContributing("")
	}

	value, stripped := g.normalizeValue(ex.Value)
	valueComponent := NewComponent("value", value)
	if stripped {
		valueComponent.Hint = hintStrippedValues
	}

	component := NewComponent("exception", stacktrace, typeComponent, valueComponent)

	switch {
	case stacktrace.Contributes:
		// The stacktrace is the grouping signal; the raw value would
		// fragment groups across differing messages
		valueComponent.MarkNonContributing(hintStacktraceWins)
	case variant == VariantApp:
		// App grouping needs app frames; without them the whole
		// exception defers to the system variant
		component.MarkNonContributing(stacktrace.Hint)
	case !g.cfg.WithExceptionValueFallback:
		valueComponent.MarkNonContributing("")
		if ex.Type == "" {
			component.MarkNonContributing(stacktrace.Hint)
		}
	}

	return component
}

// buildStacktraceComponent builds the frame list. In the app variant
// only in-app frames contribute.
func (g *Grouper) buildStacktraceComponent(event *models.Event, ex *models.Exception, variant string) *Component {
	stacktrace := NewComponent("stacktrace")
	if len(ex.Stacktrace) == 0 {
		stacktrace.MarkNonContributing(hintNoStacktrace)
		return stacktrace
	}

	contextLine := g.cfg.usesContextLine(event.Platform)
	anyContributes := false
	for i := range ex.Stacktrace {
		frame := &ex.Stacktrace[i]

		var prev *models.Frame
		if i > 0 {
			prev = &ex.Stacktrace[i-1]
		}
		fc := g.buildFrameComponent(frame, prev, variant, contextLine)
		anyContributes = anyContributes || fc.Contributes
		stacktrace.Values = append(stacktrace.Values, fc)
	}

	if !anyContributes {
		stacktrace.MarkNonContributing(hintNoContribFrames)
	}
	return stacktrace
}

// buildFrameComponent builds a single frame's component. The module
// (filename fallback) and function identify the frame; the context
// line is added for source-reliable platforms.
func (g *Grouper) buildFrameComponent(frame, prev *models.Frame, variant string, contextLine bool) *Component {
	fc := NewComponent("frame")

	location := frame.Module
	if location == "" {
		location = frame.Filename
	}
	if location != "" {
		fc.Values = append(fc.Values, location)
	}
	if frame.Function != "" && frame.Function != "?" {
		fc.Values = append(fc.Values, frame.Function)
	}
	if contextLine && frame.ContextLine != "" {
		fc.Values = append(fc.Values, frame.ContextLine)
	}

	switch {
	case g.cfg.DetectRecursion && prev != nil && isRecursion(frame, prev):
		fc.MarkNonContributing(hintRecursion)
	case variant == VariantApp && !frame.InApp:
		fc.MarkNonContributing(hintNonAppFrame)
	case len(fc.Values) == 0:
		fc.MarkNonContributing("")
	}

	return fc
}

// isRecursion reports whether a frame repeats its predecessor.
func isRecursion(frame, prev *models.Frame) bool {
	return frame.Module == prev.Module &&
		frame.Function == prev.Function &&
		frame.Filename == prev.Filename
}
