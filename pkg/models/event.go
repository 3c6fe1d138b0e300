// Package models defines the core data structures for error-event grouping.
//
// This package contains the domain models used throughout the application
// to represent ingested exception events and the issues (groups) they
// aggregate into.
package models

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested item is not found.
// Storage implementations wrap this error when an item doesn't exist.
var ErrNotFound = errors.New("not found")

// DefaultFingerprint is the client fingerprint meaning "use server grouping".
const DefaultFingerprint = "{{ default }}"

// Frame is a single stack frame, oldest call at the start of a stacktrace.
type Frame struct {
	// Function is the function or method name, if symbolicated
	Function string `json:"function,omitempty"`

	// Module is the fully qualified module/class path (e.g. "com.example.api.Handler")
	Module string `json:"module,omitempty"`

	// Filename is the basename of the source file
	Filename string `json:"filename,omitempty"`

	// AbsPath is the absolute path of the source file when known
	AbsPath string `json:"abs_path,omitempty"`

	// Lineno is the 1-based source line, 0 when unknown
	Lineno int `json:"lineno,omitempty"`

	// ContextLine is the source line the frame points at
	ContextLine string `json:"context_line,omitempty"`

	// Package is the binary/library the frame belongs to (native platforms)
	Package string `json:"package,omitempty"`

	// InApp marks the frame as application code (client-supplied)
	InApp bool `json:"in_app"`
}

// Path returns the best available file path for matching: abs_path
// when present, filename otherwise.
func (f *Frame) Path() string {
	if f.AbsPath != "" {
		return f.AbsPath
	}
	return f.Filename
}

// Exception is one entry of a (possibly chained) exception.
type Exception struct {
	// Type is the exception class name (e.g. "DatabaseUnavailable")
	Type string `json:"type,omitempty"`

	// Value is the exception message
	Value string `json:"value,omitempty"`

	// Module is the module the exception type is defined in
	Module string `json:"module,omitempty"`

	// Stacktrace holds the frames, oldest call first
	Stacktrace []Frame `json:"stacktrace,omitempty"`
}

// Event is a single error event as submitted by an SDK.
// Exceptions are ordered oldest cause first; the last entry is the
// outermost exception.
type Event struct {
	EventID     string            `json:"event_id"`
	Project     string            `json:"project"`
	Platform    string            `json:"platform,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Level       string            `json:"level,omitempty"`
	Logger      string            `json:"logger,omitempty"`
	Transaction string            `json:"transaction,omitempty"`
	Release     string            `json:"release,omitempty"`
	Message     string            `json:"message,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`

	// Fingerprint is the client-side fingerprint. Empty or
	// ["{{ default }}"] means server-side grouping applies unchanged.
	Fingerprint []string `json:"fingerprint,omitempty"`

	Exceptions []Exception `json:"exceptions,omitempty"`
}

// TopException returns the outermost exception, or nil when the event
// carries none.
func (e *Event) TopException() *Exception {
	if len(e.Exceptions) == 0 {
		return nil
	}
	return &e.Exceptions[len(e.Exceptions)-1]
}

// HasDefaultFingerprint reports whether the client fingerprint leaves
// grouping entirely to the server.
func (e *Event) HasDefaultFingerprint() bool {
	if len(e.Fingerprint) == 0 {
		return true
	}
	return len(e.Fingerprint) == 1 && normalizeTemplateVar(e.Fingerprint[0]) == DefaultFingerprint
}

// normalizeTemplateVar canonicalizes "{{default}}", "{{ default }}" etc.
func normalizeTemplateVar(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		return "{{ " + inner + " }}"
	}
	return s
}
