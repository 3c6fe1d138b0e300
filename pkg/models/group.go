package models

import (
	"time"
)

// GroupStatus is the triage state of a group.
type GroupStatus string

const (
	StatusUnresolved GroupStatus = "unresolved"
	StatusResolved   GroupStatus = "resolved"
	StatusIgnored    GroupStatus = "ignored"
)

// ValidStatus reports whether s is a known group status.
func ValidStatus(s GroupStatus) bool {
	switch s {
	case StatusUnresolved, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// GroupMetadata is the materialized display metadata of a group, taken
// from the event that created it.
type GroupMetadata struct {
	// Type is the exception type, or "message" for message-only events
	Type string `json:"type,omitempty"`

	// Value is the exception value / message
	Value string `json:"value,omitempty"`

	// Title is the rendered issue title
	Title string `json:"title,omitempty"`
}

// Group is an issue: the aggregate of all events sharing a grouping hash.
type Group struct {
	ID      string `json:"id"`
	Project string `json:"project"`

	// Title and Culprit are denormalized from the first event
	Title   string `json:"title"`
	Culprit string `json:"culprit,omitempty"`

	Level  string      `json:"level"`
	Status GroupStatus `json:"status"`

	// PrimaryHash is the grouping hash the group was created under
	PrimaryHash string `json:"primary_hash"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// TimesSeen counts events aggregated into this group
	TimesSeen int64 `json:"times_seen"`

	// UserCount is the estimated number of distinct affected users
	UserCount uint64 `json:"user_count"`

	Metadata GroupMetadata `json:"metadata"`
}

// GroupInfo is the outcome of saving an event: the group it landed in
// plus what happened to that group.
type GroupInfo struct {
	Group *Group `json:"group"`

	// IsNew is set when the event created the group
	IsNew bool `json:"is_new"`

	// IsRegression is set when the event reopened a resolved group
	IsRegression bool `json:"is_regression"`
}

// GroupSeed carries the grouping result's display metadata, used when
// a new group is created and to refresh level/metadata on updates.
type GroupSeed struct {
	Title    string
	Culprit  string
	Level    string
	Metadata GroupMetadata
}

// GroupHash links a grouping hash to the group that owns it.
type GroupHash struct {
	Hash    string `json:"hash"`
	GroupID string `json:"group_id"`
	Project string `json:"project"`
}

// ProjectOverview summarizes a project's issue state.
type ProjectOverview struct {
	Project         string    `json:"project"`
	GroupCount      int       `json:"group_count"`
	UnresolvedCount int       `json:"unresolved_count"`
	EventCount      int64     `json:"event_count"`
	LastSeen        time.Time `json:"last_seen,omitempty"`
}

// logLevels is the set of recognized severity levels.
var logLevels = map[string]struct{}{
	"debug":   {},
	"info":    {},
	"warning": {},
	"error":   {},
	"fatal":   {},
}

// NormalizeLevel maps arbitrary level strings onto the canonical set.
// Unknown or empty levels become "error".
func NormalizeLevel(level string) string {
	switch level {
	case "warn":
		return "warning"
	case "critical":
		return "fatal"
	}
	if _, ok := logLevels[level]; ok {
		return level
	}
	return "error"
}
