package snapshots

import (
	"context"

	"github.com/fidde/groupsink/pkg/estimate"
	"github.com/fidde/groupsink/pkg/models"
)

// State is a portable dump of grouping state, used by the snapshot
// store to save and restore a backend's contents.
type State struct {
	Groups []*models.Group    `json:"groups"`
	Hashes []models.GroupHash `json:"hashes"`

	// Events maps group id to its retained events, oldest first
	Events map[string][]*models.Event `json:"events,omitempty"`

	// Users maps group id to its distinct-user sketch
	Users map[string]*estimate.Sketch `json:"users,omitempty"`
}

// Snapshotter is implemented by backends whose full state can be
// exported and restored. The memory backend implements it.
type Snapshotter interface {
	ExportState(ctx context.Context) (*State, error)
	ImportState(ctx context.Context, state *State) error
}
