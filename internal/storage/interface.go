// Package storage defines the storage interface for groups and events.
package storage

import (
	"context"

	"github.com/fidde/groupsink/pkg/models"
)

// Storage is the interface for persisting grouped events.
// Implementations must be safe for concurrent use.
type Storage interface {
	// SaveEvent aggregates an event into a group keyed by the hash
	// list (primary hash first). It creates the group when no hash is
	// known yet, and reports whether the group is new or regressed.
	SaveEvent(ctx context.Context, event *models.Event, hashes []string, seed models.GroupSeed) (*models.GroupInfo, error)

	// Group operations
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroups(ctx context.Context, project string, status models.GroupStatus) ([]*models.Group, error)
	ListGroupEvents(ctx context.Context, groupID string, limit int) ([]*models.Event, error)
	GetGroupHashes(ctx context.Context, groupID string) ([]string, error)
	UpdateGroupStatus(ctx context.Context, id string, status models.GroupStatus) (*models.Group, error)

	// Project operations
	ListProjects(ctx context.Context) ([]string, error)
	GetProjectOverview(ctx context.Context, project string) (*models.ProjectOverview, error)

	// Clear all data
	Clear(ctx context.Context) error

	// Close the storage (for cleanup, e.g., DB connections)
	Close() error
}
