// Package archived wraps a primary storage with the ClickHouse event
// archive. Group bookkeeping happens in the primary; raw events are
// additionally archived for analytics. Archive failures are logged
// and never fail the write.
package archived

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fidde/groupsink/internal/storage"
	"github.com/fidde/groupsink/internal/storage/clickhouse"
	"github.com/fidde/groupsink/internal/storage/snapshots"
	"github.com/fidde/groupsink/pkg/models"
)

// Store pairs a primary storage with the event archive.
type Store struct {
	primary storage.Storage
	archive *clickhouse.Archive
	logger  *slog.Logger
}

// New creates an archived store.
func New(primary storage.Storage, archive *clickhouse.Archive, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		primary: primary,
		archive: archive,
		logger:  logger,
	}
}

// Archive exposes the underlying archive for analytics queries.
func (s *Store) Archive() *clickhouse.Archive {
	return s.archive
}

// SaveEvent saves to the primary, then queues the raw event for
// archival.
func (s *Store) SaveEvent(ctx context.Context, event *models.Event, hashes []string, seed models.GroupSeed) (*models.GroupInfo, error) {
	info, err := s.primary.SaveEvent(ctx, event, hashes, seed)
	if err != nil {
		return nil, err
	}

	if err := s.archive.ArchiveEvent(event, info.Group); err != nil {
		s.logger.Error("archiving event failed",
			"event_id", event.EventID,
			"group_id", info.Group.ID,
			"error", err,
		)
	}

	return info, nil
}

// Reads come from the primary only.

func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	return s.primary.GetGroup(ctx, id)
}

func (s *Store) ListGroups(ctx context.Context, project string, status models.GroupStatus) ([]*models.Group, error) {
	return s.primary.ListGroups(ctx, project, status)
}

func (s *Store) ListGroupEvents(ctx context.Context, groupID string, limit int) ([]*models.Event, error) {
	return s.primary.ListGroupEvents(ctx, groupID, limit)
}

func (s *Store) GetGroupHashes(ctx context.Context, groupID string) ([]string, error) {
	return s.primary.GetGroupHashes(ctx, groupID)
}

func (s *Store) UpdateGroupStatus(ctx context.Context, id string, status models.GroupStatus) (*models.Group, error) {
	return s.primary.UpdateGroupStatus(ctx, id, status)
}

func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	return s.primary.ListProjects(ctx)
}

func (s *Store) GetProjectOverview(ctx context.Context, project string) (*models.ProjectOverview, error) {
	return s.primary.GetProjectOverview(ctx, project)
}

// Clear clears the primary; the archive is append-only and left alone.
func (s *Store) Clear(ctx context.Context) error {
	return s.primary.Clear(ctx)
}

// ExportState delegates snapshotting to the primary when it supports it.
func (s *Store) ExportState(ctx context.Context) (*snapshots.State, error) {
	snap, ok := s.primary.(snapshots.Snapshotter)
	if !ok {
		return nil, fmt.Errorf("primary storage does not support snapshots")
	}
	return snap.ExportState(ctx)
}

// ImportState delegates snapshot restore to the primary when it
// supports it. The archive keeps its rows; it is append-only history.
func (s *Store) ImportState(ctx context.Context, state *snapshots.State) error {
	snap, ok := s.primary.(snapshots.Snapshotter)
	if !ok {
		return fmt.Errorf("primary storage does not support snapshots")
	}
	return snap.ImportState(ctx, state)
}

// Close closes both backends.
func (s *Store) Close() error {
	err := s.primary.Close()
	if cerr := s.archive.Close(); err == nil {
		err = cerr
	}
	return err
}
