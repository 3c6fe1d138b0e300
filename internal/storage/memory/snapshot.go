package memory

import (
	"context"

	"github.com/fidde/groupsink/internal/storage/snapshots"
	"github.com/fidde/groupsink/pkg/estimate"
	"github.com/fidde/groupsink/pkg/models"
)

// ExportState dumps the full store contents for snapshotting.
func (s *Store) ExportState(ctx context.Context) (*snapshots.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &snapshots.State{
		Events: make(map[string][]*models.Event, len(s.events)),
		Users:  make(map[string]*estimate.Sketch, len(s.users)),
	}
	for _, group := range s.groups {
		copied := *group
		state.Groups = append(state.Groups, &copied)
	}
	for hash, groupID := range s.hashes {
		var project string
		if g, ok := s.groups[groupID]; ok {
			project = g.Project
		}
		state.Hashes = append(state.Hashes, models.GroupHash{
			Hash:    hash,
			GroupID: groupID,
			Project: project,
		})
	}
	for groupID, events := range s.events {
		state.Events[groupID] = append([]*models.Event(nil), events...)
	}
	// the store keeps mutating its sketches after the lock is released,
	// so the snapshot gets its own copies
	for groupID, sketch := range s.users {
		copied := estimate.New()
		copied.Merge(sketch)
		state.Users[groupID] = copied
	}
	return state, nil
}

// ImportState replaces the store contents with the snapshot state.
func (s *Store) ImportState(ctx context.Context, state *snapshots.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups = make(map[string]*models.Group, len(state.Groups))
	s.hashes = make(map[string]string, len(state.Hashes))
	s.events = make(map[string][]*models.Event, len(state.Events))
	s.users = make(map[string]*estimate.Sketch, len(state.Users))

	for _, group := range state.Groups {
		copied := *group
		s.groups[group.ID] = &copied
	}
	for _, gh := range state.Hashes {
		s.hashes[gh.Hash] = gh.GroupID
	}
	for groupID, events := range state.Events {
		s.events[groupID] = append([]*models.Event(nil), events...)
	}
	for groupID, sketch := range state.Users {
		copied := estimate.New()
		copied.Merge(sketch)
		s.users[groupID] = copied
	}
	return nil
}
