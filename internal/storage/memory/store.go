// Package memory provides an in-memory storage implementation for groups.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fidde/groupsink/pkg/estimate"
	"github.com/fidde/groupsink/pkg/models"
)

// maxEventsPerGroup caps the retained raw events per group; older
// events fall off when the cap is reached.
const maxEventsPerGroup = 100

// Store is an in-memory storage for groups, hashes and recent events.
type Store struct {
	mu sync.RWMutex

	// groups storage: group id -> group
	groups map[string]*models.Group

	// hashes maps grouping hash -> group id
	hashes map[string]string

	// events keeps the most recent events per group id
	events map[string][]*models.Event

	// users tracks the distinct-user sketch per group id
	users map[string]*estimate.Sketch
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		groups: make(map[string]*models.Group),
		hashes: make(map[string]string),
		events: make(map[string][]*models.Event),
		users:  make(map[string]*estimate.Sketch),
	}
}

// SaveEvent aggregates the event into the group owning the first known
// hash, creating a new group when none of the hashes is known.
func (s *Store) SaveEvent(ctx context.Context, event *models.Event, hashes []string, seed models.GroupSeed) (*models.GroupInfo, error) {
	if event == nil {
		return nil, errors.New("event cannot be nil")
	}
	if len(hashes) == 0 {
		return nil, errors.New("event has no grouping hashes")
	}

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var group *models.Group
	info := &models.GroupInfo{}

	// First existing hash wins
	for _, hash := range hashes {
		if groupID, ok := s.hashes[hash]; ok {
			group = s.groups[groupID]
			break
		}
	}

	if group == nil {
		group = &models.Group{
			ID:          newGroupID(),
			Project:     event.Project,
			Title:       seed.Title,
			Culprit:     seed.Culprit,
			Level:       seed.Level,
			Status:      models.StatusUnresolved,
			PrimaryHash: hashes[0],
			FirstSeen:   timestamp,
			LastSeen:    timestamp,
			TimesSeen:   1,
			Metadata:    seed.Metadata,
		}
		s.groups[group.ID] = group
		info.IsNew = true
	} else {
		group.TimesSeen++
		if timestamp.After(group.LastSeen) {
			group.LastSeen = timestamp
		}
		if group.Status == models.StatusResolved {
			group.Status = models.StatusUnresolved
			info.IsRegression = true
		}
	}

	// Link all hashes to the group; hashes already owned by another
	// group are left alone
	for _, hash := range hashes {
		owner, ok := s.hashes[hash]
		if !ok {
			s.hashes[hash] = group.ID
			continue
		}
		if owner != group.ID {
			log.Printf("Hash %s already linked to group %s, not moving to %s", hash, owner, group.ID)
		}
	}

	if user := event.Tags["user"]; user != "" {
		sketch := s.users[group.ID]
		if sketch == nil {
			sketch = estimate.New()
			s.users[group.ID] = sketch
		}
		sketch.Add(user)
		group.UserCount = sketch.Count()
	}

	events := append(s.events[group.ID], event)
	if len(events) > maxEventsPerGroup {
		events = events[len(events)-maxEventsPerGroup:]
	}
	s.events[group.ID] = events

	copied := *group
	info.Group = &copied
	return info, nil
}

// GetGroup retrieves a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}
	copied := *group
	return &copied, nil
}

// ListGroups returns groups, optionally filtered by project and
// status, most recently seen first.
func (s *Store) ListGroups(ctx context.Context, project string, status models.GroupStatus) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]*models.Group, 0, len(s.groups))
	for _, group := range s.groups {
		if project != "" && group.Project != project {
			continue
		}
		if status != "" && group.Status != status {
			continue
		}
		copied := *group
		groups = append(groups, &copied)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].LastSeen.After(groups[j].LastSeen)
	})

	return groups, nil
}

// ListGroupEvents returns the most recent events of a group, newest first.
func (s *Store) ListGroupEvents(ctx context.Context, groupID string, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}

	stored := s.events[groupID]
	events := make([]*models.Event, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if limit > 0 && len(events) >= limit {
			break
		}
		events = append(events, stored[i])
	}
	return events, nil
}

// GetGroupHashes returns all hashes linked to a group, sorted.
func (s *Store) GetGroupHashes(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}

	var hashes []string
	for hash, owner := range s.hashes {
		if owner == groupID {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// UpdateGroupStatus changes a group's triage status.
func (s *Store) UpdateGroupStatus(ctx context.Context, id string, status models.GroupStatus) (*models.Group, error) {
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}
	group.Status = status
	copied := *group
	return &copied, nil
}

// ListProjects returns all project names seen, sorted.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, group := range s.groups {
		seen[group.Project] = struct{}{}
	}
	projects := make([]string, 0, len(seen))
	for project := range seen {
		projects = append(projects, project)
	}
	sort.Strings(projects)
	return projects, nil
}

// GetProjectOverview summarizes a project's groups.
func (s *Store) GetProjectOverview(ctx context.Context, project string) (*models.ProjectOverview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	overview := &models.ProjectOverview{Project: project}
	for _, group := range s.groups {
		if group.Project != project {
			continue
		}
		overview.GroupCount++
		if group.Status == models.StatusUnresolved {
			overview.UnresolvedCount++
		}
		overview.EventCount += group.TimesSeen
		if group.LastSeen.After(overview.LastSeen) {
			overview.LastSeen = group.LastSeen
		}
	}
	if overview.GroupCount == 0 {
		return nil, fmt.Errorf("project %s: %w", project, models.ErrNotFound)
	}
	return overview, nil
}

// Clear removes all data.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups = make(map[string]*models.Group)
	s.hashes = make(map[string]string)
	s.events = make(map[string][]*models.Event)
	s.users = make(map[string]*estimate.Sketch)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// newGroupID generates a random 16-hex-char group id.
func newGroupID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
