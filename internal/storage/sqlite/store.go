// Package sqlite provides a SQLite-backed storage implementation.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fidde/groupsink/pkg/estimate"
	"github.com/fidde/groupsink/pkg/models"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.up.sql
var migrationSQL string

// Store is a SQLite-backed storage for groups and events.
// Group bookkeeping is synchronous; raw event rows are batched through
// a writer goroutine.
type Store struct {
	db *sql.DB

	// groupMu serializes the find-or-create path so that two events
	// with the same new hash cannot race into two groups
	groupMu sync.Mutex

	// Batch writer for event rows
	writeCh   chan eventRow
	flushCh   chan chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// eventRow is one pending raw event insert.
type eventRow struct {
	eventID   string
	groupID   string
	project   string
	timestamp time.Time
	payload   []byte
}

// Config holds SQLite store configuration.
type Config struct {
	DBPath        string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:        dbPath,
		BatchSize:     100,
		FlushInterval: 100 * time.Millisecond,
	}
}

// New creates a new SQLite store with the given configuration.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	store := &Store{
		db:      db,
		writeCh: make(chan eventRow, 1000),
		flushCh: make(chan chan struct{}),
		closeCh: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.batchWriter(cfg.BatchSize, cfg.FlushInterval)

	return store, nil
}

// DB exposes the underlying database handle for specialized queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// batchWriter batches raw event inserts into transactions.
func (s *Store) batchWriter(batchSize int, flushInterval time.Duration) {
	defer s.wg.Done()

	batch := make([]eventRow, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insertEventBatch(batch); err != nil {
			log.Printf("Error flushing %d event rows: %v", len(batch), err)
		}
		batch = batch[:0]
	}
	// drain pulls everything already queued without blocking. The
	// channel is never closed; producers check closeCh instead, so a
	// late SaveEvent cannot panic on a closed channel.
	drain := func() {
		for {
			select {
			case row := <-s.writeCh:
				batch = append(batch, row)
			default:
				return
			}
		}
	}

	for {
		select {
		case row := <-s.writeCh:
			batch = append(batch, row)
			if batchSize > 0 && len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case done := <-s.flushCh:
			drain()
			flush()
			close(done)

		case <-s.closeCh:
			drain()
			flush()
			return
		}
	}
}

// insertEventBatch writes a batch of event rows in one transaction.
func (s *Store) insertEventBatch(batch []eventRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO events (event_id, group_id, project, timestamp, payload)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range batch {
		if _, err := stmt.Exec(row.eventID, row.groupID, row.project, row.timestamp, row.payload); err != nil {
			return fmt.Errorf("insert event %s: %w", row.eventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SaveEvent aggregates an event into the group owning the first known
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

	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	info := &models.GroupInfo{}
	group, err := s.findGroupByHashesTx(ctx, tx, hashes)
	if err != nil {
		return nil, err
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
		if err := s.insertGroupTx(ctx, tx, group); err != nil {
			return nil, err
		}
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

	// Track distinct users via the serialized sketch
	if user := event.Tags["user"]; user != "" {
		sketch, err := s.loadSketchTx(ctx, tx, group.ID)
		if err != nil {
			return nil, err
		}
		sketch.Add(user)
		group.UserCount = sketch.Count()
		if err := s.saveSketchTx(ctx, tx, group.ID, sketch); err != nil {
			return nil, err
		}
	}

	if !info.IsNew {
		if err := s.updateGroupTx(ctx, tx, group); err != nil {
			return nil, err
		}
	}

	// Link hashes; rows owned by another group stay put
	for _, hash := range hashes {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_hashes (hash, group_id, project)
			VALUES (?, ?, ?)
		`, hash, group.ID, event.Project)
		if err != nil {
			return nil, fmt.Errorf("linking hash: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var owner string
			if err := tx.QueryRowContext(ctx,
				"SELECT group_id FROM group_hashes WHERE hash = ?", hash,
			).Scan(&owner); err == nil && owner != group.ID {
				log.Printf("Hash %s already linked to group %s, not moving to %s", hash, owner, group.ID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	// Raw event row goes through the batch writer
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	select {
	case s.writeCh <- eventRow{
		eventID:   event.EventID,
		groupID:   group.ID,
		project:   event.Project,
		timestamp: timestamp,
		payload:   payload,
	}:
	case <-s.closeCh:
		return nil, errors.New("store is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	copied := *group
	info.Group = &copied
	return info, nil
}

// findGroupByHashesTx returns the group owning the first known hash.
func (s *Store) findGroupByHashesTx(ctx context.Context, tx *sql.Tx, hashes []string) (*models.Group, error) {
	for _, hash := range hashes {
		var groupID string
		err := tx.QueryRowContext(ctx,
			"SELECT group_id FROM group_hashes WHERE hash = ?", hash,
		).Scan(&groupID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("looking up hash: %w", err)
		}
		return s.getGroupTx(ctx, tx, groupID)
	}
	return nil, nil
}

const groupColumns = `id, project, title, culprit, level, status, primary_hash,
	first_seen, last_seen, times_seen, user_count, metadata`

// scanGroup scans one group row.
func scanGroup(row interface{ Scan(...any) error }) (*models.Group, error) {
	var group models.Group
	var metadata string
	err := row.Scan(
		&group.ID, &group.Project, &group.Title, &group.Culprit,
		&group.Level, &group.Status, &group.PrimaryHash,
		&group.FirstSeen, &group.LastSeen, &group.TimesSeen,
		&group.UserCount, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &group.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling group metadata: %w", err)
	}
	return &group, nil
}

func (s *Store) getGroupTx(ctx context.Context, tx *sql.Tx, id string) (*models.Group, error) {
	group, err := scanGroup(tx.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading group: %w", err)
	}
	return group, nil
}

func (s *Store) insertGroupTx(ctx context.Context, tx *sql.Tx, group *models.Group) error {
	metadata, err := json.Marshal(group.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling group metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, project, title, culprit, level, status, primary_hash,
			first_seen, last_seen, times_seen, user_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, group.ID, group.Project, group.Title, group.Culprit, group.Level,
		group.Status, group.PrimaryHash, group.FirstSeen, group.LastSeen,
		group.TimesSeen, group.UserCount, string(metadata))
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

func (s *Store) updateGroupTx(ctx context.Context, tx *sql.Tx, group *models.Group) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE groups
		SET status = ?, last_seen = ?, times_seen = ?, user_count = ?
		WHERE id = ?
	`, group.Status, group.LastSeen, group.TimesSeen, group.UserCount, group.ID)
	if err != nil {
		return fmt.Errorf("updating group: %w", err)
	}
	return nil
}

func (s *Store) loadSketchTx(ctx context.Context, tx *sql.Tx, groupID string) (*estimate.Sketch, error) {
	var serialized sql.NullString
	err := tx.QueryRowContext(ctx,
		"SELECT user_sketch FROM groups WHERE id = ?", groupID,
	).Scan(&serialized)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("loading user sketch: %w", err)
	}

	sketch := estimate.New()
	if serialized.Valid && serialized.String != "" {
		if err := json.Unmarshal([]byte(serialized.String), sketch); err != nil {
			return nil, fmt.Errorf("unmarshaling user sketch: %w", err)
		}
	}
	return sketch, nil
}

func (s *Store) saveSketchTx(ctx context.Context, tx *sql.Tx, groupID string, sketch *estimate.Sketch) error {
	serialized, err := json.Marshal(sketch)
	if err != nil {
		return fmt.Errorf("marshaling user sketch: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE groups SET user_sketch = ? WHERE id = ?", string(serialized), groupID,
	); err != nil {
		return fmt.Errorf("saving user sketch: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	group, err := scanGroup(s.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading group: %w", err)
	}
	return group, nil
}

// ListGroups returns groups, optionally filtered by project and
// status, most recently seen first.
func (s *Store) ListGroups(ctx context.Context, project string, status models.GroupStatus) ([]*models.Group, error) {
	query := "SELECT " + groupColumns + " FROM groups WHERE 1=1"
	var args []any
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY last_seen DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// ListGroupEvents returns the most recent events of a group, newest first.
func (s *Store) ListGroupEvents(ctx context.Context, groupID string, limit int) ([]*models.Event, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM events
		WHERE group_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var event models.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("unmarshaling event: %w", err)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// GetGroupHashes returns all hashes linked to a group, sorted.
func (s *Store) GetGroupHashes(ctx context.Context, groupID string) ([]string, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT hash FROM group_hashes WHERE group_id = ? ORDER BY hash", groupID)
	if err != nil {
		return nil, fmt.Errorf("listing hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scanning hash: %w", err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

// UpdateGroupStatus changes a group's triage status.
func (s *Store) UpdateGroupStatus(ctx context.Context, id string, status models.GroupStatus) (*models.Group, error) {
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE groups SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("group %s: %w", id, models.ErrNotFound)
	}
	return s.GetGroup(ctx, id)
}

// ListProjects returns all project names seen, sorted.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT project FROM groups ORDER BY project")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var project string
		if err := rows.Scan(&project); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// GetProjectOverview summarizes a project's groups.
func (s *Store) GetProjectOverview(ctx context.Context, project string) (*models.ProjectOverview, error) {
	overview := &models.ProjectOverview{Project: project}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'unresolved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(times_seen), 0)
		FROM groups WHERE project = ?
	`, project).Scan(&overview.GroupCount, &overview.UnresolvedCount, &overview.EventCount)
	if err != nil {
		return nil, fmt.Errorf("project overview: %w", err)
	}
	if overview.GroupCount == 0 {
		return nil, fmt.Errorf("project %s: %w", project, models.ErrNotFound)
	}

	// MAX() strips the column's declared type and the driver hands the
	// aggregate back as a string, so fetch the newest row directly
	err = s.db.QueryRowContext(ctx,
		"SELECT last_seen FROM groups WHERE project = ? ORDER BY last_seen DESC LIMIT 1",
		project).Scan(&overview.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("project overview: %w", err)
	}
	return overview, nil
}

// Clear removes all data.
func (s *Store) Clear(ctx context.Context) error {
	// Settle queued event rows first; a row flushed after its group is
	// deleted would trip the foreign key
	done := make(chan struct{})
	select {
	case s.flushCh <- done:
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-s.closeCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, table := range []string{"events", "group_hashes", "groups"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// newGroupID generates a random 16-hex-char group id.
func newGroupID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
