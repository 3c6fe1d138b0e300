// Package snapshots provides file-based snapshot storage for saving
// and restoring grouping state.
package snapshots

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Default configuration values
const (
	DefaultSnapshotDir    = "./data/snapshots"
	DefaultMaxSnapshots   = 50
	SnapshotFileExtension = ".json.gz"
	CurrentVersion        = 1
)

// ErrSnapshotNotFound is returned when the named snapshot does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Config contains snapshot storage configuration.
type Config struct {
	// SnapshotDir is the directory where snapshots are stored
	SnapshotDir string

	// MaxSnapshots is the maximum number of snapshots to keep; the
	// oldest are pruned when the cap is exceeded
	MaxSnapshots int
}

// DefaultConfig returns the default snapshot storage configuration.
func DefaultConfig() Config {
	return Config{
		SnapshotDir:  DefaultSnapshotDir,
		MaxSnapshots: DefaultMaxSnapshots,
	}
}

// Envelope wraps a state dump with snapshot metadata.
type Envelope struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	State     *State    `json:"state"`
}

// Info describes a stored snapshot without its state.
type Info struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	SizeBytes  int64     `json:"size_bytes"`
	GroupCount int       `json:"group_count"`
}

// Store is a file-based snapshot storage.
type Store struct {
	config Config
	mu     sync.RWMutex
}

// New creates a new snapshot store with default configuration.
func New() (*Store, error) {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new snapshot store with the given configuration.
func NewWithConfig(config Config) (*Store, error) {
	if config.SnapshotDir == "" {
		config.SnapshotDir = DefaultSnapshotDir
	}
	if config.MaxSnapshots <= 0 {
		config.MaxSnapshots = DefaultMaxSnapshots
	}
	if err := os.MkdirAll(config.SnapshotDir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &Store{config: config}, nil
}

// Save writes a named snapshot, overwriting any existing one, and
// prunes the oldest snapshots past the retention cap.
func (s *Store) Save(name string, state *State) (*Info, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	envelope := Envelope{
		Version:   CurrentVersion,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		State:     state,
	}

	path := s.path(name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot file: %w", err)
	}

	gz := gzip.NewWriter(f)
	encodeErr := json.NewEncoder(gz).Encode(&envelope)
	if err := gz.Close(); encodeErr == nil {
		encodeErr = err
	}
	if err := f.Close(); encodeErr == nil {
		encodeErr = err
	}
	if encodeErr != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("writing snapshot: %w", encodeErr)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("renaming snapshot: %w", err)
	}

	if err := s.pruneLocked(); err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stating snapshot: %w", err)
	}

	return &Info{
		Name:       name,
		CreatedAt:  envelope.CreatedAt,
		SizeBytes:  stat.Size(),
		GroupCount: len(state.Groups),
	}, nil
}

// Load reads a named snapshot.
func (s *Store) Load(name string) (*State, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s: %w", name, ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	defer gz.Close()

	var envelope Envelope
	if err := json.NewDecoder(gz).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if envelope.Version != CurrentVersion {
		return nil, fmt.Errorf("snapshot %s has version %d, want %d", name, envelope.Version, CurrentVersion)
	}
	if envelope.State == nil {
		return nil, fmt.Errorf("snapshot %s has no state", name)
	}

	return envelope.State, nil
}

// List returns info about all stored snapshots, newest first.
func (s *Store) List() ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.config.SnapshotDir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SnapshotFileExtension) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), SnapshotFileExtension)
		stat, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:      name,
			CreatedAt: stat.ModTime().UTC(),
			SizeBytes: stat.Size(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

// Delete removes a named snapshot.
func (s *Store) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot %s: %w", name, ErrSnapshotNotFound)
	}
	return err
}

// pruneLocked removes the oldest snapshots past the retention cap.
// Caller holds the write lock.
func (s *Store) pruneLocked() error {
	entries, err := os.ReadDir(s.config.SnapshotDir)
	if err != nil {
		return fmt.Errorf("reading snapshot directory: %w", err)
	}

	type aged struct {
		name    string
		modTime time.Time
	}
	var files []aged
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SnapshotFileExtension) {
			continue
		}
		stat, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{name: entry.Name(), modTime: stat.ModTime()})
	}

	if len(files) <= s.config.MaxSnapshots {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	for _, f := range files[:len(files)-s.config.MaxSnapshots] {
		os.Remove(filepath.Join(s.config.SnapshotDir, f.name))
	}
	return nil
}

// path returns the file path of a named snapshot.
func (s *Store) path(name string) string {
	return filepath.Join(s.config.SnapshotDir, name+SnapshotFileExtension)
}

// validateName rejects names that would escape the snapshot directory.
func validateName(name string) error {
	if name == "" {
		return errors.New("snapshot name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	return nil
}
