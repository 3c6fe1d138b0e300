package storage

import (
	"fmt"
	"log"

	"github.com/fidde/groupsink/internal/storage/memory"
	"github.com/fidde/groupsink/internal/storage/sqlite"
)

// Config holds storage configuration.
type Config struct {
	// Backend selects the storage backend: "memory" or "sqlite"
	Backend string

	// SQLite-specific config
	SQLitePath string
}

// DefaultConfig returns default storage configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    "memory",
		SQLitePath: "./data/groupsink.db",
	}
}

// NewStorage creates a storage implementation based on configuration.
func NewStorage(cfg Config) (Storage, error) {
	switch cfg.Backend {
	case "memory":
		log.Printf("Using in-memory storage")
		return memory.New(), nil

	case "sqlite":
		log.Printf("Using SQLite storage: %s", cfg.SQLitePath)

		sqlCfg := sqlite.DefaultConfig(cfg.SQLitePath)
		store, err := sqlite.New(sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, sqlite)", cfg.Backend)
	}
}
