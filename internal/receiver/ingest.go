// Package receiver implements the event store endpoint and OTLP logs
// intake.
package receiver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fidde/groupsink/internal/grouping"
	"github.com/fidde/groupsink/internal/storage"
	"github.com/fidde/groupsink/pkg/models"
)

// Ingestor runs grouping on incoming events and persists the outcome.
// It is shared by the HTTP store endpoint and the OTLP receivers.
type Ingestor struct {
	grouper *grouping.Grouper
	store   storage.Storage
}

// NewIngestor creates an ingestor.
func NewIngestor(grouper *grouping.Grouper, store storage.Storage) *Ingestor {
	return &Ingestor{grouper: grouper, store: store}
}

// IngestResult reports where an event landed.
type IngestResult struct {
	EventID      string `json:"event_id"`
	GroupID      string `json:"group_id"`
	PrimaryHash  string `json:"primary_hash"`
	IsNew        bool   `json:"is_new"`
	IsRegression bool   `json:"is_regression,omitempty"`
}

// Ingest normalizes an event, computes its grouping and saves it.
func (in *Ingestor) Ingest(ctx context.Context, event *models.Event) (*IngestResult, error) {
	if event == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}
	if event.Project == "" {
		return nil, fmt.Errorf("event has no project")
	}
	if event.EventID == "" {
		event.EventID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Level = models.NormalizeLevel(event.Level)

	result, err := in.grouper.Grouping(event)
	if err != nil {
		return nil, fmt.Errorf("grouping event: %w", err)
	}

	seed := models.GroupSeed{
		Title:    result.Title,
		Culprit:  result.Culprit,
		Level:    result.Level,
		Metadata: result.Metadata,
	}
	info, err := in.store.SaveEvent(ctx, event, result.Hashes, seed)
	if err != nil {
		return nil, fmt.Errorf("saving event: %w", err)
	}

	return &IngestResult{
		EventID:      event.EventID,
		GroupID:      info.Group.ID,
		PrimaryHash:  result.PrimaryHash(),
		IsNew:        info.IsNew,
		IsRegression: info.IsRegression,
	}, nil
}

// newEventID returns a random 32-character hex event id.
func newEventID() string {
	var buf [16]byte
	rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
