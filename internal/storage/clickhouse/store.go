// Package clickhouse provides a ClickHouse-backed archive of raw
// events for analytics queries. Group bookkeeping stays in the
// primary store; the archive answers event-history questions.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/fidde/groupsink/pkg/models"
)

// Archive stores raw event rows in ClickHouse.
type Archive struct {
	conn   driver.Conn
	buffer *BatchBuffer
	logger *slog.Logger
}

// NewArchive connects, initializes the schema and starts the batch
// buffer.
func NewArchive(ctx context.Context, cfg *ConnectionConfig, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := InitializeSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Archive{
		conn:   conn,
		buffer: NewBatchBuffer(conn, cfg.BatchSize, cfg.FlushInterval, logger),
		logger: logger,
	}, nil
}

// ArchiveEvent queues one event row for insertion.
func (a *Archive) ArchiveEvent(event *models.Event, group *models.Group) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	a.buffer.Add(EventRow{
		EventID:     event.EventID,
		GroupID:     group.ID,
		Project:     event.Project,
		Platform:    event.Platform,
		Level:       models.NormalizeLevel(event.Level),
		PrimaryHash: group.PrimaryHash,
		Title:       group.Title,
		Culprit:     group.Culprit,
		User:        event.Tags["user"],
		Timestamp:   timestamp,
		Payload:     string(payload),
	})
	return nil
}

// RecentEvents returns the most recent archived events of a group.
func (a *Archive) RecentEvents(ctx context.Context, groupID string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := a.conn.Query(ctx, `
		SELECT payload FROM error_events
		WHERE group_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var event models.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshaling event: %w", err)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// DailyCount is one day's event volume for a group.
type DailyCount struct {
	Day   time.Time `json:"day"`
	Count uint64    `json:"count"`
}

// DailyCounts returns per-day event counts for a group over the last
// days days.
func (a *Archive) DailyCounts(ctx context.Context, groupID string, days int) ([]DailyCount, error) {
	if days <= 0 {
		days = 30
	}

	rows, err := a.conn.Query(ctx, `
		SELECT toStartOfDay(timestamp) AS day, count() AS cnt
		FROM error_events
		WHERE group_id = ? AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY day
		ORDER BY day
	`, groupID, days)
	if err != nil {
		return nil, fmt.Errorf("querying daily counts: %w", err)
	}
	defer rows.Close()

	var counts []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scanning daily count: %w", err)
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}

// Close flushes pending rows and closes the connection.
func (a *Archive) Close() error {
	a.buffer.Close()
	return a.conn.Close()
}
