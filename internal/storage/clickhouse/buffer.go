package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	defaultBatchSize     = 1000
	defaultFlushInterval = 5 * time.Second
	defaultShutdownWait  = 10 * time.Second
	maxRetries           = 3
)

// EventRow represents a row in the error_events table
type EventRow struct {
	EventID     string
	GroupID     string
	Project     string
	Platform    string
	Level       string
	PrimaryHash string
	Title       string
	Culprit     string
	User        string
	Timestamp   time.Time
	Payload     string
}

// BatchBuffer manages batched writes to ClickHouse with automatic flushing
type BatchBuffer struct {
	conn driver.Conn

	mu        sync.Mutex
	eventRows []EventRow

	batchSize     int
	flushInterval time.Duration
	shutdownWait  time.Duration

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewBatchBuffer creates a new batch buffer
func NewBatchBuffer(conn driver.Conn, batchSize int, flushInterval time.Duration, logger *slog.Logger) *BatchBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	b := &BatchBuffer{
		conn:          conn,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		shutdownWait:  defaultShutdownWait,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}

	b.wg.Add(1)
	go b.flushLoop()

	return b
}

// Add queues an event row, flushing when the batch size is reached.
func (b *BatchBuffer) Add(row EventRow) {
	b.mu.Lock()
	b.eventRows = append(b.eventRows, row)
	needFlush := len(b.eventRows) >= b.batchSize
	b.mu.Unlock()

	if needFlush {
		b.Flush()
	}
}

// flushLoop flushes on a timer until the buffer is closed.
func (b *BatchBuffer) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.stopCh:
			b.Flush()
			return
		}
	}
}

// Flush writes all buffered rows, retrying transient failures.
func (b *BatchBuffer) Flush() {
	b.mu.Lock()
	rows := b.eventRows
	b.eventRows = nil
	b.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.shutdownWait)
	defer cancel()

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = b.insertBatch(ctx, rows); err == nil {
			return
		}
		b.logger.Warn("batch insert failed",
			"attempt", attempt,
			"rows", len(rows),
			"error", err,
		)
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}

	b.logger.Error("dropping batch after retries", "rows", len(rows), "error", err)
}

// insertBatch writes one prepared batch.
func (b *BatchBuffer) insertBatch(ctx context.Context, rows []EventRow) error {
	batch, err := b.conn.PrepareBatch(ctx, `
		INSERT INTO error_events (event_id, group_id, project, platform, level,
			primary_hash, title, culprit, user, timestamp, payload)
	`)
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.EventID, row.GroupID, row.Project, row.Platform, row.Level,
			row.PrimaryHash, row.Title, row.Culprit, row.User,
			row.Timestamp, row.Payload,
		); err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending batch: %w", err)
	}
	return nil
}

// Close flushes pending rows and stops the flush loop.
func (b *BatchBuffer) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
	})
	return nil
}
