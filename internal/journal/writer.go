package journal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/workflow-realtime/internal/buffer"
	"github.com/rickgao/workflow-realtime/internal/store"
)

const insertEvent = `
	INSERT INTO realtime_events (workflow_id, event_type, payload, recorded_at)
	VALUES ($1, $2, $3, $4)
`

const createTable = `
	CREATE TABLE IF NOT EXISTS realtime_events (
		id          BIGSERIAL PRIMARY KEY,
		workflow_id TEXT        NOT NULL,
		event_type  TEXT        NOT NULL,
		payload     JSONB       NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)
`

const createIndex = `
	CREATE INDEX IF NOT EXISTS realtime_events_workflow_idx
	ON realtime_events (workflow_id, recorded_at)
`

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config configures a Writer.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Max rows buffered before the oldest is dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics tracks writer statistics.
type Metrics struct {
	Received int64
	Inserts  int64
	Flushes  int64
	Errors   int64
	Dropped  int64
}

type eventRow struct {
	WorkflowID string
	EventType  string
	Payload    []byte
	RecordedAt time.Time
}

// Writer consumes store events and appends them to realtime_events.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	input *buffer.Queue[eventRow]

	db DB

	// Batching
	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *clock.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

var _ store.Dispatcher = (*Writer)(nil)

// NewWriter creates a Writer. Zero config fields take their defaults.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With("component", "journal"),
		clock:  clock.New(),
		input:  buffer.NewQueue[eventRow](cfg.BatchSize, cfg.BufferSize),
		db:     db,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the realtime_events table and its index.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, createTable); err != nil {
		return err
	}
	_, err := db.Exec(ctx, createIndex)
	return err
}

// Dispatch buffers ev for writing. It never blocks; when the buffer is full
// the oldest row is dropped.
func (w *Writer) Dispatch(ev store.Event) {
	row, err := w.transform(ev)
	if err != nil {
		w.logger.Warn("cannot encode event", "type", ev.Type(), "error", err)
		return
	}

	_, evicted, ok := w.input.Push(row)

	w.batchMu.Lock()
	if ok {
		w.metrics.Received++
	}
	if evicted {
		w.metrics.Dropped++
	}
	w.batchMu.Unlock()

	if evicted {
		w.logger.Warn("journal buffer full, dropped oldest event")
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = w.clock.Ticker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the writer and flushes whatever is buffered.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("journal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	w.input.Close()
	for _, row := range w.input.DrainTo(0) {
		w.appendRow(row)
	}
	return w.flushContext(ctx)
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			row, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			if w.appendRow(row) {
				w.flush()
			}
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// appendRow adds row to the batch and reports whether it is full.
func (w *Writer) appendRow(row eventRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *Writer) transform(ev store.Event) (eventRow, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eventRow{}, err
	}
	return eventRow{
		WorkflowID: ev.Workflow(),
		EventType:  string(ev.Type()),
		Payload:    payload,
		RecordedAt: w.clock.Now().UTC(),
	}, nil
}

func (w *Writer) flush() {
	if err := w.flushContext(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Debug("flush failed", "error", err)
	}
}

// flushContext writes the current batch. Failed batches are counted and
// discarded.
func (w *Writer) flushContext(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := w.clock.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"duration", w.clock.Since(start),
	)
	return nil
}

func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) error {
	if w.db == nil {
		return errors.New("journal has no database")
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, r.WorkflowID, r.EventType, r.Payload, r.RecordedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
