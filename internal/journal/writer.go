package journal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker"

	"github.com/rickgao/conference-signal/internal/store"
)

// Config configures a Writer.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits before being flushed
	FlushTimeout  time.Duration // Deadline for each batch insert

	BreakerFailures uint32        // Consecutive failed batches that open the breaker
	BreakerTimeout  time.Duration // How long the breaker stays open
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		FlushTimeout:  5 * time.Second,

		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Metrics contains runtime statistics.
type Metrics struct {
	Recorded  int64 // Actions accepted by Record
	Inserts   int64 // Rows written
	Conflicts int64 // Rows skipped by ON CONFLICT
	Flushes   int64
	Errors    int64 // Failed batches, including encode failures
	Dropped   int64 // Rows discarded while the breaker was open
}

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// eventRow is one row of conference_signal_events.
type eventRow struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	Type         string
	ConferenceID string
	Payload      []byte
	ReceivedAt   int64 // Unix microseconds
}

// conferenceScoped is implemented by actions tied to a conference.
type conferenceScoped interface {
	Conference() string
}

// Writer records dispatched actions into the conference_signal_events table.
type Writer struct {
	cfg       Config
	logger    *slog.Logger
	sessionID uuid.UUID

	// Database
	db      BatchSender
	breaker *gobreaker.CircuitBreaker

	// Batching
	batch   []eventRow
	batchMu sync.Mutex
	flushCh chan struct{}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// NewWriter creates a new Writer. Every row it writes carries a session id
// unique to this Writer.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "journal",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("journal breaker state change",
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Writer{
		cfg:       cfg,
		db:        db,
		breaker:   breaker,
		logger:    logger,
		sessionID: uuid.New(),
		batch:     make([]eventRow, 0, cfg.BatchSize),
		flushCh:   make(chan struct{}, 1),
	}
}

// Start begins periodic flushing.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"session_id", w.sessionID,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the flush loop and writes whatever is still batched.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	// Final flush
	w.flush(ctx)

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// SessionID returns the id stamped on every row of this Writer.
func (w *Writer) SessionID() uuid.UUID {
	return w.sessionID
}

// Record adds an action to the current batch. It never blocks on the
// database; a full batch is handed to the flush loop.
func (w *Writer) Record(a store.Action) {
	row, err := w.transform(a, time.Now())
	if err != nil {
		w.logger.Warn("failed to encode action", "type", a.Type(), "error", err)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	w.metrics.Recorded++
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

// Middleware returns a pipeline stage recording every action before
// passing it on.
func Middleware[S any](w *Writer) store.Middleware[S] {
	return func(api store.API[S]) func(next store.Next) store.Next {
		return func(next store.Next) store.Next {
			return func(a store.Action) {
				w.Record(a)
				next(a)
			}
		}
	}
}

// flushLoop flushes on the interval or when a batch fills up.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		case <-w.flushCh:
			w.flush(w.ctx)
		}
	}
}

// transform converts an action to an eventRow.
func (w *Writer) transform(a store.Action, receivedAt time.Time) (eventRow, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return eventRow{}, err
	}

	row := eventRow{
		ID:         uuid.New(),
		SessionID:  w.sessionID,
		Type:       a.Type(),
		Payload:    payload,
		ReceivedAt: receivedAt.UnixMicro(),
	}
	if c, ok := a.(conferenceScoped); ok {
		row.ConferenceID = c.Conference()
	}
	return row, nil
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	res, err := w.breaker.Execute(func() (interface{}, error) {
		return w.batchInsert(ctx, batch)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		w.logger.Warn("journal breaker open, dropping batch", "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Dropped += int64(len(batch))
		w.batchMu.Unlock()
		return
	}
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}
	conflicts := res.(int)

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
// The insert is detached from ctx cancellation so the final flush after
// Stop still runs, but bounded by FlushTimeout.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, ErrNoDatabase
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FlushTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO conference_signal_events (id, session_id, type, conference_id, payload, received_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.SessionID, r.Type, nullIfEmpty(r.ConferenceID), r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
