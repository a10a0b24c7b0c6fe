package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Crosschaser/Protos/internal/notification"
)

// ErrClosed is returned by Notify after Stop.
var ErrClosed = errors.New("history writer closed")

const schema = `
CREATE TABLE IF NOT EXISTS notification_history (
	dedup_key       TEXT PRIMARY KEY,
	notification_id TEXT,
	type            TEXT NOT NULL,
	raw_type        TEXT,
	title           TEXT NOT NULL,
	body            TEXT NOT NULL,
	city            TEXT,
	company         TEXT,
	entity_id       INTEGER,
	sent_at         TIMESTAMPTZ,
	delivered_at    TIMESTAMPTZ NOT NULL,
	payload         JSONB
)`

const insertRow = `
INSERT INTO notification_history (
	dedup_key, notification_id, type, raw_type, title, body,
	city, company, entity_id, sent_at, delivered_at, payload
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (dedup_key) DO NOTHING`

// DB is the subset of pgxpool.Pool used by the Writer.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch (default: 100)
	FlushInterval time.Duration // Max time a row waits in the queue (default: 2s)
	BufferSize    int           // Initial queue capacity (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		BufferSize:    1000,
	}
}

// Stats holds writer statistics.
type Stats struct {
	Queued    int
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

type row struct {
	DedupKey    string
	ID          *string
	Type        string
	RawType     string
	Title       string
	Body        string
	City        *string
	Company     *string
	EntityID    *int
	SentAt      *time.Time
	DeliveredAt time.Time
	Payload     []byte
}

// Writer queues delivered notifications and writes them in batches.
type Writer struct {
	cfg    Config
	db     DB
	logger *slog.Logger

	input *queue[row]
	kick  chan struct{}

	flushMu sync.Mutex // serializes flushes
	mu      sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a new Writer.
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
		db:     db,
		logger: logger.With("component", "history"),
		input:  newQueue[row](cfg.BufferSize),
		kick:   make(chan struct{}, 1),
	}
}

// EnsureSchema creates the history table if it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	_, err := w.db.Exec(ctx, schema)
	return err
}

// Start begins the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop closes the queue, waits for the flush loop and writes what is left.
func (w *Writer) Stop(ctx context.Context) error {
	w.input.close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	for w.input.len() > 0 {
		if !w.flush(ctx) {
			break
		}
	}

	w.logger.Info("history writer stopped")
	return nil
}

// Close stops the writer with a short deadline.
func (w *Writer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.Stop(ctx)
}

// Notify queues msg for writing. It never blocks on the database.
func (w *Writer) Notify(ctx context.Context, msg notification.Message) error {
	if !w.input.push(transform(msg, time.Now())) {
		return ErrClosed
	}
	if w.input.len() >= w.cfg.BatchSize {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Stats returns current statistics.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	s := w.stats
	w.mu.Unlock()
	s.Queued = w.input.len()
	return s
}

// flushLoop flushes the queue on every tick and whenever a full batch is
// waiting.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	// A batch already drained must reach the database even if Stop races it.
	flushCtx := context.WithoutCancel(w.ctx)

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		case <-w.kick:
		}
		for w.input.len() > 0 && w.ctx.Err() == nil {
			if !w.flush(flushCtx) {
				break
			}
		}
	}
}

// flush writes one batch. It reports false when the insert failed; the
// batch is dropped and counted as an error.
func (w *Writer) flush(ctx context.Context) bool {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	batch := w.input.drain(w.cfg.BatchSize)
	if len(batch) == 0 {
		return true
	}

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.mu.Unlock()

	w.logger.Debug("flushed history",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return true
}

// batchInsert sends one pipelined batch and counts rows skipped on conflict.
func (w *Writer) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertRow,
			r.DedupKey, r.ID, r.Type, r.RawType, r.Title, r.Body,
			r.City, r.Company, r.EntityID, r.SentAt, r.DeliveredAt, r.Payload,
		)
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

// transform converts a Message to a row.
func transform(msg notification.Message, deliveredAt time.Time) row {
	r := row{
		DedupKey:    msg.DedupKey(),
		ID:          optional(msg.ID),
		Type:        string(msg.Type),
		RawType:     msg.RawType,
		Title:       msg.Title,
		Body:        msg.Body,
		City:        optional(msg.City),
		Company:     optional(msg.Company),
		EntityID:    msg.CorrelatedEntityID,
		DeliveredAt: deliveredAt.UTC(),
	}
	if !msg.Timestamp.IsZero() {
		ts := msg.Timestamp.UTC()
		r.SentAt = &ts
	}
	if len(msg.Payload) > 0 {
		r.Payload = msg.Payload
	}
	return r
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
