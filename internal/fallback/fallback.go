package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Crosschaser/Protos/internal/api"
	"github.com/Crosschaser/Protos/internal/delivery"
	"github.com/Crosschaser/Protos/internal/jobs"
	"github.com/Crosschaser/Protos/internal/notification"
	"github.com/Crosschaser/Protos/internal/tokenstore"
)

// Job names.
const (
	PeriodicJobName = "notification_polling_work"
	OneTimeJobName  = "notification_polling_once"
)

// Scheduler runs the polling jobs.
type Scheduler interface {
	EnqueueUniquePeriodic(req jobs.PeriodicRequest, job jobs.Job, existing jobs.ExistingPolicy) (bool, error)
	CancelUnique(name string) bool
	IsScheduled(name string) bool
	Enqueue(req jobs.OneTimeRequest, job jobs.Job) error
}

// TokenSource provides the persisted device token.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
}

// PendingFetcher fetches notifications queued on the server.
type PendingFetcher interface {
	GetPending(ctx context.Context, token string) (*notification.PendingBatch, error)
}

// BatchSink receives fetched notifications.
type BatchSink interface {
	DeliverBatch(ctx context.Context, ch delivery.Channel, batch []json.RawMessage) int
}

// Config holds fallback configuration.
type Config struct {
	Interval       time.Duration // Periodic cadence (default: 5m)
	BackoffInitial time.Duration // First retry delay, grows linearly (default: 15s)
	BackoffMax     time.Duration // Retry delay cap (default: 5h)
	Timeout        time.Duration // Per-execution deadline (default: 2m)
	RequireNetwork bool
	OneTimeRetries int // Attempts for RunOnce before giving up (0 = unlimited)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		BackoffInitial: 15 * time.Second,
		BackoffMax:     jobs.DefaultBackoffMax,
		Timeout:        2 * time.Minute,
		RequireNetwork: true,
		OneTimeRetries: 3,
	}
}

// Stats holds fallback statistics.
type Stats struct {
	Executions   int64
	Fetched      int64 // Batch elements received from the server
	Delivered    int64 // Elements that reached the notifier
	FetchErrors  int64
	TokenMissing int64
	LastPollAt   time.Time
}

// Fallback fetches pending notifications while the stream is unavailable.
type Fallback struct {
	cfg     Config
	sched   Scheduler
	tokens  TokenSource
	fetcher PendingFetcher
	sink    BatchSink
	logger  *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	stats Stats
}

// New creates a new Fallback.
func New(cfg Config, sched Scheduler, tokens TokenSource, fetcher PendingFetcher, sink BatchSink, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		cfg:     cfg,
		sched:   sched,
		tokens:  tokens,
		fetcher: fetcher,
		sink:    sink,
		logger:  logger.With("component", "fallback"),
	}
}

// StartPeriodic registers the periodic polling job. It keeps an existing
// registration untouched, so calling it on every stream failure schedules
// exactly one job.
func (f *Fallback) StartPeriodic() error {
	scheduled, err := f.sched.EnqueueUniquePeriodic(f.periodicRequest(), jobs.JobFunc(f.Execute), jobs.ExistingKeep)
	if err != nil {
		return err
	}
	if scheduled {
		f.logger.Info("periodic polling scheduled", "interval", f.cfg.Interval)
	} else {
		f.logger.Debug("periodic polling already scheduled")
	}
	return nil
}

// StopPeriodic cancels the periodic polling job. An execution already in
// flight is left to finish. Calling it with no job registered is a no-op.
func (f *Fallback) StopPeriodic() error {
	if f.sched.CancelUnique(PeriodicJobName) {
		f.logger.Info("periodic polling stopped")
	}
	return nil
}

// RunOnce enqueues an immediate catch-up fetch.
func (f *Fallback) RunOnce() error {
	req := jobs.OneTimeRequest{
		Name:        OneTimeJobName,
		Constraints: jobs.Constraints{RequireNetwork: f.cfg.RequireNetwork},
		Backoff:     f.backoff(),
		Timeout:     f.cfg.Timeout,
		MaxAttempts: f.cfg.OneTimeRetries,
	}
	if err := f.sched.Enqueue(req, jobs.JobFunc(f.Execute)); err != nil {
		return err
	}
	f.logger.Debug("immediate polling enqueued")
	return nil
}

// IsPollingActive reports whether the periodic job is registered.
func (f *Fallback) IsPollingActive() bool {
	return f.sched.IsScheduled(PeriodicJobName)
}

// Execute performs one fetch-and-deliver pass. Concurrent calls share a
// single in-flight fetch.
func (f *Fallback) Execute(ctx context.Context) jobs.Result {
	v, _, _ := f.group.Do(PeriodicJobName, func() (any, error) {
		return f.execute(ctx), nil
	})
	return v.(jobs.Result)
}

// Stats returns current statistics.
func (f *Fallback) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Fallback) execute(ctx context.Context) jobs.Result {
	f.mu.Lock()
	f.stats.Executions++
	f.stats.LastPollAt = time.Now()
	f.mu.Unlock()

	token, err := f.tokens.Get(ctx)
	if errors.Is(err, tokenstore.ErrTokenMissing) {
		f.mu.Lock()
		f.stats.TokenMissing++
		f.mu.Unlock()
		f.logger.Warn("no device token found, skipping polling")
		return jobs.Success
	}
	if err != nil {
		f.logger.Error("failed to read device token", "error", err)
		return jobs.Retry
	}

	log := f.logger.With("token", tokenstore.Redact(token))
	log.Debug("polling for notifications")

	batch, err := f.fetcher.GetPending(ctx, token)
	if err != nil {
		f.mu.Lock()
		f.stats.FetchErrors++
		f.mu.Unlock()

		if errors.Is(err, context.Canceled) {
			log.Debug("polling cancelled")
			return jobs.Failure
		}
		if api.IsTransient(err) {
			log.Warn("failed to fetch notifications", "error", err)
		} else {
			log.Error("failed to fetch notifications", "error", err)
		}
		return jobs.Retry
	}

	log.Info("found pending notifications", "count", len(batch.Notifications))

	delivered := 0
	if len(batch.Notifications) > 0 {
		delivered = f.sink.DeliverBatch(ctx, delivery.ChannelPoll, batch.Notifications)
	}

	f.mu.Lock()
	f.stats.Fetched += int64(len(batch.Notifications))
	f.stats.Delivered += int64(delivered)
	f.mu.Unlock()

	if delivered > 0 {
		log.Info("delivered polled notifications", "delivered", delivered)
	}
	return jobs.Success
}

func (f *Fallback) periodicRequest() jobs.PeriodicRequest {
	return jobs.PeriodicRequest{
		Name:        PeriodicJobName,
		Every:       f.cfg.Interval,
		Constraints: jobs.Constraints{RequireNetwork: f.cfg.RequireNetwork},
		Backoff:     f.backoff(),
		Timeout:     f.cfg.Timeout,
	}
}

func (f *Fallback) backoff() jobs.Backoff {
	return jobs.Backoff{
		Policy:  jobs.BackoffLinear,
		Initial: f.cfg.BackoffInitial,
		Max:     f.cfg.BackoffMax,
	}
}
