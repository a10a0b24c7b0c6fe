package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// periodicEntry is one registered periodic job.
type periodicEntry struct {
	req PeriodicRequest
	job Job

	entryID cron.EntryID
	running atomic.Bool

	// Guarded by Scheduler.mu.
	cancelled    bool
	attempt      int
	retryTimer   *time.Timer
	initialTimer *time.Timer
}

// Scheduler runs named periodic and one-off jobs.
type Scheduler struct {
	net    Connectivity
	logger *slog.Logger

	mu       sync.Mutex
	c        *cron.Cron
	periodic map[string]*periodicEntry
	timers   map[uint64]*time.Timer // pending one-off runs
	timerSeq uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runs     atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64
}

// New creates a new Scheduler. A nil Connectivity treats the network as always up.
func New(net Connectivity, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if net == nil {
		net = AlwaysOnline{}
	}
	return &Scheduler{
		net:      net,
		logger:   logger.With("component", "jobs"),
		periodic: make(map[string]*periodicEntry),
		timers:   make(map[uint64]*time.Timer),
	}
}

// Start begins cron triggering.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	clog := cronLogger{logger: s.logger}
	s.c = cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	s.c.Start()

	s.logger.Info("job scheduler started")
	return nil
}

// Stop stops triggering, cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.periodic {
		s.cancelEntryLocked(e)
	}
	s.periodic = make(map[string]*periodicEntry)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	// Cancelled under mu so no run can pass its ctx check and join wg afterwards.
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("job scheduler stopped", "took", time.Since(start))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueUniquePeriodic registers job under req.Name. With ExistingKeep an
// already scheduled name is left alone and scheduled is false.
func (s *Scheduler) EnqueueUniquePeriodic(req PeriodicRequest, job Job, existing ExistingPolicy) (scheduled bool, err error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return false, ErrInvalidName
	}
	if req.Every <= 0 {
		return false, ErrInvalidRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return false, ErrNotStarted
	}

	if old, ok := s.periodic[req.Name]; ok {
		if existing == ExistingKeep {
			s.logger.Debug("periodic job already scheduled", "name", req.Name)
			return false, nil
		}
		s.cancelEntryLocked(old)
		delete(s.periodic, req.Name)
	}

	e := &periodicEntry{req: req, job: job}
	e.entryID = s.c.Schedule(cron.Every(req.Every), cron.FuncJob(func() {
		s.runPeriodic(e, false)
	}))
	s.periodic[req.Name] = e

	if req.InitialDelay <= 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runPeriodic(e, false)
		}()
	} else {
		e.initialTimer = time.AfterFunc(req.InitialDelay, func() {
			s.runPeriodic(e, false)
		})
	}

	s.logger.Info("periodic job scheduled",
		"name", req.Name,
		"every", req.Every,
		"require_network", req.Constraints.RequireNetwork,
		"backoff", req.Backoff.Policy,
		"backoff_initial", req.Backoff.Initial,
	)
	return true, nil
}

// CancelUnique removes the periodic job named name. A run already in flight
// completes, but no further runs or retries happen. It returns false if
// nothing was scheduled.
func (s *Scheduler) CancelUnique(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.periodic[name]
	if !ok {
		return false
	}
	s.cancelEntryLocked(e)
	delete(s.periodic, name)

	s.logger.Info("periodic job cancelled", "name", name)
	return true
}

// IsScheduled reports whether a periodic job named name is registered.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.periodic[name]
	return ok
}

// Enqueue runs job once as soon as its constraints allow.
func (s *Scheduler) Enqueue(req OneTimeRequest, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return ErrNotStarted
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOneTime(req, job, 1)
	}()

	s.logger.Debug("one-time job enqueued", "name", req.Name)
	return nil
}

// Stats returns current statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	n := len(s.periodic)
	s.mu.Unlock()

	return Stats{
		Periodic: n,
		Runs:     s.runs.Load(),
		Retries:  s.retries.Load(),
		Failures: s.failures.Load(),
		Skipped:  s.skipped.Load(),
	}
}

// cancelEntryLocked stops all future runs of e. Call with s.mu held.
func (s *Scheduler) cancelEntryLocked(e *periodicEntry) {
	e.cancelled = true
	if s.c != nil {
		s.c.Remove(e.entryID)
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	if e.initialTimer != nil {
		e.initialTimer.Stop()
		e.initialTimer = nil
	}
}

// runPeriodic executes one tick (or retry) of a periodic job.
func (s *Scheduler) runPeriodic(e *periodicEntry, isRetry bool) {
	s.mu.Lock()
	if e.cancelled || s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if !isRetry && e.retryTimer != nil {
		// A retry is pending; it takes the place of this tick.
		s.mu.Unlock()
		s.skipped.Add(1)
		return
	}
	if isRetry {
		e.retryTimer = nil
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !e.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("skipping overlapping run", "name", e.req.Name)
		return
	}
	defer e.running.Store(false)

	if e.req.Constraints.RequireNetwork && !s.net.Online(ctx) {
		s.skipped.Add(1)
		s.logger.Info("network unavailable, deferring job", "name", e.req.Name)
		return
	}

	res := s.execute(ctx, e.req.Name, e.req.Timeout, e.job)

	s.mu.Lock()
	defer s.mu.Unlock()

	if res != Retry {
		e.attempt = 0
		return
	}
	if e.cancelled || ctx.Err() != nil {
		return
	}

	e.attempt++
	delay := e.req.Backoff.Delay(e.attempt)
	e.retryTimer = time.AfterFunc(delay, func() {
		s.runPeriodic(e, true)
	})
	s.logger.Info("job will retry",
		"name", e.req.Name,
		"attempt", e.attempt,
		"delay", delay,
	)
}

// runOneTime executes a one-off job, rescheduling itself on Retry or while
// the network precondition does not hold.
func (s *Scheduler) runOneTime(req OneTimeRequest, job Job, attempt int) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if req.Constraints.RequireNetwork && !s.net.Online(ctx) {
		s.skipped.Add(1)
		s.logger.Info("network unavailable, deferring job", "name", req.Name)
		s.retryOneTime(req, job, attempt)
		return
	}

	if res := s.execute(ctx, req.Name, req.Timeout, job); res == Retry {
		s.retryOneTime(req, job, attempt)
	}
}

func (s *Scheduler) retryOneTime(req OneTimeRequest, job Job, attempt int) {
	if req.MaxAttempts > 0 && attempt >= req.MaxAttempts {
		s.logger.Warn("one-time job gave up", "name", req.Name, "attempts", attempt)
		return
	}

	delay := req.Backoff.Delay(attempt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}

	s.timerSeq++
	id := s.timerSeq
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		if live {
			s.wg.Add(1)
		}
		s.mu.Unlock()
		if !live {
			return
		}
		defer s.wg.Done()
		s.runOneTime(req, job, attempt+1)
	})
	s.logger.Debug("one-time job will retry", "name", req.Name, "attempt", attempt, "delay", delay)
}

// execute runs job with an optional timeout and converts panics to Failure.
func (s *Scheduler) execute(ctx context.Context, name string, timeout time.Duration, job Job) (res Result) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.runs.Add(1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "name", name, "panic", fmt.Sprint(r))
			res = Failure
		}
		switch res {
		case Retry:
			s.retries.Add(1)
		case Failure:
			s.failures.Add(1)
		}
		s.logger.Debug("job finished", "name", name, "result", res, "took", time.Since(start))
	}()

	return job.Execute(ctx)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
