package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Crosschaser/Protos/internal/delivery"
	"github.com/Crosschaser/Protos/internal/tokenstore"
)

// FrameSink receives inbound stream frames.
type FrameSink interface {
	DeliverRaw(ctx context.Context, ch delivery.Channel, data []byte) bool
}

// Fallback is the polling side started while the stream is down.
type Fallback interface {
	StartPeriodic() error
	StopPeriodic() error
	RunOnce() error
}

// WakeLock keeps the host awake while the manager is active.
type WakeLock interface {
	Acquire() error
	Release() error
}

type noopWakeLock struct{}

func (noopWakeLock) Acquire() error { return nil }
func (noopWakeLock) Release() error { return nil }

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClientFactory overrides how stream clients are created.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *Manager) {
		m.newClient = f
	}
}

// WithWakeLock sets the wake resource held between Connect and Disconnect.
func WithWakeLock(w WakeLock) ManagerOption {
	return func(m *Manager) {
		m.wake = w
	}
}

// Events handled by the actor loop.
type (
	connectCmd struct {
		token string
		done  chan error
	}
	disconnectCmd struct {
		done chan error
	}
	openResult struct {
		gen    uint64
		client Client
		err    error
	}
	streamFailed struct {
		gen uint64
		err error
	}
	retryFired struct {
		gen uint64
	}
)

// session is an open stream and the goroutine pumping its frames.
type session struct {
	client Client
	stop   chan struct{}
}

// Manager owns the streaming session lifecycle.
//
// All state transitions happen on a single actor goroutine. Connect and
// Disconnect post a command and wait only for the actor to apply it, never
// for network I/O. Opens, stream failures and retry timers complete
// asynchronously as events tagged with the attempt generation; events from an
// older generation are discarded.
type Manager struct {
	cfg       ManagerConfig
	sink      FrameSink
	fallback  Fallback
	newClient ClientFactory
	wake      WakeLock
	logger    *slog.Logger

	events chan any

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	opens   sync.WaitGroup // in-flight open attempts
	started atomic.Bool

	state atomic.Int32

	// Owned by the actor goroutine.
	token      string
	gen        uint64
	openCancel context.CancelFunc
	sess       *session
	retryTimer *time.Timer
	wakeHeld   bool

	// Snapshot for Stats, written by the actor.
	mu              sync.RWMutex
	retry           RetrySchedule
	lastErr         error
	lastConnectedAt time.Time

	sessions       atomic.Int64
	openFailures   atomic.Int64
	streamFailures atomic.Int64
	frames         atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, sink FrameSink, fallback Fallback, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == nil {
		cfg.Policy = FixedPolicy{Delay: DefaultReconnectDelay}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultManagerConfig().ConnectTimeout
	}

	m := &Manager{
		cfg:      cfg,
		sink:     sink,
		fallback: fallback,
		wake:     noopWakeLock{},
		logger:   logger.With("component", "connection"),
		events:   make(chan any, 16),
	}
	m.newClient = NewClientFactory(cfg.Client, m.logger)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the actor loop until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()
	m.started.Store(true)

	m.logger.Info("connection manager started", "stream_url", m.cfg.StreamURL)
	return nil
}

// Stop disconnects and waits for all goroutines to exit.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}
	m.logger.Info("stopping connection manager")

	if err := m.Disconnect(); err != nil && err != ErrStopped {
		m.logger.Warn("disconnect during stop failed", "error", err)
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}
	return nil
}

// Connect starts streaming for token. It is a no-op while Connecting or
// Streaming. While Degraded it cancels the pending retry and tries now.
func (m *Manager) Connect(token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	return m.command(connectCmd{token: token, done: make(chan error, 1)})
}

// Disconnect closes the stream, cancels any pending retry, stops polling and
// releases the wake resource. It is safe in every state.
func (m *Manager) Disconnect() error {
	return m.command(disconnectCmd{done: make(chan error, 1)})
}

// IsConnected reports whether the stream is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateStreaming
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// RetrySchedule returns the reconnect schedule.
func (m *Manager) RetrySchedule() RetrySchedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retry
}

// LastError returns the error that caused the most recent failure, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		State:           m.State(),
		Retry:           m.retry,
		Sessions:        m.sessions.Load(),
		OpenFailures:    m.openFailures.Load(),
		StreamFailures:  m.streamFailures.Load(),
		FramesReceived:  m.frames.Load(),
		LastConnectedAt: m.lastConnectedAt,
	}
	if m.lastErr != nil {
		stats.LastError = m.lastErr.Error()
	}
	return stats
}

// command posts a control command and waits for the actor to apply it.
func (m *Manager) command(cmd any) error {
	if !m.started.Load() {
		return ErrNotStarted
	}

	var done chan error
	switch c := cmd.(type) {
	case connectCmd:
		done = c.done
	case disconnectCmd:
		done = c.done
	}

	select {
	case m.events <- cmd:
	case <-m.ctx.Done():
		return ErrStopped
	}

	select {
	case err := <-done:
		return err
	case <-m.ctx.Done():
		return ErrStopped
	}
}

// post delivers an asynchronous completion to the actor.
func (m *Manager) post(ev any) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// run is the actor loop. It is the only writer of manager state.
func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			m.opens.Wait()
			m.discardPending()
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// discardPending closes streams whose open completed after the actor exited.
func (m *Manager) discardPending() {
	for {
		select {
		case ev := <-m.events:
			if r, ok := ev.(openResult); ok && r.err == nil {
				r.client.Close()
			}
		default:
			return
		}
	}
}

func (m *Manager) handle(ev any) {
	switch e := ev.(type) {
	case connectCmd:
		e.done <- m.onConnect(e.token)
	case disconnectCmd:
		m.onDisconnect()
		e.done <- nil
	case openResult:
		m.onOpenResult(e)
	case streamFailed:
		m.onStreamFailed(e)
	case retryFired:
		m.onRetryFired(e)
	}
}

func (m *Manager) onConnect(token string) error {
	switch m.State() {
	case StateConnecting, StateStreaming:
		m.logger.Debug("connect ignored", "state", m.State())
		return nil

	case StateDegraded:
		m.stopRetryTimer()
		m.token = token
		m.logger.Info("connect requested while degraded, retrying now")
		m.beginOpen()
		return nil

	default:
		if !m.wakeHeld {
			if err := m.wake.Acquire(); err != nil {
				m.logger.Warn("failed to acquire wake lock", "error", err)
			} else {
				m.wakeHeld = true
			}
		}
		m.token = token
		m.logger.Info("connecting", "token", tokenstore.Redact(token))
		m.beginOpen()
		return nil
	}
}

// beginOpen starts a new open attempt without blocking the actor.
func (m *Manager) beginOpen() {
	m.gen++
	gen := m.gen
	m.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
	m.openCancel = cancel

	client := m.newClient(StreamURL(m.cfg.StreamURL, m.token))

	m.opens.Add(1)
	go func() {
		defer m.opens.Done()
		defer cancel()

		err := client.Connect(ctx)
		if err != nil {
			client.Close()
		}
		if !m.post(openResult{gen: gen, client: client, err: err}) && err == nil {
			client.Close()
		}
	}()
}

func (m *Manager) onOpenResult(e openResult) {
	if e.gen != m.gen || m.State() != StateConnecting {
		// Superseded attempt; never leave its stream open.
		if e.err == nil {
			e.client.Close()
		}
		return
	}
	m.openCancel = nil

	if e.err != nil {
		m.openFailures.Add(1)
		m.logger.Warn("stream open failed", "error", e.err)
		m.fail(e.err)
		return
	}

	m.sess = &session{client: e.client, stop: make(chan struct{})}
	m.wg.Add(1)
	go m.pump(e.gen, m.sess)

	m.sessions.Add(1)
	m.mu.Lock()
	m.retry = RetrySchedule{}
	m.lastErr = nil
	m.lastConnectedAt = time.Now()
	m.mu.Unlock()
	m.setState(StateStreaming)

	if err := m.fallback.StopPeriodic(); err != nil {
		m.logger.Warn("failed to stop polling", "error", err)
	}
	if m.cfg.CatchUpOnOpen {
		if err := m.fallback.RunOnce(); err != nil {
			m.logger.Warn("failed to schedule catch-up poll", "error", err)
		}
	}

	m.logger.Info("stream open", "token", tokenstore.Redact(m.token))
}

func (m *Manager) onStreamFailed(e streamFailed) {
	if e.gen != m.gen || m.State() != StateStreaming {
		return
	}
	m.streamFailures.Add(1)
	m.logger.Warn("stream lost", "error", e.err)

	m.closeSession()
	m.fail(e.err)
}

func (m *Manager) onRetryFired(e retryFired) {
	if e.gen != m.gen || m.State() != StateDegraded {
		return
	}
	m.retryTimer = nil

	m.mu.RLock()
	attempt := m.retry.Attempt
	m.mu.RUnlock()
	m.logger.Info("attempting reconnection", "attempt", attempt)

	m.beginOpen()
}

// fail moves to Degraded, starts polling and schedules the next attempt.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	delay := m.cfg.Policy.Next(m.retry.Attempt)
	m.retry.Attempt++
	m.retry.NextDelay = delay
	m.lastErr = err
	attempt := m.retry.Attempt
	m.mu.Unlock()

	m.setState(StateDegraded)

	if err := m.fallback.StartPeriodic(); err != nil {
		m.logger.Error("failed to start polling fallback", "error", err)
	}

	gen := m.gen
	m.retryTimer = time.AfterFunc(delay, func() {
		m.post(retryFired{gen: gen})
	})

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (m *Manager) onDisconnect() {
	if m.State() == StateDisconnected {
		return
	}
	m.setState(StateShuttingDown)
	m.logger.Info("disconnecting")

	m.shutdown()
	m.setState(StateDisconnected)
}

// teardown runs when the actor exits.
func (m *Manager) teardown() {
	if m.State() != StateDisconnected {
		m.setState(StateShuttingDown)
		m.shutdown()
	}
	m.setState(StateDisconnected)
}

func (m *Manager) shutdown() {
	// Invalidate in-flight opens, stream failures and timers.
	m.gen++

	m.stopRetryTimer()
	if m.openCancel != nil {
		m.openCancel()
		m.openCancel = nil
	}
	m.closeSession()

	if err := m.fallback.StopPeriodic(); err != nil {
		m.logger.Warn("failed to stop polling", "error", err)
	}

	if m.wakeHeld {
		if err := m.wake.Release(); err != nil {
			m.logger.Warn("failed to release wake lock", "error", err)
		}
		m.wakeHeld = false
	}

	m.mu.Lock()
	m.retry = RetrySchedule{}
	m.mu.Unlock()
	m.token = ""
}

func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) closeSession() {
	if m.sess == nil {
		return
	}
	close(m.sess.stop)
	if err := m.sess.client.Close(); err != nil {
		m.logger.Debug("error closing stream", "error", err)
	}
	m.sess = nil
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		m.logger.Debug("state change", "from", old, "to", s)
	}
}

// pump forwards frames of one session to the sink until the session ends.
func (m *Manager) pump(gen uint64, s *session) {
	defer m.wg.Done()

	msgs := s.client.Messages()
	errs := s.client.Errors()

	for {
		select {
		case <-s.stop:
			return
		case <-m.ctx.Done():
			return
		case msg := <-msgs:
			m.frames.Add(1)
			m.sink.DeliverRaw(m.ctx, delivery.ChannelStream, msg.Data)
		case err := <-errs:
			// Frames that arrived before the failure are still delivered.
			m.drain(msgs)
			m.post(streamFailed{gen: gen, err: err})
			return
		}
	}
}

func (m *Manager) drain(msgs <-chan TimestampedMessage) {
	for {
		select {
		case msg := <-msgs:
			m.frames.Add(1)
			m.sink.DeliverRaw(m.ctx, delivery.ChannelStream, msg.Data)
		default:
			return
		}
	}
}
