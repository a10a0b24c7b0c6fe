package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Crosschaser/Protos/internal/dedup"
	"github.com/Crosschaser/Protos/internal/delivery"
	"github.com/Crosschaser/Protos/internal/notification"
)

// fakeClient is a scripted Client.
type fakeClient struct {
	url        string
	connectErr error
	release    chan struct{} // if set, Connect blocks until closed

	msgs   chan TimestampedMessage
	errs   chan error
	closed atomic.Bool
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if c.release != nil {
		<-c.release
	}
	return c.connectErr
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.msgs }
func (c *fakeClient) Errors() <-chan error                { return c.errs }
func (c *fakeClient) IsConnected() bool                   { return !c.closed.Load() }

// fakeDialer hands out fakeClients; the first failures opens fail.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	release  chan struct{}
	clients  []*fakeClient
}

func (d *fakeDialer) factory(url string) Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := &fakeClient{
		url:     url,
		release: d.release,
		msgs:    make(chan TimestampedMessage, 10),
		errs:    make(chan error, 1),
	}
	if d.failures > 0 {
		d.failures--
		c.connectErr = errors.New("connection refused")
	}
	d.clients = append(d.clients, c)
	return c
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) last() *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[len(d.clients)-1]
}

// fakeFallback models a unique named periodic job.
type fakeFallback struct {
	mu        sync.Mutex
	active    bool
	scheduled int // distinct registrations created
	starts    int
	stops     int
	runOnce   int
}

func (f *fakeFallback) StartPeriodic() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if !f.active {
		f.active = true
		f.scheduled++
	}
	return nil
}

func (f *fakeFallback) StopPeriodic() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.active = false
	return nil
}

func (f *fakeFallback) RunOnce() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runOnce++
	return nil
}

func (f *fakeFallback) isActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// countingWakeLock records acquire/release calls.
type countingWakeLock struct {
	acquired atomic.Int32
	released atomic.Int32
}

func (w *countingWakeLock) Acquire() error { w.acquired.Add(1); return nil }
func (w *countingWakeLock) Release() error { w.released.Add(1); return nil }

// frameRecorder is a FrameSink that stores frames.
type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *frameRecorder) DeliverRaw(_ context.Context, _ delivery.Channel, data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
	return true
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func newTestManager(t *testing.T, d *fakeDialer, fb Fallback, sink FrameSink, delay time.Duration, opts ...ManagerOption) *Manager {
	t.Helper()

	cfg := DefaultManagerConfig()
	cfg.StreamURL = "ws://push.test/api/WebSocket"
	cfg.Policy = FixedPolicy{Delay: delay}

	opts = append([]ManagerOption{WithClientFactory(d.factory)}, opts...)
	m := NewManager(cfg, sink, fb, nil, opts...)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m
}

func TestManager_ConnectBeforeStart(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), &frameRecorder{}, &fakeFallback{}, nil)

	if err := m.Connect("abc-123"); err != ErrNotStarted {
		t.Errorf("Connect() = %v, want ErrNotStarted", err)
	}
	if err := m.Connect(""); err != ErrEmptyToken {
		t.Errorf("Connect(\"\") = %v, want ErrEmptyToken", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d, &fakeFallback{}, &frameRecorder{}, time.Minute)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "streaming", m.IsConnected)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("third Connect failed: %v", err)
	}

	if got := d.count(); got != 1 {
		t.Errorf("streams opened = %d, want 1", got)
	}
	if got := d.last().url; got != "ws://push.test/api/WebSocket/connect/abc-123" {
		t.Errorf("url = %q", got)
	}
}

func TestManager_OpenFailureStartsFallbackOnce(t *testing.T) {
	d := &fakeDialer{failures: 1000}
	fb := &fakeFallback{}
	m := newTestManager(t, d, fb, &frameRecorder{}, 10*time.Millisecond)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, "several failed attempts", func() bool { return d.count() >= 4 })

	if s := m.State(); s != StateDegraded && s != StateConnecting {
		t.Errorf("State() = %v, want degraded or connecting", s)
	}
	if !fb.isActive() {
		t.Error("polling fallback should be active")
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.starts < 2 {
		t.Errorf("StartPeriodic calls = %d, want >= 2", fb.starts)
	}
	if fb.scheduled != 1 {
		t.Errorf("periodic registrations = %d, want 1", fb.scheduled)
	}
	if m.LastError() == nil {
		t.Error("LastError() should be set")
	}
}

func TestManager_RecoveryResetsScheduleAndStopsPolling(t *testing.T) {
	d := &fakeDialer{failures: 3}
	fb := &fakeFallback{}
	m := newTestManager(t, d, fb, &frameRecorder{}, 10*time.Millisecond)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "streaming", m.IsConnected)

	if got := m.RetrySchedule(); got.Attempt != 0 {
		t.Errorf("RetrySchedule().Attempt = %d, want 0", got.Attempt)
	}
	if fb.isActive() {
		t.Error("polling should be cancelled after recovery")
	}

	stats := m.Stats()
	if stats.OpenFailures != 3 {
		t.Errorf("OpenFailures = %d, want 3", stats.OpenFailures)
	}
	if stats.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1", stats.Sessions)
	}
	if stats.LastError != "" {
		t.Errorf("LastError = %q, want empty after recovery", stats.LastError)
	}
}

func TestManager_FixedDelayOnFirstAttempt(t *testing.T) {
	d := &fakeDialer{failures: 1}
	m := newTestManager(t, d, &fakeFallback{}, &frameRecorder{}, 5*time.Second)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "degraded", func() bool { return m.State() == StateDegraded })

	got := m.RetrySchedule()
	if got.Attempt != 1 || got.NextDelay != 5*time.Second {
		t.Errorf("RetrySchedule() = %+v, want {Attempt:1 NextDelay:5s}", got)
	}
}

func TestManager_DisconnectCancelsRetry(t *testing.T) {
	d := &fakeDialer{failures: 1000}
	fb := &fakeFallback{}
	m := newTestManager(t, d, fb, &frameRecorder{}, 50*time.Millisecond)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "degraded", func() bool { return m.State() == StateDegraded })

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	opened := d.count()

	time.Sleep(150 * time.Millisecond)

	if got := d.count(); got != opened {
		t.Errorf("attempts after disconnect = %d, want %d", got, opened)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if fb.isActive() {
		t.Error("polling should be cancelled after disconnect")
	}
}

func TestManager_DisconnectWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	d := &fakeDialer{release: release}
	sink := &frameRecorder{}
	m := newTestManager(t, d, &fakeFallback{}, sink, 10*time.Millisecond)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if m.State() != StateConnecting {
		t.Fatalf("State() = %v, want connecting", m.State())
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}

	// The open completes successfully after the disconnect.
	close(release)
	client := d.last()
	waitFor(t, "late stream closed", client.closed.Load)

	time.Sleep(30 * time.Millisecond)
	if m.State() != StateDisconnected {
		t.Errorf("State() after late open = %v, want disconnected", m.State())
	}
	if d.count() != 1 {
		t.Errorf("attempts = %d, want 1", d.count())
	}
}

func TestManager_StreamFailureDegrades(t *testing.T) {
	d := &fakeDialer{}
	fb := &fakeFallback{}
	sink := &frameRecorder{}
	m := newTestManager(t, d, fb, sink, time.Minute)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "streaming", m.IsConnected)

	client := d.last()
	client.msgs <- TimestampedMessage{Data: []byte(`{"id":"n1"}`), ReceivedAt: time.Now()}
	waitFor(t, "frame delivered", func() bool { return sink.count() == 1 })

	client.msgs <- TimestampedMessage{Data: []byte(`{"id":"n2"}`), ReceivedAt: time.Now()}
	client.errs <- ErrStreamClosed

	waitFor(t, "degraded", func() bool { return m.State() == StateDegraded })

	if sink.count() != 2 {
		t.Errorf("frames delivered = %d, want 2", sink.count())
	}
	if !client.closed.Load() {
		t.Error("failed stream should be closed")
	}
	if !fb.isActive() {
		t.Error("polling should start after stream failure")
	}
	if got := m.Stats().StreamFailures; got != 1 {
		t.Errorf("StreamFailures = %d, want 1", got)
	}
}

func TestManager_ConnectWhileDegradedRetriesNow(t *testing.T) {
	d := &fakeDialer{failures: 1}
	m := newTestManager(t, d, &fakeFallback{}, &frameRecorder{}, time.Minute)

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "degraded", func() bool { return m.State() == StateDegraded })

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "streaming", m.IsConnected)
}

func TestManager_CatchUpOnOpen(t *testing.T) {
	d := &fakeDialer{}
	fb := &fakeFallback{}

	cfg := DefaultManagerConfig()
	cfg.StreamURL = "ws://push.test/api/WebSocket"
	cfg.CatchUpOnOpen = true
	m := NewManager(cfg, &frameRecorder{}, fb, nil, WithClientFactory(d.factory))
	m.Start(context.Background())
	defer m.Stop(context.Background())

	m.Connect("abc-123")
	waitFor(t, "streaming", m.IsConnected)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.runOnce != 1 {
		t.Errorf("RunOnce calls = %d, want 1", fb.runOnce)
	}
}

func TestManager_WakeLockHeldWhileActive(t *testing.T) {
	d := &fakeDialer{}
	wake := &countingWakeLock{}
	m := newTestManager(t, d, &fakeFallback{}, &frameRecorder{}, time.Minute, WithWakeLock(wake))

	m.Connect("abc-123")
	m.Connect("abc-123")
	waitFor(t, "streaming", m.IsConnected)

	if got := wake.acquired.Load(); got != 1 {
		t.Errorf("acquired = %d, want 1", got)
	}

	m.Disconnect()
	m.Disconnect()

	if got := wake.released.Load(); got != 1 {
		t.Errorf("released = %d, want 1", got)
	}
}

// recordingNotifier captures presented notifications.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingNotifier) Notify(_ context.Context, msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, msg.ID)
	return nil
}

func (r *recordingNotifier) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// Stream delivers n1, the stream drops, and a poll returning n1 and n2
// presents only n2.
func TestManager_StreamThenPollScenario(t *testing.T) {
	gotPath := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"id":"n1","title":"Sold out","body":"x","type":"sold_out_alert"}`))
		time.Sleep(50 * time.Millisecond)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"),
			time.Now().Add(time.Second))
	}))
	defer server.Close()

	rec := &recordingNotifier{}
	pipeline := delivery.NewPipeline(dedup.New(dedup.DefaultConfig()), rec, nil)
	fb := &fakeFallback{}

	cfg := DefaultManagerConfig()
	cfg.StreamURL = wsURL(server) + "/api/WebSocket"
	cfg.Policy = FixedPolicy{Delay: time.Minute}
	m := NewManager(cfg, pipeline, fb, nil)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	if err := m.Connect("abc-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if path := <-gotPath; path != "/api/WebSocket/connect/abc-123" {
		t.Errorf("path = %q", path)
	}

	waitFor(t, "degraded after close", func() bool { return m.State() == StateDegraded })

	if got := rec.snapshot(); len(got) != 1 || got[0] != "n1" {
		t.Fatalf("notified = %v, want [n1]", got)
	}
	if !fb.isActive() {
		t.Fatal("periodic poll should be active")
	}

	// The poll job fetches a batch that repeats n1.
	batch := []json.RawMessage{
		json.RawMessage(`{"id":"n1","title":"Sold out","body":"x","type":"sold_out_alert"}`),
		json.RawMessage(`{"id":"n2","title":"Reminder","body":"y","type":"event_reminder"}`),
	}
	pipeline.DeliverBatch(context.Background(), delivery.ChannelPoll, batch)

	got := rec.snapshot()
	if len(got) != 2 || got[1] != "n2" {
		t.Errorf("notified = %v, want [n1 n2]", got)
	}
}
