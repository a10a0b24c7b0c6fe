package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/connection"
	"github.com/Crosschaser/Protos/internal/delivery"
	"github.com/Crosschaser/Protos/internal/fallback"
	"github.com/Crosschaser/Protos/internal/jobs"
	"github.com/Crosschaser/Protos/internal/notification"
)

type fakeConn struct{ stats connection.ManagerStats }

func (f fakeConn) Stats() connection.ManagerStats { return f.stats }

type fakePoll struct {
	active bool
	stats  fallback.Stats
}

func (f fakePoll) IsPollingActive() bool { return f.active }
func (f fakePoll) Stats() fallback.Stats { return f.stats }

type fakePipeline struct{}

func (fakePipeline) Stats() delivery.Stats {
	return delivery.Stats{Stream: delivery.ChannelStats{Received: 3, Delivered: 2, Duplicates: 1}}
}

type fakeSched struct{}

func (fakeSched) Stats() jobs.Stats { return jobs.Stats{Periodic: 1, Runs: 4} }

type fakeLedger struct{}

func (fakeLedger) Len() int       { return 12 }
func (fakeLedger) Evicted() int64 { return 3 }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		state      connection.State
		wantStatus string
		wantCode   int
	}{
		{"streaming", connection.StateStreaming, "healthy", http.StatusOK},
		{"degraded", connection.StateDegraded, "degraded", http.StatusOK},
		{"disconnected", connection.StateDisconnected, "idle", http.StatusOK},
		{"shutting down", connection.StateShuttingDown, "unhealthy", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := fakeConn{stats: connection.ManagerStats{
				State:     tt.state,
				Retry:     connection.RetrySchedule{Attempt: 2, NextDelay: 5 * time.Second},
				LastError: "dial tcp: connection refused",
			}}
			h := newHealthHandler(conn, fakePoll{active: tt.state == connection.StateDegraded}, fakePipeline{}, fakeLedger{}, fakeSched{})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var body struct {
				Status     string                     `json:"status"`
				Components map[string]json.RawMessage `json:"components"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}

			var stream map[string]any
			json.Unmarshal(body.Components["stream"], &stream)
			if stream["state"] != tt.state.String() || stream["retry_delay"] != "5s" {
				t.Errorf("stream = %v", stream)
			}

			var ledger map[string]any
			json.Unmarshal(body.Components["dedup"], &ledger)
			if ledger["keys"] != float64(12) || ledger["evicted"] != float64(3) {
				t.Errorf("dedup = %v", ledger)
			}

			var polling map[string]any
			json.Unmarshal(body.Components["polling"], &polling)
			if polling["active"] != (tt.state == connection.StateDegraded) {
				t.Errorf("polling = %v", polling)
			}
		})
	}
}

// recordingController records stream commands.
type recordingController struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *recordingController) Connect(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "connect:"+token)
	return c.err
}

func (c *recordingController) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "disconnect")
	return nil
}

func TestFollowToken(t *testing.T) {
	ctl := &recordingController{err: errors.New("not started")}
	changes := make(chan string, 2)
	changes <- "token-a"
	changes <- "token-b"
	close(changes)

	followToken(context.Background(), ctl, "", changes, slog.Default())

	want := []string{"disconnect", "connect:token-a", "disconnect", "connect:token-b"}
	if len(ctl.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ctl.calls, want)
	}
	for i := range want {
		if ctl.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, ctl.calls[i], want[i])
		}
	}
}

func TestFollowToken_SkipsCurrentToken(t *testing.T) {
	ctl := &recordingController{}
	changes := make(chan string, 3)
	changes <- "token-a" // written before the first read, already connected
	changes <- "token-b"
	changes <- "token-b"
	close(changes)

	followToken(context.Background(), ctl, "token-a", changes, slog.Default())

	want := []string{"disconnect", "connect:token-b"}
	if len(ctl.calls) != len(want) || ctl.calls[0] != want[0] || ctl.calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", ctl.calls, want)
	}
}

func TestFollowToken_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		followToken(ctx, &recordingController{}, "", make(chan string), slog.Default())
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("followToken did not return after cancel")
	}
}

func TestRecordAfter(t *testing.T) {
	var shown, recorded int
	sinkErr := errors.New("display unavailable")
	var failShow, failRecord bool

	sink := delivery.NotifierFunc(func(context.Context, notification.Message) error {
		if failShow {
			return sinkErr
		}
		shown++
		return nil
	})
	recorder := delivery.NotifierFunc(func(context.Context, notification.Message) error {
		if failRecord {
			return errors.New("history closed")
		}
		recorded++
		return nil
	})
	n := recordAfter(sink, recorder, slog.Default())
	msg := notification.Message{ID: "n1", Title: "t", Body: "b", Type: notification.TypeOther}

	failShow = true
	if err := n.Notify(context.Background(), msg); !errors.Is(err, sinkErr) {
		t.Errorf("Notify = %v, want sink error", err)
	}
	if recorded != 0 {
		t.Error("a notification that was not shown must not be recorded")
	}

	failShow, failRecord = false, true
	if err := n.Notify(context.Background(), msg); err != nil {
		t.Errorf("Notify = %v, want nil when only recording fails", err)
	}

	failRecord = false
	n.Notify(context.Background(), msg)
	if shown != 2 || recorded != 1 {
		t.Errorf("shown/recorded = %d/%d, want 2/1", shown, recorded)
	}
}

func TestRegistrationOptions(t *testing.T) {
	off := false
	cfg := config.Default()
	cfg.Device.ID = "kiosk-7"
	cfg.Device.PreferredCity = "Porto"
	cfg.Device.Platform = 2
	cfg.Device.Subscriptions.SoldOutAlerts = &off

	opts := registrationOptions(cfg)
	if opts.DeviceID != "kiosk-7" || opts.PreferredCity != "Porto" || opts.Platform != 2 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.SoldOutAlerts {
		t.Error("sold out alerts should be disabled")
	}
	if !opts.SpeedUpdates || !opts.EventReminders || !opts.FavouriteUpdates {
		t.Error("unset subscriptions should default to enabled")
	}
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
	if _, ok := logger.Handler().(*slog.JSONHandler); !ok {
		t.Errorf("handler = %T, want JSON", logger.Handler())
	}
}
