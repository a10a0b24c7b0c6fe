package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	tele "gopkg.in/telebot.v4"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/delivery"
	"github.com/Crosschaser/Protos/internal/notification"
)

func testMessage() notification.Message {
	entity := 42
	return notification.Message{
		ID:                 "n-1",
		Title:              "Tickets <sold out>",
		Body:               "Rock & Roll night",
		Type:               notification.TypeSoldOutAlert,
		RawType:            "sold_out_alert",
		City:               "Lisbon",
		CorrelatedEntityID: &entity,
	}
}

// countingSink records notifications and optionally fails.
type countingSink struct {
	mu     sync.Mutex
	got    []notification.Message
	err    error
	closed bool
}

func (s *countingSink) Notify(ctx context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return s.err
}

func (s *countingSink) Close() error {
	s.closed = true
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	if err := NewLog(logger).Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["msg"] != "notification" || line["id"] != "n-1" || line["type"] != "sold_out_alert" {
		t.Errorf("log line = %v", line)
	}
	if line["city"] != "Lisbon" || line["entity_id"] != float64(42) {
		t.Errorf("optional attrs missing: %v", line)
	}
	if _, ok := line["company"]; ok {
		t.Error("empty company should be omitted")
	}
}

func TestMulti(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{err: errors.New("broker down")}
	c := &countingSink{}
	m := Multi{a, b, c}

	err := m.Notify(context.Background(), testMessage())
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("Notify error = %v, want joined sink error", err)
	}
	if !errors.Is(err, delivery.ErrPartialDelivery) {
		t.Errorf("Notify error = %v, want partial delivery", err)
	}
	if a.count() != 1 || b.count() != 1 || c.count() != 1 {
		t.Error("every sink should receive the notification despite a failure")
	}

	down := Multi{&countingSink{err: errors.New("a")}, &countingSink{err: errors.New("b")}}
	if err := down.Notify(context.Background(), testMessage()); err == nil || errors.Is(err, delivery.ErrPartialDelivery) {
		t.Errorf("all sinks failing = %v, want a plain error", err)
	}

	m.Close()
	if !a.closed || !b.closed || !c.closed {
		t.Error("Close should close every sink")
	}
}

func TestThrottled(t *testing.T) {
	sink := &countingSink{}
	th := NewThrottled(sink, 20, 1) // one every 50ms

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := th.Notify(context.Background(), testMessage()); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 notifications at 20/s took %v, want >= ~100ms", elapsed)
	}
	if sink.count() != 3 {
		t.Errorf("delivered = %d, want 3 (never dropped)", sink.count())
	}

	t.Run("context cancelled while waiting", func(t *testing.T) {
		slow := NewThrottled(&countingSink{}, 0.1, 1)
		slow.Notify(context.Background(), testMessage())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := slow.Notify(ctx, testMessage()); err == nil {
			t.Error("expected rate limit error")
		}
	})
}

// fakeToken completes immediately with err.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	tok := &fakeToken{err: err, done: make(chan struct{})}
	close(tok.done)
	return tok
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakePublisher records MQTT publishes.
type fakePublisher struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	err      error
	closed   bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topic, p.qos, p.retained = topic, qos, retained
	p.payload = payload.([]byte)
	return newFakeToken(p.err)
}

func (p *fakePublisher) Disconnect(quiesce uint) { p.closed = true }

func TestMQTT(t *testing.T) {
	pub := &fakePublisher{}
	m := newMQTT(pub, "pushlink/notifications", 1, true, time.Second)

	if err := m.Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if pub.topic != "pushlink/notifications" || pub.qos != 1 || !pub.retained {
		t.Errorf("publish = %s qos=%d retained=%v", pub.topic, pub.qos, pub.retained)
	}
	decoded, err := notification.Decode(pub.payload)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if decoded.ID != "n-1" || decoded.Type != notification.TypeSoldOutAlert {
		t.Errorf("decoded = %+v", decoded)
	}

	pub.err = errors.New("not connected")
	if err := m.Notify(context.Background(), testMessage()); err == nil {
		t.Error("expected publish error")
	}

	m.Close()
	if !pub.closed {
		t.Error("Close should disconnect")
	}
}

// fakeWriter records Kafka messages.
type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafka(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w}

	msg := testMessage()
	msg.ID = ""
	if err := k.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	got := w.msgs[0]
	if string(got.Key) != msg.DedupKey() {
		t.Errorf("Key = %q, want dedup key %q", got.Key, msg.DedupKey())
	}
	if len(got.Headers) != 1 || string(got.Headers[0].Value) != "sold_out_alert" {
		t.Errorf("Headers = %v", got.Headers)
	}

	k.Close()
	if !w.closed {
		t.Error("Close should close the writer")
	}
}

// fakeSender records Telegram sends.
type fakeSender struct {
	to   tele.Recipient
	text string
	opts *tele.SendOptions
}

func (s *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	s.to = to
	s.text = what.(string)
	s.opts = opts[0].(*tele.SendOptions)
	return &tele.Message{ID: 1}, nil
}

func TestTelegram(t *testing.T) {
	s := &fakeSender{}
	tg := &Telegram{bot: s, chat: &tele.Chat{ID: -100123}, threadID: 7}

	if err := tg.Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if s.to.Recipient() != "-100123" {
		t.Errorf("recipient = %q", s.to.Recipient())
	}
	if s.opts.ThreadID != 7 || s.opts.ParseMode != tele.ModeHTML {
		t.Errorf("options = %+v", s.opts)
	}
	want := "<b>Tickets &lt;sold out&gt;</b>\nRock &amp; Roll night\n\n<i>#sold_out_alert · Lisbon</i>"
	if s.text != want {
		t.Errorf("text = %q, want %q", s.text, want)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tg.Notify(ctx, testMessage()); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestNewTelegramRequiresToken(t *testing.T) {
	if _, err := NewTelegram(config.TelegramConfig{}); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestBuild(t *testing.T) {
	t.Run("log only", func(t *testing.T) {
		s, err := Build(config.NotifyConfig{Sinks: []string{"log"}}, nil)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if _, ok := s.(*Log); !ok {
			t.Errorf("Build = %T, want *Log", s)
		}
	})

	t.Run("several sinks", func(t *testing.T) {
		s, err := Build(config.NotifyConfig{
			Sinks: []string{"log", "kafka"},
			Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"},
		}, nil)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		m, ok := s.(Multi)
		if !ok || len(m) != 2 {
			t.Errorf("Build = %T, want Multi of 2", s)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		s, err := Build(config.NotifyConfig{Sinks: []string{"log"}, RateLimit: 5, Burst: 2}, nil)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if _, ok := s.(*Throttled); !ok {
			t.Errorf("Build = %T, want *Throttled", s)
		}
	})

	t.Run("unknown sink", func(t *testing.T) {
		if _, err := Build(config.NotifyConfig{Sinks: []string{"pager"}}, nil); err == nil {
			t.Error("expected error for unknown sink")
		}
	})
}
