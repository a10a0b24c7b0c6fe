package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/Crosschaser/Protos/internal/notification"
)

// Channel identifies where a notification arrived from.
type Channel string

const (
	ChannelStream Channel = "stream"
	ChannelPoll   Channel = "poll"
)

// ErrPartialDelivery is wrapped by notifiers that fan out when some targets
// accepted the notification and others did not. The key stays in the ledger so
// targets that already showed it do not show it again.
var ErrPartialDelivery = errors.New("notification reached only some sinks")

// Notifier presents a notification to the user.
type Notifier interface {
	Notify(ctx context.Context, msg notification.Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg notification.Message) error

// Notify calls f(ctx, msg).
func (f NotifierFunc) Notify(ctx context.Context, msg notification.Message) error {
	return f(ctx, msg)
}

// Ledger is the dedup store consulted before delivery.
type Ledger interface {
	CheckAndInsert(key string) bool
	Forget(key string)
}

// ChannelStats contains per-channel counters.
type ChannelStats struct {
	Received     int64
	Delivered    int64
	Duplicates   int64
	DecodeErrors int64
	NotifyErrors int64
}

// Stats contains pipeline statistics.
type Stats struct {
	Stream ChannelStats
	Poll   ChannelStats
}

// Total sums both channels.
func (s Stats) Total() ChannelStats {
	return ChannelStats{
		Received:     s.Stream.Received + s.Poll.Received,
		Delivered:    s.Stream.Delivered + s.Poll.Delivered,
		Duplicates:   s.Stream.Duplicates + s.Poll.Duplicates,
		DecodeErrors: s.Stream.DecodeErrors + s.Poll.DecodeErrors,
		NotifyErrors: s.Stream.NotifyErrors + s.Poll.NotifyErrors,
	}
}

// Pipeline decodes, deduplicates and delivers notifications.
// It is safe for concurrent use by the stream reader and the poll job.
type Pipeline struct {
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	stats map[Channel]*ChannelStats
}

// NewPipeline creates a new Pipeline.
func NewPipeline(ledger Ledger, notifier Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		ledger:   ledger,
		notifier: notifier,
		logger:   logger.With("component", "delivery"),
		stats: map[Channel]*ChannelStats{
			ChannelStream: {},
			ChannelPoll:   {},
		},
	}
}

// DeliverRaw decodes a wire frame and delivers it.
// Malformed frames are logged and dropped; they never touch the ledger.
func (p *Pipeline) DeliverRaw(ctx context.Context, ch Channel, data []byte) bool {
	msg, err := notification.Decode(data)
	if err != nil {
		p.count(ch, func(s *ChannelStats) {
			s.Received++
			s.DecodeErrors++
		})
		p.logger.Warn("dropping malformed notification",
			"channel", ch,
			"error", err,
			"bytes", len(data),
		)
		return false
	}
	return p.Deliver(ctx, ch, msg)
}

// DeliverBatch delivers every element of a pending batch and returns how many
// were presented to the user.
func (p *Pipeline) DeliverBatch(ctx context.Context, ch Channel, batch []json.RawMessage) int {
	delivered := 0
	for _, raw := range batch {
		if ctx.Err() != nil {
			break
		}
		if p.DeliverRaw(ctx, ch, raw) {
			delivered++
		}
	}
	return delivered
}

// Deliver presents an already decoded notification unless it was seen before.
// It returns true if the notifier was invoked successfully.
func (p *Pipeline) Deliver(ctx context.Context, ch Channel, msg notification.Message) bool {
	key := msg.DedupKey()

	if !p.ledger.CheckAndInsert(key) {
		p.count(ch, func(s *ChannelStats) {
			s.Received++
			s.Duplicates++
		})
		p.logger.Debug("duplicate notification dropped", "channel", ch, "key", key)
		return false
	}

	err := p.notifier.Notify(ctx, msg)
	if errors.Is(err, ErrPartialDelivery) {
		p.count(ch, func(s *ChannelStats) {
			s.Received++
			s.Delivered++
			s.NotifyErrors++
		})
		p.logger.Warn("notification reached only some sinks",
			"channel", ch,
			"key", key,
			"type", msg.Type,
			"error", err,
		)
		return true
	}
	if err != nil {
		// Not shown, so a later copy must still get through.
		p.ledger.Forget(key)
		p.count(ch, func(s *ChannelStats) {
			s.Received++
			s.NotifyErrors++
		})
		p.logger.Error("failed to present notification",
			"channel", ch,
			"key", key,
			"type", msg.Type,
			"error", err,
		)
		return false
	}

	p.count(ch, func(s *ChannelStats) {
		s.Received++
		s.Delivered++
	})
	p.logger.Debug("notification delivered",
		"channel", ch,
		"key", key,
		"type", msg.Type,
	)
	return true
}

// Stats returns current statistics.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Stream: *p.stats[ChannelStream],
		Poll:   *p.stats[ChannelPoll],
	}
}

func (p *Pipeline) count(ch Channel, fn func(*ChannelStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stats[ch]
	if !ok {
		s = &ChannelStats{}
		p.stats[ch] = s
	}
	fn(s)
}
