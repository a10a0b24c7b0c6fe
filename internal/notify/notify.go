package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/delivery"
	"github.com/Crosschaser/Protos/internal/notification"
)

// Sink is a Notifier that holds resources.
type Sink interface {
	delivery.Notifier
	Close() error
}

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log sink.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Notify(ctx context.Context, msg notification.Message) error {
	attrs := []any{
		"id", msg.DedupKey(),
		"type", msg.Type,
		"title", msg.Title,
		"body", msg.Body,
	}
	if msg.City != "" {
		attrs = append(attrs, "city", msg.City)
	}
	if msg.Company != "" {
		attrs = append(attrs, "company", msg.Company)
	}
	if msg.CorrelatedEntityID != nil {
		attrs = append(attrs, "entity_id", *msg.CorrelatedEntityID)
	}
	l.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}

func (l *Log) Close() error { return nil }

// Multi delivers to every sink. When only some sinks fail the error wraps
// delivery.ErrPartialDelivery; the failed sinks do not get a second chance
// at that notification.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, msg notification.Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && len(errs) < len(m) {
		return fmt.Errorf("%w: %w", delivery.ErrPartialDelivery, errors.Join(errs...))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Throttled limits the rate at which notifications reach the wrapped sink.
// Notify waits for a token; notifications are never dropped.
type Throttled struct {
	sink    Sink
	limiter *rate.Limiter
}

// NewThrottled wraps sink with a limit of perSecond notifications and the
// given burst.
func NewThrottled(sink Sink, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttled) Notify(ctx context.Context, msg notification.Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return t.sink.Notify(ctx, msg)
}

func (t *Throttled) Close() error {
	return t.sink.Close()
}

// Build creates the sinks listed in cfg.Sinks. A single sink is returned
// unwrapped; several are combined with Multi.
func Build(cfg config.NotifyConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var sinks Multi
	closeAll := func() { sinks.Close() }

	for _, name := range cfg.Sinks {
		var (
			s   Sink
			err error
		)
		switch name {
		case "log":
			s = NewLog(logger)
		case "mqtt":
			s, err = NewMQTT(cfg.MQTT, logger)
		case "kafka":
			s = NewKafka(cfg.Kafka)
		case "telegram":
			s, err = NewTelegram(cfg.Telegram)
		default:
			err = fmt.Errorf("unknown sink %q", name)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("notify sink %s: %w", name, err)
		}
		sinks = append(sinks, s)
	}

	var out Sink = sinks
	switch len(sinks) {
	case 0:
		out = NewLog(logger)
	case 1:
		out = sinks[0]
	}

	if cfg.RateLimit > 0 {
		out = NewThrottled(out, cfg.RateLimit, cfg.Burst)
	}

	logger.Info("notification sinks ready", "sinks", cfg.Sinks, "rate_limit", cfg.RateLimit)
	return out, nil
}
