package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/notification"
)

// messageWriter is the subset of kafka.Writer used by Kafka.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes notifications to a topic, keyed by dedup key so that
// resends land on the same partition.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a synchronous Kafka writer for cfg.
func NewKafka(cfg config.KafkaConfig) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (k *Kafka) Notify(ctx context.Context, msg notification.Message) error {
	payload, err := notification.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.DedupKey()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
		},
		Time: msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
