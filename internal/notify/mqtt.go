package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/notification"
)

// publisher is the subset of mqtt.Client used by MQTT.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes notifications to a broker topic.
type MQTT struct {
	client   publisher
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
}

// NewMQTT connects to the broker in cfg.
func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	}
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	}

	client := mqtt.NewClient(opts)
	// With ConnectRetry the token completes once the first attempt is made;
	// later attempts continue in the background.
	if tok := client.Connect(); !tok.WaitTimeout(timeout) {
		logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", cfg.Broker)
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}

	return newMQTT(client, cfg.Topic, cfg.QoS, cfg.Retained, timeout), nil
}

func newMQTT(client publisher, topic string, qos byte, retained bool, timeout time.Duration) *MQTT {
	return &MQTT{
		client:   client,
		topic:    topic,
		qos:      qos,
		retained: retained,
		timeout:  timeout,
	}
}

func (m *MQTT) Notify(ctx context.Context, msg notification.Message) error {
	payload, err := notification.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	tok := m.client.Publish(m.topic, m.qos, m.retained, payload)
	select {
	case <-tok.Done():
	case <-time.After(m.timeout):
		return errors.New("mqtt publish timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
