package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return errors.New("device.id is required")
	}
	if c.Device.Platform < 0 || c.Device.Platform > 2 {
		return fmt.Errorf("device.platform must be 0, 1 or 2, got %d", c.Device.Platform)
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if err := validateURL("stream.ws_url", c.Stream.WSURL, "ws", "wss"); err != nil {
		return err
	}
	switch c.Stream.ReconnectPolicy {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("stream.reconnect_policy must be fixed or exponential, got %q", c.Stream.ReconnectPolicy)
	}
	if c.Stream.ReconnectDelay <= 0 {
		return errors.New("stream.reconnect_delay must be > 0")
	}
	if c.Stream.PingTimeout <= c.Stream.PingInterval {
		return fmt.Errorf("stream.ping_timeout (%s) must exceed ping_interval (%s)", c.Stream.PingTimeout, c.Stream.PingInterval)
	}
	if c.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}

	if c.Polling.Interval <= 0 {
		return errors.New("polling.interval must be > 0")
	}
	if c.Polling.BackoffInitial <= 0 {
		return errors.New("polling.backoff_initial must be > 0")
	}
	if c.Polling.BackoffMax < c.Polling.BackoffInitial {
		return errors.New("polling.backoff_max cannot be below backoff_initial")
	}

	if c.Dedup.Capacity < 1 {
		return errors.New("dedup.capacity must be >= 1")
	}
	if c.Dedup.TTL <= 0 {
		return errors.New("dedup.ttl must be > 0")
	}

	if err := c.TokenStore.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}

	if c.History.Enabled {
		if err := c.History.Database.validate("history.database"); err != nil {
			return err
		}
		if c.History.BatchSize < 1 {
			return errors.New("history.batch_size must be >= 1")
		}
		if c.History.BufferSize < 1 {
			return errors.New("history.buffer_size must be >= 1")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (t *TokenStoreConfig) validate() error {
	switch t.Driver {
	case "file", "sqlite":
		if t.Path == "" {
			return fmt.Errorf("token_store.path is required for driver %q", t.Driver)
		}
	case "postgres":
		return t.Postgres.validate("token_store.postgres")
	case "redis":
		if t.Redis.Addr == "" {
			return errors.New("token_store.redis.addr is required")
		}
	case "memory":
	default:
		return fmt.Errorf("token_store.driver %q is not supported", t.Driver)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.RateLimit < 0 {
		return errors.New("notify.rate_limit must be >= 0")
	}
	for _, sink := range n.Sinks {
		switch sink {
		case "log":
		case "mqtt":
			if n.MQTT.Broker == "" {
				return errors.New("notify.mqtt.broker is required")
			}
			if n.MQTT.QoS > 2 {
				return fmt.Errorf("notify.mqtt.qos must be 0, 1 or 2, got %d", n.MQTT.QoS)
			}
		case "kafka":
			if len(n.Kafka.Brokers) == 0 {
				return errors.New("notify.kafka.brokers is required")
			}
		case "telegram":
			if n.Telegram.Token == "" {
				return errors.New("notify.telegram.token is required")
			}
			if n.Telegram.ChatID == 0 {
				return errors.New("notify.telegram.chat_id is required")
			}
		default:
			return fmt.Errorf("notify.sinks: unknown sink %q", sink)
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use %s, got %q", field, strings.Join(schemes, " or "), u.Scheme)
}
