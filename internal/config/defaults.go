package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL           = "http://10.0.2.2:7077/api"
	DefaultWSURL             = "ws://10.0.2.2:7077/api/WebSocket"
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultReconnectPolicy   = "fixed"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultReconnectMaxDelay = 5 * time.Minute
	DefaultConnectTimeout    = 30 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPingTimeout       = 90 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultStreamBufferSize  = 256
	DefaultPollInterval      = 5 * time.Minute
	DefaultPollBackoff       = 15 * time.Second
	DefaultPollBackoffMax    = 5 * time.Hour
	DefaultPollTimeout       = 2 * time.Minute
	DefaultNetworkTimeout    = 5 * time.Second
	DefaultDedupCapacity     = 1024
	DefaultDedupTTL          = 30 * time.Minute
	DefaultTokenDriver       = "file"
	DefaultRedisAddr         = "localhost:6379"
	DefaultMQTTTopic         = "pushlink/notifications"
	DefaultMQTTClientID      = "pushlinkd"
	DefaultMQTTTimeout       = 10 * time.Second
	DefaultKafkaTopic        = "pushlink.notifications"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 2 * time.Second
	DefaultBufferSize        = 1000
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *Config) applyDefaults() {
	// Device defaults
	if c.Device.ID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Device.ID = host
		}
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Stream defaults
	if c.Stream.WSURL == "" {
		c.Stream.WSURL = DefaultWSURL
	}
	if c.Stream.ReconnectPolicy == "" {
		c.Stream.ReconnectPolicy = DefaultReconnectPolicy
	}
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.ConnectTimeout == 0 {
		c.Stream.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Polling defaults
	if c.Polling.Interval == 0 {
		c.Polling.Interval = DefaultPollInterval
	}
	if c.Polling.BackoffInitial == 0 {
		c.Polling.BackoffInitial = DefaultPollBackoff
	}
	if c.Polling.BackoffMax == 0 {
		c.Polling.BackoffMax = DefaultPollBackoffMax
	}
	if c.Polling.Timeout == 0 {
		c.Polling.Timeout = DefaultPollTimeout
	}
	if c.Polling.RequireNetwork == nil {
		required := true
		c.Polling.RequireNetwork = &required
	}
	if c.Polling.NetworkTimeout == 0 {
		c.Polling.NetworkTimeout = DefaultNetworkTimeout
	}

	// Dedup defaults
	if c.Dedup.Capacity == 0 {
		c.Dedup.Capacity = DefaultDedupCapacity
	}
	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = DefaultDedupTTL
	}

	// Token store defaults
	if c.TokenStore.Driver == "" {
		c.TokenStore.Driver = DefaultTokenDriver
	}
	if c.TokenStore.Path == "" && (c.TokenStore.Driver == "file" || c.TokenStore.Driver == "sqlite") {
		c.TokenStore.Path = defaultStatePath(c.TokenStore.Driver)
	}
	if c.TokenStore.Driver == "postgres" {
		applyDBDefaults(&c.TokenStore.Postgres)
	}
	if c.TokenStore.Redis.Addr == "" {
		c.TokenStore.Redis.Addr = DefaultRedisAddr
	}

	// Notify defaults
	if len(c.Notify.Sinks) == 0 {
		c.Notify.Sinks = []string{"log"}
	}
	if c.Notify.RateLimit > 0 && c.Notify.Burst == 0 {
		c.Notify.Burst = 1
	}
	if c.Notify.MQTT.Topic == "" {
		c.Notify.MQTT.Topic = DefaultMQTTTopic
	}
	if c.Notify.MQTT.ClientID == "" {
		c.Notify.MQTT.ClientID = DefaultMQTTClientID
	}
	if c.Notify.MQTT.Timeout == 0 {
		c.Notify.MQTT.Timeout = DefaultMQTTTimeout
	}
	if c.Notify.Kafka.Topic == "" {
		c.Notify.Kafka.Topic = DefaultKafkaTopic
	}

	// History defaults
	if c.History.Enabled {
		applyDBDefaults(&c.History.Database)
	}
	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultFlushInterval
	}
	if c.History.BufferSize == 0 {
		c.History.BufferSize = DefaultBufferSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// defaultStatePath places the token store under the XDG state directory.
func defaultStatePath(driver string) string {
	name := "state.json"
	if driver == "sqlite" {
		name = "state.db"
	}
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "pushlink", name)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "pushlink", name)
	}
	return filepath.Join("pushlink", name)
}
