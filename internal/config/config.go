// Package config loads the pushlinkd YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	API        APIConfig        `yaml:"api"`
	Stream     StreamConfig     `yaml:"stream"`
	Polling    PollingConfig    `yaml:"polling"`
	Dedup      DedupConfig      `yaml:"dedup"`
	TokenStore TokenStoreConfig `yaml:"token_store"`
	Notify     NotifyConfig     `yaml:"notify"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
}

// DeviceConfig describes this installation as the server sees it.
type DeviceConfig struct {
	ID            string             `yaml:"id"`       // default: hostname
	UserID        string             `yaml:"user_id"`  // optional
	Platform      int                `yaml:"platform"` // 0 android, 1 ios, 2 web
	PreferredCity string             `yaml:"preferred_city"`
	InhibitSleep  bool               `yaml:"inhibit_sleep"` // hold a logind sleep inhibitor while connected
	Subscriptions SubscriptionConfig `yaml:"subscriptions"`
}

// SubscriptionConfig selects notification categories at registration.
// Unset flags default to true.
type SubscriptionConfig struct {
	SpeedUpdates     *bool `yaml:"speed_updates"`
	EventReminders   *bool `yaml:"event_reminders"`
	SoldOutAlerts    *bool `yaml:"sold_out_alerts"`
	FavouriteUpdates *bool `yaml:"favourite_updates"`
}

// APIConfig holds REST endpoint settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	UserAgent  string        `yaml:"user_agent"`
}

// StreamConfig holds streaming channel settings.
type StreamConfig struct {
	WSURL             string        `yaml:"ws_url"`           // base; the token is appended as /connect/<token>
	ReconnectPolicy   string        `yaml:"reconnect_policy"` // fixed | exponential
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"` // exponential only
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
	CatchUpOnOpen     bool          `yaml:"catch_up_on_open"`
}

// PollingConfig holds fallback polling settings.
type PollingConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	Timeout        time.Duration `yaml:"timeout"`
	RequireNetwork *bool         `yaml:"require_network"`
	NetworkTimeout time.Duration `yaml:"network_timeout"` // reachability probe deadline
}

// DedupConfig bounds the dedup ledger.
type DedupConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// TokenStoreConfig selects where the device token is persisted.
type TokenStoreConfig struct {
	Driver   string      `yaml:"driver"` // file | sqlite | postgres | redis | memory
	Path     string      `yaml:"path"`   // file and sqlite
	Postgres DBConfig    `yaml:"postgres"`
	Redis    RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NotifyConfig selects the notification sinks.
type NotifyConfig struct {
	Sinks     []string       `yaml:"sinks"`      // log | mqtt | kafka | telegram
	RateLimit float64        `yaml:"rate_limit"` // notifications per second, 0 = unlimited
	Burst     int            `yaml:"burst"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Telegram  TelegramConfig `yaml:"telegram"`
}

// MQTTConfig holds MQTT sink settings.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Retained bool          `yaml:"retained"`
	Timeout  time.Duration `yaml:"timeout"`
}

// KafkaConfig holds Kafka sink settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// TelegramConfig holds Telegram sink settings.
type TelegramConfig struct {
	Token    string `yaml:"token"`
	ChatID   int64  `yaml:"chat_id"`
	ThreadID int    `yaml:"thread_id"`
}

// HistoryConfig holds delivery history settings.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds connection settings for a single database.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LoggingConfig configures the root slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// HealthConfig configures the health endpoint. An empty Addr disables it.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads a config file and expands ${VAR} references from the environment.
// Defaults are not applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data after environment expansion.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads a config file and fills in defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads a config file, applies defaults and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Enabled reports a subscription flag, defaulting to true.
func Enabled(flag *bool) bool {
	return flag == nil || *flag
}
