package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrStreamClosed    = errors.New("stream closed by peer")
	ErrNotStarted      = errors.New("connection manager not started")
	ErrStopped         = errors.New("connection manager stopped")
	ErrEmptyToken      = errors.New("device token is empty")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// State is the connection manager state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateDegraded // polling fallback active, retry pending
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// RetrySchedule tracks reconnect attempts since the last successful open.
type RetrySchedule struct {
	Attempt   int
	NextDelay time.Duration
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full stream URL including the device token
	HandshakeTimeout time.Duration // Upgrade handshake deadline
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for control frames
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 30 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     30 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	StreamURL      string        // Base stream URL, e.g. ws://host:7077/api/WebSocket
	ConnectTimeout time.Duration // Deadline for a single open attempt
	CatchUpOnOpen  bool          // Run one poll right after the stream opens
	Policy         Policy        // Reconnect policy (default: fixed 5s)
	Client         ClientConfig  // Per-session client settings (URL is filled in per attempt)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout: 30 * time.Second,
		Policy:         FixedPolicy{Delay: DefaultReconnectDelay},
		Client:         DefaultClientConfig(),
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State           State
	Retry           RetrySchedule
	Sessions        int64 // Successful opens
	OpenFailures    int64
	StreamFailures  int64
	FramesReceived  int64
	LastConnectedAt time.Time
	LastError       string
}
