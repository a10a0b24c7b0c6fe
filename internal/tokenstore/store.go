package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Crosschaser/Protos/internal/config"
)

// Storage location of the device token.
const (
	Namespace = "push_notifications_prefs"
	Key       = "device_token"
)

// Errors
var (
	ErrTokenMissing = errors.New("device token not registered")
	ErrEmptyToken   = errors.New("device token is empty")
	ErrClosed       = errors.New("token store closed")
)

// Store reads and writes the device token.
type Store interface {
	// Get returns the persisted token or ErrTokenMissing.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Close() error
}

// Watcher is implemented by stores that can report tokens written by other
// processes.
type Watcher interface {
	// Watch sends the new token each time it changes. The channel is closed
	// when ctx is done.
	Watch(ctx context.Context) (<-chan string, error)
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.TokenStoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tokenstore", "driver", cfg.Driver)

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "file":
		s, err = NewFileStore(cfg.Path, logger)
	case "sqlite":
		s, err = OpenSQLite(ctx, cfg.Path)
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.Postgres)
	case "redis":
		s, err = OpenRedis(ctx, cfg.Redis)
	case "memory":
		s = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown token store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s token store: %w", cfg.Driver, err)
	}

	logger.Debug("token store opened")
	return s, nil
}

// Redact shortens a token for logging.
func Redact(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
