package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// FileStore keeps the token in a JSON state file shaped as
// {"push_notifications_prefs": {"device_token": "..."}}. Writes replace the
// file atomically so concurrent readers never see a partial document.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

type stateFile map[string]map[string]string

// NewFileStore creates a FileStore at path, creating the parent directory.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{
		path:   filepath.Clean(path),
		logger: logger,
	}, nil
}

// Path returns the state file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrClosed
	}

	state, err := f.readLocked()
	if err != nil {
		return "", err
	}
	token := state[Namespace][Key]
	if token == "" {
		return "", ErrTokenMissing
	}
	return token, nil
}

func (f *FileStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	state, err := f.readLocked()
	if err != nil {
		return err
	}
	if state[Namespace] == nil {
		state[Namespace] = make(map[string]string)
	}
	state[Namespace][Key] = token

	return f.writeLocked(state)
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Watch reports token changes made by any process. Bursts of file events are
// coalesced and only changed, non-empty tokens are sent.
func (f *FileStore) Watch(ctx context.Context) (<-chan string, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: atomic replace swaps the inode under the file name.
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	last, _ := f.Get(ctx)
	out := make(chan string, 1)

	go func() {
		defer close(out)
		defer w.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != f.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				fire = timer.C

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				f.logger.Warn("token file watch error", "path", f.path, "error", err)

			case <-fire:
				fire = nil
				token, err := f.Get(ctx)
				if err != nil {
					if !errors.Is(err, ErrTokenMissing) {
						f.logger.Warn("failed to reread token file", "path", f.path, "error", err)
					}
					continue
				}
				if token == last {
					continue
				}
				last = token
				f.logger.Info("device token changed", "token", Redact(token))
				select {
				case out <- token:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (f *FileStore) readLocked() (stateFile, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return stateFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	state := stateFile{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", f.path, err)
	}
	return state, nil
}

func (f *FileStore) writeLocked(state stateFile) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
