package wakelock

import (
	"log/slog"
	"os"
	"sync"
)

// Inhibit modes understood by logind.
const (
	ModeBlock = "block"
	ModeDelay = "delay"
)

// inhibitConn is the subset of login1.Conn used here.
type inhibitConn interface {
	Inhibit(what, who, why, mode string) (*os.File, error)
	Close()
}

// Inhibitor holds a logind sleep inhibitor between Acquire and Release.
type Inhibitor struct {
	who    string
	why    string
	mode   string
	logger *slog.Logger

	connect func() (inhibitConn, error)

	mu sync.Mutex
	fd *os.File
}

// New returns an Inhibitor registered under who.
func New(who, why string, logger *slog.Logger) *Inhibitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inhibitor{
		who:     who,
		why:     why,
		mode:    ModeBlock,
		logger:  logger.With("component", "wakelock"),
		connect: dialLogind,
	}
}

// Acquire takes the inhibitor. It is a no-op while already held.
func (i *Inhibitor) Acquire() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.fd != nil {
		return nil
	}

	conn, err := i.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	fd, err := conn.Inhibit("sleep", i.who, i.why, i.mode)
	if err != nil {
		return err
	}
	i.fd = fd

	i.logger.Debug("sleep inhibitor acquired", "mode", i.mode)
	return nil
}

// Release drops the inhibitor. It is a no-op when not held.
func (i *Inhibitor) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.fd == nil {
		return nil
	}
	err := i.fd.Close()
	i.fd = nil

	i.logger.Debug("sleep inhibitor released")
	return err
}

// Held reports whether the inhibitor is currently taken.
func (i *Inhibitor) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fd != nil
}

// Noop satisfies the wake lock contract without touching the host.
type Noop struct{}

func (Noop) Acquire() error { return nil }
func (Noop) Release() error { return nil }
