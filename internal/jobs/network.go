package jobs

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Connectivity reports whether the network precondition holds.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// AlwaysOnline is a Connectivity that never blocks a run.
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }

// DialChecker considers the network up when a TCP dial to Address succeeds.
type DialChecker struct {
	Address string        // host:port
	Timeout time.Duration // Dial timeout (default: 5s)
}

// NewDialChecker builds a DialChecker for the host of rawURL.
func NewDialChecker(rawURL string, timeout time.Duration) (*DialChecker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}

	return &DialChecker{
		Address: net.JoinHostPort(u.Hostname(), port),
		Timeout: timeout,
	}, nil
}

// Online dials Address.
func (d *DialChecker) Online(ctx context.Context) bool {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
