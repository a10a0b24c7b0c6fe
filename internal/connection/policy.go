package connection

import (
	"fmt"
	"time"
)

// DefaultReconnectDelay is the fixed delay between stream attempts.
const DefaultReconnectDelay = 5 * time.Second

// Policy decides how long to wait before the next stream attempt.
// attempt is the number of failures since the last successful open, starting at 0.
// A Policy never gives up.
type Policy interface {
	Next(attempt int) time.Duration
}

// FixedPolicy waits the same delay before every attempt, including the first.
type FixedPolicy struct {
	Delay time.Duration
}

// Next returns the fixed delay.
func (p FixedPolicy) Next(int) time.Duration {
	if p.Delay <= 0 {
		return DefaultReconnectDelay
	}
	return p.Delay
}

// ExponentialPolicy doubles the delay per attempt up to Max.
type ExponentialPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns Base * 2^attempt, capped at Max.
func (p ExponentialPolicy) Next(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	max := p.Max
	if max < base {
		max = base
	}
	if attempt < 0 {
		attempt = 0
	}

	wait := base
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= max || wait <= 0 {
			return max
		}
	}
	return wait
}

// NewPolicy builds a Policy by name ("fixed" or "exponential").
func NewPolicy(kind string, delay, max time.Duration) (Policy, error) {
	switch kind {
	case "", "fixed":
		return FixedPolicy{Delay: delay}, nil
	case "exponential":
		return ExponentialPolicy{Base: delay, Max: max}, nil
	default:
		return nil, fmt.Errorf("unknown reconnect policy %q", kind)
	}
}
