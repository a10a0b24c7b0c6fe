package connection

import (
	"testing"
	"time"
)

func TestFixedPolicy_SameDelayEveryAttempt(t *testing.T) {
	p := FixedPolicy{Delay: 5 * time.Second}

	for attempt := 0; attempt < 100; attempt++ {
		if got := p.Next(attempt); got != 5*time.Second {
			t.Fatalf("Next(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestFixedPolicy_ZeroUsesDefault(t *testing.T) {
	if got := (FixedPolicy{}).Next(0); got != DefaultReconnectDelay {
		t.Errorf("Next(0) = %v, want %v", got, DefaultReconnectDelay)
	}
}

func TestExponentialPolicy(t *testing.T) {
	p := ExponentialPolicy{Base: time.Second, Max: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{1000, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Next(tt.attempt); got != tt.want {
			t.Errorf("Next(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy("fixed", 3*time.Second, 0)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	if got := p.Next(7); got != 3*time.Second {
		t.Errorf("fixed Next(7) = %v, want 3s", got)
	}

	p, err = NewPolicy("exponential", time.Second, 4*time.Second)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	if got := p.Next(5); got != 4*time.Second {
		t.Errorf("exponential Next(5) = %v, want 4s", got)
	}

	if _, err := NewPolicy("random", time.Second, 0); err == nil {
		t.Error("expected error for unknown policy")
	}
}
