package jobs

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotStarted  = errors.New("scheduler not started")
	ErrInvalidName = errors.New("job name is required")
	ErrInvalidRate = errors.New("periodic interval must be positive")
)

// Result is the outcome of one job execution.
type Result int

const (
	Success Result = iota
	Retry          // run again after the request's backoff
	Failure        // give up on this run; periodic jobs still run on the next tick
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Job is a unit of background work.
type Job interface {
	Execute(ctx context.Context) Result
}

// JobFunc is a function adapter for Job.
type JobFunc func(ctx context.Context) Result

func (f JobFunc) Execute(ctx context.Context) Result {
	return f(ctx)
}

// ExistingPolicy decides what happens when a unique job name is already scheduled.
type ExistingPolicy int

const (
	ExistingKeep    ExistingPolicy = iota // leave the existing registration untouched
	ExistingReplace                       // cancel the existing registration and schedule anew
)

// Constraints are preconditions checked before each run.
type Constraints struct {
	RequireNetwork bool
}

// BackoffPolicy selects how retry delays grow.
type BackoffPolicy string

const (
	BackoffLinear      BackoffPolicy = "linear"
	BackoffExponential BackoffPolicy = "exponential"
)

// Backoff defaults.
const (
	DefaultBackoffInitial = 30 * time.Second
	DefaultBackoffMax     = 5 * time.Hour
)

// Backoff configures retry delays.
type Backoff struct {
	Policy  BackoffPolicy
	Initial time.Duration // Delay before the first retry
	Max     time.Duration // Upper bound (default: 5h)
}

// Delay returns the wait before retry number attempt (starting at 1).
// Linear: Initial*attempt. Exponential: Initial*2^(attempt-1).
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	max := b.Max
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch b.Policy {
	case BackoffExponential:
		d = initial
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max || d <= 0 {
				return max
			}
		}
	default:
		d = initial * time.Duration(attempt)
		if d/time.Duration(attempt) != initial {
			return max
		}
	}

	if d > max {
		return max
	}
	return d
}

// PeriodicRequest describes a named recurring job.
type PeriodicRequest struct {
	Name         string
	Every        time.Duration
	InitialDelay time.Duration // 0 runs the first execution right away
	Constraints  Constraints
	Backoff      Backoff
	Timeout      time.Duration // Per-run deadline (0 = none)
}

// OneTimeRequest describes a job that runs once, retrying per its backoff.
type OneTimeRequest struct {
	Name        string
	Constraints Constraints
	Backoff     Backoff
	Timeout     time.Duration
	MaxAttempts int // 0 = retry until the scheduler stops
}

// Stats contains scheduler statistics.
type Stats struct {
	Periodic int   // Registered periodic jobs
	Runs     int64 // Executions started
	Retries  int64 // Executions that returned Retry
	Failures int64 // Executions that returned Failure
	Skipped  int64 // Ticks skipped for overlap or missing network
}
