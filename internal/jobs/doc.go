// Package jobs implements the background job scheduler used by the polling
// fallback.
//
// The scheduler:
//   - Registers named periodic jobs on robfig/cron with enqueue-if-absent semantics
//   - Runs one-off jobs immediately
//   - Defers runs until the network precondition holds
//   - Re-runs jobs that ask for a retry after a linear or exponential backoff
package jobs
