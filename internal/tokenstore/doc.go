// Package tokenstore persists the device token.
//
// The token lives under a fixed namespace and key so that every process on
// the host (the daemon, a one-shot poll run, the register command) reads the
// same value. Drivers:
//   - file: JSON state file, atomic replace, change notifications via fsnotify
//   - sqlite: key/value table in a local database
//   - postgres: key/value table shared by several hosts
//   - redis: a single string key
//   - memory: process-local, for tests and throwaway runs
package tokenstore
