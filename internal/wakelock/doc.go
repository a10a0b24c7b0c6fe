// Package wakelock keeps the host from suspending while the stream is wanted.
//
// On Linux the lock is a systemd-logind "sleep" inhibitor in block mode. The
// inhibitor stays in effect until the returned file descriptor is closed.
// Other platforms get an inhibitor whose Acquire reports errors.ErrUnsupported.
package wakelock
