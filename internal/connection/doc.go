// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single streaming session addressed by the device token
//   - Runs every state transition on one actor goroutine
//   - Hands inbound frames to the delivery pipeline
//   - Starts the polling fallback when the stream fails and stops it on recovery
//   - Retries the stream on a fixed delay (see Policy) until disconnected
package connection
