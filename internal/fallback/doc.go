// Package fallback implements the Polling Fallback component.
//
// The Polling Fallback:
//   - Registers one named periodic job (notification_polling_work) while the
//     stream is down, enqueue-if-absent so repeated failures never duplicate it
//   - Requires network reachability and retries failed fetches with linear backoff
//   - Runs one-off catch-up fetches on demand
//   - Fetches the pending batch for the persisted device token and hands every
//     element to the delivery pipeline, where duplicates of streamed frames are dropped
package fallback
