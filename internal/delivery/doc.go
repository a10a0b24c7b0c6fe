// Package delivery implements the Delivery Pipeline.
//
// The Delivery Pipeline:
//   - Accepts notifications from the stream and poll channels
//   - Decodes raw frames and drops malformed ones
//   - Consults the dedup ledger so each notification reaches the user once
//   - Hands surviving notifications to the configured Notifier
package delivery
