// Package dedup implements the Dedup Ledger.
//
// The Dedup Ledger:
//   - Remembers recently delivered notification keys (last K keys, last TTL)
//   - Provides an atomic check-and-insert shared by the stream and poll paths
//   - Evicts FIFO on capacity and by age on access
//   - Lives in memory only; it is rebuilt empty on restart
package dedup
