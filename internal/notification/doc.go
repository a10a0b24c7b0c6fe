// Package notification implements the NotificationMessage codec.
//
// The codec:
//   - Decodes UTF-8 JSON frames from the stream and pending-fetch elements
//   - Tolerates unknown fields so new server versions never break delivery
//   - Rejects messages missing title, body, or type
//   - Maps unknown types to TypeOther
//   - Derives the dedup key (id, or a synthesized key when id is absent)
package notification
