// Package notify provides the sinks that present delivered notifications.
//
// Every sink implements delivery.Notifier:
//   - Log writes one structured log line per notification (default)
//   - MQTT publishes the JSON message to a topic
//   - Kafka writes the JSON message keyed by its dedup key
//   - Telegram sends a formatted message to a chat
//
// Multi fans out to several sinks and Throttled rate-limits any sink.
package notify
