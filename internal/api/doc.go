// Package api provides the notification server REST client.
//
// Endpoints (relative to the API root, e.g. http://10.0.2.2:7077/api):
//   - GET  /WebSocket/pending/{deviceToken}  queued notifications
//   - POST /PushNotification/register         device registration
//
// The streaming endpoint (/WebSocket/connect/{deviceToken}) is handled by
// the connection package.
package api
