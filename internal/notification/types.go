package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrMalformed = errors.New("malformed notification")
)

// Type is the notification category.
type Type string

const (
	TypeSpeedUpdate     Type = "speed_update"
	TypeSoldOutAlert    Type = "sold_out_alert"
	TypeFavouriteUpdate Type = "favourite_update"
	TypeEventReminder   Type = "event_reminder"
	TypeOther           Type = "other"
)

// ParseType maps a wire value to a known Type. Unknown values map to TypeOther.
func ParseType(s string) Type {
	switch Type(s) {
	case TypeSpeedUpdate, TypeSoldOutAlert, TypeFavouriteUpdate, TypeEventReminder:
		return Type(s)
	}
	return TypeOther
}

// Message is a decoded notification.
type Message struct {
	ID    string // Dedup key when present
	Title string
	Body  string
	Type  Type
	// RawType is the type string as sent by the server ("other" categories keep their name here).
	RawType string

	Timestamp    time.Time // Zero if absent or unparsable
	RawTimestamp string

	CorrelatedEntityID *int // e.g. speed update id

	City    string
	Company string

	Payload json.RawMessage // Opaque "data" object, passed through untouched
}

// DecodeError reports a frame that could not be decoded into a Message.
type DecodeError struct {
	Field string // Missing or invalid field; empty for JSON syntax errors
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode notification: %v", e.Err)
	}
	return fmt.Sprintf("decode notification: field %q: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

// PendingBatch is the response of the pending-fetch endpoint.
//
// Notifications are kept raw so that each element is decoded on its own and one
// malformed element is dropped without losing the rest of the batch.
type PendingBatch struct {
	Notifications []json.RawMessage `json:"notifications"`
	Count         int               `json:"count"`
	Timestamp     string            `json:"timestamp"`
}

// wireMessage is the wire format for a notification.
type wireMessage struct {
	ID                 json.RawMessage `json:"id"`
	Title              *string         `json:"title"`
	Body               *string         `json:"body"`
	Type               *string         `json:"type"`
	Timestamp          json.RawMessage `json:"timestamp"`
	CorrelatedEntityID json.RawMessage `json:"correlatedEntityId"`
	SpeedUpdateID      json.RawMessage `json:"speedUpdateId"` // legacy alias of correlatedEntityId
	City               *string         `json:"city"`
	Company            *string         `json:"company"`
	Data               json.RawMessage `json:"data"`
	Payload            json.RawMessage `json:"payload"`
}
