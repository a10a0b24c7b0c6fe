package notification

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var errMissing = errors.New("missing or empty")

// timestampLayouts are tried in order. The server emits either RFC3339 or its
// local form without an offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Decode parses a wire frame into a Message.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Message{}, &DecodeError{Err: errors.New("not a JSON object")}
	}

	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, &DecodeError{Err: err}
	}

	return fromWire(wire)
}

// fromWire validates required fields and converts to a Message.
func fromWire(wire wireMessage) (Message, error) {
	if wire.Title == nil || strings.TrimSpace(*wire.Title) == "" {
		return Message{}, &DecodeError{Field: "title", Err: errMissing}
	}
	if wire.Body == nil || strings.TrimSpace(*wire.Body) == "" {
		return Message{}, &DecodeError{Field: "body", Err: errMissing}
	}
	if wire.Type == nil || strings.TrimSpace(*wire.Type) == "" {
		return Message{}, &DecodeError{Field: "type", Err: errMissing}
	}

	msg := Message{
		ID:      parseID(wire.ID),
		Title:   *wire.Title,
		Body:    *wire.Body,
		Type:    ParseType(*wire.Type),
		RawType: *wire.Type,
		City:    deref(wire.City),
		Company: deref(wire.Company),
	}

	msg.CorrelatedEntityID = parseEntityID(wire.CorrelatedEntityID)
	if msg.CorrelatedEntityID == nil {
		msg.CorrelatedEntityID = parseEntityID(wire.SpeedUpdateID)
	}

	msg.RawTimestamp, msg.Timestamp = parseTimestamp(wire.Timestamp)

	switch {
	case !isNull(wire.Data):
		msg.Payload = wire.Data
	case !isNull(wire.Payload):
		msg.Payload = wire.Payload
	}

	return msg, nil
}

// Encode marshals a Message back to its wire form.
func Encode(msg Message) ([]byte, error) {
	out := map[string]any{
		"title": msg.Title,
		"body":  msg.Body,
		"type":  msg.RawType,
	}
	if msg.RawType == "" {
		out["type"] = string(msg.Type)
	}
	if msg.ID != "" {
		out["id"] = msg.ID
	}
	if msg.RawTimestamp != "" {
		out["timestamp"] = msg.RawTimestamp
	}
	if msg.CorrelatedEntityID != nil {
		out["correlatedEntityId"] = *msg.CorrelatedEntityID
	}
	if msg.City != "" {
		out["city"] = msg.City
	}
	if msg.Company != "" {
		out["company"] = msg.Company
	}
	if len(msg.Payload) > 0 {
		out["data"] = msg.Payload
	}
	return json.Marshal(out)
}

// DedupKey returns the key used by the dedup ledger.
//
// Messages without an id get a synthesized key built from type, correlated
// entity, the exact timestamp string and a digest of title and body. The
// timestamp is not bucketed and the content digest is included, so two distinct
// events never collapse onto one key; only byte-identical resends do.
func (m Message) DedupKey() string {
	if m.ID != "" {
		return m.ID
	}

	entity := "-"
	if m.CorrelatedEntityID != nil {
		entity = strconv.Itoa(*m.CorrelatedEntityID)
	}

	h := sha256.New()
	h.Write([]byte(m.Title))
	h.Write([]byte{0})
	h.Write([]byte(m.Body))
	digest := hex.EncodeToString(h.Sum(nil))[:16]

	return "synth:" + m.RawType + ":" + entity + ":" + m.RawTimestamp + ":" + digest
}

// parseTimestamp accepts a JSON string in one of timestampLayouts, or a JSON
// number of unix seconds (or milliseconds when large).
func parseTimestamp(raw json.RawMessage) (string, time.Time) {
	if isNull(raw) {
		return "", time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return s, ts.UTC()
			}
		}
		return s, time.Time{}
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		s = strconv.FormatInt(n, 10)
		if n > 1_000_000_000_000 {
			return s, time.UnixMilli(n).UTC()
		}
		return s, time.Unix(n, 0).UTC()
	}

	return string(raw), time.Time{}
}

// parseID accepts the id as a JSON string or number. Anything else is treated
// as absent so the message gets a synthesized dedup key.
func parseID(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// parseEntityID accepts an integer or a numeric string. Unusable values become nil.
func parseEntityID(raw json.RawMessage) *int {
	if isNull(raw) {
		return nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return nil
		}
		n = int(f)
		return &n
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return &v
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
