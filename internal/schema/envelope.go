package schema

import (
	"encoding/json"
	"fmt"
)

// Envelope is the generic shape every message on the bus satisfies:
// a topic carried out-of-band by the IPC frame, and a JSON payload
// that must at minimum carry a timestamp. Decode is tolerant of
// unknown fields (forward compatibility) but requires "timestamp" to
// be present and non-zero, per spec.md §4.2.
type Envelope struct {
	Topic     string
	Timestamp int64
	Raw       json.RawMessage
}

// timestampOnly is used to peek the timestamp field out of an
// otherwise-unknown payload shape.
type timestampOnly struct {
	Timestamp int64 `json:"timestamp"`
}

// DecodeEnvelope parses raw into an Envelope for the given topic,
// requiring a non-zero "timestamp" field. It does not validate the
// rest of the payload shape; callers use Decode for that.
func DecodeEnvelope(topic string, raw []byte) (Envelope, error) {
	var ts timestampOnly
	if err := json.Unmarshal(raw, &ts); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope for %s: %w", topic, err)
	}
	if ts.Timestamp == 0 {
		return Envelope{}, fmt.Errorf("decode envelope for %s: missing required field %q", topic, "timestamp")
	}
	return Envelope{Topic: topic, Timestamp: ts.Timestamp, Raw: json.RawMessage(raw)}, nil
}
