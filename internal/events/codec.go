package events

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an envelope for wire transport (broker channel payload
// or outbound WebSocket frame).
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire payload into an envelope. Decoding is fail-closed:
// a malformed or unrecognized-type message returns an error instead of a
// partially populated envelope, so callers drop it rather than fan it out.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	if !e.EventType.Valid() {
		return Envelope{}, fmt.Errorf("events: unknown event type %q", e.EventType)
	}
	if e.EventID == "" {
		return Envelope{}, fmt.Errorf("events: envelope missing event_id")
	}
	return e, nil
}
