package transport

import (
	"encoding/json"
	"fmt"
)

const (
	// AckEvent is the event name of command acknowledgments.
	AckEvent = "ack"
	// ErrorEvent reports a failure to the originating socket only.
	ErrorEvent = "error"
)

// Frame is the JSON unit exchanged with clients in both directions.
// Inbound frames that carry an ID receive an "ack" frame with the same ID.
type Frame struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent marshals an outbound event frame.
func EncodeEvent(event string, payload any) ([]byte, error) {
	return encode(event, "", payload)
}

// EncodeAck marshals the acknowledgment for an inbound frame.
func EncodeAck(id string, payload any) ([]byte, error) {
	return encode(AckEvent, id, payload)
}

// EncodeError marshals an error event: {action, error} plus, when key is
// set, the id of the entity the failed action was about.
func EncodeError(action, message, key, value string) ([]byte, error) {
	payload := map[string]string{"action": action, "error": message}
	if key != "" && value != "" {
		payload[key] = value
	}
	return EncodeEvent(ErrorEvent, payload)
}

func encode(event, id string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %q payload: %w", event, err)
	}
	msg, err := json.Marshal(Frame{Event: event, ID: id, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %q frame: %w", event, err)
	}
	return msg, nil
}
