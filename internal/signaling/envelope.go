package signaling

import "encoding/json"

// Envelope is the relay frame wrapping one payload.
type Envelope struct {
	Type    string          `json:"type"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Envelope types.
const (
	EnvelopeDeliver = "deliver"
	EnvelopeError   = "error"
)
