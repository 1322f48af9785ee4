package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/media"
)

// Type discriminates call signaling messages.
type Type string

const (
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeControl      Type = "control"
	TypeInvite       Type = "invite"
)

// Action is the verb of a control message.
type Action string

const (
	ActionHangup  Action = "hangup"
	ActionDecline Action = "decline"
	ActionBusy    Action = "busy"
	ActionRinging Action = "ringing"

	// Sent to every peer when this device's outgoing media changes.
	ActionMute     Action = "mute"
	ActionUnmute   Action = "unmute"
	ActionVideoOn  Action = "video-on"
	ActionVideoOff Action = "video-off"
)

// ErrProtocol marks a payload that cannot be understood. Such messages are
// logged and dropped.
var ErrProtocol = errors.New("signaling protocol error")

// Message is a decoded call signaling message. SDP and Candidate hold plain
// values; the opaque encoding only exists on the wire.
type Message struct {
	Type   Type
	CallID string

	// offer, invite
	Kind media.Kind
	// offer, answer, invite
	SDP string
	// offer (optional): everyone the caller intends to connect
	Participants []identity.ID
	// invite: roster already connected in the call being joined
	ExistingParticipants []identity.ID

	// ice-candidate
	Candidate *webrtc.ICECandidateInit

	// control
	Action Action
	Reason string
}

type wireMessage struct {
	Type                 Type     `json:"type"`
	CallID               string   `json:"callId"`
	Kind                 string   `json:"kind,omitempty"`
	SDP                  string   `json:"sdp,omitempty"`
	Participants         []string `json:"participants,omitempty"`
	ExistingParticipants []string `json:"existingParticipants,omitempty"`
	Candidate            string   `json:"candidate,omitempty"`
	Action               string   `json:"action,omitempty"`
	Reason               string   `json:"reason,omitempty"`
}

// Marshal validates msg and encodes it for the transport.
func Marshal(msg *Message) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}

	w := wireMessage{
		Type:                 msg.Type,
		CallID:               msg.CallID,
		Kind:                 string(msg.Kind),
		Participants:         identity.Strings(msg.Participants),
		ExistingParticipants: identity.Strings(msg.ExistingParticipants),
		Action:               string(msg.Action),
		Reason:               msg.Reason,
	}

	var err error
	if msg.SDP != "" {
		if w.SDP, err = EncodeSDP(msg.SDP); err != nil {
			return nil, err
		}
	}
	if msg.Candidate != nil {
		if w.Candidate, err = EncodeCandidate(*msg.Candidate); err != nil {
			return nil, err
		}
	}
	return json.Marshal(w)
}

// Unmarshal decodes and validates a transport payload. Every failure wraps
// ErrProtocol.
func Unmarshal(data []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	msg := &Message{
		Type:                 w.Type,
		CallID:               w.CallID,
		Kind:                 media.Kind(w.Kind),
		Participants:         identity.NormalizeAll(w.Participants),
		ExistingParticipants: identity.NormalizeAll(w.ExistingParticipants),
		Action:               Action(w.Action),
		Reason:               w.Reason,
	}

	if w.SDP != "" {
		sdp, err := DecodeSDP(w.SDP)
		if err != nil {
			return nil, err
		}
		msg.SDP = sdp
	}
	if w.Candidate != "" {
		cand, err := DecodeCandidate(w.Candidate)
		if err != nil {
			return nil, err
		}
		msg.Candidate = &cand
	}

	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *Message) validate() error {
	if m.CallID == "" {
		return fmt.Errorf("%w: missing call id", ErrProtocol)
	}
	switch m.Type {
	case TypeOffer, TypeInvite:
		if !m.Kind.Valid() {
			return fmt.Errorf("%w: %s with invalid kind %q", ErrProtocol, m.Type, m.Kind)
		}
		if m.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrProtocol, m.Type)
		}
	case TypeAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: answer without sdp", ErrProtocol)
		}
	case TypeICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate without candidate", ErrProtocol)
		}
	case TypeControl:
		switch m.Action {
		case ActionHangup, ActionDecline, ActionBusy, ActionRinging,
			ActionMute, ActionUnmute, ActionVideoOn, ActionVideoOff:
		default:
			return fmt.Errorf("%w: unknown control action %q", ErrProtocol, m.Action)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrProtocol, m.Type)
	}
	return nil
}

// SessionDescription returns the SDP as a pion description of the type the
// message implies.
func (m *Message) SessionDescription() webrtc.SessionDescription {
	t := webrtc.SDPTypeOffer
	if m.Type == TypeAnswer {
		t = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: t, SDP: m.SDP}
}
