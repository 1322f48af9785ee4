package signaling

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/media"
)

// Transport delivers opaque payloads point to point, keyed by recipient
// identity. Delivery is fire-and-forget.
type Transport interface {
	Send(ctx context.Context, to identity.ID, data []byte) error
	// Subscribe registers fn for every inbound payload. from is the raw
	// sender identity as the transport reports it.
	Subscribe(fn func(from string, data []byte)) (cancel func())
}

// Handler receives decoded messages. from is already normalized.
type Handler func(from identity.ID, msg *Message)

// Channel encodes call signaling messages onto a Transport.
type Channel struct {
	transport Transport
	logger    *slog.Logger
}

// NewChannel wraps transport.
func NewChannel(transport Transport, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{transport: transport, logger: logger}
}

// Send encodes msg and hands it to the transport.
func (c *Channel) Send(ctx context.Context, to identity.ID, msg *Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}
	c.logger.Debug("sending signal", "to", to, "type", msg.Type, "callId", msg.CallID, "action", msg.Action)
	return c.transport.Send(ctx, to, data)
}

func (c *Channel) SendOffer(ctx context.Context, to identity.ID, callID string, kind media.Kind, sdp string, participants []identity.ID) error {
	return c.Send(ctx, to, &Message{Type: TypeOffer, CallID: callID, Kind: kind, SDP: sdp, Participants: participants})
}

func (c *Channel) SendAnswer(ctx context.Context, to identity.ID, callID, sdp string) error {
	return c.Send(ctx, to, &Message{Type: TypeAnswer, CallID: callID, SDP: sdp})
}

func (c *Channel) SendCandidate(ctx context.Context, to identity.ID, callID string, cand webrtc.ICECandidateInit) error {
	return c.Send(ctx, to, &Message{Type: TypeICECandidate, CallID: callID, Candidate: &cand})
}

func (c *Channel) SendControl(ctx context.Context, to identity.ID, callID string, action Action, reason string) error {
	return c.Send(ctx, to, &Message{Type: TypeControl, CallID: callID, Action: action, Reason: reason})
}

func (c *Channel) SendInvite(ctx context.Context, to identity.ID, callID string, kind media.Kind, sdp string, existing []identity.ID) error {
	return c.Send(ctx, to, &Message{Type: TypeInvite, CallID: callID, Kind: kind, SDP: sdp, ExistingParticipants: existing})
}

// Listen decodes every inbound payload and passes it to fn. The sender
// identity is normalized here. Undecodable payloads are logged and dropped.
func (c *Channel) Listen(fn Handler) (cancel func()) {
	return c.transport.Subscribe(func(from string, data []byte) {
		sender := identity.Normalize(from)
		if !sender.Valid() {
			c.logger.Warn("dropping signal without sender")
			return
		}
		msg, err := Unmarshal(data)
		if err != nil {
			if errors.Is(err, ErrProtocol) {
				c.logger.Warn("dropping malformed signal", "from", sender, "error", err)
			} else {
				c.logger.Error("failed to decode signal", "from", sender, "error", err)
			}
			return
		}
		c.logger.Debug("received signal", "from", sender, "type", msg.Type, "callId", msg.CallID, "action", msg.Action)
		fn(sender, msg)
	})
}
