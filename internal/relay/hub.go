// Package relay is the websocket signaling server. It knows nothing about
// calls: it only forwards opaque payloads to the identity named in each
// envelope.
package relay

import (
	"context"
	"log/slog"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/signaling"
)

// Hub owns every connected client. All state is touched only from Run.
type Hub struct {
	clients map[identity.ID]*Client

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Route carries envelopes read from clients.
	Route chan *Routed

	metrics *Metrics
	logger  *slog.Logger
	done    chan struct{}
}

// Routed is an envelope together with the client that sent it.
type Routed struct {
	From     *Client
	Envelope signaling.Envelope
}

// NewHub creates a new Hub instance. metrics may be nil.
func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[identity.ID]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Route:      make(chan *Routed),
		metrics:    metrics,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run is the hub's processing loop. It returns when ctx is done, closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			if old, ok := h.clients[client.ID]; ok {
				h.logger.Info("identity reconnected, replacing previous connection", "identity", client.ID)
				close(old.Send)
			}
			h.clients[client.ID] = client
			h.metrics.setConnected(len(h.clients))
			h.logger.Info("client registered", "identity", client.ID, "remote", client.remoteAddr())

		case client := <-h.Unregister:
			// A replaced connection unregisters after its successor registered.
			if current, ok := h.clients[client.ID]; ok && current == client {
				delete(h.clients, client.ID)
				close(client.Send)
				h.metrics.setConnected(len(h.clients))
				h.logger.Info("client unregistered", "identity", client.ID)
			}

		case r := <-h.Route:
			h.route(r)

		case <-ctx.Done():
			for id, c := range h.clients {
				close(c.Send)
				delete(h.clients, id)
			}
			h.metrics.setConnected(0)
			close(h.done)
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) route(r *Routed) {
	env := r.Envelope
	if env.Type != signaling.EnvelopeDeliver {
		h.logger.Warn("unknown envelope type", "type", env.Type, "from", r.From.ID)
		return
	}

	to := identity.Normalize(env.To)
	target, ok := h.clients[to]
	if !ok {
		h.metrics.incUndeliverable()
		h.logger.Debug("recipient offline", "from", r.From.ID, "to", to)
		h.enqueue(r.From, &signaling.Envelope{
			Type:  signaling.EnvelopeError,
			To:    to.String(),
			Error: "recipient offline",
		})
		return
	}

	if h.enqueue(target, &signaling.Envelope{
		Type:    signaling.EnvelopeDeliver,
		From:    r.From.ID.String(),
		Payload: env.Payload,
	}) {
		h.metrics.incDelivered()
	}
}

// enqueue never blocks the hub; a client too slow to drain its buffer loses
// the frame.
func (h *Hub) enqueue(c *Client, env *signaling.Envelope) bool {
	select {
	case c.Send <- env:
		return true
	default:
		h.metrics.incDropped()
		h.logger.Warn("client send buffer full, dropping frame", "identity", c.ID)
		return false
	}
}
