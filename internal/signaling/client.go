package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/warpcall/internal/dns"
	"github.com/BioHazard786/warpcall/internal/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrClosed is returned when sending on a closed Client.
var ErrClosed = errors.New("signaling connection closed")

// Client is a websocket Transport connected to the relay as one identity.
type Client struct {
	serverURL string
	self      identity.ID
	resolver  *dns.Resolver
	logger    *slog.Logger

	conn     *websocket.Conn
	outgoing chan *Envelope
	done     chan struct{}
	closeOne sync.Once

	mu     sync.Mutex
	subs   map[int]func(string, []byte)
	nextID int
}

// NewClient creates a client for serverURL. resolver may be nil to use the
// system resolver only.
func NewClient(serverURL string, self identity.ID, resolver *dns.Resolver, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		self:      self,
		resolver:  resolver,
		logger:    logger,
		outgoing:  make(chan *Envelope, 64),
		done:      make(chan struct{}),
		subs:      make(map[int]func(string, []byte)),
	}
}

// Connect dials the relay and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("id", c.self.String())
	u.RawQuery = q.Encode()

	dialer := *websocket.DefaultDialer
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.logger.Info("connected to relay", "url", c.serverURL, "identity", c.self)
	return nil
}

// Send queues data for delivery to the recipient.
func (c *Client) Send(ctx context.Context, to identity.ID, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: payload is not json", ErrProtocol)
	}
	env := &Envelope{Type: EnvelopeDeliver, To: to.String(), Payload: data}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for inbound payloads. fn runs on the read pump.
func (c *Client) Subscribe(fn func(from string, data []byte)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the websocket connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOne.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("relay connection lost", "error", err)
			}
			return
		}

		switch env.Type {
		case EnvelopeDeliver:
			c.dispatch(env.From, env.Payload)
		case EnvelopeError:
			c.logger.Warn("relay rejected signal", "to", env.To, "error", env.Error)
		default:
			c.logger.Debug("ignoring relay frame", "type", env.Type)
		}
	}
}

func (c *Client) dispatch(from string, payload []byte) {
	c.mu.Lock()
	subs := make([]func(string, []byte), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(from, payload)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn("failed to write signal", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
