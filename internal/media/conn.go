package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ConnEvents are the callbacks a connection surfaces. Any of them may be
// nil. They are invoked from pion goroutines.
type ConnEvents struct {
	OnICECandidate      func(webrtc.ICECandidateInit)
	OnTrack             func(*webrtc.TrackRemote)
	OnStateChange       func(ConnState)
	OnNegotiationNeeded func()
}

// Conn is one pion peer connection to a single remote participant.
type Conn struct {
	peer    string
	pc      *webrtc.PeerConnection
	events  ConnEvents
	logger  *slog.Logger
	release func(*Conn)

	mu          sync.Mutex
	senders     map[*Track]*webrtc.RTPSender
	negotiating bool
	state       ConnState
	closed      bool
}

func newConn(peer string, pc *webrtc.PeerConnection, events ConnEvents, logger *slog.Logger, release func(*Conn)) *Conn {
	return &Conn{
		peer:    peer,
		pc:      pc,
		events:  events,
		logger:  logger,
		release: release,
		senders: make(map[*Track]*webrtc.RTPSender),
		state:   ConnNew,
	}
}

func (c *Conn) wire() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.events.OnICECandidate == nil {
			return
		}
		c.events.OnICECandidate(cand.ToJSON())
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Debug("remote track", "kind", track.Kind(), "id", track.ID())
		if c.events.OnTrack != nil {
			c.events.OnTrack(track)
		}
	})

	// Both signals feed the same handler; some stacks only ever fire one of them.
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.report(fromPeerState(s))
	})
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.report(fromICEState(s))
	})

	c.pc.OnNegotiationNeeded(func() {
		if c.events.OnNegotiationNeeded != nil {
			c.events.OnNegotiationNeeded()
		}
	})
}

func fromPeerState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnClosed
	default:
		return ConnNew
	}
}

func fromICEState(s webrtc.ICEConnectionState) ConnState {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return ConnConnecting
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return ConnConnected
	case webrtc.ICEConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.ICEConnectionStateFailed:
		return ConnFailed
	case webrtc.ICEConnectionStateClosed:
		return ConnClosed
	default:
		return ConnNew
	}
}

// report forwards a derived state, dropping repeats so one logical
// transition reported by both signals is delivered once.
func (c *Conn) report(next ConnState) {
	c.mu.Lock()
	if next == c.state || next == ConnNew {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	c.logger.Debug("connection state", "state", next)
	if c.events.OnStateChange != nil {
		c.events.OnStateChange(next)
	}
}

// Peer returns the remote identity this connection was created for.
func (c *Conn) Peer() string { return c.peer }

// State returns the last derived state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Negotiating reports whether an offer or answer is being created.
func (c *Conn) Negotiating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiating
}

func (c *Conn) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if c.negotiating {
		return ErrNegotiating
	}
	c.negotiating = true
	return nil
}

func (c *Conn) end() {
	c.mu.Lock()
	c.negotiating = false
	c.mu.Unlock()
}

// AddTracks attaches local tracks that are not attached yet. Disabled
// tracks get a sender with no source so the media line is still negotiated.
func (c *Conn) AddTracks(tracks []*Track) error {
	for _, t := range tracks {
		if t.Stopped() {
			continue
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrConnectionClosed
		}
		_, exists := c.senders[t]
		c.mu.Unlock()
		if exists {
			continue
		}

		sender, err := c.pc.AddTrack(t.Local())
		if err != nil {
			return err
		}
		go drainRTCP(sender)

		c.mu.Lock()
		c.senders[t] = sender
		c.mu.Unlock()

		if !t.Enabled() {
			if err := sender.ReplaceTrack(nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Conn) syncTrack(t *Track) error {
	c.mu.Lock()
	sender, ok := c.senders[t]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if t.Enabled() {
		return sender.ReplaceTrack(t.Local())
	}
	return sender.ReplaceTrack(nil)
}

func (c *Conn) replaceTrack(old, next *Track) error {
	c.mu.Lock()
	sender, ok := c.senders[old]
	delete(c.senders, old)
	if ok && next != nil {
		c.senders[next] = sender
	}
	c.mu.Unlock()

	if !ok {
		if next != nil {
			return c.AddTracks([]*Track{next})
		}
		return nil
	}
	if next == nil || !next.Enabled() {
		return sender.ReplaceTrack(nil)
	}
	return sender.ReplaceTrack(next.Local())
}

// CreateOffer creates an offer and applies it locally. Candidates trickle
// through OnICECandidate.
func (c *Conn) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := c.begin(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	defer c.end()

	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	if len(c.pc.GetTransceivers()) == 0 {
		c.addRecvOnlyTransceivers()
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// CreateAnswer answers the applied remote offer.
func (c *Conn) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := c.begin(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	defer c.end()

	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if c.pc.RemoteDescription() == nil {
		return webrtc.SessionDescription{}, ErrRemoteDescriptionNA
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// addRecvOnlyTransceivers gives an offer without local media valid m-lines.
func (c *Conn) addRecvOnlyTransceivers() {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			c.logger.Warn("add recvonly transceiver", "kind", kind, "error", err)
		}
	}
}

// SetRemoteDescription applies the remote offer or answer.
func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return c.pc.SetRemoteDescription(desc)
}

// HasRemoteDescription reports whether a remote description is applied.
func (c *Conn) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

// AddICECandidate applies one remote candidate. The caller is responsible
// for holding candidates back until a remote description exists.
func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return c.pc.AddICECandidate(cand)
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.senders = make(map[*Track]*webrtc.RTPSender)
	c.mu.Unlock()

	err := c.pc.Close()
	if c.release != nil {
		c.release(c)
	}
	if err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		return err
	}
	return nil
}
