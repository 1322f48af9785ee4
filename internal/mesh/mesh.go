// Package mesh owns the per-participant peer connections of one call. Each
// device holds a direct connection to every other participant.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/media"
)

// MaxParticipants is the total call size, this device included.
const MaxParticipants = 3

var (
	ErrMeshFull           = errors.New("call is full")
	ErrDuplicate          = errors.New("participant already in call")
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Connection is the per-participant media link. *media.Conn implements it.
type Connection interface {
	AddTracks(tracks []*media.Track) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error
	Negotiating() bool
	Close() error
}

// ConnFactory creates connections and exposes the current local tracks.
type ConnFactory interface {
	NewConnection(peer identity.ID, events media.ConnEvents) (Connection, error)
	LocalTracks() []*media.Track
}

type engineFactory struct {
	engine *media.Engine
}

// EngineFactory adapts a media engine to ConnFactory.
func EngineFactory(e *media.Engine) ConnFactory {
	return engineFactory{engine: e}
}

func (f engineFactory) NewConnection(peer identity.ID, events media.ConnEvents) (Connection, error) {
	c, err := f.engine.NewConnection(peer.String(), events)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (f engineFactory) LocalTracks() []*media.Track {
	return f.engine.LocalTracks()
}

// Events are raised per participant. They run on connection goroutines.
type Events struct {
	OnICECandidate      func(peer identity.ID, cand webrtc.ICECandidateInit)
	OnStateChange       func(peer identity.ID, state media.ConnState)
	OnRemoteTrack       func(peer identity.ID, stream RemoteStream)
	OnNegotiationNeeded func(peer identity.ID)
}

// Participant is a snapshot of one remote party.
type Participant struct {
	ID           identity.ID     `json:"id"`
	DisplayName  string          `json:"displayName"`
	Muted        bool            `json:"muted"`
	VideoEnabled bool            `json:"videoEnabled"`
	State        media.ConnState `json:"state"`
}

// RemoteStream describes one track received from a participant.
type RemoteStream struct {
	Participant identity.ID
	TrackID     string
	StreamID    string
	Kind        webrtc.RTPCodecType
}

type handle struct {
	conn Connection

	// apply serializes remote description and candidate application so a
	// flush cannot interleave with a direct add.
	apply sync.Mutex

	mu          sync.Mutex
	participant Participant
	remoteSet   bool
	queue       []webrtc.ICECandidateInit
	streams     []RemoteStream
}

// Manager holds every participant of the current call.
type Manager struct {
	factory ConnFactory
	events  Events
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[identity.ID]*handle
	order   []identity.ID
}

// NewManager returns an empty mesh.
func NewManager(factory ConnFactory, events Events, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory: factory,
		events:  events,
		logger:  logger,
		handles: make(map[identity.ID]*handle),
	}
}

// AddParticipant creates a connection for id seeded with the current local
// tracks.
func (m *Manager) AddParticipant(id identity.ID, name string) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handles[id]; ok {
		return Participant{}, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	if len(m.handles)+1 >= MaxParticipants {
		return Participant{}, ErrMeshFull
	}
	if name == "" {
		name = id.String()
	}

	h := &handle{participant: Participant{ID: id, DisplayName: name, State: media.ConnNew}}
	conn, err := m.factory.NewConnection(id, m.connEvents(id, h))
	if err != nil {
		return Participant{}, fmt.Errorf("connect %s: %w", id, err)
	}
	h.conn = conn

	m.handles[id] = h
	m.order = append(m.order, id)
	m.logger.Debug("participant added", "peer", id, "participants", len(m.handles))
	return h.snapshot(), nil
}

func (m *Manager) connEvents(id identity.ID, h *handle) media.ConnEvents {
	return media.ConnEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			if m.events.OnICECandidate != nil {
				m.events.OnICECandidate(id, c)
			}
		},
		OnTrack: func(t *webrtc.TrackRemote) {
			s := RemoteStream{Participant: id, TrackID: t.ID(), StreamID: t.StreamID(), Kind: t.Kind()}
			h.addStream(s)
			if m.events.OnRemoteTrack != nil {
				m.events.OnRemoteTrack(id, s)
			}
		},
		OnStateChange: func(s media.ConnState) {
			h.setState(s)
			if m.events.OnStateChange != nil {
				m.events.OnStateChange(id, s)
			}
		},
		OnNegotiationNeeded: func() {
			if m.events.OnNegotiationNeeded != nil {
				m.events.OnNegotiationNeeded(id)
			}
		},
	}
}

// RemoveParticipant closes and forgets id's connection. It returns how many
// participants remain; at zero the caller ends the call.
func (m *Manager) RemoveParticipant(id identity.ID) (int, error) {
	m.mu.Lock()
	h, ok := m.handles[id]
	if !ok {
		n := len(m.handles)
		m.mu.Unlock()
		return n, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	delete(m.handles, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	remaining := len(m.handles)
	m.mu.Unlock()

	if err := h.conn.Close(); err != nil {
		m.logger.Warn("close connection", "peer", id, "error", err)
	}
	m.logger.Debug("participant removed", "peer", id, "participants", remaining)
	return remaining, nil
}

// AddLocalTracksToAllConnections attaches the current local tracks to every
// connection. It must run before answering when media started after the
// connection was created.
func (m *Manager) AddLocalTracksToAllConnections() error {
	tracks := m.factory.LocalTracks()
	var errs []error
	for _, h := range m.all() {
		if err := h.conn.AddTracks(tracks); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.id(), err))
		}
	}
	return errors.Join(errs...)
}

// CreateOffer creates and locally applies an offer for id.
func (m *Manager) CreateOffer(ctx context.Context, id identity.ID) (webrtc.SessionDescription, error) {
	h, err := m.get(id)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return h.conn.CreateOffer(ctx)
}

// CreateAnswer creates and locally applies an answer for id.
func (m *Manager) CreateAnswer(ctx context.Context, id identity.ID) (webrtc.SessionDescription, error) {
	h, err := m.get(id)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return h.conn.CreateAnswer(ctx)
}

// SetRemoteDescription applies desc for id, then replays every candidate
// queued before it, in arrival order. Replay failures are logged.
func (m *Manager) SetRemoteDescription(id identity.ID, desc webrtc.SessionDescription) error {
	h, err := m.get(id)
	if err != nil {
		return err
	}

	h.apply.Lock()
	defer h.apply.Unlock()

	if err := h.conn.SetRemoteDescription(desc); err != nil {
		return err
	}

	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.remoteSet = true
			h.mu.Unlock()
			return nil
		}
		cand := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()

		if err := h.conn.AddICECandidate(cand); err != nil {
			m.logger.Warn("replay queued candidate", "peer", id, "error", err)
		}
	}
}

// AddICECandidate applies cand for id, or queues it while id has no remote
// description yet.
func (m *Manager) AddICECandidate(id identity.ID, cand webrtc.ICECandidateInit) error {
	h, err := m.get(id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if !h.remoteSet {
		h.queue = append(h.queue, cand)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.apply.Lock()
	defer h.apply.Unlock()
	return h.conn.AddICECandidate(cand)
}

// QueuedCandidates returns how many candidates wait for id's remote
// description.
func (m *Manager) QueuedCandidates(id identity.ID) int {
	h, err := m.get(id)
	if err != nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// HasRemoteDescription reports whether id's remote description is applied.
func (m *Manager) HasRemoteDescription(id identity.ID) bool {
	h, err := m.get(id)
	if err != nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remoteSet
}

// Negotiating reports whether id has an offer or answer in progress.
func (m *Manager) Negotiating(id identity.ID) bool {
	h, err := m.get(id)
	if err != nil {
		return false
	}
	return h.conn.Negotiating()
}

// SetRemoteMuted records whether id has muted its microphone.
func (m *Manager) SetRemoteMuted(id identity.ID, muted bool) error {
	h, err := m.get(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.participant.Muted = muted
	h.mu.Unlock()
	return nil
}

// SetRemoteVideo records whether id is sending video.
func (m *Manager) SetRemoteVideo(id identity.ID, enabled bool) error {
	h, err := m.get(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.participant.VideoEnabled = enabled
	h.mu.Unlock()
	return nil
}

// Has reports whether id is in the call.
func (m *Manager) Has(id identity.ID) bool {
	_, err := m.get(id)
	return err == nil
}

// Count returns the number of remote participants.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// IDs returns the participants in join order.
func (m *Manager) IDs() []identity.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]identity.ID(nil), m.order...)
}

// Participant returns a snapshot of id.
func (m *Manager) Participant(id identity.ID) (Participant, bool) {
	h, err := m.get(id)
	if err != nil {
		return Participant{}, false
	}
	return h.snapshot(), true
}

// Participants returns snapshots in join order.
func (m *Manager) Participants() []Participant {
	hs := m.all()
	out := make([]Participant, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.snapshot())
	}
	return out
}

// States returns every participant's connection state.
func (m *Manager) States() map[identity.ID]media.ConnState {
	out := make(map[identity.ID]media.ConnState)
	for _, h := range m.all() {
		p := h.snapshot()
		out[p.ID] = p.State
	}
	return out
}

// AnyConnected reports whether at least one participant is connected.
func (m *Manager) AnyConnected() bool {
	for _, h := range m.all() {
		if h.snapshot().State == media.ConnConnected {
			return true
		}
	}
	return false
}

// RemoteStreams aggregates the tracks received from every participant.
func (m *Manager) RemoteStreams() []RemoteStream {
	var out []RemoteStream
	for _, h := range m.all() {
		h.mu.Lock()
		out = append(out, h.streams...)
		h.mu.Unlock()
	}
	return out
}

// Close closes every connection and empties the mesh.
func (m *Manager) Close() {
	m.mu.Lock()
	hs := make([]*handle, 0, len(m.order))
	for _, id := range m.order {
		hs = append(hs, m.handles[id])
	}
	m.handles = make(map[identity.ID]*handle)
	m.order = nil
	m.mu.Unlock()

	for _, h := range hs {
		if err := h.conn.Close(); err != nil {
			m.logger.Warn("close connection", "peer", h.id(), "error", err)
		}
	}
}

func (m *Manager) get(id identity.ID) (*handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return h, nil
}

func (m *Manager) all() []*handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*handle, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.handles[id])
	}
	return out
}

func (h *handle) id() identity.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.participant.ID
}

func (h *handle) snapshot() Participant {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.participant
}

func (h *handle) setState(s media.ConnState) {
	h.mu.Lock()
	h.participant.State = s
	h.mu.Unlock()
}

func (h *handle) addStream(s RemoteStream) {
	h.mu.Lock()
	h.streams = append(h.streams, s)
	if s.Kind == webrtc.RTPCodecTypeVideo {
		h.participant.VideoEnabled = true
	}
	h.mu.Unlock()
}
