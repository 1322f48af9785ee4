package mesh

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/logging"
	"github.com/BioHazard786/warpcall/internal/media"
)

type fakeConn struct {
	peer identity.ID
	log  *opLog

	mu          sync.Mutex
	tracks      []*media.Track
	failRemote  error
	failCand    map[string]error
	negotiating bool
	closed      bool
	events      media.ConnEvents
}

type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (c *fakeConn) AddTracks(tracks []*media.Track) error {
	c.mu.Lock()
	c.tracks = append(c.tracks, tracks...)
	c.mu.Unlock()
	c.log.add("tracks:" + c.peer.String())
	return nil
}

func (c *fakeConn) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	c.log.add("offer:" + c.peer.String())
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + c.peer.String()}, nil
}

func (c *fakeConn) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	c.log.add("answer:" + c.peer.String())
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + c.peer.String()}, nil
}

func (c *fakeConn) SetRemoteDescription(webrtc.SessionDescription) error {
	if c.failRemote != nil {
		return c.failRemote
	}
	c.log.add("remote:" + c.peer.String())
	return nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.log.add("ice:" + cand.Candidate)
	return c.failCand[cand.Candidate]
}

func (c *fakeConn) Negotiating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiating
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.log.add("close:" + c.peer.String())
	return nil
}

type fakeFactory struct {
	log    *opLog
	tracks []*media.Track
	fail   error

	mu    sync.Mutex
	conns map[identity.ID]*fakeConn
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{log: &opLog{}, conns: make(map[identity.ID]*fakeConn)}
}

func (f *fakeFactory) NewConnection(peer identity.ID, ev media.ConnEvents) (Connection, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	c := &fakeConn{peer: peer, log: f.log, failCand: map[string]error{}, events: ev}
	c.tracks = append(c.tracks, f.tracks...)
	f.mu.Lock()
	f.conns[peer] = c
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) LocalTracks() []*media.Track { return f.tracks }

func (f *fakeFactory) conn(id identity.ID) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[id]
}

func cand(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }

func TestAddParticipantEnforcesCap(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, Events{}, logging.Discard())

	p, err := m.AddParticipant("bob", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.DisplayName)
	assert.Equal(t, media.ConnNew, p.State)

	_, err = m.AddParticipant("bob", "Bob")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = m.AddParticipant("carol", "Carol")
	require.NoError(t, err)

	_, err = m.AddParticipant("dave", "Dave")
	assert.ErrorIs(t, err, ErrMeshFull)
	assert.Nil(t, f.conn("dave"))
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, []identity.ID{"bob", "carol"}, m.IDs())
}

func TestAddParticipantFactoryFailure(t *testing.T) {
	f := newFakeFactory()
	f.fail = errors.New("no sockets")
	m := NewManager(f, Events{}, logging.Discard())

	_, err := m.AddParticipant("bob", "Bob")
	require.Error(t, err)
	assert.Zero(t, m.Count())
}

func TestAddParticipantSeedsLocalTracks(t *testing.T) {
	f := newFakeFactory()
	f.tracks = []*media.Track{media.NewTrack(nil, nil)}
	m := NewManager(f, Events{}, logging.Discard())

	_, err := m.AddParticipant("bob", "Bob")
	require.NoError(t, err)
	assert.Len(t, f.conn("bob").tracks, 1)
}

func TestRemoveParticipant(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")
	_, _ = m.AddParticipant("carol", "Carol")

	n, err := m.RemoveParticipant("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.conn("bob").closed)
	assert.False(t, m.Has("bob"))

	n, err = m.RemoveParticipant("bob")
	assert.ErrorIs(t, err, ErrUnknownParticipant)
	assert.Equal(t, 1, n)

	n, err = m.RemoveParticipant("carol")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")

	require.NoError(t, m.AddICECandidate("bob", cand("c1")))
	require.NoError(t, m.AddICECandidate("bob", cand("c2")))
	require.NoError(t, m.AddICECandidate("bob", cand("c3")))
	assert.Equal(t, 3, m.QueuedCandidates("bob"))
	assert.False(t, m.HasRemoteDescription("bob"))

	require.NoError(t, m.SetRemoteDescription("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}))
	require.NoError(t, m.AddICECandidate("bob", cand("c4")))

	assert.Equal(t, []string{"remote:bob", "ice:c1", "ice:c2", "ice:c3", "ice:c4"}, f.log.all())
	assert.Zero(t, m.QueuedCandidates("bob"))
	assert.True(t, m.HasRemoteDescription("bob"))
}

func TestReplayFailureIsNotFatal(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")
	f.conn("bob").failCand["c1"] = errors.New("bad candidate")

	require.NoError(t, m.AddICECandidate("bob", cand("c1")))
	require.NoError(t, m.AddICECandidate("bob", cand("c2")))
	require.NoError(t, m.SetRemoteDescription("bob", webrtc.SessionDescription{}))

	assert.Equal(t, []string{"remote:bob", "ice:c1", "ice:c2"}, f.log.all())
}

func TestFailedRemoteDescriptionKeepsQueue(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")
	f.conn("bob").failRemote = errors.New("malformed sdp")

	require.NoError(t, m.AddICECandidate("bob", cand("c1")))
	require.Error(t, m.SetRemoteDescription("bob", webrtc.SessionDescription{}))
	assert.Equal(t, 1, m.QueuedCandidates("bob"))
	assert.Empty(t, f.log.all())
}

func TestQueuesArePerParticipant(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")
	_, _ = m.AddParticipant("carol", "Carol")

	require.NoError(t, m.AddICECandidate("bob", cand("b1")))
	require.NoError(t, m.AddICECandidate("carol", cand("k1")))
	require.NoError(t, m.SetRemoteDescription("carol", webrtc.SessionDescription{}))

	assert.Equal(t, []string{"remote:carol", "ice:k1"}, f.log.all())
	assert.Equal(t, 1, m.QueuedCandidates("bob"))
}

func TestUnknownParticipantOperations(t *testing.T) {
	m := NewManager(newFakeFactory(), Events{}, logging.Discard())

	_, err := m.CreateOffer(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownParticipant)
	_, err = m.CreateAnswer(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownParticipant)
	assert.ErrorIs(t, m.SetRemoteDescription("ghost", webrtc.SessionDescription{}), ErrUnknownParticipant)
	assert.ErrorIs(t, m.AddICECandidate("ghost", cand("x")), ErrUnknownParticipant)
	assert.False(t, m.Negotiating("ghost"))
}

func TestAddLocalTracksToAllConnections(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")
	_, _ = m.AddParticipant("carol", "Carol")

	f.tracks = []*media.Track{media.NewTrack(nil, nil)}
	require.NoError(t, m.AddLocalTracksToAllConnections())
	assert.Len(t, f.conn("bob").tracks, 1)
	assert.Len(t, f.conn("carol").tracks, 1)
}

func TestEventsCarryParticipantAndUpdateState(t *testing.T) {
	f := newFakeFactory()

	var mu sync.Mutex
	var states []media.ConnState
	var cands []identity.ID
	m := NewManager(f, Events{
		OnStateChange: func(peer identity.ID, s media.ConnState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
		OnICECandidate: func(peer identity.ID, _ webrtc.ICECandidateInit) {
			mu.Lock()
			cands = append(cands, peer)
			mu.Unlock()
		},
	}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")
	_, _ = m.AddParticipant("carol", "Carol")

	f.conn("bob").events.OnStateChange(media.ConnConnected)
	f.conn("carol").events.OnICECandidate(cand("c"))

	assert.True(t, m.AnyConnected())
	assert.Equal(t, media.ConnConnected, m.States()["bob"])
	assert.Equal(t, media.ConnNew, m.States()["carol"])
	assert.Equal(t, []media.ConnState{media.ConnConnected}, states)
	assert.Equal(t, []identity.ID{"carol"}, cands)

	f.conn("bob").events.OnStateChange(media.ConnDisconnected)
	assert.False(t, m.AnyConnected())
}

func TestSnapshotsAreCopies(t *testing.T) {
	m := NewManager(newFakeFactory(), Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")

	ps := m.Participants()
	ps[0].DisplayName = "mutated"
	ids := m.IDs()
	ids[0] = "mutated"

	p, ok := m.Participant("bob")
	require.True(t, ok)
	assert.Equal(t, "Bob", p.DisplayName)
	assert.Equal(t, []identity.ID{"bob"}, m.IDs())

}

func TestRemoteMediaState(t *testing.T) {
	m := NewManager(newFakeFactory(), Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")

	require.NoError(t, m.SetRemoteMuted("bob", true))
	require.NoError(t, m.SetRemoteVideo("bob", true))
	p, _ := m.Participant("bob")
	assert.True(t, p.Muted)
	assert.True(t, p.VideoEnabled)

	require.NoError(t, m.SetRemoteMuted("bob", false))
	require.NoError(t, m.SetRemoteVideo("bob", false))
	p, _ = m.Participant("bob")
	assert.False(t, p.Muted)
	assert.False(t, p.VideoEnabled)

	assert.ErrorIs(t, m.SetRemoteMuted("carol", true), ErrUnknownParticipant)
	assert.ErrorIs(t, m.SetRemoteVideo("carol", true), ErrUnknownParticipant)
}

func TestCloseClosesEverything(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, Events{}, logging.Discard())
	_, _ = m.AddParticipant("bob", "Bob")
	_, _ = m.AddParticipant("carol", "Carol")

	m.Close()
	assert.Zero(t, m.Count())
	assert.True(t, f.conn("bob").closed)
	assert.True(t, f.conn("carol").closed)
	assert.Empty(t, m.RemoteStreams())
}

func TestEngineFactory(t *testing.T) {
	e, err := media.NewEngine(media.Config{}, &media.StaticCapturer{}, logging.Discard())
	require.NoError(t, err)
	_, err = e.StartLocalMedia(context.Background(), media.KindVoice)
	require.NoError(t, err)

	m := NewManager(EngineFactory(e), Events{}, logging.Discard())
	_, err = m.AddParticipant("bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Connections())

	offer, err := m.CreateOffer(context.Background(), "bob")
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=audio")

	m.Close()
	assert.Zero(t, e.Connections())
}
