package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/warpcall/internal/callui"
	"github.com/BioHazard786/warpcall/internal/feedback"
	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/logging"
	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/mesh"
	"github.com/BioHazard786/warpcall/internal/signaling"
)

const waitFor = 2 * time.Second

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

type fakeMedia struct {
	log *opLog

	mu        sync.Mutex
	local     media.LocalMedia
	failStart error
	failCam   error
	starts    int
	stops     int
}

func (m *fakeMedia) StartLocalMedia(ctx context.Context, kind media.Kind) (media.LocalMedia, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.log.add("media:start")
	if m.failStart != nil {
		return media.LocalMedia{}, m.failStart
	}
	m.local = media.LocalMedia{Active: true, Kind: kind, VideoEnabled: kind == media.KindVideo, FrontCamera: true}
	return m.local, nil
}

func (m *fakeMedia) StopLocalMedia() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.local = media.LocalMedia{}
}

func (m *fakeMedia) LocalMedia() media.LocalMedia {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

func (m *fakeMedia) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local.Muted = !m.local.Muted
	return m.local.Muted
}

func (m *fakeMedia) SetMuted(muted bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local.Muted = muted
	return muted
}

func (m *fakeMedia) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local.VideoEnabled = !m.local.VideoEnabled
	return m.local.VideoEnabled
}

func (m *fakeMedia) SwitchCamera(context.Context) (media.LocalMedia, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCam != nil {
		return m.local, m.failCam
	}
	m.local.FrontCamera = !m.local.FrontCamera
	return m.local, nil
}

func (m *fakeMedia) counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

type fakeConn struct {
	peer   identity.ID
	log    *opLog
	events media.ConnEvents

	mu          sync.Mutex
	closed      bool
	remoteOffer bool
	failAnswer  error
}

func (c *fakeConn) AddTracks([]*media.Track) error {
	c.log.add("tracks:" + c.peer.String())
	return nil
}

func (c *fakeConn) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	c.log.add("offer:" + c.peer.String())
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer " + c.peer.String()}, nil
}

func (c *fakeConn) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failAnswer; err != nil {
		c.failAnswer = nil
		return webrtc.SessionDescription{}, err
	}
	c.remoteOffer = false
	c.log.add("answer:" + c.peer.String())
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer " + c.peer.String()}, nil
}

// SetRemoteDescription refuses a second offer before the first is answered,
// as a real peer connection in have-remote-offer does.
func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if desc.Type == webrtc.SDPTypeOffer {
		if c.remoteOffer {
			return errHaveRemoteOffer
		}
		c.remoteOffer = true
	}
	c.log.add("remote:" + c.peer.String())
	return nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.log.add("ice:" + cand.Candidate)
	return nil
}

func (c *fakeConn) Negotiating() bool { return false }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) failNextAnswer(err error) {
	c.mu.Lock()
	c.failAnswer = err
	c.mu.Unlock()
}

func (c *fakeConn) state(s media.ConnState) {
	c.events.OnStateChange(s)
}

func (c *fakeConn) candidate(s string) {
	c.events.OnICECandidate(webrtc.ICECandidateInit{Candidate: s})
}

type fakeFactory struct {
	log *opLog

	mu    sync.Mutex
	conns map[identity.ID]*fakeConn
}

func (f *fakeFactory) NewConnection(peer identity.ID, ev media.ConnEvents) (mesh.Connection, error) {
	c := &fakeConn{peer: peer, log: f.log, events: ev}
	f.mu.Lock()
	f.conns[peer] = c
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) LocalTracks() []*media.Track { return nil }

func (f *fakeFactory) conn(id identity.ID) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[id]
}

type recordingFeedback struct {
	mu     sync.Mutex
	events []feedback.Event
	stops  int
}

func (r *recordingFeedback) Handle(ev feedback.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingFeedback) StopAll() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

func (r *recordingFeedback) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func (r *recordingFeedback) seen() []feedback.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feedback.Event(nil), r.events...)
}

// fakePlatform records calls and lets a test play the user's part.
type fakePlatform struct {
	mu     sync.Mutex
	events callui.PlatformEvents
	calls  []string
	muted  map[uuid.UUID]bool
}

func (p *fakePlatform) record(op string) {
	p.mu.Lock()
	p.calls = append(p.calls, op)
	p.mu.Unlock()
}

func (p *fakePlatform) Setup(_ context.Context, ev callui.PlatformEvents) error {
	p.mu.Lock()
	p.events = ev
	p.muted = make(map[uuid.UUID]bool)
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) ReportOutgoing(uuid.UUID, string, bool) error {
	p.record("outgoing")
	return nil
}

func (p *fakePlatform) DisplayIncoming(context.Context, uuid.UUID, string, string, bool) error {
	p.record("incoming")
	return nil
}

func (p *fakePlatform) ReportAnswered(uuid.UUID) error {
	p.record("answered")
	return nil
}

func (p *fakePlatform) ReportConnected(uuid.UUID) error {
	p.record("connected")
	return nil
}

func (p *fakePlatform) EndCall(_ uuid.UUID, reason string) error {
	p.record("end:" + reason)
	return nil
}

func (p *fakePlatform) SetMuted(h uuid.UUID, muted bool) error {
	p.mu.Lock()
	p.muted[h] = muted
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) SetOnHold(_ uuid.UUID, hold bool) error {
	if hold {
		p.record("hold")
	} else {
		p.record("unhold")
	}
	return nil
}

func (p *fakePlatform) UpdateDisplayName(_ uuid.UUID, name string) error {
	p.record("name:" + name)
	return nil
}

func (p *fakePlatform) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlatform) isMuted(h uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted[h]
}

func (p *fakePlatform) userEnded(h uuid.UUID) {
	p.mu.Lock()
	ev := p.events
	p.mu.Unlock()
	ev.Ended(h)
}

func (p *fakePlatform) userAnswered(h uuid.UUID) {
	p.mu.Lock()
	ev := p.events
	p.mu.Unlock()
	ev.Answered(h)
}

// flakyLine fails a set number of sends before delivering again.
type flakyLine struct {
	*signaling.Line

	mu    sync.Mutex
	fails int
}

func (l *flakyLine) failNext(n int) {
	l.mu.Lock()
	l.fails = n
	l.mu.Unlock()
}

func (l *flakyLine) Send(ctx context.Context, to identity.ID, data []byte) error {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return errTransportDown
	}
	l.mu.Unlock()
	return l.Line.Send(ctx, to, data)
}

// remote is a peer that speaks raw signaling.
type remote struct {
	id      identity.ID
	channel *signaling.Channel
	inbox   chan *signaling.Message
}

func (r *remote) next(t *testing.T) *signaling.Message {
	t.Helper()
	select {
	case msg := <-r.inbox:
		return msg
	case <-time.After(waitFor):
		t.Fatalf("%s received nothing", r.id)
		return nil
	}
}

// expect skips messages until one of type typ arrives.
func (r *remote) expect(t *testing.T, typ signaling.Type) *signaling.Message {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case msg := <-r.inbox:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("%s never received %s", r.id, typ)
			return nil
		}
	}
}

func (r *remote) expectControl(t *testing.T, action signaling.Action) *signaling.Message {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case msg := <-r.inbox:
			if msg.Type == signaling.TypeControl && msg.Action == action {
				return msg
			}
		case <-deadline:
			t.Fatalf("%s never received %s", r.id, action)
			return nil
		}
	}
}

func (r *remote) quiet(t *testing.T) {
	t.Helper()
	select {
	case msg := <-r.inbox:
		t.Fatalf("%s unexpectedly received %s", r.id, msg.Type)
	default:
	}
}

func (r *remote) send(t *testing.T, to identity.ID, msg *signaling.Message) {
	t.Helper()
	require.NoError(t, r.channel.Send(context.Background(), to, msg))
}

type harness struct {
	t        *testing.T
	board    *signaling.Switchboard
	line     *flakyLine
	o        *Orchestrator
	log      *opLog
	media    *fakeMedia
	factory  *fakeFactory
	feedback *recordingFeedback
	platform *fakePlatform
	ended    chan Ended
	incoming chan IncomingCall
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	log := &opLog{}
	h := &harness{
		t:        t,
		board:    signaling.NewSwitchboard(),
		log:      log,
		media:    &fakeMedia{log: log},
		factory:  &fakeFactory{log: log, conns: make(map[identity.ID]*fakeConn)},
		feedback: &recordingFeedback{},
		platform: &fakePlatform{},
		ended:    make(chan Ended, 8),
		incoming: make(chan IncomingCall, 8),
	}
	h.line = &flakyLine{Line: h.board.Attach("alice")}

	opts := Options{
		Self:        "alice",
		Media:       h.media,
		Connections: h.factory,
		Signaling:   signaling.NewChannel(h.line, logging.Discard()),
		Bridge:      callui.New(h.platform, logging.Discard()),
		Feedback:    h.feedback,
		RingTimeout: time.Minute,
		Logger:      logging.Discard(),
	}
	for _, fn := range tweak {
		fn(&opts)
	}

	h.o = New(opts)
	require.NoError(t, h.o.Start(context.Background()))
	h.o.OnCallEnded(func(e Ended) { h.ended <- e })
	h.o.OnIncomingCall(func(c IncomingCall) { h.incoming <- c })
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) remote(id identity.ID) *remote {
	r := &remote{
		id:      id,
		channel: signaling.NewChannel(h.board.Attach(id), logging.Discard()),
		inbox:   make(chan *signaling.Message, 64),
	}
	r.channel.Listen(func(_ identity.ID, msg *signaling.Message) { r.inbox <- msg })
	return r
}

// sync waits until everything already posted to the loop has run.
func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(h.t, h.o.loop.do(ctx, func() {}))
}

func (h *harness) waitState(want State) Session {
	h.t.Helper()
	var got Session
	require.Eventually(h.t, func() bool {
		got = h.o.Current()
		return got.State == want
	}, waitFor, 5*time.Millisecond, "state never became %s", want)
	return got
}

func (h *harness) waitEnded() Ended {
	h.t.Helper()
	select {
	case e := <-h.ended:
		return e
	case <-time.After(waitFor):
		h.t.Fatal("call never ended")
		return Ended{}
	}
}

func (h *harness) waitIncoming() IncomingCall {
	h.t.Helper()
	select {
	case c := <-h.incoming:
		return c
	case <-time.After(waitFor):
		h.t.Fatal("no incoming call")
		return IncomingCall{}
	}
}

func (h *harness) handle(callID string) uuid.UUID {
	h.t.Helper()
	rec, ok := h.o.bridge.Record(callID)
	require.True(h.t, ok, "no call UI record for %s", callID)
	return rec.Handle
}

// call places an outgoing call to r and brings it to connected.
func (h *harness) call(r *remote, kind media.Kind) string {
	h.t.Helper()
	id, err := h.o.InitiateCall(context.Background(), r.id, kind)
	require.NoError(h.t, err)
	offer := r.expect(h.t, signaling.TypeOffer)
	r.send(h.t, "alice", &signaling.Message{Type: signaling.TypeAnswer, CallID: offer.CallID, SDP: "v=0 answer"})
	h.waitState(StateConnecting)
	h.factory.conn(r.id).state(media.ConnConnected)
	h.waitState(StateConnected)
	return id
}

func candidate(s string) *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: s}
}

var (
	errBoom            = errors.New("boom")
	errTransportDown   = errors.New("transport down")
	errHaveRemoteOffer = errors.New("offer already applied")
)
