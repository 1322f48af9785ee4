// Package call is the call state machine. It owns the single active call
// session and drives the mesh, signaling, platform call UI and feedback
// from one event loop.
package call

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpcall/internal/callui"
	"github.com/BioHazard786/warpcall/internal/feedback"
	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/mesh"
	"github.com/BioHazard786/warpcall/internal/signaling"
)

const (
	DefaultRingTimeout  = 45 * time.Second
	DefaultDurationTick = time.Second
)

// Media is the local capture side of the media engine.
type Media interface {
	StartLocalMedia(ctx context.Context, kind media.Kind) (media.LocalMedia, error)
	StopLocalMedia()
	LocalMedia() media.LocalMedia
	ToggleMute() bool
	SetMuted(muted bool) bool
	ToggleVideo() bool
	SwitchCamera(ctx context.Context) (media.LocalMedia, error)
}

// Feedback reacts to ringing and ending.
type Feedback interface {
	Handle(ev feedback.Event)
	StopAll()
}

// Options wires an Orchestrator.
type Options struct {
	Self        identity.ID
	Media       Media
	Connections mesh.ConnFactory
	Signaling   *signaling.Channel
	Bridge      *callui.Bridge
	Feedback    Feedback
	Directory   identity.Directory
	RingTimeout time.Duration
	// DurationTick is how often a connected call republishes its duration.
	DurationTick time.Duration
	Logger       *slog.Logger
}

// Orchestrator runs calls. All mutations happen on its loop; public methods
// post onto it and wait.
type Orchestrator struct {
	self        identity.ID
	media       Media
	conns       mesh.ConnFactory
	signal      *signaling.Channel
	bridge      *callui.Bridge
	feedback    Feedback
	directory   identity.Directory
	ringTimeout time.Duration
	tick        time.Duration
	logger      *slog.Logger

	loop   *loop
	notify *loop

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	startOnce   sync.Once
	closeOnce   sync.Once
	running     atomic.Bool

	// sess is owned by loop.
	sess *session

	obsMu     sync.Mutex
	current   Session
	observers map[int]chan Session
	nextObs   int

	hMu         sync.Mutex
	onIncoming  map[int]func(IncomingCall)
	onEnded     map[int]func(Ended)
	nextHandler int
}

// New builds an orchestrator. Start must be called before use.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bridge := opts.Bridge
	if bridge == nil {
		bridge = callui.New(nil, logger)
	}
	ring := opts.RingTimeout
	if ring <= 0 {
		ring = DefaultRingTimeout
	}
	tick := opts.DurationTick
	if tick <= 0 {
		tick = DefaultDurationTick
	}
	fb := opts.Feedback
	if fb == nil {
		fb = nopFeedback{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		self:        opts.Self,
		media:       opts.Media,
		conns:       opts.Connections,
		signal:      opts.Signaling,
		bridge:      bridge,
		feedback:    fb,
		directory:   opts.Directory,
		ringTimeout: ring,
		tick:        tick,
		logger:      logger,
		loop:        newLoop(),
		notify:      newLoop(),
		ctx:         ctx,
		cancel:      cancel,
		current:     Session{State: StateIdle},
		observers:   make(map[int]chan Session),
		onIncoming:  make(map[int]func(IncomingCall)),
		onEnded:     make(map[int]func(Ended)),
	}
}

type nopFeedback struct{}

func (nopFeedback) Handle(feedback.Event) {}
func (nopFeedback) StopAll()              {}

// Start runs the loops, listens for signaling and sets up the platform call
// UI. A call UI setup failure is logged and ignored.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startOnce.Do(func() {
		o.running.Store(true)
		go o.loop.run()
		go o.notify.run()

		o.unsubscribe = o.signal.Listen(func(from identity.ID, msg *signaling.Message) {
			o.loop.post(func() { o.handleSignal(from, msg) })
		})

		o.bridge.SetHandlers(callui.Handlers{
			OnAnswer: func(id string) {
				o.loop.post(func() {
					if err := o.answer(o.ctx, id); err != nil {
						o.logger.Warn("answer from call UI failed", "callId", id, "error", err)
					}
				})
			},
			OnEnd: func(id string) {
				o.loop.post(func() { o.platformEnd(id) })
			},
			OnMute: func(id string, muted bool) {
				o.loop.post(func() { o.platformMute(id, muted) })
			},
			OnDTMF: func(id, digits string) {
				o.logger.Info("dtmf from call UI", "callId", id, "digits", digits)
			},
			OnAudioSessionActivated: func() {
				o.logger.Debug("audio session activated")
			},
		})
		_ = o.bridge.Setup(ctx)
	})
	return nil
}

// Close hangs up any call and stops the loops.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if o.running.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = o.loop.do(ctx, func() {
				o.end(ReasonHangup, signaling.ActionHangup)
			})
			cancel()
			o.unsubscribe()
		}
		o.bridge.EndAll(string(ReasonHangup))
		o.loop.stop()
		o.notify.stop()
		o.cancel()
	})
}

// Self returns this device's identity.
func (o *Orchestrator) Self() identity.ID {
	return o.self
}

// run posts fn onto the loop and waits for it.
func (o *Orchestrator) run(ctx context.Context, op string, fn func() error) error {
	var err error
	lerr := o.loop.do(ctx, func() {
		if err = ctx.Err(); err != nil {
			return
		}
		err = fn()
	})
	if lerr != nil {
		return NewError(op, lerr)
	}
	return err
}

// InitiateCall places a call to target and returns its id.
func (o *Orchestrator) InitiateCall(ctx context.Context, target identity.ID, kind media.Kind) (string, error) {
	var id string
	err := o.run(ctx, "initiate call", func() error {
		var err error
		id, err = o.initiate(ctx, target, kind)
		return err
	})
	return id, err
}

func (o *Orchestrator) initiate(ctx context.Context, target identity.ID, kind media.Kind) (string, error) {
	const op = "initiate call"
	if o.sess != nil {
		return "", NewError(op, ErrCallInProgress)
	}
	if !target.Valid() || target == o.self {
		return "", WrapError(op, ErrInvalidTarget, target.String())
	}
	if !kind.Valid() {
		return "", WrapError(op, media.ErrUnsupportedKind, string(kind))
	}

	s := o.newSession(uuid.NewString(), kind, DirectionOutgoing)
	o.sess = s
	o.publish()

	local, err := o.media.StartLocalMedia(ctx, kind)
	if err != nil {
		o.end(ReasonFailed, "")
		return "", NewCallError(op, s.id, err)
	}
	s.local = local

	name := identity.DisplayName(ctx, o.directory, target)
	if _, err := s.mesh.AddParticipant(target, name); err != nil {
		o.end(ReasonFailed, "")
		return "", NewCallError(op, s.id, err)
	}
	s.remember(target)

	offer, err := s.mesh.CreateOffer(ctx, target)
	if err != nil {
		o.end(ReasonFailed, "")
		return "", NewCallError(op, s.id, err)
	}
	if err := o.signal.SendOffer(ctx, target, s.id, kind, offer.SDP, []identity.ID{target}); err != nil {
		o.end(ReasonFailed, "")
		return "", NewCallError(op, s.id, err)
	}

	o.startRingTimer(s)
	o.bridge.ReportOutgoing(ctx, s.id, target.String(), kind == media.KindVideo)
	o.logger.Info("calling", "callId", s.id, "to", target, "kind", kind)
	o.publish()
	return s.id, nil
}

// AnswerCall answers the ringing incoming call id.
func (o *Orchestrator) AnswerCall(ctx context.Context, id string) error {
	return o.run(ctx, "answer call", func() error {
		return o.answer(ctx, id)
	})
}

// answer follows a strict order: start media, attach tracks to the existing
// connection, apply the stored offer, then answer. Attaching after applying
// the offer would leave media out of the answer. A retry after a failed
// attempt reuses whatever that attempt already set up, so the call never
// holds a second capture or a second set of senders.
func (o *Orchestrator) answer(ctx context.Context, id string) error {
	const op = "answer call"
	s, err := o.ringingIncoming(op, id)
	if err != nil {
		return err
	}

	if !s.local.Active {
		local, err := o.media.StartLocalMedia(ctx, s.kind)
		if err != nil {
			return NewCallError(op, id, err)
		}
		s.local = local
	}

	if err := s.mesh.AddLocalTracksToAllConnections(); err != nil {
		return NewCallError(op, id, err)
	}
	if s.localAnswer == nil {
		if !s.mesh.HasRemoteDescription(s.caller) {
			if err := s.mesh.SetRemoteDescription(s.caller, *s.pendingOffer); err != nil {
				return NewCallError(op, id, err)
			}
		}
		answer, err := s.mesh.CreateAnswer(ctx, s.caller)
		if err != nil {
			return NewCallError(op, id, err)
		}
		s.localAnswer = &answer
	}
	if err := o.signal.SendAnswer(ctx, s.caller, id, s.localAnswer.SDP); err != nil {
		return NewCallError(op, id, err)
	}

	s.pendingOffer = nil
	s.localAnswer = nil
	s.state = StateConnecting
	o.stopRingTimer(s)
	o.feedback.Handle(feedback.IncomingEnded)
	o.bridge.ReportAnswered(id)
	o.logger.Info("answered", "callId", id, "from", s.caller)

	o.joinRoster(ctx, s)
	o.publish()
	return nil
}

// joinRoster connects to everyone else in a call we were invited into, and
// accepts members who offered before we answered.
func (o *Orchestrator) joinRoster(ctx context.Context, s *session) {
	for peer, desc := range s.joins {
		o.acceptJoin(ctx, s, peer, desc)
	}
	s.joins = nil

	for _, peer := range s.roster {
		if peer == o.self || peer == s.caller || s.mesh.Has(peer) {
			continue
		}
		if err := o.offerTo(ctx, s, peer); err != nil {
			o.logger.Warn("failed to connect to call member", "callId", s.id, "peer", peer, "error", err)
		}
	}
}

func (o *Orchestrator) offerTo(ctx context.Context, s *session, peer identity.ID) error {
	if _, err := s.mesh.AddParticipant(peer, identity.DisplayName(ctx, o.directory, peer)); err != nil {
		return err
	}
	s.remember(peer)

	offer, err := s.mesh.CreateOffer(ctx, peer)
	if err == nil {
		err = o.signal.SendOffer(ctx, peer, s.id, s.kind, offer.SDP, append(s.mesh.IDs(), o.self))
	}
	if err != nil {
		_, _ = s.mesh.RemoveParticipant(peer)
		return err
	}
	return nil
}

// DeclineCall rejects the ringing incoming call id.
func (o *Orchestrator) DeclineCall(ctx context.Context, id string) error {
	return o.run(ctx, "decline call", func() error {
		if _, err := o.ringingIncoming("decline call", id); err != nil {
			return err
		}
		o.end(ReasonDeclined, signaling.ActionDecline)
		return nil
	})
}

// EndCall hangs up call id. Ending an unknown or already ended call does
// nothing.
func (o *Orchestrator) EndCall(ctx context.Context, id string) error {
	return o.run(ctx, "end call", func() error {
		if o.sess == nil || o.sess.id != id {
			return nil
		}
		o.end(ReasonHangup, signaling.ActionHangup)
		return nil
	})
}

// AddParticipant invites peer into the current call.
func (o *Orchestrator) AddParticipant(ctx context.Context, peer identity.ID) error {
	const op = "add participant"
	return o.run(ctx, op, func() error {
		s, err := o.established(op)
		if err != nil {
			return err
		}
		if !peer.Valid() || peer == o.self {
			return WrapError(op, ErrInvalidTarget, peer.String())
		}
		if s.mesh.Count()+1 >= mesh.MaxParticipants {
			return NewCallError(op, s.id, mesh.ErrMeshFull)
		}

		existing := s.mesh.IDs()
		if _, err := s.mesh.AddParticipant(peer, identity.DisplayName(ctx, o.directory, peer)); err != nil {
			return NewCallError(op, s.id, err)
		}
		offer, err := s.mesh.CreateOffer(ctx, peer)
		if err == nil {
			err = o.signal.SendInvite(ctx, peer, s.id, s.kind, offer.SDP, append(existing, o.self))
		}
		if err != nil {
			_, _ = s.mesh.RemoveParticipant(peer)
			return NewCallError(op, s.id, err)
		}
		s.remember(peer)
		o.logger.Info("invited", "callId", s.id, "peer", peer)
		o.showRoster(s)
		o.publish()
		return nil
	})
}

// RemoveParticipant drops peer from the current call. Removing the last
// participant ends the call.
func (o *Orchestrator) RemoveParticipant(ctx context.Context, peer identity.ID) error {
	const op = "remove participant"
	return o.run(ctx, op, func() error {
		s := o.sess
		if s == nil {
			return NewError(op, ErrNoSuchCall)
		}
		if !s.mesh.Has(peer) {
			return NewCallError(op, s.id, mesh.ErrUnknownParticipant)
		}
		if err := o.signal.SendControl(ctx, peer, s.id, signaling.ActionHangup, string(ReasonHangup)); err != nil {
			o.logger.Warn("failed to notify removed participant", "peer", peer, "error", err)
		}
		o.dropParticipant(s, peer, ReasonHangup)
		return nil
	})
}

// ToggleMute flips the microphone and returns the new muted state.
func (o *Orchestrator) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := o.run(ctx, "toggle mute", func() error {
		s, err := o.active("toggle mute")
		if err != nil {
			return err
		}
		muted = o.media.ToggleMute()
		s.local = o.media.LocalMedia()
		o.bridge.SetMuted(s.id, muted)
		o.announceMute(s)
		o.publish()
		return nil
	})
	return muted, err
}

// ToggleVideo flips the camera track and returns whether video is on.
func (o *Orchestrator) ToggleVideo(ctx context.Context) (bool, error) {
	var enabled bool
	err := o.run(ctx, "toggle video", func() error {
		s, err := o.active("toggle video")
		if err != nil {
			return err
		}
		enabled = o.media.ToggleVideo()
		s.local = o.media.LocalMedia()
		o.announceVideo(s)
		o.publish()
		return nil
	})
	return enabled, err
}

// ToggleSpeaker flips the speaker route flag.
func (o *Orchestrator) ToggleSpeaker(ctx context.Context) (bool, error) {
	var on bool
	err := o.run(ctx, "toggle speaker", func() error {
		s, err := o.active("toggle speaker")
		if err != nil {
			return err
		}
		s.speaker = !s.speaker
		on = s.speaker
		o.publish()
		return nil
	})
	return on, err
}

// SwitchCamera swaps between the front and back camera.
func (o *Orchestrator) SwitchCamera(ctx context.Context) error {
	return o.run(ctx, "switch camera", func() error {
		s, err := o.active("switch camera")
		if err != nil {
			return err
		}
		_, err = o.media.SwitchCamera(ctx)
		s.local = o.media.LocalMedia()
		o.publish()
		if err != nil {
			return NewCallError("switch camera", s.id, err)
		}
		return nil
	})
}

// SetHold puts the call on or off hold. Holding mutes outgoing audio and
// restores the previous mute state when released.
func (o *Orchestrator) SetHold(ctx context.Context, hold bool) error {
	return o.run(ctx, "set hold", func() error {
		s, err := o.established("set hold")
		if err != nil {
			return err
		}
		if s.onHold == hold {
			return nil
		}
		if hold {
			s.heldMuted = o.media.LocalMedia().Muted
			o.media.SetMuted(true)
		} else {
			o.media.SetMuted(s.heldMuted)
		}
		s.onHold = hold
		s.local = o.media.LocalMedia()
		o.bridge.SetOnHold(s.id, hold)
		o.announceMute(s)
		o.publish()
		return nil
	})
}

// Current returns the latest session snapshot.
func (o *Orchestrator) Current() Session {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	return o.current
}

// ObserveSession returns a channel carrying the current snapshot followed by
// every later one. A slow reader only misses intermediate snapshots, never
// the latest.
func (o *Orchestrator) ObserveSession() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	o.obsMu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = ch
	ch <- o.current
	o.obsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.obsMu.Lock()
			delete(o.observers, id)
			o.obsMu.Unlock()
		})
	}
}

// OnIncomingCall registers fn for every new incoming call.
func (o *Orchestrator) OnIncomingCall(fn func(IncomingCall)) func() {
	o.hMu.Lock()
	id := o.nextHandler
	o.nextHandler++
	o.onIncoming[id] = fn
	o.hMu.Unlock()

	return func() {
		o.hMu.Lock()
		delete(o.onIncoming, id)
		o.hMu.Unlock()
	}
}

// OnCallEnded registers fn for every call that ends.
func (o *Orchestrator) OnCallEnded(fn func(Ended)) func() {
	o.hMu.Lock()
	id := o.nextHandler
	o.nextHandler++
	o.onEnded[id] = fn
	o.hMu.Unlock()

	return func() {
		o.hMu.Lock()
		delete(o.onEnded, id)
		o.hMu.Unlock()
	}
}

func (o *Orchestrator) newSession(id string, kind media.Kind, dir Direction) *session {
	s := &session{
		id:        id,
		kind:      kind,
		direction: dir,
		state:     StateRinging,
	}
	s.mesh = mesh.NewManager(o.conns, o.meshEvents(s), o.logger.With("callId", id))
	return s
}

// meshEvents posts every connection event onto the loop, bound to s so that
// late events from a finished call are ignored.
func (o *Orchestrator) meshEvents(s *session) mesh.Events {
	return mesh.Events{
		OnICECandidate: func(peer identity.ID, c webrtc.ICECandidateInit) {
			o.loop.post(func() {
				if o.sess != s {
					return
				}
				if err := o.signal.SendCandidate(o.ctx, peer, s.id, c); err != nil {
					o.logger.Warn("failed to send candidate", "peer", peer, "error", err)
				}
			})
		},
		OnStateChange: func(peer identity.ID, state media.ConnState) {
			o.loop.post(func() { o.connectionState(s, peer, state) })
		},
		OnRemoteTrack: func(peer identity.ID, stream mesh.RemoteStream) {
			o.loop.post(func() {
				if o.sess == s {
					o.publish()
				}
			})
		},
		OnNegotiationNeeded: func(peer identity.ID) {
			o.loop.post(func() { o.renegotiate(s, peer) })
		},
	}
}

func (o *Orchestrator) ringingIncoming(op, id string) (*session, error) {
	s := o.sess
	if s == nil || s.id != id {
		return nil, NewCallError(op, id, ErrNoSuchCall)
	}
	if s.state != StateRinging || s.direction != DirectionIncoming {
		return nil, WrapError(op, ErrInvalidState, string(s.state))
	}
	return s, nil
}

func (o *Orchestrator) active(op string) (*session, error) {
	if o.sess == nil {
		return nil, NewError(op, ErrNoSuchCall)
	}
	return o.sess, nil
}

// established returns the session once it is past ringing.
func (o *Orchestrator) established(op string) (*session, error) {
	s, err := o.active(op)
	if err != nil {
		return nil, err
	}
	switch s.state {
	case StateConnecting, StateConnected, StateReconnecting:
		return s, nil
	}
	return nil, WrapError(op, ErrInvalidState, string(s.state))
}

func (o *Orchestrator) handleSignal(from identity.ID, msg *signaling.Message) {
	if from == o.self {
		return
	}
	switch msg.Type {
	case signaling.TypeOffer, signaling.TypeInvite:
		o.handleOffer(from, msg)
	case signaling.TypeAnswer:
		o.handleAnswer(from, msg)
	case signaling.TypeICECandidate:
		o.handleCandidate(from, msg)
	case signaling.TypeControl:
		o.handleControl(from, msg)
	}
}

func (o *Orchestrator) handleOffer(from identity.ID, msg *signaling.Message) {
	ctx := o.ctx
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}

	if s := o.sess; s != nil {
		switch {
		case msg.CallID != s.id:
			o.logger.Info("busy, rejecting call", "from", from, "callId", msg.CallID)
			o.sendControl(from, msg.CallID, signaling.ActionBusy, string(ReasonBusy))
		case s.mesh.Has(from):
			o.renegotiated(s, from, desc)
		case msg.Type == signaling.TypeOffer && s.state == StateRinging && s.direction == DirectionIncoming:
			if s.joins == nil {
				s.joins = make(map[identity.ID]webrtc.SessionDescription)
			}
			s.joins[from] = desc
		case msg.Type == signaling.TypeOffer && s.state != StateRinging:
			o.acceptJoin(ctx, s, from, desc)
		default:
			o.sendControl(from, msg.CallID, signaling.ActionBusy, string(ReasonBusy))
		}
		return
	}

	s := o.newSession(msg.CallID, msg.Kind, DirectionIncoming)
	s.caller = from
	s.pendingOffer = &desc
	if msg.Type == signaling.TypeInvite {
		s.roster = msg.ExistingParticipants
	}

	name := identity.DisplayName(ctx, o.directory, from)
	if _, err := s.mesh.AddParticipant(from, name); err != nil {
		o.logger.Error("cannot take incoming call", "from", from, "error", err)
		o.sendControl(from, msg.CallID, signaling.ActionDecline, string(ReasonFailed))
		return
	}
	s.remember(from)
	o.sess = s

	o.sendControl(from, s.id, signaling.ActionRinging, "")
	o.bridge.DisplayIncoming(ctx, s.id, from.String(), name, s.kind == media.KindVideo)
	o.feedback.Handle(feedback.IncomingRinging)
	o.startRingTimer(s)
	o.logger.Info("incoming call", "callId", s.id, "from", from, "kind", s.kind, "invite", msg.Type == signaling.TypeInvite)
	o.publish()

	call := IncomingCall{
		CallID:       s.id,
		From:         from,
		DisplayName:  name,
		Kind:         s.kind,
		Participants: append([]identity.ID(nil), s.roster...),
	}
	o.notify.post(func() {
		for _, fn := range o.incomingHandlers() {
			fn(call)
		}
	})
}

// acceptJoin answers an offer from a member of the current call we are not
// yet connected to.
func (o *Orchestrator) acceptJoin(ctx context.Context, s *session, from identity.ID, desc webrtc.SessionDescription) {
	if s.mesh.Count()+1 >= mesh.MaxParticipants {
		o.logger.Info("call full, rejecting join", "from", from)
		o.sendControl(from, s.id, signaling.ActionBusy, string(ReasonBusy))
		return
	}
	if _, err := s.mesh.AddParticipant(from, identity.DisplayName(ctx, o.directory, from)); err != nil {
		o.logger.Warn("cannot add joining member", "from", from, "error", err)
		return
	}
	s.remember(from)

	if err := o.answerPeer(ctx, s, from, desc); err != nil {
		o.logger.Warn("failed to answer joining member", "from", from, "error", err)
		_, _ = s.mesh.RemoveParticipant(from)
		return
	}
	o.logger.Info("member joined", "callId", s.id, "peer", from)
	o.showRoster(s)
	o.publish()
}

func (o *Orchestrator) answerPeer(ctx context.Context, s *session, peer identity.ID, desc webrtc.SessionDescription) error {
	if err := s.mesh.SetRemoteDescription(peer, desc); err != nil {
		return err
	}
	answer, err := s.mesh.CreateAnswer(ctx, peer)
	if err != nil {
		return err
	}
	return o.signal.SendAnswer(ctx, peer, s.id, answer.SDP)
}

// renegotiated answers a new offer from a connected participant.
func (o *Orchestrator) renegotiated(s *session, from identity.ID, desc webrtc.SessionDescription) {
	if s.state == StateRinging {
		o.logger.Debug("ignoring repeated offer while ringing", "from", from)
		return
	}
	if err := o.answerPeer(o.ctx, s, from, desc); err != nil {
		o.logger.Warn("renegotiation failed", "peer", from, "error", err)
	}
}

func (o *Orchestrator) renegotiate(s *session, peer identity.ID) {
	if o.sess != s || s.state != StateConnected || !s.mesh.HasRemoteDescription(peer) || s.mesh.Negotiating(peer) {
		return
	}
	offer, err := s.mesh.CreateOffer(o.ctx, peer)
	if err != nil {
		o.logger.Warn("renegotiation offer failed", "peer", peer, "error", err)
		return
	}
	if err := o.signal.SendOffer(o.ctx, peer, s.id, s.kind, offer.SDP, nil); err != nil {
		o.logger.Warn("failed to send renegotiation offer", "peer", peer, "error", err)
	}
}

func (o *Orchestrator) handleAnswer(from identity.ID, msg *signaling.Message) {
	s := o.sess
	if s == nil || s.id != msg.CallID || !s.mesh.Has(from) {
		o.logger.Debug("dropping stray answer", "from", from, "callId", msg.CallID)
		return
	}

	if err := s.mesh.SetRemoteDescription(from, msg.SessionDescription()); err != nil {
		o.logger.Warn("failed to apply answer", "peer", from, "error", err)
		o.connectionLost(s, from)
		return
	}

	if s.state == StateRinging && s.direction == DirectionOutgoing {
		s.state = StateConnecting
		o.stopRingTimer(s)
		o.bridge.ReportAnswered(s.id)
		o.logger.Info("call answered", "callId", s.id, "by", from)
		o.publish()
	}
}

func (o *Orchestrator) handleCandidate(from identity.ID, msg *signaling.Message) {
	s := o.sess
	if s == nil || s.id != msg.CallID || !s.mesh.Has(from) {
		o.logger.Debug("dropping stray candidate", "from", from, "callId", msg.CallID)
		return
	}
	if err := s.mesh.AddICECandidate(from, *msg.Candidate); err != nil {
		o.logger.Warn("failed to add candidate", "peer", from, "error", err)
	}
}

func (o *Orchestrator) handleControl(from identity.ID, msg *signaling.Message) {
	s := o.sess
	if s == nil || s.id != msg.CallID {
		return
	}

	switch msg.Action {
	case signaling.ActionRinging:
		if s.direction == DirectionOutgoing && s.state == StateRinging {
			o.feedback.Handle(feedback.OutgoingRinging)
		}
	case signaling.ActionHangup:
		if s.mesh.Has(from) {
			o.dropParticipant(s, from, ReasonHangup)
		}
	case signaling.ActionDecline:
		if s.mesh.Has(from) {
			o.dropParticipant(s, from, ReasonDeclined)
		}
	case signaling.ActionBusy:
		if s.mesh.Has(from) {
			o.dropParticipant(s, from, ReasonBusy)
		}
	case signaling.ActionMute, signaling.ActionUnmute, signaling.ActionVideoOn, signaling.ActionVideoOff:
		o.remoteMedia(s, from, msg.Action)
	}
}

// dropParticipant removes peer and ends the call when nobody is left.
func (o *Orchestrator) dropParticipant(s *session, peer identity.ID, reason EndReason) {
	remaining, err := s.mesh.RemoveParticipant(peer)
	if err != nil {
		return
	}
	o.logger.Info("participant left", "callId", s.id, "peer", peer, "reason", reason)
	if remaining == 0 {
		o.end(reason, signaling.ActionHangup)
		return
	}
	o.showRoster(s)
	o.publish()
}

// showRoster renames the platform call after everyone in it.
func (o *Orchestrator) showRoster(s *session) {
	parts := s.mesh.Participants()
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, p.DisplayName)
	}
	o.bridge.UpdateDisplayName(s.id, strings.Join(names, ", "))
}

func (o *Orchestrator) connectionState(s *session, peer identity.ID, state media.ConnState) {
	if o.sess != s {
		return
	}
	o.logger.Debug("connection state", "callId", s.id, "peer", peer, "state", state)

	switch state {
	case media.ConnConnected:
		o.shareMediaState(s, peer)
		switch s.state {
		case StateConnecting, StateReconnecting:
			s.state = StateConnected
			if s.startedAt.IsZero() {
				s.startedAt = time.Now()
				o.startDurationTicker(s)
				o.bridge.ReportConnected(s.id)
			}
			o.stopRingTimer(s)
			if s.direction == DirectionOutgoing {
				o.feedback.Handle(feedback.OutgoingEnded)
			}
			o.logger.Info("call connected", "callId", s.id)
		}
		o.publish()

	case media.ConnDisconnected:
		if s.state == StateConnected && !s.mesh.AnyConnected() {
			s.state = StateReconnecting
			o.logger.Info("call reconnecting", "callId", s.id)
		}
		o.publish()

	case media.ConnFailed:
		o.connectionLost(s, peer)
	}
}

// connectionLost ends the call unless another participant is still
// connected, in which case only the failed link is dropped.
func (o *Orchestrator) connectionLost(s *session, peer identity.ID) {
	if !s.mesh.AnyConnected() {
		o.logger.Warn("connection failed", "callId", s.id, "peer", peer)
		o.end(ReasonFailed, signaling.ActionHangup)
		return
	}
	o.logger.Info("dropping failed link, call continues", "callId", s.id, "peer", peer)
	o.dropParticipant(s, peer, ReasonFailed)
}

func (o *Orchestrator) platformEnd(id string) {
	s := o.sess
	if s == nil || s.id != id {
		return
	}
	if s.state == StateRinging && s.direction == DirectionIncoming {
		o.end(ReasonDeclined, signaling.ActionDecline)
		return
	}
	o.end(ReasonHangup, signaling.ActionHangup)
}

func (o *Orchestrator) platformMute(id string, muted bool) {
	s := o.sess
	if s == nil || s.id != id {
		return
	}
	o.media.SetMuted(muted)
	s.local = o.media.LocalMedia()
	o.announceMute(s)
	o.publish()
}

// announceMute tells every peer whether our microphone is muted.
func (o *Orchestrator) announceMute(s *session) {
	action := signaling.ActionUnmute
	if s.local.Muted {
		action = signaling.ActionMute
	}
	for _, peer := range s.mesh.IDs() {
		o.sendControl(peer, s.id, action, "")
	}
}

// announceVideo tells every peer whether we are sending video.
func (o *Orchestrator) announceVideo(s *session) {
	action := signaling.ActionVideoOff
	if s.local.VideoEnabled {
		action = signaling.ActionVideoOn
	}
	for _, peer := range s.mesh.IDs() {
		o.sendControl(peer, s.id, action, "")
	}
}

// shareMediaState brings a newly connected peer up to date when our media
// differs from what it assumes: unmuted, with video on for video calls.
func (o *Orchestrator) shareMediaState(s *session, peer identity.ID) {
	if s.local.Muted {
		o.sendControl(peer, s.id, signaling.ActionMute, "")
	}
	if s.kind == media.KindVideo && !s.local.VideoEnabled {
		o.sendControl(peer, s.id, signaling.ActionVideoOff, "")
	}
}

// remoteMedia records a peer's announced media change.
func (o *Orchestrator) remoteMedia(s *session, peer identity.ID, action signaling.Action) {
	var err error
	switch action {
	case signaling.ActionMute, signaling.ActionUnmute:
		err = s.mesh.SetRemoteMuted(peer, action == signaling.ActionMute)
	case signaling.ActionVideoOn, signaling.ActionVideoOff:
		err = s.mesh.SetRemoteVideo(peer, action == signaling.ActionVideoOn)
	}
	if err != nil {
		o.logger.Debug("media change from unknown peer", "peer", peer, "action", action)
		return
	}
	o.publish()
}

func (o *Orchestrator) sendControl(to identity.ID, callID string, action signaling.Action, reason string) {
	if err := o.signal.SendControl(o.ctx, to, callID, action, reason); err != nil {
		o.logger.Warn("failed to send control", "to", to, "action", action, "error", err)
	}
}

func (o *Orchestrator) startRingTimer(s *session) {
	s.ringTimer = time.AfterFunc(o.ringTimeout, func() {
		o.loop.post(func() {
			if o.sess == s && s.state == StateRinging {
				o.logger.Info("ring timeout", "callId", s.id)
				o.end(ReasonTimeout, signaling.ActionHangup)
			}
		})
	})
}

func (o *Orchestrator) stopRingTimer(s *session) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (o *Orchestrator) startDurationTicker(s *session) {
	stop := make(chan struct{})
	s.stopTick = stop
	ticker := time.NewTicker(o.tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.loop.post(func() {
					if o.sess == s {
						o.publish()
					}
				})
			}
		}
	}()
}

func (o *Orchestrator) stopDurationTicker(s *session) {
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

// end is the single terminal path. Each cleanup step runs regardless of the
// others failing.
func (o *Orchestrator) end(reason EndReason, notify signaling.Action) {
	s := o.sess
	if s == nil {
		return
	}
	now := time.Now()

	o.stopRingTimer(s)
	o.stopDurationTicker(s)

	if notify != "" {
		for _, peer := range s.mesh.IDs() {
			o.sendControl(peer, s.id, notify, string(reason))
		}
	}
	s.mesh.Close()
	o.media.StopLocalMedia()
	o.bridge.EndCall(s.id, string(reason))
	o.feedback.StopAll()

	ended := Ended{
		CallID:    s.id,
		Reason:    reason,
		Kind:      s.kind,
		Direction: s.direction,
		Peers:     append([]identity.ID(nil), s.peers...),
		StartedAt: s.startedAt,
		EndedAt:   now,
	}
	if !s.startedAt.IsZero() {
		ended.Duration = now.Sub(s.startedAt)
	}

	snap := s.snapshot(now)
	snap.State = StateEnded
	snap.EndReason = reason
	snap.Local = media.LocalMedia{}
	snap.Participants = nil
	snap.RemoteStreams = nil
	snap.Duration = ended.Duration.Truncate(time.Second)

	o.sess = nil
	o.logger.Info("call ended", "callId", s.id, "reason", reason)
	o.broadcast(snap)

	o.notify.post(func() {
		for _, fn := range o.endedHandlers() {
			fn(ended)
		}
	})
}

// publish pushes the current state to every observer.
func (o *Orchestrator) publish() {
	if o.sess == nil {
		return
	}
	o.broadcast(o.sess.snapshot(time.Now()))
}

func (o *Orchestrator) broadcast(snap Session) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.current = snap
	for _, ch := range o.observers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (o *Orchestrator) incomingHandlers() []func(IncomingCall) {
	o.hMu.Lock()
	defer o.hMu.Unlock()
	out := make([]func(IncomingCall), 0, len(o.onIncoming))
	for _, fn := range o.onIncoming {
		out = append(out, fn)
	}
	return out
}

func (o *Orchestrator) endedHandlers() []func(Ended) {
	o.hMu.Lock()
	defer o.hMu.Unlock()
	out := make([]func(Ended), 0, len(o.onEnded))
	for _, fn := range o.onEnded {
		out = append(out, fn)
	}
	return out
}
