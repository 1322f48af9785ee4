package call

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/mesh"
)

// State of the call session.
type State string

const (
	StateIdle         State = "idle"
	StateRinging      State = "ringing"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateEnded        State = "ended"
)

// Direction of the call from this device's point of view.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// EndReason says why a call ended.
type EndReason string

const (
	ReasonHangup   EndReason = "hangup"
	ReasonDeclined EndReason = "declined"
	ReasonTimeout  EndReason = "timeout"
	ReasonFailed   EndReason = "failed"
	ReasonBusy     EndReason = "busy"
)

// Session is a snapshot of the current call. Idle and ended snapshots
// carry no live resources.
type Session struct {
	ID            string              `json:"id,omitempty"`
	Kind          media.Kind          `json:"kind,omitempty"`
	Direction     Direction           `json:"direction,omitempty"`
	State         State               `json:"state"`
	Participants  []mesh.Participant  `json:"participants,omitempty"`
	RemoteStreams []mesh.RemoteStream `json:"-"`
	Local         media.LocalMedia    `json:"local"`
	StartedAt     time.Time           `json:"startedAt,omitempty"`
	Duration      time.Duration       `json:"duration"`
	Speaker       bool                `json:"speaker"`
	OnHold        bool                `json:"onHold"`
	EndReason     EndReason           `json:"endReason,omitempty"`
}

// Active reports whether the snapshot is of a live call.
func (s Session) Active() bool {
	return s.State != StateIdle && s.State != StateEnded && s.State != ""
}

// Ended describes a finished call. Every terminal path produces one.
type Ended struct {
	CallID    string
	Reason    EndReason
	Kind      media.Kind
	Direction Direction
	Peers     []identity.ID
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
}

// IncomingCall describes a ringing inbound call.
type IncomingCall struct {
	CallID      string
	From        identity.ID
	DisplayName string
	Kind        media.Kind
	// Participants already in the call when this is an invite to join one.
	Participants []identity.ID
}

// session is the live call. Only the orchestrator loop touches it.
type session struct {
	id        string
	kind      media.Kind
	direction Direction
	state     State
	mesh      *mesh.Manager

	local     media.LocalMedia
	startedAt time.Time
	speaker   bool
	onHold    bool
	heldMuted bool

	// caller and pendingOffer are set for incoming calls until answered.
	caller       identity.ID
	pendingOffer *webrtc.SessionDescription
	// localAnswer is applied but not yet delivered to the caller.
	localAnswer *webrtc.SessionDescription
	// roster is who the invite said was already in the call.
	roster []identity.ID
	// joins are offers from other members that arrived before answering.
	joins map[identity.ID]webrtc.SessionDescription
	// peers is everyone who ever joined, for the call record.
	peers []identity.ID

	ringTimer *time.Timer
	stopTick  chan struct{}
}

func (s *session) remember(id identity.ID) {
	for _, p := range s.peers {
		if p == id {
			return
		}
	}
	s.peers = append(s.peers, id)
}

func (s *session) snapshot(now time.Time) Session {
	out := Session{
		ID:            s.id,
		Kind:          s.kind,
		Direction:     s.direction,
		State:         s.state,
		Participants:  s.mesh.Participants(),
		RemoteStreams: s.mesh.RemoteStreams(),
		Local:         s.local,
		StartedAt:     s.startedAt,
		Speaker:       s.speaker,
		OnHold:        s.onHold,
	}
	if !s.startedAt.IsZero() {
		out.Duration = now.Sub(s.startedAt).Truncate(time.Second)
	}
	return out
}
