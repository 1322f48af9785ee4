package media

import (
	"errors"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Kind is the media kind of a call.
type Kind string

const (
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindVoice || k == KindVideo }

// Facing selects which camera to open.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Opposite returns the other camera.
func (f Facing) Opposite() Facing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// ConnState is the logical state of one peer connection, derived from both
// the PeerConnectionState and the ICEConnectionState.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

var (
	ErrNegotiating         = errors.New("negotiation already in progress")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrNoLocalMedia        = errors.New("no local media")
	ErrCaptureUnsupported  = errors.New("media capture not supported on this platform")
	ErrNoCamera            = errors.New("no camera available")
	ErrUnsupportedKind     = errors.New("unsupported media kind")
	ErrRemoteDescriptionNA = errors.New("remote description not set")
)

// ICEServer is one STUN or TURN entry.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func toPionServers(servers []ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// HasTURN reports whether any configured server is a relay.
func HasTURN(servers []ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

// Constraints describes what to capture.
type Constraints struct {
	Audio  bool
	Video  bool
	Facing Facing

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// ConstraintsFor returns capture constraints for a call kind. Audio
// processing is always requested.
func ConstraintsFor(kind Kind, facing Facing) Constraints {
	return Constraints{
		Audio:            true,
		Video:            kind == KindVideo,
		Facing:           facing,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// LocalMedia is a snapshot of this device's capture state.
type LocalMedia struct {
	Active       bool   `json:"active"`
	Kind         Kind   `json:"kind,omitempty"`
	Muted        bool   `json:"muted"`
	VideoEnabled bool   `json:"videoEnabled"`
	FrontCamera  bool   `json:"frontCamera"`
	AudioTrackID string `json:"audioTrackId,omitempty"`
	VideoTrackID string `json:"videoTrackId,omitempty"`
}
