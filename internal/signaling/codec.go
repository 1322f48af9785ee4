package signaling

import (
	"encoding/base64"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// SDP and candidates are packed with msgpack and carried as base64 text so
// transports that rewrite structured or non-ASCII content pass them intact.

type sdpPayload struct {
	SDP string `msgpack:"sdp"`
}

type candidatePayload struct {
	Candidate        string  `msgpack:"candidate"`
	SDPMid           *string `msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `msgpack:"usernameFragment,omitempty"`
}

func encodeOpaque(v any) (string, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeOpaque(s string, v any) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

// EncodeSDP packs session description text.
func EncodeSDP(sdp string) (string, error) {
	return encodeOpaque(sdpPayload{SDP: sdp})
}

// DecodeSDP reverses EncodeSDP exactly.
func DecodeSDP(s string) (string, error) {
	var p sdpPayload
	if err := decodeOpaque(s, &p); err != nil {
		return "", err
	}
	return p.SDP, nil
}

// EncodeCandidate packs an ICE candidate.
func EncodeCandidate(c webrtc.ICECandidateInit) (string, error) {
	return encodeOpaque(candidatePayload{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// DecodeCandidate reverses EncodeCandidate exactly.
func DecodeCandidate(s string) (webrtc.ICECandidateInit, error) {
	var p candidatePayload
	if err := decodeOpaque(s, &p); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	return webrtc.ICECandidateInit{
		Candidate:        p.Candidate,
		SDPMid:           p.SDPMid,
		SDPMLineIndex:    p.SDPMLineIndex,
		UsernameFragment: p.UsernameFragment,
	}, nil
}
