package media

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Capturer acquires local tracks. RegisterCodecs is called once when the
// engine builds its pion API so the negotiated codecs match what the
// capturer produces.
type Capturer interface {
	RegisterCodecs(m *webrtc.MediaEngine) error
	Capture(ctx context.Context, c Constraints) ([]*Track, error)
}

// StaticCapturer produces silent static-sample tracks. It never touches a
// device, which makes it the capturer for headless runs and tests.
type StaticCapturer struct {
	// Cameras lists the facings that can be opened. Nil means both.
	Cameras []Facing

	mu       sync.Mutex
	requests []Constraints
	seq      atomic.Int64
}

func (s *StaticCapturer) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (s *StaticCapturer) Capture(ctx context.Context, c Constraints) ([]*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.requests = append(s.requests, c)
	cameras := s.Cameras
	s.mu.Unlock()

	if c.Video && cameras != nil && !slices.Contains(cameras, c.Facing) {
		return nil, fmt.Errorf("%w: %s", ErrNoCamera, c.Facing)
	}

	var tracks []*Track
	if c.Audio {
		t, err := s.newTrack(webrtc.MimeTypeOpus, "audio")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := s.newTrack(webrtc.MimeTypeVP8, "video")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Requests returns every constraint set Capture was called with.
func (s *StaticCapturer) Requests() []Constraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

func (s *StaticCapturer) newTrack(mime, prefix string) (*Track, error) {
	id := fmt.Sprintf("%s-%d", prefix, s.seq.Add(1))
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "warpcall")
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", prefix, err)
	}
	return NewTrack(local, nil), nil
}
