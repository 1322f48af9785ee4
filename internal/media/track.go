package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Track is one captured local track together with its enabled flag.
// A disabled track stays in the stream but is detached from every sender.
type Track struct {
	local  webrtc.TrackLocal
	closer func() error

	mu      sync.Mutex
	enabled bool
	stopped bool
}

// NewTrack wraps a pion local track. closer releases the capture device and
// may be nil.
func NewTrack(local webrtc.TrackLocal, closer func() error) *Track {
	return &Track{local: local, closer: closer, enabled: true}
}

func (t *Track) ID() string { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *Track) Local() webrtc.TrackLocal { return t.local }
func (t *Track) IsAudio() bool { return t.Kind() == webrtc.RTPCodecTypeAudio }
func (t *Track) IsVideo() bool { return t.Kind() == webrtc.RTPCodecTypeVideo }

// Enabled reports whether the track is currently sent.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) setEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

// Stop releases the capture device. Safe to call more than once.
func (t *Track) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer()
	}
	return nil
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
