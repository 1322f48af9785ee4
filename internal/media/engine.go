// Package media owns local capture and the pion peer connections built on
// top of it.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Config configures peer connection creation.
type Config struct {
	ICEServers []ICEServer
	ForceRelay bool

	// ICE timeouts. Zero values use the defaults below.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

const (
	defaultDisconnectedTimeout = 15 * time.Second
	defaultFailedTimeout       = 60 * time.Second
	defaultKeepAliveInterval   = 2 * time.Second
)

// Engine holds the single local stream and creates peer connections that
// carry it.
type Engine struct {
	api      *webrtc.API
	config   Config
	capturer Capturer
	logger   *slog.Logger

	mu           sync.Mutex
	tracks       []*Track
	kind         Kind
	muted        bool
	videoEnabled bool
	facing       Facing
	conns        map[*Conn]struct{}
}

// NewEngine builds the pion API with the capturer's codecs and the default
// interceptors.
func NewEngine(cfg Config, capturer Capturer, logger *slog.Logger) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := capturer.RegisterCodecs(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	disconnected := cmpDuration(cfg.DisconnectedTimeout, defaultDisconnectedTimeout)
	failed := cmpDuration(cfg.FailedTimeout, defaultFailedTimeout)
	keepAlive := cmpDuration(cfg.KeepAliveInterval, defaultKeepAliveInterval)

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(disconnected, failed, keepAlive)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	return &Engine{
		api:      api,
		config:   cfg,
		capturer: capturer,
		logger:   logger,
		facing:   FacingUser,
		conns:    make(map[*Conn]struct{}),
	}, nil
}

func cmpDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// StartLocalMedia acquires a new local stream for kind. Any previous stream
// is replaced but not stopped; callers stop it first when they mean to.
func (e *Engine) StartLocalMedia(ctx context.Context, kind Kind) (LocalMedia, error) {
	if !kind.Valid() {
		return LocalMedia{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	e.mu.Lock()
	facing := e.facing
	hadMedia := len(e.tracks) > 0
	e.mu.Unlock()

	tracks, err := e.capturer.Capture(ctx, ConstraintsFor(kind, facing))
	if err != nil {
		return LocalMedia{}, fmt.Errorf("start %s media: %w", kind, err)
	}
	if hadMedia {
		e.logger.Debug("replacing local stream without stopping it")
	}

	e.mu.Lock()
	e.tracks = tracks
	e.kind = kind
	e.muted = false
	e.videoEnabled = kind == KindVideo
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	e.logger.Info("local media started", "kind", kind, "tracks", len(tracks))
	return snapshot, nil
}

// StopLocalMedia stops and forgets every local track.
func (e *Engine) StopLocalMedia() {
	e.mu.Lock()
	tracks := e.tracks
	e.tracks = nil
	e.kind = ""
	e.muted = false
	e.videoEnabled = false
	e.mu.Unlock()

	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			e.logger.Warn("stop local track", "track", t.ID(), "error", err)
		}
	}
}

// LocalTracks returns the current local tracks.
func (e *Engine) LocalTracks() []*Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.tracks)
}

// LocalMedia returns a snapshot of the capture state.
func (e *Engine) LocalMedia() LocalMedia {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() LocalMedia {
	lm := LocalMedia{
		Active:       len(e.tracks) > 0,
		Kind:         e.kind,
		Muted:        e.muted,
		VideoEnabled: e.videoEnabled,
		FrontCamera:  e.facing == FacingUser,
	}
	for _, t := range e.tracks {
		switch {
		case t.IsAudio() && lm.AudioTrackID == "":
			lm.AudioTrackID = t.ID()
		case t.IsVideo() && lm.VideoTrackID == "":
			lm.VideoTrackID = t.ID()
		}
	}
	return lm
}

func (e *Engine) findLocked(kind webrtc.RTPCodecType) *Track {
	for _, t := range e.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// ToggleMute flips the audio track and returns the muted state. Without an
// audio track it changes nothing.
func (e *Engine) ToggleMute() bool {
	e.mu.Lock()
	muted := e.muted
	e.mu.Unlock()
	return e.SetMuted(!muted)
}

// SetMuted sets the audio track's enabled flag explicitly.
func (e *Engine) SetMuted(muted bool) bool {
	e.mu.Lock()
	track := e.findLocked(webrtc.RTPCodecTypeAudio)
	if track == nil {
		defer e.mu.Unlock()
		return e.muted
	}
	e.muted = muted
	conns := e.connsLocked()
	e.mu.Unlock()

	e.setEnabled(track, !muted, conns)
	return muted
}

// ToggleVideo flips the video track and returns whether video is enabled.
// Without a video track it changes nothing.
func (e *Engine) ToggleVideo() bool {
	e.mu.Lock()
	track := e.findLocked(webrtc.RTPCodecTypeVideo)
	if track == nil {
		defer e.mu.Unlock()
		return e.videoEnabled
	}
	e.videoEnabled = !e.videoEnabled
	enabled := e.videoEnabled
	conns := e.connsLocked()
	e.mu.Unlock()

	e.setEnabled(track, enabled, conns)
	return enabled
}

func (e *Engine) setEnabled(t *Track, enabled bool, conns []*Conn) {
	t.setEnabled(enabled)
	for _, c := range conns {
		if err := c.syncTrack(t); err != nil {
			e.logger.Warn("apply track state", "peer", c.Peer(), "track", t.ID(), "error", err)
		}
	}
}

// SwitchCamera swaps the video track for the opposite-facing camera in
// place. When the new camera cannot be opened the facing flag is reverted
// and the original camera is re-acquired once; if that fails as well the
// stream is left without video. The original error is returned either way.
func (e *Engine) SwitchCamera(ctx context.Context) (LocalMedia, error) {
	e.mu.Lock()
	old := e.findLocked(webrtc.RTPCodecTypeVideo)
	if old == nil {
		defer e.mu.Unlock()
		return e.snapshotLocked(), ErrNoLocalMedia
	}
	prev := e.facing
	e.facing = prev.Opposite()
	next := e.facing
	e.mu.Unlock()

	if err := old.Stop(); err != nil {
		e.logger.Warn("stop video track", "error", err)
	}

	replacement, err := e.captureVideo(ctx, next)
	if err == nil {
		e.replaceTrack(old, replacement)
		return e.LocalMedia(), nil
	}

	e.mu.Lock()
	e.facing = prev
	e.mu.Unlock()
	e.logger.Warn("switch camera failed, restoring previous camera", "facing", next, "error", err)

	restored, rerr := e.captureVideo(ctx, prev)
	if rerr != nil {
		e.logger.Error("restore camera failed", "facing", prev, "error", rerr)
		e.replaceTrack(old, nil)
	} else {
		e.replaceTrack(old, restored)
	}
	return e.LocalMedia(), fmt.Errorf("switch camera to %s: %w", next, err)
}

func (e *Engine) captureVideo(ctx context.Context, f Facing) (*Track, error) {
	tracks, err := e.capturer.Capture(ctx, Constraints{Video: true, Facing: f})
	if err != nil {
		return nil, err
	}
	var video *Track
	for _, t := range tracks {
		if t.IsVideo() && video == nil {
			video = t
			continue
		}
		_ = t.Stop()
	}
	if video == nil {
		return nil, ErrNoCamera
	}
	return video, nil
}

// replaceTrack swaps old for next in the stream and on every sender. A nil
// next removes the track.
func (e *Engine) replaceTrack(old, next *Track) {
	e.mu.Lock()
	idx := slices.Index(e.tracks, old)
	if next != nil {
		next.setEnabled(e.videoEnabled)
	}
	switch {
	case idx < 0 && next != nil:
		e.tracks = append(e.tracks, next)
	case idx >= 0 && next != nil:
		e.tracks[idx] = next
	case idx >= 0:
		e.tracks = slices.Delete(e.tracks, idx, idx+1)
	}
	conns := e.connsLocked()
	e.mu.Unlock()

	for _, c := range conns {
		if err := c.replaceTrack(old, next); err != nil {
			e.logger.Warn("replace track", "peer", c.Peer(), "error", err)
		}
	}
}

func (e *Engine) connsLocked() []*Conn {
	out := make([]*Conn, 0, len(e.conns))
	for c := range e.conns {
		out = append(out, c)
	}
	return out
}

// NewConnection creates a peer connection for peer and attaches every
// current local track to it straight away.
func (e *Engine) NewConnection(peer string, events ConnEvents) (*Conn, error) {
	policy := webrtc.ICETransportPolicyAll
	if e.config.ForceRelay && HasTURN(e.config.ICEServers) {
		policy = webrtc.ICETransportPolicyRelay
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         toPionServers(e.config.ICEServers),
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := newConn(peer, pc, events, e.logger.With("peer", peer), e.release)
	c.wire()

	if err := c.AddTracks(e.LocalTracks()); err != nil {
		_ = c.Close()
		return nil, err
	}

	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()
	return c, nil
}

func (e *Engine) release(c *Conn) {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
}

// Connections returns the number of open connections.
func (e *Engine) Connections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}
