// Package callui maps calls onto a platform call UI. It holds no call state
// of its own: it translates internal call ids to platform handles and
// forwards the platform's actions back.
package callui

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/BioHazard786/warpcall/internal/lifecycle"
)

// ErrUnavailable is returned by Setup when there is no platform.
var ErrUnavailable = errors.New("platform call UI unavailable")

// PlatformEvents are emitted by a Platform for calls it displays.
type PlatformEvents struct {
	Answered              func(handle uuid.UUID)
	Ended                 func(handle uuid.UUID)
	Muted                 func(handle uuid.UUID, muted bool)
	DTMF                  func(handle uuid.UUID, digits string)
	AudioSessionActivated func()
}

// Platform is the native call UI runtime.
type Platform interface {
	Setup(ctx context.Context, events PlatformEvents) error
	ReportOutgoing(handle uuid.UUID, displayHandle string, video bool) error
	DisplayIncoming(ctx context.Context, handle uuid.UUID, displayHandle, callerName string, video bool) error
	ReportAnswered(handle uuid.UUID) error
	ReportConnected(handle uuid.UUID) error
	EndCall(handle uuid.UUID, reason string) error
	SetMuted(handle uuid.UUID, muted bool) error
	SetOnHold(handle uuid.UUID, hold bool) error
	UpdateDisplayName(handle uuid.UUID, name string) error
}

// Handlers receive platform actions keyed by internal call id.
type Handlers struct {
	OnAnswer                func(callID string)
	OnEnd                   func(callID string)
	OnMute                  func(callID string, muted bool)
	OnDTMF                  func(callID, digits string)
	OnAudioSessionActivated func()
}

// Record is one call known to the platform.
type Record struct {
	CallID        string
	Handle        uuid.UUID
	DisplayHandle string
	CallerName    string
	Video         bool
}

// Bridge translates between call ids and platform handles.
type Bridge struct {
	platform Platform
	init     *lifecycle.Initializer
	logger   *slog.Logger

	mu       sync.Mutex
	byCall   map[string]*Record
	byHandle map[uuid.UUID]*Record
	handlers Handlers
}

// New returns a bridge for platform. A nil platform yields a bridge whose
// operations are all no-ops.
func New(platform Platform, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		platform: platform,
		logger:   logger,
		byCall:   make(map[string]*Record),
		byHandle: make(map[uuid.UUID]*Record),
	}
	b.init = lifecycle.New(b.setup)
	return b
}

func (b *Bridge) setup(ctx context.Context) error {
	if b.platform == nil {
		return ErrUnavailable
	}
	return b.platform.Setup(ctx, PlatformEvents{
		Answered:              b.platformAnswered,
		Ended:                 b.platformEnded,
		Muted:                 b.platformMuted,
		DTMF:                  b.platformDTMF,
		AudioSessionActivated: b.platformAudioSession,
	})
}

// Setup initializes the platform integration. Concurrent calls share one
// attempt. A failure leaves the bridge unavailable; calls proceed without
// native UI.
func (b *Bridge) Setup(ctx context.Context) error {
	err := b.init.Init(ctx)
	if err != nil && !errors.Is(err, ErrUnavailable) {
		b.logger.Warn("call UI setup failed, continuing without it", "error", err)
	}
	return err
}

// State returns the integration's init state.
func (b *Bridge) State() lifecycle.State {
	return b.init.State()
}

// Available reports whether operations reach a platform.
func (b *Bridge) Available() bool {
	return b.platform != nil && b.init.State() == lifecycle.Ready
}

// SetHandlers replaces the handlers for platform actions.
func (b *Bridge) SetHandlers(h Handlers) {
	b.mu.Lock()
	b.handlers = h
	b.mu.Unlock()
}

// ready initializes on first use. A failed setup is not retried here.
func (b *Bridge) ready(ctx context.Context) bool {
	if b.platform == nil {
		return false
	}
	if b.init.State() == lifecycle.Uninitialized {
		_ = b.Setup(ctx)
	}
	return b.Available()
}

func (b *Bridge) add(callID, displayHandle, callerName string, video bool) *Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.byCall[callID]; ok {
		return r
	}
	r := &Record{
		CallID:        callID,
		Handle:        uuid.New(),
		DisplayHandle: displayHandle,
		CallerName:    callerName,
		Video:         video,
	}
	b.byCall[callID] = r
	b.byHandle[r.Handle] = r
	return r
}

func (b *Bridge) handle(callID string) (uuid.UUID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byCall[callID]
	if !ok {
		return uuid.Nil, false
	}
	return r.Handle, true
}

func (b *Bridge) remove(callID string) (uuid.UUID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byCall[callID]
	if !ok {
		return uuid.Nil, false
	}
	delete(b.byCall, callID)
	delete(b.byHandle, r.Handle)
	return r.Handle, true
}

func (b *Bridge) logErr(op, callID string, err error) {
	if err != nil {
		b.logger.Warn("call UI operation failed", "op", op, "callId", callID, "error", err)
	}
}

// ReportOutgoing tells the platform about a call this device placed.
func (b *Bridge) ReportOutgoing(ctx context.Context, callID, displayHandle string, video bool) {
	if !b.ready(ctx) {
		return
	}
	r := b.add(callID, displayHandle, displayHandle, video)
	b.logErr("report-outgoing", callID, b.platform.ReportOutgoing(r.Handle, displayHandle, video))
}

// DisplayIncoming shows the platform's incoming call screen.
func (b *Bridge) DisplayIncoming(ctx context.Context, callID, displayHandle, callerName string, video bool) {
	if !b.ready(ctx) {
		return
	}
	r := b.add(callID, displayHandle, callerName, video)
	b.logErr("display-incoming", callID, b.platform.DisplayIncoming(ctx, r.Handle, displayHandle, callerName, video))
}

// ReportAnswered tells the platform the call was answered in-app.
func (b *Bridge) ReportAnswered(callID string) {
	if !b.Available() {
		return
	}
	if h, ok := b.handle(callID); ok {
		b.logErr("report-answered", callID, b.platform.ReportAnswered(h))
	}
}

// ReportConnected tells the platform media is flowing.
func (b *Bridge) ReportConnected(callID string) {
	if !b.Available() {
		return
	}
	if h, ok := b.handle(callID); ok {
		b.logErr("report-connected", callID, b.platform.ReportConnected(h))
	}
}

// EndCall ends the platform call and releases its record.
func (b *Bridge) EndCall(callID, reason string) {
	if !b.Available() {
		return
	}
	if h, ok := b.remove(callID); ok {
		b.logErr("end-call", callID, b.platform.EndCall(h, reason))
	}
}

// EndAll ends every platform call.
func (b *Bridge) EndAll(reason string) {
	if !b.Available() {
		return
	}
	b.mu.Lock()
	ids := make([]string, 0, len(b.byCall))
	for id := range b.byCall {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.EndCall(id, reason)
	}
}

// SetMuted mirrors the mute state.
func (b *Bridge) SetMuted(callID string, muted bool) {
	if !b.Available() {
		return
	}
	if h, ok := b.handle(callID); ok {
		b.logErr("set-muted", callID, b.platform.SetMuted(h, muted))
	}
}

// SetOnHold mirrors the hold state.
func (b *Bridge) SetOnHold(callID string, hold bool) {
	if !b.Available() {
		return
	}
	if h, ok := b.handle(callID); ok {
		b.logErr("set-on-hold", callID, b.platform.SetOnHold(h, hold))
	}
}

// UpdateDisplayName changes the caller name shown by the platform.
func (b *Bridge) UpdateDisplayName(callID, name string) {
	if !b.Available() {
		return
	}
	b.mu.Lock()
	r, ok := b.byCall[callID]
	if ok {
		r.CallerName = name
	}
	b.mu.Unlock()
	if ok {
		b.logErr("update-display-name", callID, b.platform.UpdateDisplayName(r.Handle, name))
	}
}

// Record returns a copy of the record for callID.
func (b *Bridge) Record(callID string) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byCall[callID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// CallID returns the call id for a platform handle.
func (b *Bridge) CallID(handle uuid.UUID) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byHandle[handle]
	if !ok {
		return "", false
	}
	return r.CallID, true
}

func (b *Bridge) lookup(handle uuid.UUID) (string, Handlers, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byHandle[handle]
	if !ok {
		return "", b.handlers, false
	}
	return r.CallID, b.handlers, true
}

func (b *Bridge) platformAnswered(handle uuid.UUID) {
	id, h, ok := b.lookup(handle)
	if !ok {
		b.logger.Debug("answer for unknown handle", "handle", handle)
		return
	}
	if h.OnAnswer != nil {
		h.OnAnswer(id)
	}
}

func (b *Bridge) platformEnded(handle uuid.UUID) {
	id, h, ok := b.lookup(handle)
	if !ok {
		return
	}
	if h.OnEnd != nil {
		h.OnEnd(id)
	}
}

func (b *Bridge) platformMuted(handle uuid.UUID, muted bool) {
	id, h, ok := b.lookup(handle)
	if !ok {
		return
	}
	if h.OnMute != nil {
		h.OnMute(id, muted)
	}
}

func (b *Bridge) platformDTMF(handle uuid.UUID, digits string) {
	id, h, ok := b.lookup(handle)
	if !ok {
		return
	}
	if h.OnDTMF != nil {
		h.OnDTMF(id, digits)
	}
}

func (b *Bridge) platformAudioSession() {
	b.mu.Lock()
	h := b.handlers
	b.mu.Unlock()
	if h.OnAudioSessionActivated != nil {
		h.OnAudioSessionActivated()
	}
}
