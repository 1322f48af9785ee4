package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/BioHazard786/warpcall/internal/call"
	"github.com/BioHazard786/warpcall/internal/callui"
	"github.com/BioHazard786/warpcall/internal/media"
)

// Actions are the in-call controls that have no platform call UI
// equivalent. Each runs off the UI goroutine.
type Actions struct {
	ToggleVideo   func(ctx context.Context) error
	ToggleSpeaker func(ctx context.Context) error
	SwitchCamera  func(ctx context.Context) error
	ToggleHold    func(ctx context.Context) error
}

// CallScreen is the terminal call UI. It implements callui.Platform so the
// orchestrator drives it exactly like a native call screen.
type CallScreen struct {
	program *tea.Program
	model   *callModel
	updates chan tea.Msg
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	events callui.PlatformEvents
}

type shownMsg struct {
	handle        uuid.UUID
	displayHandle string
	callerName    string
	video         bool
	incoming      bool
}

type answeredMsg struct{ handle uuid.UUID }

type connectedMsg struct{ handle uuid.UUID }

type endedMsg struct {
	handle uuid.UUID
	reason string
}

type mutedMsg struct {
	handle uuid.UUID
	muted  bool
}

type holdMsg struct {
	handle uuid.UUID
	hold   bool
}

type nameMsg struct {
	handle uuid.UUID
	name   string
}

type sessionMsg call.Session

type actionErrMsg struct{ err error }

// callModel is the bubbletea model behind CallScreen
type callModel struct {
	screen  *CallScreen
	actions Actions
	spinner spinner.Model

	handle   uuid.UUID
	display  string
	name     string
	video    bool
	incoming bool
	phase    string
	reason   string
	muted    bool
	hold     bool
	digits   string
	errMsg   string
	session  call.Session
	quitting bool
}

// NewCallScreen creates a call screen. Start runs it.
func NewCallScreen(actions Actions) *CallScreen {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	sc := &CallScreen{
		updates: make(chan tea.Msg, 64),
		done:    make(chan struct{}),
	}
	sc.model = &callModel{
		screen:  sc,
		actions: actions,
		spinner: s,
		phase:   "idle",
	}
	return sc
}

// Start starts the UI in a goroutine. quit is closed when the user leaves.
func (sc *CallScreen) Start(quit chan<- struct{}) {
	sc.program = tea.NewProgram(sc.model)
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		if _, err := sc.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
		if quit != nil {
			close(quit)
		}
	}()
}

// Stop stops the UI
func (sc *CallScreen) Stop() {
	select {
	case <-sc.done:
		return
	default:
	}
	close(sc.done)
	if sc.program != nil {
		sc.program.Quit()
	}
	sc.wg.Wait()
}

// Watch feeds session snapshots to the screen until updates closes or the
// screen stops.
func (sc *CallScreen) Watch(updates <-chan call.Session) {
	go func() {
		for {
			select {
			case s, ok := <-updates:
				if !ok {
					return
				}
				sc.push(sessionMsg(s))
			case <-sc.done:
				return
			}
		}
	}()
}

func (sc *CallScreen) push(msg tea.Msg) {
	select {
	case sc.updates <- msg:
	case <-sc.done:
	}
}

func (sc *CallScreen) platformEvents() callui.PlatformEvents {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.events
}

func (sc *CallScreen) Setup(_ context.Context, events callui.PlatformEvents) error {
	sc.mu.Lock()
	sc.events = events
	sc.mu.Unlock()
	return nil
}

func (sc *CallScreen) ReportOutgoing(handle uuid.UUID, displayHandle string, video bool) error {
	sc.push(shownMsg{handle: handle, displayHandle: displayHandle, callerName: displayHandle, video: video})
	return nil
}

func (sc *CallScreen) DisplayIncoming(_ context.Context, handle uuid.UUID, displayHandle, callerName string, video bool) error {
	sc.push(shownMsg{handle: handle, displayHandle: displayHandle, callerName: callerName, video: video, incoming: true})
	return nil
}

func (sc *CallScreen) ReportAnswered(handle uuid.UUID) error {
	sc.push(answeredMsg{handle: handle})
	return nil
}

func (sc *CallScreen) ReportConnected(handle uuid.UUID) error {
	sc.push(connectedMsg{handle: handle})
	return nil
}

func (sc *CallScreen) EndCall(handle uuid.UUID, reason string) error {
	sc.push(endedMsg{handle: handle, reason: reason})
	return nil
}

func (sc *CallScreen) SetMuted(handle uuid.UUID, muted bool) error {
	sc.push(mutedMsg{handle: handle, muted: muted})
	return nil
}

func (sc *CallScreen) SetOnHold(handle uuid.UUID, hold bool) error {
	sc.push(holdMsg{handle: handle, hold: hold})
	return nil
}

func (sc *CallScreen) UpdateDisplayName(handle uuid.UUID, name string) error {
	sc.push(nameMsg{handle: handle, name: name})
	return nil
}

// Model methods
func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates())
}

func (m *callModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.screen.updates:
			return msg
		case <-m.screen.done:
			return nil
		}
	}
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case shownMsg:
		m.handle = msg.handle
		m.display = msg.displayHandle
		m.name = msg.callerName
		m.video = msg.video
		m.incoming = msg.incoming
		m.muted, m.hold = false, false
		m.digits, m.errMsg, m.reason = "", "", ""
		if msg.incoming {
			m.phase = "incoming"
		} else {
			m.phase = "calling"
		}

	case answeredMsg:
		if msg.handle == m.handle {
			m.phase = "connecting"
		}

	case connectedMsg:
		if msg.handle == m.handle {
			m.phase = "connected"
		}

	case endedMsg:
		if msg.handle == m.handle {
			m.phase = "ended"
			m.reason = msg.reason
		}

	case mutedMsg:
		if msg.handle == m.handle {
			m.muted = msg.muted
		}

	case holdMsg:
		if msg.handle == m.handle {
			m.hold = msg.hold
		}

	case nameMsg:
		if msg.handle == m.handle {
			m.name = msg.name
		}

	case sessionMsg:
		m.session = call.Session(msg)
		m.muted = m.session.Local.Muted
		m.hold = m.session.OnHold

	case actionErrMsg:
		m.errMsg = msg.err.Error()
		return m, nil

	default:
		return m, nil
	}
	return m, m.listenForUpdates()
}

func (m *callModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	key := msg.String()
	if key == "q" || key == "ctrl+c" {
		m.quitting = true
		if m.live() {
			m.emitEnded()
		}
		return tea.Quit
	}
	if !m.live() {
		return nil
	}

	ev := m.screen.platformEvents()
	switch key {
	case "a":
		if m.phase == "incoming" && ev.Answered != nil {
			ev.Answered(m.handle)
		}
	case "e", "d":
		m.emitEnded()
	case "m":
		if ev.Muted != nil {
			ev.Muted(m.handle, !m.muted)
		}
		m.muted = !m.muted
	case "v":
		return m.run(m.actions.ToggleVideo)
	case "s":
		return m.run(m.actions.ToggleSpeaker)
	case "c":
		return m.run(m.actions.SwitchCamera)
	case "h":
		return m.run(m.actions.ToggleHold)
	default:
		if len(key) == 1 && strings.ContainsAny(key, "0123456789*#") && m.phase == "connected" {
			m.digits += key
			if ev.DTMF != nil {
				ev.DTMF(m.handle, key)
			}
		}
	}
	return nil
}

func (m *callModel) emitEnded() {
	if ev := m.screen.platformEvents(); ev.Ended != nil {
		ev.Ended(m.handle)
	}
}

func (m *callModel) run(action func(ctx context.Context) error) tea.Cmd {
	if action == nil {
		return nil
	}
	return func() tea.Msg {
		if err := action(context.Background()); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m *callModel) live() bool {
	switch m.phase {
	case "incoming", "calling", "connecting", "connected":
		return true
	}
	return false
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(IconCall+" WarpCall") + "\n")

	switch m.phase {
	case "idle":
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), MutedStyle.Render("Waiting for calls...")))
		b.WriteString(FooterStyle.Render("q quit"))
		return b.String()

	case "incoming":
		kind := "voice"
		if m.video {
			kind = "video"
		}
		body := fmt.Sprintf("%s Incoming %s call\n\n%s %s\n%s",
			IconIncoming, kind,
			IconPeer, BoldStyle.Render(m.name),
			MutedStyle.Render(m.display),
		)
		b.WriteString(IncomingBoxStyle.Render(body) + "\n")
		b.WriteString(FooterStyle.Render("a answer • d decline • q quit"))
		return b.String()

	case "ended":
		body := fmt.Sprintf("%s Call ended (%s)", IconHangup, m.reason)
		if m.session.Duration > 0 {
			body += fmt.Sprintf("\n%s %s", IconTime, FormatDuration(m.session.Duration))
		}
		b.WriteString(EndedBoxStyle.Render(body) + "\n")
		b.WriteString(FooterStyle.Render("q quit"))
		return b.String()
	}

	var body strings.Builder
	switch m.phase {
	case "calling":
		body.WriteString(fmt.Sprintf("%s Calling %s\n", m.spinner.View(), BoldStyle.Render(m.name)))
	case "connecting":
		body.WriteString(fmt.Sprintf("%s Connecting to %s\n", m.spinner.View(), BoldStyle.Render(m.name)))
	default:
		state := "Connected"
		if m.session.State == call.StateReconnecting {
			state = WarningStyle.Render("Reconnecting...")
		}
		body.WriteString(fmt.Sprintf("%s %s  %s %s\n", IconConnect, state, IconTime, FormatDuration(m.session.Duration)))
	}

	for _, p := range m.session.Participants {
		line := fmt.Sprintf("  %s %s %s", IconPeer, p.DisplayName, stateLabel(p.State))
		if p.Muted {
			line += " " + IconMicOff
		}
		body.WriteString(line + "\n")
	}

	mic := IconMic
	if m.muted {
		mic = IconMicOff + " muted"
	}
	indicators := []string{mic}
	if m.session.Local.VideoEnabled {
		indicators = append(indicators, IconVideo)
	}
	if m.session.Speaker {
		indicators = append(indicators, IconSpeaker)
	}
	if m.hold {
		indicators = append(indicators, IconHold+" on hold")
	}
	body.WriteString("\n" + strings.Join(indicators, "  "))
	if m.digits != "" {
		body.WriteString("\n" + MutedStyle.Render("tones: "+m.digits))
	}
	b.WriteString(BoxStyle.Render(body.String()) + "\n")

	if m.errMsg != "" {
		b.WriteString(ErrorStyle.Render(m.errMsg) + "\n")
	}
	b.WriteString(FooterStyle.Render("m mute • v video • c camera • s speaker • h hold • 0-9*# tones • e end • q quit"))
	return b.String()
}

func stateLabel(s media.ConnState) string {
	if dot, ok := connDot[s]; ok {
		return dot
	}
	return MutedStyle.Render("○")
}
