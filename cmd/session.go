package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BioHazard786/warpcall/internal/call"
	"github.com/BioHazard786/warpcall/internal/callui"
	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/dns"
	"github.com/BioHazard786/warpcall/internal/feedback"
	"github.com/BioHazard786/warpcall/internal/logging"
	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/mesh"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/BioHazard786/warpcall/internal/ui"
)

// CallContext is everything a running client needs.
type CallContext struct {
	Config       *config.Config
	Store        *store.DB
	Engine       *media.Engine
	Client       *signaling.Client
	Feedback     *feedback.Coordinator
	Orchestrator *call.Orchestrator
	Screen       *ui.CallScreen

	logFile *os.File
	cancel  context.CancelFunc
}

func configOptions() config.Options {
	return config.Options{
		Domain:      flagDomain,
		RelayURL:    flagRelayURL,
		Identity:    flagID,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
		DataDir:     flagDataDir,
		RingTimeout: flagRingTime,
		Headless:    flagHeadless,
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, call.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// openStore opens the local database for commands that need nothing else.
func openStore() (*store.DB, error) {
	cfg, err := LoadConfig(configOptions())
	if err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, call.NewError("open store", err)
	}
	return db, nil
}

// NewCallContext connects to the relay and wires the call stack.
func NewCallContext(parent context.Context, cfg *config.Config) (*CallContext, error) {
	if !cfg.Identity.Valid() {
		return nil, errors.New("no identity set; use --id or WARPCALL_ID")
	}

	ctx, cancel := context.WithCancel(parent)
	c := &CallContext{Config: cfg, cancel: cancel}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	// The call screen owns the terminal, so logs go to a file.
	if !cfg.Headless {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, call.NewError("create data dir", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.DataDir, "warpcall.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, call.NewError("open log file", err)
		}
		c.logFile = f
		logging.Init(f)
	}
	logger := slog.Default()

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, call.NewError("open store", err)
	}
	c.Store = db

	engine, err := media.NewEngine(media.Config{
		ICEServers: cfg.ICEServers(),
		ForceRelay: cfg.ForceRelay,
	}, newCapturer(cfg, logger), logging.Component(logger, "media"))
	if err != nil {
		return nil, call.NewError("create media engine", err)
	}
	c.Engine = engine

	client := signaling.NewClient(cfg.WebSocketURL, cfg.Identity, dns.NewResolver(logging.Component(logger, "dns")), logging.Component(logger, "signaling"))
	dialCtx, dialCancel := context.WithTimeout(ctx, 15*time.Second)
	err = client.Connect(dialCtx)
	dialCancel()
	if err != nil {
		return nil, call.NewError("connect to relay", err)
	}
	c.Client = client

	settings, err := config.LoadSettings(cfg.SettingsPath())
	if err != nil {
		logger.Warn("unreadable feedback settings, using defaults", "error", err)
		settings = feedback.DefaultSettings()
	}
	c.Feedback = feedback.NewCoordinator(
		feedback.NewBellPlayer(os.Stdout, logging.Component(logger, "feedback")),
		settings,
		feedback.DefaultIntervals(),
		logging.Component(logger, "feedback"),
	)
	if err := config.WatchSettings(ctx, cfg.SettingsPath(), logger, c.Feedback.UpdateSettings); err != nil {
		logger.Warn("settings hot reload disabled", "error", err)
	}

	var platform callui.Platform
	if !cfg.Headless {
		c.Screen = ui.NewCallScreen(c.actions(ctx))
		platform = c.Screen
	}

	c.Orchestrator = call.New(call.Options{
		Self:        cfg.Identity,
		Media:       engine,
		Connections: mesh.EngineFactory(engine),
		Signaling:   signaling.NewChannel(client, logging.Component(logger, "signaling")),
		Bridge:      callui.New(platform, logging.Component(logger, "callui")),
		Feedback:    c.Feedback,
		Directory:   db,
		RingTimeout: cfg.RingTimeout,
		Logger:      logging.Component(logger, "call"),
	})
	if err := c.Orchestrator.Start(ctx); err != nil {
		return nil, call.NewError("start calls", err)
	}
	c.Orchestrator.OnCallEnded(c.record)

	ok = true
	return c, nil
}

func newCapturer(cfg *config.Config, logger *slog.Logger) media.Capturer {
	if cfg.Headless {
		return &media.StaticCapturer{}
	}
	capturer, err := media.NewDeviceCapturer(logging.Component(logger, "capture"))
	if err != nil {
		ui.PrintWarningf("Capture devices unavailable (%v), using generated media", err)
		return &media.StaticCapturer{}
	}
	return capturer
}

func (c *CallContext) actions(ctx context.Context) ui.Actions {
	return ui.Actions{
		ToggleVideo: func(context.Context) error {
			_, err := c.Orchestrator.ToggleVideo(ctx)
			return err
		},
		ToggleSpeaker: func(context.Context) error {
			_, err := c.Orchestrator.ToggleSpeaker(ctx)
			return err
		},
		SwitchCamera: func(context.Context) error {
			return c.Orchestrator.SwitchCamera(ctx)
		},
		ToggleHold: func(context.Context) error {
			return c.Orchestrator.SetHold(ctx, !c.Orchestrator.Current().OnHold)
		},
	}
}

// record stores every finished call in the history.
func (c *CallContext) record(e call.Ended) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Store.RecordCall(ctx, store.CallRecord{
		ID:        e.CallID,
		Peers:     e.Peers,
		Kind:      string(e.Kind),
		Direction: string(e.Direction),
		Reason:    string(e.Reason),
		StartedAt: e.StartedAt,
		EndedAt:   e.EndedAt,
		Duration:  e.Duration,
	})
	if err != nil {
		slog.Warn("failed to record call", "callId", e.CallID, "error", err)
	}
}

// Run shows the call screen, or plain status lines when headless, until the
// user quits, ctx is done, or done is closed.
func (c *CallContext) Run(ctx context.Context, done <-chan struct{}) {
	updates, cancel := c.Orchestrator.ObserveSession()
	defer cancel()

	quit := make(chan struct{})
	if c.Screen != nil {
		c.Screen.Start(quit)
		c.Screen.Watch(updates)
		defer c.Screen.Stop()
	} else {
		defer close(quit)
		go printSessions(updates, quit)
	}

	select {
	case <-ctx.Done():
	case <-quit:
	case <-done:
		// Leave the final state on screen for a moment.
		select {
		case <-time.After(1500 * time.Millisecond):
		case <-quit:
		case <-ctx.Done():
		}
	case <-c.Client.Done():
		ui.PrintError("Lost connection to the relay")
	}
}

// printSessions logs state changes for headless runs.
func printSessions(updates <-chan call.Session, quit <-chan struct{}) {
	var last call.State
	stopRinging := func() {}
	defer func() { stopRinging() }()

	for {
		select {
		case s := <-updates:
			if s.State == last {
				continue
			}
			last = s.State
			stopRinging()
			stopRinging = func() {}
			switch s.State {
			case call.StateRinging:
				stopRinging = ui.RunRingingSpinner(fmt.Sprintf("Ringing (%s %s call)", s.Direction, s.Kind))
			case call.StateConnecting:
				ui.PrintInfof("%s Connecting...", ui.IconConnect)
			case call.StateConnected:
				ui.PrintSuccessf("Connected with %d participant(s)", len(s.Participants))
			case call.StateReconnecting:
				ui.PrintWarning("Connection lost, reconnecting...")
			case call.StateEnded:
				ui.PrintInfof("%s Call ended (%s) after %s", ui.IconHangup, s.EndReason, ui.FormatDuration(s.Duration))
			}
		case <-quit:
			return
		}
	}
}

func (c *CallContext) Close() {
	if c.Orchestrator != nil {
		c.Orchestrator.Close()
	}
	if c.Feedback != nil {
		c.Feedback.StopAll()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.Client != nil {
		c.Client.Close()
	}
	if c.Engine != nil {
		c.Engine.StopLocalMedia()
	}
	if c.Store != nil {
		c.Store.Close()
	}
	if c.logFile != nil {
		c.logFile.Close()
	}
}
