// Package feedback plays ringtones, dial tones and vibration in reaction to
// call lifecycle events. It knows nothing else about calls.
package feedback

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Event is a call lifecycle event that changes feedback.
type Event int

const (
	IncomingRinging Event = iota
	IncomingEnded
	// OutgoingRinging follows the callee's "ringing" acknowledgement.
	OutgoingRinging
	OutgoingEnded
)

func (e Event) String() string {
	switch e {
	case IncomingRinging:
		return "incoming-ringing"
	case IncomingEnded:
		return "incoming-ended"
	case OutgoingRinging:
		return "outgoing-ringing"
	case OutgoingEnded:
		return "outgoing-ended"
	default:
		return "unknown"
	}
}

// Intervals between repetitions of each loop.
type Intervals struct {
	Ringtone  time.Duration
	DialTone  time.Duration
	Vibration time.Duration
}

// DefaultIntervals are the production cadences.
func DefaultIntervals() Intervals {
	return Intervals{
		Ringtone:  3 * time.Second,
		DialTone:  4 * time.Second,
		Vibration: 2 * time.Second,
	}
}

const (
	loopRingtone  = "ringtone"
	loopDialTone  = "dial-tone"
	loopVibration = "vibration"
)

type loop struct {
	stop chan struct{}
	done chan struct{}
}

// Coordinator runs the feedback loops.
type Coordinator struct {
	player    Player
	intervals Intervals
	logger    *slog.Logger

	mu       sync.Mutex
	settings Settings
	loops    map[string]*loop
}

// NewCoordinator returns a coordinator playing through player.
func NewCoordinator(player Player, settings Settings, intervals Intervals, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultIntervals()
	if intervals.Ringtone <= 0 {
		intervals.Ringtone = d.Ringtone
	}
	if intervals.DialTone <= 0 {
		intervals.DialTone = d.DialTone
	}
	if intervals.Vibration <= 0 {
		intervals.Vibration = d.Vibration
	}
	return &Coordinator{
		player:    player,
		intervals: intervals,
		logger:    logger,
		settings:  settings.Normalize(),
		loops:     make(map[string]*loop),
	}
}

// Handle reacts to ev.
func (c *Coordinator) Handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("feedback event", "event", ev)
	s := c.settings
	pulse := s.HapticIntensity.Pulse()

	switch ev {
	case IncomingRinging:
		c.stopAllLocked()
		if s.RingtoneEnabled {
			c.startLocked(loopRingtone, c.intervals.Ringtone, func() error {
				return c.player.Play(ToneRingtone, s.RingtoneSound)
			})
		}
		if s.IncomingCallVibration && pulse > 0 {
			c.startLocked(loopVibration, c.intervals.Vibration, func() error {
				return c.player.Vibrate(pulse)
			})
		}

	case OutgoingRinging:
		c.stopAllLocked()
		if s.DialToneEnabled {
			c.startLocked(loopDialTone, c.intervals.DialTone, func() error {
				return c.player.Play(ToneDialTone, "")
			})
		}
		if s.OutgoingCallVibration && pulse > 0 {
			c.startLocked(loopVibration, c.intervals.Vibration, func() error {
				return c.player.Vibrate(pulse)
			})
		}

	case IncomingEnded:
		c.stopLocked(loopRingtone)
		c.stopLocked(loopVibration)

	case OutgoingEnded:
		c.stopLocked(loopDialTone)
		c.stopLocked(loopVibration)
	}
}

// StopAll stops every loop. Safe to call at any time, any number of times.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopAllLocked()
}

// UpdateSettings applies to the next started loop.
func (c *Coordinator) UpdateSettings(s Settings) {
	c.mu.Lock()
	c.settings = s.Normalize()
	c.mu.Unlock()
}

// Settings returns the active settings.
func (c *Coordinator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Active lists the running loops.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.loops))
	for name := range c.loops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) startLocked(name string, every time.Duration, fn func() error) {
	if _, ok := c.loops[name]; ok {
		return
	}
	l := &loop{stop: make(chan struct{}), done: make(chan struct{})}
	c.loops[name] = l

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			if err := fn(); err != nil {
				c.logger.Warn("feedback playback failed", "loop", name, "error", err)
			}
			select {
			case <-l.stop:
				return
			case <-ticker.C:
			}
			// A tick and a stop can be ready together.
			select {
			case <-l.stop:
				return
			default:
			}
		}
	}()
}

// stopLocked returns once the loop goroutine has exited, so nothing plays
// after it.
func (c *Coordinator) stopLocked(name string) {
	l, ok := c.loops[name]
	if !ok {
		return
	}
	delete(c.loops, name)
	close(l.stop)
	<-l.done
}

func (c *Coordinator) stopAllLocked() {
	for name := range c.loops {
		c.stopLocked(name)
	}
}
