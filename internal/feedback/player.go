package feedback

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Tone is a looping call sound.
type Tone int

const (
	ToneRingtone Tone = iota
	ToneDialTone
)

func (t Tone) String() string {
	if t == ToneDialTone {
		return "dial-tone"
	}
	return "ringtone"
}

// Ringtone sounds understood by BellPlayer.
const (
	SoundClassic = "classic"
	SoundDouble  = "double"
	SoundTriple  = "triple"
)

// Player produces one cycle of sound or one vibration pulse.
type Player interface {
	Play(tone Tone, sound string) error
	Vibrate(d time.Duration) error
}

// BellPlayer rings the terminal bell. Terminals cannot vibrate, so pulses
// are only logged.
type BellPlayer struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

func NewBellPlayer(w io.Writer, logger *slog.Logger) *BellPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BellPlayer{w: w, logger: logger}
}

func (p *BellPlayer) Play(tone Tone, sound string) error {
	n := 1
	if tone == ToneRingtone {
		switch sound {
		case SoundDouble:
			n = 2
		case SoundTriple:
			n = 3
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, strings.Repeat("\a", n))
	return err
}

func (p *BellPlayer) Vibrate(d time.Duration) error {
	p.logger.Debug("vibrate", "duration", d)
	return nil
}
