package feedback

import (
	"fmt"
	"time"
)

// Intensity is the haptic strength.
type Intensity string

const (
	IntensityOff       Intensity = "off"
	IntensityVeryLight Intensity = "very-light"
	IntensityLight     Intensity = "light"
	IntensityNormal    Intensity = "normal"
	IntensityStrong    Intensity = "strong"
)

// ParseIntensity validates s.
func ParseIntensity(s string) (Intensity, error) {
	switch i := Intensity(s); i {
	case IntensityOff, IntensityVeryLight, IntensityLight, IntensityNormal, IntensityStrong:
		return i, nil
	}
	return "", fmt.Errorf("unknown haptic intensity %q", s)
}

// Pulse is how long one vibration lasts at this intensity. Zero means no
// vibration.
func (i Intensity) Pulse() time.Duration {
	switch i {
	case IntensityVeryLight:
		return 100 * time.Millisecond
	case IntensityLight:
		return 250 * time.Millisecond
	case IntensityNormal:
		return 400 * time.Millisecond
	case IntensityStrong:
		return 700 * time.Millisecond
	default:
		return 0
	}
}

// Settings is the user-configurable call feedback.
type Settings struct {
	RingtoneEnabled       bool      `json:"ringtoneEnabled"`
	RingtoneSound         string    `json:"ringtoneSound"`
	DialToneEnabled       bool      `json:"dialToneEnabled"`
	IncomingCallVibration bool      `json:"incomingCallVibration"`
	OutgoingCallVibration bool      `json:"outgoingCallVibration"`
	HapticIntensity       Intensity `json:"hapticIntensity"`
}

// DefaultSettings rings and vibrates on incoming calls only.
func DefaultSettings() Settings {
	return Settings{
		RingtoneEnabled:       true,
		RingtoneSound:         SoundClassic,
		DialToneEnabled:       true,
		IncomingCallVibration: true,
		OutgoingCallVibration: false,
		HapticIntensity:       IntensityNormal,
	}
}

// Normalize fills unset or invalid fields from the defaults.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	if _, err := ParseIntensity(string(s.HapticIntensity)); err != nil {
		s.HapticIntensity = d.HapticIntensity
	}
	if s.RingtoneSound == "" {
		s.RingtoneSound = d.RingtoneSound
	}
	return s
}
