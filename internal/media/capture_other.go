//go:build !linux

package media

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// DeviceCapturer is unavailable outside Linux; pion/mediadevices needs the
// V4L2 and malgo drivers. Use StaticCapturer (--headless) instead.
type DeviceCapturer struct{}

func NewDeviceCapturer(_ *slog.Logger) (*DeviceCapturer, error) {
	return nil, ErrCaptureUnsupported
}

func (d *DeviceCapturer) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (d *DeviceCapturer) Capture(context.Context, Constraints) ([]*Track, error) {
	return nil, ErrCaptureUnsupported
}
