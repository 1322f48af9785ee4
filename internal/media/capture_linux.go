//go:build linux

package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceCapturer captures from real cameras and microphones through
// pion/mediadevices (V4L2 + malgo).
type DeviceCapturer struct {
	selector *mediadevices.CodecSelector
	logger   *slog.Logger
}

// NewDeviceCapturer builds the VP8+Opus codec selector.
func NewDeviceCapturer(logger *slog.Logger) (*DeviceCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceCapturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger: logger,
	}, nil
}

func (d *DeviceCapturer) RegisterCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

// Capture opens the requested devices. mediadevices has no audio processing
// constraints, so the echo cancellation, noise suppression and auto gain
// flags are left to the driver defaults.
func (d *DeviceCapturer) Capture(ctx context.Context, c Constraints) ([]*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}

	if c.Video {
		deviceID, err := d.cameraFor(c.Facing)
		if err != nil {
			return nil, err
		}
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.DeviceID = prop.StringExact(deviceID)
			// Raw formats only; MJPEG nodes on some webcams poison the VP8 encoder.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	var tracks []*Track
	for _, t := range stream.GetTracks() {
		t.OnEnded(func(err error) {
			if err != nil {
				d.logger.Warn("local track ended", "track", t.ID(), "error", err)
			}
		})
		tracks = append(tracks, NewTrack(t, t.Close))
	}
	d.logger.Debug("captured local media", "tracks", len(tracks), "video", c.Video, "facing", c.Facing)
	return tracks, nil
}

// cameraFor maps a facing onto an enumerated camera: the first camera is
// treated as the user-facing one, the second as the environment one.
func (d *DeviceCapturer) cameraFor(f Facing) (string, error) {
	var cams []mediadevices.MediaDeviceInfo
	for _, dev := range mediadevices.EnumerateDevices() {
		if dev.Kind == mediadevices.VideoInput {
			cams = append(cams, dev)
		}
	}

	idx := 0
	if f == FacingEnvironment {
		idx = 1
	}
	if idx >= len(cams) {
		return "", fmt.Errorf("%w: %s", ErrNoCamera, f)
	}
	return cams[idx].DeviceID, nil
}
