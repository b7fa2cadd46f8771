// Package capture provides [audio.Source] implementations backed by real
// input: a miniaudio capture device (via malgo) and WAV file replay.
//
// Both sources are thin [audio.CaptureFunc] adapters around [audio.Stream],
// which owns the bounded queue and the start/stop lifecycle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voiceguard/pkg/audio"
)

// errDeviceStopped is reported when the backend stops the device on its own,
// for example because it was unplugged.
var errDeviceStopped = errors.New("capture: device stopped unexpectedly")

// DeviceConfig configures a microphone capture source.
type DeviceConfig struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int

	// ChunkSize is the number of samples per emitted chunk. Also used as the
	// device period size.
	ChunkSize int

	// QueueSize is the chunk queue capacity.
	QueueSize int
}

// NewDevice returns a Source reading mono 16-bit samples from the system's
// default capture device.
func NewDevice(cfg DeviceConfig) (*audio.Stream, error) {
	opts := []audio.StreamOption{
		audio.WithChunkSize(cfg.ChunkSize),
		audio.WithQueueSize(cfg.QueueSize),
	}
	return audio.NewStream(cfg.SampleRate, deviceCapture(cfg), opts...)
}

// deviceCapture opens the default capture device for the lifetime of ctx.
// The malgo context and device are created per run so a stopped source can be
// restarted cleanly.
func deviceCapture(cfg DeviceConfig) audio.CaptureFunc {
	return func(ctx context.Context, emit func([]int16)) error {
		mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
			slog.Debug("capture: miniaudio", "msg", msg)
		})
		if err != nil {
			return fmt.Errorf("capture: init malgo context: %w", err)
		}
		defer func() {
			_ = mctx.Uninit()
			mctx.Free()
		}()

		deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
		deviceConfig.Capture.Format = malgo.FormatS16
		deviceConfig.Capture.Channels = 1
		deviceConfig.SampleRate = uint32(cfg.SampleRate)
		if cfg.ChunkSize > 0 {
			deviceConfig.PeriodSizeInFrames = uint32(cfg.ChunkSize)
		}
		deviceConfig.Alsa.NoMMap = 1

		stopped := make(chan struct{}, 1)
		callbacks := malgo.DeviceCallbacks{
			Data: func(_, input []byte, _ uint32) {
				emit(audio.BytesToSamples(input))
			},
			Stop: func() {
				select {
				case stopped <- struct{}{}:
				default:
				}
			},
		}

		device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
		if err != nil {
			return fmt.Errorf("capture: init device: %w", err)
		}
		defer device.Uninit()

		if err := device.Start(); err != nil {
			return fmt.Errorf("capture: start device: %w", err)
		}
		slog.Info("capture: recording from default device",
			"sample_rate", cfg.SampleRate,
			"chunk_size", cfg.ChunkSize,
		)

		select {
		case <-ctx.Done():
			// Stop blocks until the data callback has returned for the last time.
			if err := device.Stop(); err != nil {
				slog.Warn("capture: stop device", "err", err)
			}
			return nil
		case <-stopped:
			return errDeviceStopped
		}
	}
}
