// Package audio defines the audio source abstraction and the PCM helpers shared
// by the VoiceGuard pipeline.
//
// The primary abstraction is [Source]: a producer of timestamped mono 16-bit
// [Chunk] values captured on a dedicated goroutine and handed to a consumer
// through a bounded queue. [Stream] implements the queue and lifecycle once so
// that device adapters (audio/capture) only need to supply a [CaptureFunc].
//
// This package lives under pkg/ because external code (third-party capture
// adapters) is expected to implement [Source].
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoData is returned by [Source.Pull] when no chunk arrived within the
	// timeout. It is not a failure; callers simply poll again.
	ErrNoData = errors.New("audio: no data")

	// ErrSourceStopped is returned by [Source.Pull] once the capture goroutine
	// has terminated and every queued chunk has been consumed.
	ErrSourceStopped = errors.New("audio: source stopped")
)

// Chunk is a block of mono signed 16-bit samples. Chunks are immutable once
// emitted by a [Source].
type Chunk struct {
	// Samples holds the PCM samples.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int

	// Timestamp is the wall-clock capture time of the first sample.
	Timestamp time.Time
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Source produces audio chunks from a capture device.
//
// Start transitions the source to recording and spawns the capture goroutine.
// Calling Start on a recording source is a no-op. Pull waits at most timeout
// for the next chunk and returns [ErrNoData] when none arrived; once the
// capture goroutine has ended it returns [ErrSourceStopped]. Stop terminates
// the capture goroutine, waits for it, and releases the device. Stop on a
// source that is not recording is a no-op.
//
// Start, Stop and Pull may be called from different goroutines.
type Source interface {
	Start(ctx context.Context) error
	Pull(ctx context.Context, timeout time.Duration) (Chunk, error)
	Stop() error

	// SampleRate reports the rate of the chunks this source emits.
	SampleRate() int
}
