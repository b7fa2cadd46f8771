// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (WebRTC VAD, an energy
// gate, or a custom model) and surfaces it as a stateful, per-stream session.
// Each session maintains its own internal state so that multiple concurrent
// audio streams can be processed independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, making it suitable for the monitoring loop that gates threat scoring.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/voiceguard/pkg/types"
)

// DefaultFrameSizeMs is the frame duration used by the monitoring pipeline.
const DefaultFrameSizeMs = 30

// SupportedSampleRates lists the rates every engine in this module accepts.
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

var (
	// ErrUnsupportedSampleRate is returned by NewSession for rates outside
	// [SupportedSampleRates].
	ErrUnsupportedSampleRate = errors.New("vad: unsupported sample rate")

	// ErrFrameSize is returned by ProcessFrame when the frame length does not
	// match the session configuration.
	ErrFrameSize = errors.New("vad: wrong frame size")

	// ErrSessionClosed is returned by ProcessFrame after Close.
	ErrSessionClosed = errors.New("vad: session closed")
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. One of [SupportedSampleRates].
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most VAD
	// models operate on fixed frame sizes (10, 20, or 30 ms).
	// ProcessFrame returns [ErrFrameSize] if the supplied frame does not match.
	FrameSizeMs int

	// Aggressiveness trades recall for precision in the range 0–3. Higher
	// values reject more non-speech at the cost of missing quiet speech.
	Aggressiveness int
}

// FrameSamples returns the number of samples in one frame: rate × duration,
// truncated.
func (c Config) FrameSamples() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// Validate checks the configuration against the limits shared by all engines.
func (c Config) Validate() error {
	if !slices.Contains(SupportedSampleRates, c.SampleRate) {
		return fmt.Errorf("%w: %d Hz (supported: %v)", ErrUnsupportedSampleRate, c.SampleRate, SupportedSampleRates)
	}
	switch c.FrameSizeMs {
	case 10, 20, 30:
	default:
		return fmt.Errorf("vad: frame size %d ms is invalid; valid values: 10, 20, 30", c.FrameSizeMs)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("vad: aggressiveness %d is out of range [0, 3]", c.Aggressiveness)
	}
	return nil
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection result.
	// The frame must be raw little-endian 16-bit PCM at the SampleRate and
	// FrameSizeMs configured when the session was created.
	//
	// This method is called synchronously in the monitoring loop; it must not block.
	ProcessFrame(frame []byte) (types.VADEvent, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns [ErrSessionClosed]. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (unsupported sample
	// rate, frame size, or aggressiveness) or if the engine cannot allocate
	// resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}

// Transition maps a per-frame speech decision onto the event stream, given
// whether the previous frame was speech.
func Transition(wasSpeech, isSpeech bool, probability float64) types.VADEvent {
	var t types.VADEventType
	switch {
	case isSpeech && !wasSpeech:
		t = types.VADSpeechStart
	case isSpeech:
		t = types.VADSpeechContinue
	case wasSpeech:
		t = types.VADSpeechEnd
	default:
		t = types.VADSilence
	}
	return types.VADEvent{Type: t, Probability: probability}
}
