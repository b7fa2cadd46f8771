// Package energy provides a pure-Go VAD engine that labels a frame as speech
// when its RMS amplitude exceeds a threshold. It needs no cgo and serves as a
// fallback where the WebRTC detector is unavailable.
//
// Aggressiveness selects the threshold from [DefaultThresholds]; a fixed
// threshold may be supplied instead with [WithThreshold].
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/provider/vad"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// DefaultThresholds maps aggressiveness 0–3 to an RMS threshold in raw int16
// units.
var DefaultThresholds = [4]float64{200, 400, 700, 1000}

// Option configures an [Engine].
type Option func(*Engine)

// WithThreshold sets a fixed RMS threshold, ignoring aggressiveness.
func WithThreshold(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.threshold = rms
		}
	}
}

// Engine creates energy-gate sessions. Safe for concurrent use.
type Engine struct {
	threshold float64
}

var _ vad.Engine = (*Engine)(nil)

// New returns an energy VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	thr := e.threshold
	if thr == 0 {
		thr = DefaultThresholds[cfg.Aggressiveness]
	}
	return &session{threshold: thr, frameBytes: cfg.FrameSamples() * 2}, nil
}

type session struct {
	mu         sync.Mutex
	threshold  float64
	frameBytes int
	wasSpeech  bool
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.VADEvent{Type: types.VADSilence}, vad.ErrSessionClosed
	}
	if len(frame) != s.frameBytes {
		return types.VADEvent{Type: types.VADSilence}, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}

	rms := audio.RMS(audio.BytesToSamples(frame))
	speech := rms > s.threshold
	prob := math.Min(rms/(2*s.threshold), 1)

	ev := vad.Transition(s.wasSpeech, speech, prob)
	s.wasSpeech = speech
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wasSpeech = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
