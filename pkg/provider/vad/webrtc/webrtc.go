// Package webrtc provides a VAD engine backed by the WebRTC voice activity
// detector (cgo binding github.com/maxhawkins/go-webrtcvad).
//
// The WebRTC detector is a binary classifier: each 10, 20 or 30 ms frame of
// 16-bit mono PCM is labelled speech or non-speech. Aggressiveness maps
// directly onto the detector mode (0 = least aggressive, 3 = most aggressive).
//
// Usage:
//
//	eng := webrtc.New()
//	sess, err := eng.NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30, Aggressiveness: 3})
//	ev, err := sess.ProcessFrame(frame)
package webrtc

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/voiceguard/pkg/provider/vad"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// Engine creates WebRTC VAD sessions. It is stateless and safe for
// concurrent use.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	det, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create detector: %w", err)
	}
	if err := det.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}
	if !det.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameSamples()) {
		return nil, fmt.Errorf("%w: %d Hz with %d-sample frames", vad.ErrUnsupportedSampleRate, cfg.SampleRate, cfg.FrameSamples())
	}

	return &session{
		det:        det,
		rate:       cfg.SampleRate,
		frameBytes: cfg.FrameSamples() * 2,
	}, nil
}

type session struct {
	mu         sync.Mutex
	det        *webrtcvad.VAD
	rate       int
	frameBytes int
	wasSpeech  bool
	closed     bool
}

var _ vad.SessionHandle = (*session)(nil)

func (s *session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.VADEvent{Type: types.VADSilence}, vad.ErrSessionClosed
	}
	if len(frame) != s.frameBytes {
		return types.VADEvent{Type: types.VADSilence}, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}

	active, err := s.det.Process(s.rate, frame)
	if err != nil {
		return types.VADEvent{Type: types.VADSilence}, fmt.Errorf("webrtc vad: process: %w", err)
	}

	prob := 0.0
	if active {
		prob = 1.0
	}
	ev := vad.Transition(s.wasSpeech, active, prob)
	s.wasSpeech = active
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wasSpeech = false
}

// Close drops the detector reference; the binding frees native memory via a
// finalizer.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.det = nil
	return nil
}
