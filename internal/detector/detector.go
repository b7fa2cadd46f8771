// Package detector turns an arbitrary stream of audio chunks into per-frame
// speech decisions and a rolling speech confidence.
//
// Chunk boundaries need not align with VAD frames: samples are accumulated in
// a leftover buffer and only complete frames are classified. Each decision is
// appended to a fixed-capacity window; [Detector.Confidence] is the fraction of
// speech frames in that window.
//
// A Detector is owned by a single goroutine (the monitoring loop) and is not
// safe for concurrent use.
package detector

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/provider/vad"
)

// DefaultWindow is the number of frame decisions kept for the confidence.
const DefaultWindow = 20

// Option configures a [Detector].
type Option func(*Detector)

// WithWindow sets the rolling window capacity. Values ≤ 0 are ignored.
func WithWindow(k int) Option {
	return func(d *Detector) {
		if k > 0 {
			d.window = make([]bool, k)
		}
	}
}

// WithFrameErrorHook registers fn to be called for every frame the VAD
// session failed to classify. Useful for metrics.
func WithFrameErrorHook(fn func(error)) Option {
	return func(d *Detector) { d.onFrameErr = fn }
}

// Detector is the frame-level voice activity detector with a rolling window.
type Detector struct {
	sess         vad.SessionHandle
	frameSamples int

	leftover []int16

	window []bool
	head   int // next write position
	count  int // filled slots
	speech int // true slots

	onFrameErr func(error)
	frameErrs  int
}

// New opens a VAD session on engine and wraps it in a Detector. The session
// is owned by the Detector and released by [Detector.Close].
func New(engine vad.Engine, cfg vad.Config, opts ...Option) (*Detector, error) {
	if engine == nil {
		return nil, errors.New("detector: vad engine must not be nil")
	}
	if cfg.FrameSizeMs == 0 {
		cfg.FrameSizeMs = vad.DefaultFrameSizeMs
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	sess, err := engine.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("detector: open vad session: %w", err)
	}

	d := &Detector{
		sess:         sess,
		frameSamples: cfg.FrameSamples(),
		window:       make([]bool, DefaultWindow),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// FrameSamples returns the number of samples per classified frame.
func (d *Detector) FrameSamples() int { return d.frameSamples }

// AddAudio appends samples to the pending buffer.
func (d *Detector) AddAudio(samples []int16) {
	d.leftover = append(d.leftover, samples...)
}

// PollSpeech classifies every complete frame in the pending buffer, records
// each decision in the window, and reports whether any of them was speech.
// A frame the VAD fails on counts as non-speech. Incomplete trailing samples
// stay buffered for the next call.
func (d *Detector) PollSpeech() bool {
	found := false
	off := 0
	for ; off+d.frameSamples <= len(d.leftover); off += d.frameSamples {
		frame := audio.SamplesToBytes(d.leftover[off : off+d.frameSamples])
		ev, err := d.sess.ProcessFrame(frame)
		speech := false
		if err != nil {
			d.frameErrs++
			slog.Warn("detector: frame classification failed, treating as non-speech", "err", err)
			if d.onFrameErr != nil {
				d.onFrameErr(err)
			}
		} else {
			speech = ev.IsSpeech()
		}
		d.record(speech)
		found = found || speech
	}
	if off > 0 {
		n := copy(d.leftover, d.leftover[off:])
		d.leftover = d.leftover[:n]
	}
	return found
}

func (d *Detector) record(speech bool) {
	if d.count == len(d.window) {
		if d.window[d.head] {
			d.speech--
		}
	} else {
		d.count++
	}
	d.window[d.head] = speech
	if speech {
		d.speech++
	}
	d.head = (d.head + 1) % len(d.window)
}

// Confidence returns the fraction of speech frames in the window, in [0, 1].
// It is 0 before any frame has been classified.
func (d *Detector) Confidence() float64 {
	if d.count == 0 {
		return 0
	}
	return float64(d.speech) / float64(d.count)
}

// Pending returns the number of buffered samples not yet forming a frame.
func (d *Detector) Pending() int { return len(d.leftover) }

// FrameErrors returns the number of frames the VAD failed to classify.
func (d *Detector) FrameErrors() int { return d.frameErrs }

// Reset clears the pending buffer, the window, and the VAD session state.
func (d *Detector) Reset() {
	d.leftover = d.leftover[:0]
	clear(d.window)
	d.head, d.count, d.speech = 0, 0, 0
	d.sess.Reset()
}

// Close releases the VAD session.
func (d *Detector) Close() error {
	return d.sess.Close()
}
