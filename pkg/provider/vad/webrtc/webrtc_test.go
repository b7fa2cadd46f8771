package webrtc_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voiceguard/pkg/provider/vad"
	"github.com/MrWong99/voiceguard/pkg/provider/vad/webrtc"
)

func TestSession_SilenceIsNotSpeech(t *testing.T) {
	t.Parallel()

	for _, rate := range vad.SupportedSampleRates {
		cfg := vad.Config{SampleRate: rate, FrameSizeMs: 30, Aggressiveness: 3}
		sess, err := webrtc.New().NewSession(cfg)
		if err != nil {
			t.Fatalf("NewSession(%d): %v", rate, err)
		}
		silence := make([]byte, cfg.FrameSamples()*2)
		for range 10 {
			ev, err := sess.ProcessFrame(silence)
			if err != nil {
				t.Fatalf("ProcessFrame(%d): %v", rate, err)
			}
			if ev.IsSpeech() {
				t.Fatalf("rate %d: silence classified as speech", rate)
			}
		}
		_ = sess.Close()
	}
}

func TestSession_WrongFrameSize(t *testing.T) {
	t.Parallel()
	sess, err := webrtc.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := sess.ProcessFrame(make([]byte, 10)); !errors.Is(err, vad.ErrFrameSize) {
		t.Errorf("expected ErrFrameSize, got %v", err)
	}
}

func TestNewSession_UnsupportedRate(t *testing.T) {
	t.Parallel()
	_, err := webrtc.New().NewSession(vad.Config{SampleRate: 44100, FrameSizeMs: 30})
	if !errors.Is(err, vad.ErrUnsupportedSampleRate) {
		t.Errorf("expected ErrUnsupportedSampleRate, got %v", err)
	}
}
