// Package stt defines the Provider interface for Speech-to-Text backends.
//
// VoiceGuard transcribes finished evidence windows rather than live audio, so
// the central abstraction is a single batch call: hand over a clip of mono
// 16-bit PCM and receive the recognised text together with the detected
// language. Backends:
//
//   - stt/whisper: a whisper.cpp HTTP server (Provider) or the in-process
//     whisper.cpp CGO bindings (NativeProvider).
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/voiceguard/pkg/types"
)

// AutoLanguage asks the backend to detect the spoken language.
const AutoLanguage = "auto"

// ErrEmptyAudio is returned when Transcribe is called with no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe recognises speech in samples (mono, 16-bit, sampleRate Hz).
	// A clip without recognisable speech yields a Transcript with empty Text
	// and a nil error. Returns [ErrEmptyAudio] for a zero-length clip.
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (types.Transcript, error)
}
