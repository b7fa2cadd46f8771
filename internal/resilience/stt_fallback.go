package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voiceguard/pkg/provider/stt"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the clip through the first healthy backend. Empty audio and
// a cancelled context are returned immediately without trying fallbacks or
// counting against any breaker.
func (f *STTFallback) Transcribe(ctx context.Context, samples []int16, sampleRate int) (types.Transcript, error) {
	if len(samples) == 0 {
		return types.Transcript{}, stt.ErrEmptyAudio
	}
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, err
	}
	tr, err := ExecuteWithResult(f.group, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, samples, sampleRate)
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return types.Transcript{}, errors.Join(err, ctx.Err())
	}
	return tr, err
}
