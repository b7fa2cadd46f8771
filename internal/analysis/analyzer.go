// Package analysis enriches incidents with a transcript-based content
// analysis.
//
// An [Analyzer] transcribes the evidence window through an [stt.Provider] and
// scores the text with a [Scorer]: weighted indicator tables plus shouting and
// exclamation heuristics. Analysis is best-effort. Callers record the incident
// audio-only when Analyze returns an error.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voiceguard/internal/observe"
	"github.com/MrWong99/voiceguard/pkg/provider/stt"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// UnknownLanguage is reported when the recogniser gives no language.
const UnknownLanguage = "unknown"

const defaultTimeout = 20 * time.Second

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithTimeout bounds a single Analyze call. Default: 20 s.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// Analyzer combines transcription with keyword scoring. Safe for concurrent
// use when the provider is.
type Analyzer struct {
	provider stt.Provider
	scorer   *Scorer
	timeout  time.Duration
}

// New returns an Analyzer. provider and scorer must be non-nil.
func New(provider stt.Provider, scorer *Scorer, opts ...Option) (*Analyzer, error) {
	if provider == nil {
		return nil, errors.New("analysis: stt provider must not be nil")
	}
	if scorer == nil {
		return nil, errors.New("analysis: scorer must not be nil")
	}
	a := &Analyzer{provider: provider, scorer: scorer, timeout: defaultTimeout}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Analyze transcribes samples and scores the transcript. A clip without
// recognisable speech yields an analysis with an empty transcript and level
// NONE.
func (a *Analyzer) Analyze(ctx context.Context, samples []int16, sampleRate int) (_ *types.ContentAnalysis, err error) {
	ctx, span := observe.StartSpan(ctx, "analysis.analyze")
	defer func() { observe.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	tr, err := a.provider.Transcribe(ctx, samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("analysis: transcribe: %w", err)
	}

	score := a.scorer.Score(tr.Text)
	lang := tr.Language
	if lang == "" {
		lang = UnknownLanguage
	}
	return &types.ContentAnalysis{
		Transcript: tr.Text,
		Language:   lang,
		Score:      score.Value,
		Level:      score.Level,
		Indicators: score.Indicators,
	}, nil
}
