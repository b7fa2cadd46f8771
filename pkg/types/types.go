// Package types defines the shared types used across all VoiceGuard packages.
//
// These types form the lingua franca between the audio source, the VAD
// providers, the threat classifier, the incident stores and the alert
// dispatcher. They are intentionally minimal. Each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import (
	"fmt"
	"strings"
	"time"
)

// ThreatLevel is the discrete severity assigned to an observation.
// Levels are ordered: NONE < LOW < MEDIUM < HIGH.
type ThreatLevel int

const (
	// ThreatNone is reserved for cycles without detected speech.
	ThreatNone ThreatLevel = iota

	// ThreatLow is the default level for detected speech.
	ThreatLow

	// ThreatMedium marks elevated volume combined with moderate speech confidence.
	ThreatMedium

	// ThreatHigh marks loud, confidently detected speech.
	ThreatHigh
)

// String returns the upper-case name of the level.
func (l ThreatLevel) String() string {
	switch l {
	case ThreatNone:
		return "NONE"
	case ThreatLow:
		return "LOW"
	case ThreatMedium:
		return "MEDIUM"
	case ThreatHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler so levels serialise by name.
func (l ThreatLevel) MarshalText() ([]byte, error) {
	if l < ThreatNone || l > ThreatHigh {
		return nil, fmt.Errorf("types: invalid threat level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *ThreatLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseThreatLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseThreatLevel parses a case-insensitive level name.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE", "":
		return ThreatNone, nil
	case "LOW":
		return ThreatLow, nil
	case "MEDIUM":
		return ThreatMedium, nil
	case "HIGH":
		return ThreatHigh, nil
	}
	return ThreatNone, fmt.Errorf("types: unknown threat level %q", s)
}

// Assessment is the result of classifying one monitoring cycle.
type Assessment struct {
	// Volume is the RMS amplitude of the chunk in raw int16 units. Always ≥ 0.
	Volume float64

	// Confidence is the rolling speech confidence in [0, 1].
	Confidence float64

	// Level is the classified threat level.
	Level ThreatLevel

	// At is when the assessed chunk was captured.
	At time.Time
}

// ContentAnalysis is the transcript-based enrichment attached to an incident.
// All fields may be zero when analysis is unavailable.
type ContentAnalysis struct {
	// Transcript is the recognised text. Empty when nothing was recognised.
	Transcript string `json:"transcript"`

	// Language is the detected or configured language tag (e.g. "en", "hi").
	Language string `json:"language"`

	// Score is the keyword threat score in [0, 1].
	Score float64 `json:"text_threat_score"`

	// Level is the threat level derived from Score.
	Level ThreatLevel `json:"text_threat_level"`

	// Indicators lists the matched threat terms and heuristic markers.
	Indicators []string `json:"threat_indicators"`
}

// Transcript is a speech-to-text result for a finished audio clip.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language tag reported by the recogniser. May be empty.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0). Binary
	// detectors report 1 for speech and 0 for silence.
	Probability float64
}

// IsSpeech reports whether the event marks a speech frame.
func (e VADEvent) IsSpeech() bool {
	return e.Type == VADSpeechStart || e.Type == VADSpeechContinue
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)
