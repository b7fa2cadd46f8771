// Package threat scores monitoring cycles and decides when a sustained
// high-threat condition becomes an incident.
//
// [Classifier] is a pure function of (volume, confidence) and is safe for
// concurrent use. [Cooldown] is a small state machine owned by the
// monitoring loop.
package threat

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// Thresholds holds the cut-offs used by [Classifier]. Volumes are RMS in raw
// int16 units; confidences are fractions in [0, 1].
type Thresholds struct {
	VolumeHigh       float64
	VolumeLow        float64
	ConfidenceHigh   float64
	ConfidenceMedium float64
}

// DefaultThresholds are tuned for a close-range microphone at 16 kHz.
var DefaultThresholds = Thresholds{
	VolumeHigh:       15000,
	VolumeLow:        8000,
	ConfidenceHigh:   0.7,
	ConfidenceMedium: 0.5,
}

// Validate reports inconsistent thresholds. Ordering constraints keep the
// classifier monotonic in both inputs.
func (t Thresholds) Validate() error {
	var errs []error
	if t.VolumeLow < 0 || t.VolumeHigh < 0 {
		errs = append(errs, fmt.Errorf("volume thresholds must be non-negative (low %.0f, high %.0f)", t.VolumeLow, t.VolumeHigh))
	}
	if t.VolumeLow > t.VolumeHigh {
		errs = append(errs, fmt.Errorf("volume_low %.0f must not exceed volume_high %.0f", t.VolumeLow, t.VolumeHigh))
	}
	if t.ConfidenceHigh < 0 || t.ConfidenceHigh > 1 {
		errs = append(errs, fmt.Errorf("confidence_high %.2f is out of range [0, 1]", t.ConfidenceHigh))
	}
	if t.ConfidenceMedium < 0 || t.ConfidenceMedium > 1 {
		errs = append(errs, fmt.Errorf("confidence_medium %.2f is out of range [0, 1]", t.ConfidenceMedium))
	}
	if t.ConfidenceMedium > t.ConfidenceHigh {
		errs = append(errs, fmt.Errorf("confidence_medium %.2f must not exceed confidence_high %.2f", t.ConfidenceMedium, t.ConfidenceHigh))
	}
	return errors.Join(errs...)
}

// Classifier maps acoustic features to a threat level.
type Classifier struct {
	th Thresholds
}

// NewClassifier returns a Classifier for th.
func NewClassifier(th Thresholds) (*Classifier, error) {
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("threat: invalid thresholds: %w", err)
	}
	return &Classifier{th: th}, nil
}

// Thresholds returns the configured cut-offs.
func (c *Classifier) Thresholds() Thresholds { return c.th }

// Level returns HIGH when both volume and confidence exceed the high
// cut-offs, MEDIUM when both exceed the lower cut-offs, and LOW otherwise.
// NONE is never returned; it is reserved for cycles without speech.
func (c *Classifier) Level(volume, confidence float64) types.ThreatLevel {
	switch {
	case volume > c.th.VolumeHigh && confidence > c.th.ConfidenceHigh:
		return types.ThreatHigh
	case volume > c.th.VolumeLow && confidence > c.th.ConfidenceMedium:
		return types.ThreatMedium
	default:
		return types.ThreatLow
	}
}

// Assess computes the RMS volume of chunk and classifies it together with
// the rolling speech confidence.
func (c *Classifier) Assess(chunk audio.Chunk, confidence float64) types.Assessment {
	vol := audio.RMS(chunk.Samples)
	return types.Assessment{
		Volume:     vol,
		Confidence: confidence,
		Level:      c.Level(vol, confidence),
		At:         chunk.Timestamp,
	}
}

// Silent returns the assessment for a cycle in which no speech was detected.
func Silent(chunk audio.Chunk, confidence float64) types.Assessment {
	return types.Assessment{
		Volume:     audio.RMS(chunk.Samples),
		Confidence: confidence,
		Level:      types.ThreatNone,
		At:         chunk.Timestamp,
	}
}
