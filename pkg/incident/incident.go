// Package incident defines the persisted incident record and the Store
// interface implemented by the incident backends.
//
// An incident pairs a metadata record with an evidence WAV file. Both are
// keyed by the incident ID. Backends:
//
//   - incident/filestore: JSON metadata and WAV files in two directories.
//   - incident/postgres: two tables in PostgreSQL (pgx).
//
// Evidence persistence is best-effort: if the audio cannot be written the
// record is still stored with Saved=false. Only a metadata failure makes
// [Store.Record] return an error.
package incident

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// DetectionSystem is stamped on every record.
const DetectionSystem = "VoiceGuard v1.0"

var (
	// ErrMetadata wraps failures to persist incident metadata.
	ErrMetadata = errors.New("incident: metadata not persisted")

	// ErrNotFound is returned when no incident or evidence exists for an ID.
	ErrNotFound = errors.New("incident: not found")
)

// Evidence describes the audio saved for an incident. Fields are inlined into
// the JSON record.
type Evidence struct {
	// AudioFile is the backend-specific reference to the WAV data (a file path
	// or a database key). Nil, and null in JSON, when Saved is false.
	AudioFile *string `json:"audio_file"`

	// DurationSeconds is the length of the saved audio. 0 when Saved is false.
	DurationSeconds float64 `json:"audio_duration_seconds"`

	// Saved reports whether the audio was persisted.
	Saved bool `json:"audio_saved"`

	// SampleRate of the saved audio in Hz.
	SampleRate int `json:"sample_rate"`
}

// AudioPath returns the evidence reference, or "" when no audio was saved.
func (e Evidence) AudioPath() string {
	if e.AudioFile == nil {
		return ""
	}
	return *e.AudioFile
}

// MarkSaved records that the evidence for samples was persisted under ref.
func (e *Evidence) MarkSaved(ref string, samples int) {
	e.AudioFile = &ref
	e.Saved = true
	e.DurationSeconds = DurationSeconds(samples, e.SampleRate)
}

// Incident is an immutable record of a confirmed sustained high-threat
// condition.
type Incident struct {
	ID               string            `json:"incident_id"`
	Sequence         uint64            `json:"sequence"`
	Timestamp        time.Time         `json:"timestamp"`
	ThreatLevel      types.ThreatLevel `json:"threat_level"`
	Volume           float64           `json:"volume"`
	SpeechConfidence float64           `json:"speech_confidence"`
	Evidence
	Analysis        *types.ContentAnalysis `json:"content_analysis,omitempty"`
	DetectionSystem string                 `json:"detection_system"`
}

// Request carries everything needed to record an incident.
type Request struct {
	// Assessment is the snapshot that triggered the incident.
	Assessment types.Assessment

	// Samples is the evidence window. May be empty.
	Samples []int16

	// SampleRate of Samples in Hz.
	SampleRate int

	// Analysis is the optional content analysis result.
	Analysis *types.ContentAnalysis
}

// Summary lists persisted incidents, newest first.
type Summary struct {
	Total     int        `json:"total_incidents"`
	Incidents []Incident `json:"incidents"`
}

// Store persists incidents. Implementations must be safe for concurrent use.
type Store interface {
	// Record assigns the next ID, persists evidence (best-effort) and
	// metadata, and returns the stored record. Errors wrap [ErrMetadata].
	Record(ctx context.Context, req Request) (Incident, error)

	// Summary returns all readable records, newest first. Unreadable records
	// are skipped with a warning.
	Summary(ctx context.Context) (Summary, error)

	// Evidence returns the WAV bytes saved for id, or [ErrNotFound].
	Evidence(ctx context.Context, id string) ([]byte, error)

	// Close releases backend resources.
	Close() error
}

// New builds the record for req. The evidence fields are left for the
// backend to fill in.
func New(seq uint64, id string, at time.Time, req Request) Incident {
	return Incident{
		ID:               id,
		Sequence:         seq,
		Timestamp:        at,
		ThreatLevel:      req.Assessment.Level,
		Volume:           req.Assessment.Volume,
		SpeechConfidence: req.Assessment.Confidence,
		Evidence:         Evidence{SampleRate: req.SampleRate},
		Analysis:         req.Analysis,
		DetectionSystem:  DetectionSystem,
	}
}

// EncodeEvidence renders samples as a WAV file.
func EncodeEvidence(samples []int16, sampleRate int, enc audio.Encoding) ([]byte, error) {
	if len(samples) == 0 {
		return nil, errors.New("incident: empty evidence window")
	}
	var buf bytes.Buffer
	buf.Grow(64 + len(samples)*4)
	if err := audio.EncodeWAV(&buf, samples, sampleRate, enc); err != nil {
		return nil, fmt.Errorf("incident: encode evidence: %w", err)
	}
	return buf.Bytes(), nil
}

// DurationSeconds returns the playback length of n samples at rate.
func DurationSeconds(n, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(rate)
}

// SortNewestFirst orders incidents by timestamp descending, breaking ties by
// sequence descending.
func SortNewestFirst(incidents []Incident) {
	slices.SortStableFunc(incidents, func(a, b Incident) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.Sequence > b.Sequence:
			return -1
		case a.Sequence < b.Sequence:
			return 1
		}
		return 0
	})
}

// ── Sequencer ────────────────────────────────────────────────────────────────

// Sequencer hands out strictly increasing sequence numbers and the matching
// incident IDs. Safe for concurrent use.
type Sequencer struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

// NewSequencer returns a Sequencer starting after last, using now as clock.
// A nil now selects time.Now.
func NewSequencer(last uint64, now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{last: last, now: now}
}

// Next returns the next sequence number, its ID, and the creation time.
func (s *Sequencer) Next() (uint64, string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	at := s.now().UTC()
	return s.last, FormatID(at, s.last), at
}

// Last returns the most recently issued sequence number.
func (s *Sequencer) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// FormatID renders an incident ID: incident_YYYYMMDD_HHMMSS_NNNNNN.
func FormatID(at time.Time, seq uint64) string {
	return fmt.Sprintf("incident_%s_%06d", at.UTC().Format("20060102_150405"), seq)
}
