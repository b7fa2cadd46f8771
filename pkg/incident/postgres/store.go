package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// Compile-time interface check.
var _ incident.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithEncoding selects the WAV sample format. Default: [audio.EncodingPCM16].
func WithEncoding(enc audio.Encoding) Option {
	return func(s *Store) {
		if enc != "" {
			s.enc = enc
		}
	}
}

// WithClock overrides the clock used to timestamp incidents.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a PostgreSQL-backed [incident.Store]. The sequence counter is
// process-local and seeded from the table at start-up, so a database must be
// written by a single VoiceGuard process. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	enc  audio.Encoding
	now  func() time.Time
	seq  *incident.Sequencer

	// mu serialises Record so rows are inserted in sequence order.
	mu sync.Mutex
}

// NewStore connects to dsn, runs [Migrate], and seeds the sequence counter
// from the highest stored sequence.
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	var last int64
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM incidents`).Scan(&last); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: read sequence: %w", err)
	}

	s := &Store{pool: pool, enc: audio.EncodingPCM16}
	for _, o := range opts {
		o(s)
	}
	s.seq = incident.NewSequencer(uint64(last), s.now)
	return s, nil
}

// Ping checks connectivity. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Record implements [incident.Store].
func (s *Store) Record(ctx context.Context, req incident.Request) (incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, id, at := s.seq.Next()
	inc := incident.New(seq, id, at, req)

	if err := s.insertEvidence(ctx, id, req); err != nil {
		slog.Warn("postgres store: evidence not saved", "incident_id", id, "err", err)
	} else {
		inc.MarkSaved("incident_evidence/"+id, len(req.Samples))
	}

	var analysis []byte
	if inc.Analysis != nil {
		var err error
		analysis, err = json.Marshal(inc.Analysis)
		if err != nil {
			return incident.Incident{}, fmt.Errorf("%w: marshal analysis %s: %w", incident.ErrMetadata, id, err)
		}
	}

	const q = `
		INSERT INTO incidents
		    (id, sequence, created_at, threat_level, volume, speech_confidence,
		     audio_file, audio_duration_seconds, audio_saved, sample_rate, analysis, detection_system)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
		inc.ID, int64(inc.Sequence), inc.Timestamp, inc.ThreatLevel.String(),
		inc.Volume, inc.SpeechConfidence,
		inc.AudioPath(), inc.DurationSeconds, inc.Saved, inc.SampleRate,
		analysis, inc.DetectionSystem,
	)
	if err != nil {
		if inc.Saved {
			// Do not leave evidence without a record.
			if _, derr := s.pool.Exec(context.WithoutCancel(ctx), `DELETE FROM incident_evidence WHERE incident_id = $1`, id); derr != nil {
				slog.Warn("postgres store: remove orphaned evidence", "incident_id", id, "err", derr)
			}
		}
		return incident.Incident{}, fmt.Errorf("%w: insert %s: %w", incident.ErrMetadata, id, err)
	}
	return inc, nil
}

func (s *Store) insertEvidence(ctx context.Context, id string, req incident.Request) error {
	wav, err := incident.EncodeEvidence(req.Samples, req.SampleRate, s.enc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO incident_evidence (incident_id, wav) VALUES ($1, $2)`, id, wav)
	return err
}

// Summary implements [incident.Store].
func (s *Store) Summary(ctx context.Context) (incident.Summary, error) {
	const q = `
		SELECT id, sequence, created_at, threat_level, volume, speech_confidence,
		       audio_file, audio_duration_seconds, audio_saved, sample_rate, analysis, detection_system
		FROM incidents
		ORDER BY created_at DESC, sequence DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return incident.Summary{}, fmt.Errorf("postgres store: summary: %w", err)
	}
	defer rows.Close()

	var out []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			slog.Warn("postgres store: skipping unreadable incident", "err", err)
			continue
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return incident.Summary{}, fmt.Errorf("postgres store: summary rows: %w", err)
	}
	if out == nil {
		out = []incident.Incident{}
	}
	return incident.Summary{Total: len(out), Incidents: out}, nil
}

func scanIncident(rows pgx.Rows) (incident.Incident, error) {
	var (
		inc      incident.Incident
		seq      int64
		level    string
		audio    string
		analysis []byte
	)
	if err := rows.Scan(
		&inc.ID, &seq, &inc.Timestamp, &level, &inc.Volume, &inc.SpeechConfidence,
		&audio, &inc.DurationSeconds, &inc.Saved, &inc.SampleRate, &analysis, &inc.DetectionSystem,
	); err != nil {
		return incident.Incident{}, err
	}
	inc.Sequence = uint64(seq)
	if audio != "" {
		inc.AudioFile = &audio
	}

	lvl, err := types.ParseThreatLevel(level)
	if err != nil {
		return incident.Incident{}, fmt.Errorf("incident %s: %w", inc.ID, err)
	}
	inc.ThreatLevel = lvl

	if len(analysis) > 0 {
		var a types.ContentAnalysis
		if err := json.Unmarshal(analysis, &a); err != nil {
			return incident.Incident{}, fmt.Errorf("incident %s: decode analysis: %w", inc.ID, err)
		}
		inc.Analysis = &a
	}
	inc.Timestamp = inc.Timestamp.UTC()
	return inc, nil
}

// Evidence implements [incident.Store].
func (s *Store) Evidence(ctx context.Context, id string) ([]byte, error) {
	var wav []byte
	err := s.pool.QueryRow(ctx, `SELECT wav FROM incident_evidence WHERE incident_id = $1`, id).Scan(&wav)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: evidence %s", incident.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: read evidence %s: %w", id, err)
	}
	return wav, nil
}

// Close implements [incident.Store]. It releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
