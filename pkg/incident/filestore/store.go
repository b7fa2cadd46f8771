// Package filestore provides a directory-backed incident store. Each incident
// is written as <id>.json into the incidents directory and its evidence as
// <id>.wav into the evidence directory.
//
// Files are written to a temporary name and renamed into place so a crash
// never leaves a half-written record behind.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/incident"
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

// Store persists incidents as files. Safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	incidentsDir string
	evidenceDir  string
	enc          audio.Encoding
	now          func() time.Time
	seq          *incident.Sequencer
}

// New creates both directories if needed and returns a Store whose sequence
// continues after the highest sequence already on disk.
func New(incidentsDir, evidenceDir string, opts ...Option) (*Store, error) {
	for _, dir := range []string{incidentsDir, evidenceDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("filestore: create %q: %w", dir, err)
		}
	}
	s := &Store{
		incidentsDir: incidentsDir,
		evidenceDir:  evidenceDir,
		enc:          audio.EncodingPCM16,
	}
	for _, o := range opts {
		o(s)
	}

	existing, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var last uint64
	for _, inc := range existing {
		last = max(last, inc.Sequence)
	}
	s.seq = incident.NewSequencer(last, s.now)
	return s, nil
}

// Record implements [incident.Store].
func (s *Store) Record(ctx context.Context, req incident.Request) (incident.Incident, error) {
	if err := ctx.Err(); err != nil {
		return incident.Incident{}, fmt.Errorf("%w: %w", incident.ErrMetadata, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, id, at := s.seq.Next()
	inc := incident.New(seq, id, at, req)

	wavPath := filepath.Join(s.evidenceDir, id+".wav")
	if err := s.writeEvidence(wavPath, req); err != nil {
		slog.Warn("filestore: evidence not saved", "incident_id", id, "err", err)
	} else {
		inc.MarkSaved(wavPath, len(req.Samples))
	}

	data, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		return incident.Incident{}, fmt.Errorf("%w: marshal %s: %w", incident.ErrMetadata, id, err)
	}
	if err := writeAtomic(filepath.Join(s.incidentsDir, id+".json"), data); err != nil {
		return incident.Incident{}, fmt.Errorf("%w: write %s: %w", incident.ErrMetadata, id, err)
	}
	return inc, nil
}

func (s *Store) writeEvidence(path string, req incident.Request) error {
	wav, err := incident.EncodeEvidence(req.Samples, req.SampleRate, s.enc)
	if err != nil {
		return err
	}
	return writeAtomic(path, wav)
}

// Summary implements [incident.Store].
func (s *Store) Summary(ctx context.Context) (incident.Summary, error) {
	if err := ctx.Err(); err != nil {
		return incident.Summary{}, err
	}
	all, err := s.readAll()
	if err != nil {
		return incident.Summary{}, err
	}
	incident.SortNewestFirst(all)
	return incident.Summary{Total: len(all), Incidents: all}, nil
}

// Evidence implements [incident.Store].
func (s *Store) Evidence(_ context.Context, id string) ([]byte, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("filestore: invalid incident id %q", id)
	}
	data, err := os.ReadFile(filepath.Join(s.evidenceDir, id+".wav"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: evidence %s", incident.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read evidence %s: %w", id, err)
	}
	return data, nil
}

// Close implements [incident.Store]. It is a no-op.
func (s *Store) Close() error { return nil }

// readAll loads every metadata record, skipping files that cannot be read or
// decoded.
func (s *Store) readAll() ([]incident.Incident, error) {
	entries, err := os.ReadDir(s.incidentsDir)
	if err != nil {
		return nil, fmt.Errorf("filestore: list %q: %w", s.incidentsDir, err)
	}
	out := make([]incident.Incident, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.incidentsDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("filestore: skipping unreadable incident", "path", path, "err", err)
			continue
		}
		var inc incident.Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			slog.Warn("filestore: skipping corrupt incident", "path", path, "err", err)
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
