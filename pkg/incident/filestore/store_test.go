package filestore_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/incident/filestore"
	"github.com/MrWong99/voiceguard/pkg/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newStore(t *testing.T, opts ...filestore.Option) (*filestore.Store, string, string) {
	t.Helper()
	root := t.TempDir()
	inc, ev := filepath.Join(root, "incidents"), filepath.Join(root, "evidence")
	s, err := filestore.New(inc, ev, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, inc, ev
}

func request(n int) incident.Request {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i)
	}
	return incident.Request{
		Assessment: types.Assessment{Volume: 16500, Confidence: 0.85, Level: types.ThreatHigh},
		Samples:    samples,
		SampleRate: 16000,
	}
}

func TestStore_RecordWritesMetadataAndEvidence(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, incDir, _ := newStore(t, filestore.WithClock(clk.now))
	ctx := context.Background()

	req := request(16000 * 8)
	req.Analysis = &types.ContentAnalysis{Transcript: "help me", Language: "en", Score: 0.3, Level: types.ThreatLow, Indicators: []string{"help"}}
	inc, err := s.Record(ctx, req)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if inc.ID != "incident_20260301_120001_000001" {
		t.Errorf("ID = %q", inc.ID)
	}
	if !inc.Saved || inc.DurationSeconds != 8 || inc.SampleRate != 16000 {
		t.Errorf("evidence = %+v", inc.Evidence)
	}
	if inc.DetectionSystem != incident.DetectionSystem {
		t.Errorf("DetectionSystem = %q", inc.DetectionSystem)
	}

	raw, err := os.ReadFile(filepath.Join(incDir, inc.ID+".json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	for _, field := range []string{`"incident_id"`, `"threat_level": "HIGH"`, `"audio_saved": true`, `"transcript": "help me"`} {
		if !bytes.Contains(raw, []byte(field)) {
			t.Errorf("metadata missing %s:\n%s", field, raw)
		}
	}

	wav, err := s.Evidence(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Evidence: %v", err)
	}
	samples, rate, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 || len(samples) != len(req.Samples) || samples[100] != 100 {
		t.Errorf("decoded rate %d len %d", rate, len(samples))
	}
}

func TestStore_EmptyEvidenceStillPersistsMetadata(t *testing.T) {
	t.Parallel()
	s, _, _ := newStore(t)
	inc, err := s.Record(context.Background(), request(0))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if inc.Saved || inc.DurationSeconds != 0 || inc.AudioFile != nil {
		t.Errorf("expected unsaved evidence, got %+v", inc.Evidence)
	}
	sum, _ := s.Summary(context.Background())
	if sum.Total != 1 {
		t.Errorf("Total = %d, want 1", sum.Total)
	}
}

func TestStore_EvidenceWriteFailureStillPersistsMetadata(t *testing.T) {
	t.Parallel()
	s, _, evDir := newStore(t)
	// Replace the evidence directory with a regular file so writes fail.
	if err := os.RemoveAll(evDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(evDir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	inc, err := s.Record(context.Background(), request(1600))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if inc.Saved {
		t.Error("expected Saved=false when evidence cannot be written")
	}
}

func TestStore_MetadataFailureIsError(t *testing.T) {
	t.Parallel()
	s, incDir, _ := newStore(t)
	if err := os.RemoveAll(incDir); err != nil {
		t.Fatal(err)
	}
	_, err := s.Record(context.Background(), request(10))
	if !errors.Is(err, incident.ErrMetadata) {
		t.Errorf("expected ErrMetadata, got %v", err)
	}
}

func TestStore_IDsStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	// A frozen clock forces every ID to share the same timestamp.
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newStore(t, filestore.WithClock(func() time.Time { return frozen }))

	seen := map[string]bool{}
	var prev uint64
	var prevID string
	for range 20 {
		inc, err := s.Record(context.Background(), request(10))
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if inc.Sequence <= prev {
			t.Fatalf("sequence %d not greater than %d", inc.Sequence, prev)
		}
		if seen[inc.ID] {
			t.Fatalf("duplicate id %s", inc.ID)
		}
		if inc.ID <= prevID {
			t.Fatalf("id %s not greater than %s", inc.ID, prevID)
		}
		seen[inc.ID] = true
		prev, prevID = inc.Sequence, inc.ID
	}
}

func TestStore_SummaryNewestFirstSkipsCorrupt(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)}
	s, incDir, _ := newStore(t, filestore.WithClock(clk.now))
	ctx := context.Background()

	for range 3 {
		if _, err := s.Record(ctx, request(100)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(incDir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(incDir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 3 || len(sum.Incidents) != 3 {
		t.Fatalf("Total = %d, len = %d, want 3", sum.Total, len(sum.Incidents))
	}
	for i := 1; i < len(sum.Incidents); i++ {
		if sum.Incidents[i].Timestamp.After(sum.Incidents[i-1].Timestamp) {
			t.Errorf("summary not newest first at %d", i)
		}
	}
	if sum.Incidents[0].Sequence != 3 {
		t.Errorf("newest sequence = %d, want 3", sum.Incidents[0].Sequence)
	}
}

func TestStore_SequenceResumesAfterRestart(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	inc, ev := filepath.Join(root, "i"), filepath.Join(root, "e")

	first, _ := filestore.New(inc, ev)
	for range 2 {
		if _, err := first.Record(context.Background(), request(10)); err != nil {
			t.Fatal(err)
		}
	}

	second, err := filestore.New(inc, ev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := second.Record(context.Background(), request(10))
	if err != nil {
		t.Fatal(err)
	}
	if got.Sequence != 3 || !strings.HasSuffix(got.ID, "_000003") {
		t.Errorf("resumed incident = %d %s, want sequence 3", got.Sequence, got.ID)
	}
}

func TestStore_EvidenceNotFound(t *testing.T) {
	t.Parallel()
	s, _, _ := newStore(t)
	if _, err := s.Evidence(context.Background(), "incident_missing"); !errors.Is(err, incident.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Evidence(context.Background(), "../etc/passwd"); err == nil {
		t.Error("expected error for path traversal")
	}
}

func TestStore_Float32Encoding(t *testing.T) {
	t.Parallel()
	s, _, _ := newStore(t, filestore.WithEncoding(audio.EncodingFloat32))
	inc, err := s.Record(context.Background(), request(100))
	if err != nil {
		t.Fatal(err)
	}
	wav, _ := s.Evidence(context.Background(), inc.ID)
	if len(wav) < 22 || wav[20] != 3 {
		t.Errorf("expected IEEE float format tag, got %v", wav[20])
	}
}
