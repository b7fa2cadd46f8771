package postgres_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/incident/postgres"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICEGUARD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICEGUARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICEGUARD_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the incident tables and returns a fresh store.
func newTestStore(t *testing.T, opts ...postgres.Option) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS incident_evidence",
		"DROP TABLE IF EXISTS incidents",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop: %v", err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func request(n int) incident.Request {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	return incident.Request{
		Assessment: types.Assessment{Volume: 17000, Confidence: 0.9, Level: types.ThreatHigh},
		Samples:    samples,
		SampleRate: 16000,
	}
}

func TestStore_RecordAndSummary(t *testing.T) {
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	store := newTestStore(t, postgres.WithClock(clock))
	ctx := context.Background()

	req := request(16000)
	req.Analysis = &types.ContentAnalysis{Transcript: "stop", Language: "en", Score: 0.15, Level: types.ThreatLow, Indicators: []string{"stop"}}
	first, err := store.Record(ctx, req)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.ID != "incident_20260402_090001_000001" || !first.Saved || first.DurationSeconds != 1 {
		t.Errorf("first = %+v", first)
	}
	if _, err := store.Record(ctx, request(0)); err != nil {
		t.Fatalf("Record empty: %v", err)
	}

	sum, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 2 {
		t.Fatalf("Total = %d, want 2", sum.Total)
	}
	if sum.Incidents[0].Sequence != 2 || sum.Incidents[0].Saved {
		t.Errorf("newest = %+v", sum.Incidents[0])
	}
	got := sum.Incidents[1]
	if got.Analysis == nil || got.Analysis.Transcript != "stop" || got.ThreatLevel != types.ThreatHigh {
		t.Errorf("oldest = %+v", got)
	}

	wav, err := store.Evidence(ctx, first.ID)
	if err != nil {
		t.Fatalf("Evidence: %v", err)
	}
	samples, rate, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil || rate != 16000 || len(samples) != 16000 {
		t.Errorf("decoded %d samples at %d Hz, err %v", len(samples), rate, err)
	}
}

func TestStore_EvidenceNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Evidence(context.Background(), "incident_missing")
	if !errors.Is(err, incident.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SequenceResumes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for range 3 {
		if _, err := store.Record(ctx, request(10)); err != nil {
			t.Fatal(err)
		}
	}
	_ = store.Close()

	again, err := postgres.NewStore(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer again.Close()
	inc, err := again.Record(ctx, request(10))
	if err != nil {
		t.Fatal(err)
	}
	if inc.Sequence != 4 {
		t.Errorf("Sequence = %d, want 4", inc.Sequence)
	}
}
