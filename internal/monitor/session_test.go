package monitor_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voiceguard/internal/alert"
	"github.com/MrWong99/voiceguard/internal/monitor"
	"github.com/MrWong99/voiceguard/internal/observe"
	"github.com/MrWong99/voiceguard/internal/threat"
	"github.com/MrWong99/voiceguard/pkg/audio"
	audiomock "github.com/MrWong99/voiceguard/pkg/audio/mock"
	"github.com/MrWong99/voiceguard/pkg/incident"
	incidentmock "github.com/MrWong99/voiceguard/pkg/incident/mock"
	vadmock "github.com/MrWong99/voiceguard/pkg/provider/vad/mock"
	"github.com/MrWong99/voiceguard/pkg/types"
)

const rate = 16000

var base = time.Date(2026, 5, 4, 22, 15, 0, 0, time.UTC)

// ── helpers ──────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func constant(n int, v int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// chunks builds one chunk per amplitude, each n samples long and step apart.
func chunks(n int, step time.Duration, amps ...int16) []audio.Chunk {
	out := make([]audio.Chunk, len(amps))
	for i, a := range amps {
		out[i] = audio.Chunk{Samples: constant(n, a), SampleRate: rate, Timestamp: base.Add(time.Duration(i) * step)}
	}
	return out
}

func repeat(v int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type fixture struct {
	src      *audiomock.Source
	store    *incidentmock.Store
	vad      *vadmock.Engine
	analyzer *stubAnalyzer
	disp     *stubDispatcher
}

func newFixture(cs []audio.Chunk) *fixture {
	return &fixture{
		src:   &audiomock.Source{Rate: rate, Chunks: cs, StopWhenDrained: true},
		store: &incidentmock.Store{},
		vad:   &vadmock.Engine{Session: &vadmock.Session{Decide: vadmock.LoudIsSpeech(1000)}},
	}
}

func (f *fixture) session(t *testing.T, mutate func(*monitor.Config)) *monitor.Session {
	t.Helper()
	cfg := monitor.Config{
		Source:       f.src,
		VAD:          f.vad,
		Store:        f.store,
		PollInterval: 10 * time.Millisecond,
		Metrics:      testMetrics(t),
	}
	if f.analyzer != nil {
		cfg.Analyzer = f.analyzer
	}
	if f.disp != nil {
		cfg.Dispatcher = f.disp
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := monitor.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// runToEnd starts s and waits until the drained source ends the run.
func runToEnd(t *testing.T, s *monitor.Session) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.ID() == "" })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 3s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type stubAnalyzer struct {
	result *types.ContentAnalysis
	err    error

	mu    sync.Mutex
	calls int
	got   int
}

func (a *stubAnalyzer) Analyze(_ context.Context, samples []int16, _ int) (*types.ContentAnalysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.got = len(samples)
	return a.result, a.err
}

// slowAnalyzer signals started on its first call, then either waits for ctx
// (delay zero) or sleeps for delay regardless of ctx.
type slowAnalyzer struct {
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func (a *slowAnalyzer) Analyze(ctx context.Context, _ []int16, _ int) (*types.ContentAnalysis, error) {
	a.once.Do(func() { close(a.started) })
	if a.delay == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	time.Sleep(a.delay)
	return nil, errors.New("transcription timed out")
}

func waitStarted(t *testing.T, a *slowAnalyzer) {
	t.Helper()
	select {
	case <-a.started:
	case <-time.After(3 * time.Second):
		t.Fatal("analysis never started")
	}
}

type stubDispatcher struct {
	mu    sync.Mutex
	dests [][]string
	sent  []alert.Alert
}

func (d *stubDispatcher) Dispatch(_ context.Context, dests []string, a alert.Alert) []alert.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dests = append(d.dests, slices.Clone(dests))
	d.sent = append(d.sent, a)
	out := make([]alert.Result, len(dests))
	for i, dst := range dests {
		out[i] = alert.Result{Destination: dst}
	}
	return out
}

type failingSource struct {
	*audiomock.Source
	err error
}

func (f failingSource) Err() error { return f.err }

// ── construction ─────────────────────────────────────────────────────────────

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := monitor.New(monitor.Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}

	f := newFixture(nil)
	_, err = monitor.New(monitor.Config{
		Source:           f.src,
		VAD:              f.vad,
		Store:            f.store,
		EvidenceDuration: 5 * time.Second,
		EvidenceWindow:   8 * time.Second,
	})
	if err == nil {
		t.Error("expected error for evidence window larger than buffer")
	}

	_, err = monitor.New(monitor.Config{
		Source:   f.src,
		VAD:      f.vad,
		Store:    f.store,
		Cooldown: &threat.CooldownConfig{RequiredConsecutive: 0, Period: time.Second},
	})
	if err == nil {
		t.Error("expected error for required_consecutive 0")
	}
}

// ── lifecycle ────────────────────────────────────────────────────────────────

func TestSession_StartStopIdempotent(t *testing.T) {
	f := newFixture(nil)
	f.src.StopWhenDrained = false
	s := f.session(t, nil)

	if s.Status() != monitor.StatusInactive {
		t.Fatalf("initial status = %s", s.Status())
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on inactive session: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status() != monitor.StatusActive || s.ID() == "" {
		t.Fatalf("status = %s, id = %q", s.Status(), s.ID())
	}
	if err := s.Start(context.Background()); !errors.Is(err, monitor.ErrAlreadyActive) {
		t.Fatalf("second Start err = %v, want ErrAlreadyActive", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Status() != monitor.StatusInactive {
		t.Errorf("status after Stop = %s", s.Status())
	}
	if f.src.StartCalls != 1 || f.src.StopCalls != 1 {
		t.Errorf("source start/stop calls = %d/%d, want 1/1", f.src.StartCalls, f.src.StopCalls)
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSession_StartSurvivesCallerContext(t *testing.T) {
	f := newFixture(nil)
	f.src.StopWhenDrained = false
	s := f.session(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)
	if s.Status() != monitor.StatusActive {
		t.Errorf("status = %s, want active after request context ends", s.Status())
	}
	_ = s.Stop(context.Background())
}

func TestSession_SourceFailureSetsError(t *testing.T) {
	boom := errors.New("device unplugged")
	f := newFixture(chunks(480, 30*time.Millisecond, 0, 0))
	src := failingSource{Source: f.src, err: boom}
	s := f.session(t, func(c *monitor.Config) { c.Source = src })

	runToEnd(t, s)

	if s.Status() != monitor.StatusError {
		t.Errorf("status = %s, want error", s.Status())
	}
	if !errors.Is(s.Err(), audio.ErrSourceStopped) || !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v", s.Err())
	}
	if f.src.StopCalls != 1 {
		t.Errorf("source stop calls = %d, want 1", f.src.StopCalls)
	}

	// A new run clears the error.
	f.src.StopWhenDrained = false
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Status() != monitor.StatusActive || s.Err() != nil {
		t.Errorf("status = %s, err = %v after restart", s.Status(), s.Err())
	}
	_ = s.Stop(context.Background())
}

func TestSession_DrainedSourceEndsInactive(t *testing.T) {
	f := newFixture(chunks(480, 30*time.Millisecond, 0, 0, 0))
	s := f.session(t, nil)
	runToEnd(t, s)
	if s.Status() != monitor.StatusInactive {
		t.Errorf("status = %s, want inactive", s.Status())
	}
}

// ── detection scenarios ──────────────────────────────────────────────────────

func TestSession_SustainedHighFiresOnce(t *testing.T) {
	// HIGH every 100 ms for 5 s, one consecutive cycle required, 30 s cooldown.
	amps := repeat(20000, 50)
	f := newFixture(chunks(1600, 100*time.Millisecond, amps...))
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1, Period: 30 * time.Second}
	})

	runToEnd(t, s)

	calls := f.store.Calls()
	if len(calls) != 1 {
		t.Fatalf("incidents = %d, want 1", len(calls))
	}
	req := calls[0]
	if !req.Assessment.At.Equal(base) {
		t.Errorf("incident fired at %s, want first chunk %s", req.Assessment.At, base)
	}
	if req.Assessment.Level != types.ThreatHigh || req.SampleRate != rate {
		t.Errorf("request = %+v", req.Assessment)
	}
	if len(req.Samples) != 1600 {
		t.Errorf("evidence samples = %d, want 1600 (all buffered audio)", len(req.Samples))
	}

	st := s.Stats()
	if st.Chunks != 50 || st.SpeechChunks != 50 || st.HighThreatChunks != 50 || st.Incidents != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.SpeechRatio() != 1 || st.HighRatio() != 1 {
		t.Errorf("ratios = %v/%v", st.SpeechRatio(), st.HighRatio())
	}
}

func TestSession_ConsecutiveCountResetsOnNonHigh(t *testing.T) {
	// One VAD frame per chunk: loud, loud, quiet, loud, loud, loud.
	f := newFixture(chunks(480, 30*time.Millisecond, 20000, 20000, 0, 20000, 20000, 20000))
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 3, Period: 30 * time.Second}
	})

	runToEnd(t, s)

	calls := f.store.Calls()
	if len(calls) != 1 {
		t.Fatalf("incidents = %d, want 1", len(calls))
	}
	if want := base.Add(5 * 30 * time.Millisecond); !calls[0].Assessment.At.Equal(want) {
		t.Errorf("fired at %s, want %s (sixth chunk)", calls[0].Assessment.At, want)
	}
}

func TestSession_SilenceNeverFires(t *testing.T) {
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(0, 20)...))
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1}
	})
	runToEnd(t, s)

	if n := len(f.store.Calls()); n != 0 {
		t.Errorf("incidents = %d, want 0", n)
	}
	if st := s.Stats(); st.SpeechChunks != 0 || st.Chunks != 20 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSession_QuietSpeechIsLow(t *testing.T) {
	// Speech well below the volume thresholds never escalates.
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(3000, 20)...))
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1}
	})
	runToEnd(t, s)

	if n := len(f.store.Calls()); n != 0 {
		t.Errorf("incidents = %d, want 0", n)
	}
	if st := s.Stats(); st.SpeechChunks != 20 || st.HighThreatChunks != 0 {
		t.Errorf("stats = %+v", st)
	}
}

// ── enrichment, persistence and alerts ───────────────────────────────────────

func TestSession_AnalyzerFailureRecordsAudioOnly(t *testing.T) {
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(20000, 5)...))
	f.analyzer = &stubAnalyzer{err: errors.New("stt offline")}
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1, Period: time.Minute}
	})
	runToEnd(t, s)

	incs := f.store.Incidents()
	if len(incs) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incs))
	}
	if !incs[0].Saved {
		t.Error("evidence should be saved")
	}
	if incs[0].Analysis != nil {
		t.Errorf("analysis = %+v, want none", incs[0].Analysis)
	}
	if f.analyzer.calls != 1 {
		t.Errorf("analyzer calls = %d", f.analyzer.calls)
	}
}

func TestSession_StopDuringAnalysisStillRecords(t *testing.T) {
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(20000, 5)...))
	f.src.StopWhenDrained = false
	f.disp = &stubDispatcher{}
	an := &slowAnalyzer{started: make(chan struct{})}
	s := f.session(t, func(c *monitor.Config) {
		c.Analyzer = an
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1, Period: time.Minute}
		c.Destinations = []string{"sms:+1"}
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, an)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	incs := f.store.Incidents()
	if len(incs) != 1 {
		t.Fatalf("incidents = %d, want the confirmed incident recorded", len(incs))
	}
	if incs[0].Analysis != nil {
		t.Errorf("analysis = %+v, want audio-only record", incs[0].Analysis)
	}
	if len(f.disp.sent) != 1 {
		t.Errorf("alerts = %d, want 1", len(f.disp.sent))
	}
	if st := s.Stats(); st.Incidents != 1 || st.IncidentFailures != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSession_StopDeadlineStillReleasesSource(t *testing.T) {
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(20000, 5)...))
	f.src.StopWhenDrained = false
	an := &slowAnalyzer{delay: 200 * time.Millisecond, started: make(chan struct{})}
	s := f.session(t, func(c *monitor.Config) {
		c.Analyzer = an
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1, Period: time.Minute}
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, an)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop err = %v, want deadline exceeded", err)
	}

	// The loop finishes the incident in the background, then releases the
	// source before the session reports inactive.
	waitFor(t, func() bool { return s.ID() == "" })
	if f.src.StopCalls != 1 {
		t.Errorf("source stop calls = %d, want 1", f.src.StopCalls)
	}
	if s.Status() != monitor.StatusInactive {
		t.Errorf("status = %s, want inactive", s.Status())
	}
	if got := len(f.store.Incidents()); got != 1 {
		t.Errorf("incidents = %d, want 1", got)
	}
}

func TestSession_AnalysisAttached(t *testing.T) {
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(20000, 3)...))
	want := &types.ContentAnalysis{Transcript: "get out", Language: "en", Score: 0.3, Level: types.ThreatLow, Indicators: []string{}}
	f.analyzer = &stubAnalyzer{result: want}
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1, Period: time.Minute}
	})
	runToEnd(t, s)

	incs := f.store.Incidents()
	if len(incs) != 1 || incs[0].Analysis == nil || incs[0].Analysis.Transcript != "get out" {
		t.Fatalf("incidents = %+v", incs)
	}
	if f.analyzer.got != 1600 {
		t.Errorf("analyzer got %d samples, want 1600", f.analyzer.got)
	}
}

func TestSession_RecordFailureContinues(t *testing.T) {
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(20000, 10)...))
	f.store.RecordErr = errors.New("disk full")
	f.disp = &stubDispatcher{}
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1, Period: 0}
		c.Destinations = []string{"sms:+1"}
	})
	runToEnd(t, s)

	st := s.Stats()
	if st.Chunks != 10 {
		t.Errorf("chunks = %d, want all 10 processed", st.Chunks)
	}
	if st.Incidents != 0 || st.IncidentFailures == 0 {
		t.Errorf("stats = %+v", st)
	}
	if len(f.disp.sent) != 0 {
		t.Error("no alert may be sent for an unrecorded incident")
	}
}

func TestSession_AlertsAndListeners(t *testing.T) {
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(20000, 3)...))
	f.disp = &stubDispatcher{}
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 1, Period: time.Minute}
		c.AlertMessage = "help"
	})
	s.SetAlertDestinations([]string{"sms:+1", "discord:42"})

	var got []incident.Incident
	s.OnIncident(func(inc incident.Incident) {
		got = append(got, inc)
		// Changes made while an incident is in flight apply to the next one.
		s.SetAlertDestinations([]string{"redis:alerts"})
	})

	runToEnd(t, s)

	if len(got) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(got))
	}
	if len(f.disp.sent) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(f.disp.sent))
	}
	if !slices.Equal(f.disp.dests[0], []string{"sms:+1", "discord:42"}) {
		t.Errorf("dispatched to %v", f.disp.dests[0])
	}
	if a := f.disp.sent[0]; a.IncidentID != got[0].ID || a.Message != "help" || a.Level != types.ThreatHigh {
		t.Errorf("alert = %+v", a)
	}
	if !slices.Equal(s.AlertDestinations(), []string{"redis:alerts"}) {
		t.Errorf("destinations = %v", s.AlertDestinations())
	}
}

func TestSession_SetAlertDestinationsCopies(t *testing.T) {
	f := newFixture(nil)
	s := f.session(t, nil)
	in := []string{"sms:+1"}
	s.SetAlertDestinations(in)
	in[0] = "sms:+2"
	if got := s.AlertDestinations(); got[0] != "sms:+1" {
		t.Errorf("destinations aliased caller slice: %v", got)
	}
}

func TestSession_IncidentSummary(t *testing.T) {
	f := newFixture(chunks(1600, 100*time.Millisecond, repeat(20000, 6)...))
	s := f.session(t, func(c *monitor.Config) {
		c.Cooldown = &threat.CooldownConfig{RequiredConsecutive: 3, Period: 0}
	})
	runToEnd(t, s)

	sum, err := s.IncidentSummary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 2 || len(sum.Incidents) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Incidents[0].Sequence < sum.Incidents[1].Sequence {
		t.Error("summary not newest first")
	}

	f.store.SummaryErr = errors.New("offline")
	if _, err := s.IncidentSummary(context.Background()); err == nil {
		t.Error("expected summary error")
	}
}
