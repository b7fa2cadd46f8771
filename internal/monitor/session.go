// Package monitor runs the VoiceGuard detection loop.
//
// A [Session] owns one monitoring run at a time: it starts the audio source,
// feeds every chunk into the evidence buffer and the speech detector,
// classifies cycles with speech, and when the cooldown controller confirms a
// sustained HIGH threat it snapshots the evidence window, optionally runs
// content analysis, records the incident, notifies listeners and dispatches
// alerts.
//
// The detector, cooldown state and evidence buffer belong to the monitoring
// goroutine and are never touched from outside it. Alert destinations are a
// copy-on-write snapshot read once per incident.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voiceguard/internal/alert"
	"github.com/MrWong99/voiceguard/internal/detector"
	"github.com/MrWong99/voiceguard/internal/evidence"
	"github.com/MrWong99/voiceguard/internal/observe"
	"github.com/MrWong99/voiceguard/internal/threat"
	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/provider/vad"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// ErrAlreadyActive is returned by [Session.Start] when a run is in progress.
// The running session is left untouched.
var ErrAlreadyActive = errors.New("monitor: already active")

// Status is the externally visible state of a [Session].
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"

	// StatusError means the last run ended because the audio source failed.
	StatusError Status = "error"
)

const (
	defaultEvidenceDuration = 15 * time.Second
	defaultEvidenceWindow   = 8 * time.Second
	defaultPollInterval     = 100 * time.Millisecond
	defaultStatsEvery       = 100
)

// Analyzer produces the transcript-based enrichment for an evidence window.
type Analyzer interface {
	Analyze(ctx context.Context, samples []int16, sampleRate int) (*types.ContentAnalysis, error)
}

// Dispatcher delivers an alert to a snapshot of destinations.
type Dispatcher interface {
	Dispatch(ctx context.Context, dests []string, a alert.Alert) []alert.Result
}

// Config holds the collaborators and tuning of a [Session].
type Config struct {
	// Source delivers audio chunks. Required.
	Source audio.Source

	// VAD creates the per-run speech detector session. Required.
	VAD vad.Engine

	// VADConfig tunes the VAD. SampleRate is taken from Source.
	VADConfig vad.Config

	// Window is the number of frames in the rolling speech confidence.
	// Default: [detector.DefaultWindow].
	Window int

	// Thresholds configures the acoustic classifier.
	// Default: [threat.DefaultThresholds].
	Thresholds *threat.Thresholds

	// Cooldown configures incident confirmation and rate limiting.
	// Default: [threat.DefaultCooldown].
	Cooldown *threat.CooldownConfig

	// EvidenceDuration is the evidence buffer capacity. Default: 15 s.
	EvidenceDuration time.Duration

	// EvidenceWindow is how much audio is attached to an incident. Default: 8 s.
	EvidenceWindow time.Duration

	// PollInterval bounds each pull from the source, and so how quickly Stop
	// is observed. Default: 100 ms.
	PollInterval time.Duration

	// Store persists incidents. Required.
	Store incident.Store

	// Analyzer is optional. When nil incidents are recorded audio-only.
	Analyzer Analyzer

	// Dispatcher is optional. When nil no alerts are sent.
	Dispatcher Dispatcher

	// AlertMessage is the SOS text. Empty selects [alert.DefaultMessage].
	AlertMessage string

	// Destinations is the initial alert destination list.
	Destinations []string

	// StatsEvery logs pipeline statistics every that many chunks.
	// Default: 100. Negative disables periodic logging.
	StatsEvery int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now is the clock used for chunks without a capture timestamp.
	// Default: time.Now.
	Now func() time.Time
}

// run is the state of one Start..Stop cycle.
type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	// stopErr is the audio source's Stop error. Written by the loop before
	// done is closed.
	stopErr error
}

// Session is the monitoring controller. All exported methods are safe for
// concurrent use.
type Session struct {
	cfg        Config
	classifier *threat.Classifier
	cooldown   threat.CooldownConfig

	// lifeMu serialises Start and Stop.
	lifeMu sync.Mutex

	mu        sync.Mutex
	status    Status
	lastErr   error
	current   *run
	listeners []func(incident.Incident)

	dests atomic.Pointer[[]string]
	stats counters
}

// New validates cfg and returns an inactive Session.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("audio source must not be nil"))
	}
	if cfg.VAD == nil {
		errs = append(errs, errors.New("vad engine must not be nil"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("incident store must not be nil"))
	}

	th := threat.DefaultThresholds
	if cfg.Thresholds != nil {
		th = *cfg.Thresholds
	}
	classifier, err := threat.NewClassifier(th)
	if err != nil {
		errs = append(errs, err)
	}

	cd := threat.DefaultCooldown
	if cfg.Cooldown != nil {
		cd = *cfg.Cooldown
	}
	if _, err := threat.NewCooldown(cd); err != nil {
		errs = append(errs, err)
	}

	if cfg.EvidenceDuration <= 0 {
		cfg.EvidenceDuration = defaultEvidenceDuration
	}
	if cfg.EvidenceWindow <= 0 {
		cfg.EvidenceWindow = defaultEvidenceWindow
	}
	if cfg.EvidenceWindow > cfg.EvidenceDuration {
		errs = append(errs, fmt.Errorf("evidence window %s exceeds buffer duration %s", cfg.EvidenceWindow, cfg.EvidenceDuration))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("monitor: invalid config: %w", errors.Join(errs...))
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StatsEvery == 0 {
		cfg.StatsEvery = defaultStatsEvery
	}
	if cfg.Window <= 0 {
		cfg.Window = detector.DefaultWindow
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Session{
		cfg:        cfg,
		classifier: classifier,
		cooldown:   cd,
		status:     StatusInactive,
	}
	s.SetAlertDestinations(cfg.Destinations)
	return s, nil
}

// Start begins monitoring. It returns [ErrAlreadyActive] if a run is in
// progress. The run outlives ctx's cancellation but inherits its values; use
// [Session.Stop] to end it.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	active := s.current != nil
	s.mu.Unlock()
	if active {
		return ErrAlreadyActive
	}

	rate := s.cfg.Source.SampleRate()
	vcfg := s.cfg.VADConfig
	vcfg.SampleRate = rate
	det, err := detector.New(s.cfg.VAD, vcfg,
		detector.WithWindow(s.cfg.Window),
		detector.WithFrameErrorHook(func(error) {
			s.cfg.Metrics.VADFrameErrors.Add(context.Background(), 1)
		}),
	)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	buf, err := evidence.New(s.cfg.EvidenceDuration, rate)
	if err != nil {
		_ = det.Close()
		return fmt.Errorf("monitor: %w", err)
	}
	cd, _ := threat.NewCooldown(s.cooldown)

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(observe.WithSession(context.WithoutCancel(ctx), id))
	if err := s.cfg.Source.Start(runCtx); err != nil {
		cancel()
		_ = det.Close()
		return fmt.Errorf("monitor: start audio source: %w", err)
	}

	r := &run{id: id, cancel: cancel, done: make(chan struct{})}
	s.stats.reset(s.cfg.Now())

	s.mu.Lock()
	s.current = r
	s.status = StatusActive
	s.lastErr = nil
	s.mu.Unlock()

	s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(runCtx).Info("monitor: session started",
		"sample_rate", rate,
		"aggressiveness", vcfg.Aggressiveness,
		"evidence_window", s.cfg.EvidenceWindow,
	)

	l := &loop{
		s:        s,
		run:      r,
		rate:     rate,
		det:      det,
		evidence: buf,
		cooldown: cd,
	}
	go l.monitor(runCtx)
	return nil
}

// Stop ends the current run and waits for the monitoring loop to exit. The
// loop stops the audio source on its way out. Stop on an inactive session is
// a no-op. If ctx expires before the loop exits, Stop returns ctx's error and
// the loop finishes in the background, still releasing the source.
func (s *Session) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("monitor: stop: %w", ctx.Err())
	}

	err := r.stopErr

	s.mu.Lock()
	if s.status == StatusActive {
		s.status = StatusInactive
	}
	s.mu.Unlock()

	st := s.Stats()
	slog.Info("monitor: session stopped",
		"session_id", r.id,
		"chunks", st.Chunks,
		"speech_ratio", st.SpeechRatio(),
		"high_threat_ratio", st.HighRatio(),
		"incidents", st.Incidents,
	)
	if err != nil {
		return fmt.Errorf("monitor: stop audio source: %w", err)
	}
	return nil
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error that ended the last run, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ID returns the identifier of the current run, or "" when inactive.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

// SetAlertDestinations replaces the destination snapshot. The slice is
// copied; an incident in flight keeps the snapshot it already read.
func (s *Session) SetAlertDestinations(dests []string) {
	cp := slices.Clone(dests)
	s.dests.Store(&cp)
}

// AlertDestinations returns a copy of the current destinations.
func (s *Session) AlertDestinations() []string {
	return slices.Clone(*s.dests.Load())
}

// IncidentSummary returns all persisted incidents, most recent first.
func (s *Session) IncidentSummary(ctx context.Context) (incident.Summary, error) {
	sum, err := s.cfg.Store.Summary(ctx)
	if err != nil {
		return incident.Summary{}, fmt.Errorf("monitor: incident summary: %w", err)
	}
	return sum, nil
}

// OnIncident registers fn to be called for every recorded incident. fn runs on
// the monitoring goroutine and must not block.
func (s *Session) OnIncident(fn func(incident.Incident)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) notify(inc incident.Incident) {
	s.mu.Lock()
	ls := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(inc)
	}
}

// finish is called by the loop when it exits. sourceErr is non-nil when the
// audio source ended the run.
func (s *Session) finish(r *run, sourceErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != r {
		return
	}
	s.current = nil
	if sourceErr != nil {
		s.status = StatusError
		s.lastErr = sourceErr
	} else if s.status == StatusActive {
		s.status = StatusInactive
	}
}
