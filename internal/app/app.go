// Package app wires all VoiceGuard subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Start begins monitoring, and Shutdown tears everything down in
// order.
//
// For testing, inject mock implementations through [Providers] and the
// functional options (WithTransports, WithMetrics). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voiceguard/internal/alert"
	"github.com/MrWong99/voiceguard/internal/analysis"
	"github.com/MrWong99/voiceguard/internal/config"
	"github.com/MrWong99/voiceguard/internal/monitor"
	"github.com/MrWong99/voiceguard/internal/observe"
	"github.com/MrWong99/voiceguard/internal/resilience"
	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/provider/stt"
	"github.com/MrWong99/voiceguard/pkg/provider/vad"
)

// sttBreaker is the circuit breaker applied to each STT backend when
// fallbacks are configured.
var sttBreaker = resilience.CircuitBreakerConfig{
	MaxFailures:  3,
	ResetTimeout: 30 * time.Second,
	HalfOpenMax:  1,
}

// Providers holds one interface value per provider slot. Nil STT means
// content analysis is unavailable. Populated by main.go via the config
// registry.
type Providers struct {
	VAD     vad.Engine
	Capture audio.Source
	STT     stt.Provider

	// STTFallbacks are tried in order when STT fails.
	STTFallbacks []NamedSTT

	Store incident.Store
}

// NamedSTT is an STT provider with the name used for its circuit breaker.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// App owns all subsystem lifetimes and orchestrates the VoiceGuard pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	analyzer   *analysis.Analyzer
	transports []alert.Transport
	dispatcher *alert.Dispatcher
	session    *monitor.Session
	metrics    *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTransports injects alert transports instead of creating them from the
// alerts config section.
func WithTransports(ts ...alert.Transport) Option {
	return func(a *App) { a.transports = append(a.transports, ts...) }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously but does not start
// monitoring; call [App.Start].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers must not be nil")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Content analysis ──────────────────────────────────────────────
	if err := a.initAnalysis(); err != nil {
		return nil, fmt.Errorf("app: init analysis: %w", err)
	}

	// ── 2. Alert transports + dispatcher ─────────────────────────────────
	if err := a.initAlerts(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init alerts: %w", err)
	}

	// ── 3. Monitoring session ────────────────────────────────────────────
	if err := a.initSession(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// Providers are closed last, after the transports.
	a.addProviderClosers()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAnalysis builds the transcript analyzer when analysis is enabled and an
// STT provider is available.
func (a *App) initAnalysis() error {
	ac := a.cfg.Analysis
	if !ac.Enabled {
		return nil
	}
	if a.providers.STT == nil {
		slog.Warn("analysis enabled but no STT provider available; incidents will be recorded audio-only")
		return nil
	}

	provider := a.providers.STT
	if len(a.providers.STTFallbacks) > 0 {
		fb := resilience.NewSTTFallback(provider, a.cfg.Providers.STT.Name, resilience.FallbackConfig{CircuitBreaker: sttBreaker})
		for _, f := range a.providers.STTFallbacks {
			fb.AddFallback(f.Name, f.Provider)
		}
		provider = fb
		slog.Info("stt fallback chain configured", "primary", a.cfg.Providers.STT.Name, "fallbacks", len(a.providers.STTFallbacks))
	}

	an, err := analysis.New(provider, analysis.NewScorer(keywordTables(ac), scorerOptions(ac)...), analysis.WithTimeout(ac.Timeout))
	if err != nil {
		return err
	}
	a.analyzer = an
	return nil
}

// initAlerts creates one transport per configured alert channel and the
// dispatcher routing between them.
func (a *App) initAlerts(ctx context.Context) error {
	if len(a.transports) == 0 {
		ts, closers, err := buildTransports(ctx, a.cfg.Alerts)
		if err != nil {
			return err
		}
		a.transports = ts
		a.closers = append(a.closers, closers...)
	}

	opts := []alert.Option{
		alert.WithTimeout(a.cfg.Alerts.Timeout),
		alert.WithMetrics(a.metrics),
	}
	for _, t := range a.transports {
		opts = append(opts, alert.WithTransport(t))
	}
	a.dispatcher = alert.NewDispatcher(opts...)

	if err := a.checkDestinations(a.cfg.Alerts.Destinations); err != nil {
		return err
	}
	return nil
}

// buildTransports creates the transports whose config section is filled in.
func buildTransports(ctx context.Context, ac config.AlertsConfig) ([]alert.Transport, []func() error, error) {
	var (
		ts      []alert.Transport
		closers []func() error
	)
	if ac.SMS.APIURL != "" {
		sms, err := alert.NewSMS(ac.SMS.APIURL, ac.SMS.APIKey)
		if err != nil {
			return nil, nil, err
		}
		ts = append(ts, sms)
	}
	if ac.Discord.Token != "" {
		d, err := alert.NewDiscord(ac.Discord.Token)
		if err != nil {
			return nil, nil, err
		}
		ts = append(ts, d)
		closers = append(closers, d.Close)
	}
	if ac.Redis.URL != "" {
		r, err := alert.NewRedisStream(ctx, ac.Redis.URL)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		ts = append(ts, r)
		closers = append(closers, r.Close)
	}
	for _, t := range ts {
		slog.Info("alert transport ready", "scheme", t.Scheme())
	}
	return ts, closers, nil
}

// initSession builds the monitoring session from the detection config.
func (a *App) initSession() error {
	cfg := a.cfg
	th := cfg.Thresholds()
	cd := cfg.CooldownConfig()

	mc := monitor.Config{
		Source:           a.providers.Capture,
		VAD:              a.providers.VAD,
		VADConfig:        cfg.VADConfig(),
		Window:           cfg.Detection.WindowFrames,
		Thresholds:       &th,
		Cooldown:         &cd,
		EvidenceDuration: cfg.Detection.EvidenceDuration(),
		EvidenceWindow:   cfg.Detection.EvidenceWindow(),
		PollInterval:     cfg.Audio.PollInterval,
		Store:            a.providers.Store,
		Dispatcher:       a.dispatcher,
		AlertMessage:     cfg.Alerts.Message,
		Destinations:     cfg.Alerts.Destinations,
		Metrics:          a.metrics,
	}
	// A nil *analysis.Analyzer must not become a non-nil interface.
	if a.analyzer != nil {
		mc.Analyzer = a.analyzer
	}

	s, err := monitor.New(mc)
	if err != nil {
		return err
	}
	s.OnIncident(func(inc incident.Incident) {
		slog.Warn("incident recorded",
			"incident_id", inc.ID,
			"level", inc.ThreatLevel,
			"evidence_saved", inc.Saved,
			"analysed", inc.Analysis != nil,
		)
	})
	a.session = s
	return nil
}

// addProviderClosers registers Close for every provider implementing
// io.Closer.
func (a *App) addProviderClosers() {
	var cs []any
	cs = append(cs, a.providers.STT)
	for _, f := range a.providers.STTFallbacks {
		cs = append(cs, f.Provider)
	}
	cs = append(cs, a.providers.Store)
	for _, c := range cs {
		if closer, ok := c.(io.Closer); ok {
			a.closers = append(a.closers, closer.Close)
		}
	}
}

// ─── Runtime ─────────────────────────────────────────────────────────────────

// Session returns the monitoring session.
func (a *App) Session() *monitor.Session { return a.session }

// Store returns the incident store.
func (a *App) Store() incident.Store { return a.providers.Store }

// Dispatcher returns the alert dispatcher.
func (a *App) Dispatcher() *alert.Dispatcher { return a.dispatcher }

// AnalysisEnabled reports whether incidents are enriched with transcripts.
func (a *App) AnalysisEnabled() bool { return a.analyzer != nil }

// Start begins monitoring. Starting an active app is a no-op.
func (a *App) Start(ctx context.Context) error {
	err := a.session.Start(ctx)
	if errors.Is(err, monitor.ErrAlreadyActive) {
		slog.Info("monitoring already active", "session_id", a.session.ID())
		return nil
	}
	return err
}

// SetDestinations validates dests against the configured transports and
// replaces the session's destination snapshot.
func (a *App) SetDestinations(dests []string) error {
	if err := a.checkDestinations(dests); err != nil {
		return err
	}
	a.session.SetAlertDestinations(dests)
	slog.Info("alert destinations updated", "count", len(dests))
	return nil
}

// checkDestinations rejects malformed destinations and schemes without a
// transport.
func (a *App) checkDestinations(dests []string) error {
	if err := alert.ValidateDestinations(dests); err != nil {
		return err
	}
	schemes := a.dispatcher.Schemes()
	var errs []error
	for _, d := range dests {
		scheme, _, _ := alert.ParseDestination(d)
		if !slices.Contains(schemes, scheme) {
			errs = append(errs, fmt.Errorf("%w: no transport for scheme %q", alert.ErrNoTransport, scheme))
		}
	}
	return errors.Join(errs...)
}

// ApplyConfig applies the hot-reloadable parts of a config change. The log
// level is owned by main; restart-only sections are ignored here.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if !d.DestinationsChanged {
		return
	}
	if err := a.SetDestinations(d.NewDestinations); err != nil {
		slog.Error("rejected reloaded alert destinations", "err", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops monitoring and tears down all subsystems. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop monitoring first so no incident is in flight.
		if err := a.session.Stop(ctx); err != nil {
			slog.Warn("monitor stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs every registered closer, ignoring errors. Used when New fails
// half-way.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// keywordTables merges the configured indicator tables over the built-in
// ones. A table without terms keeps the built-in list; a zero weight keeps
// the built-in weight.
func keywordTables(ac config.AnalysisConfig) analysis.Tables {
	t := analysis.DefaultTables()
	merge := func(dst *analysis.Table, src config.KeywordTable) {
		if len(src.Terms) > 0 {
			dst.Terms = slices.Clone(src.Terms)
		}
		if src.Weight > 0 {
			dst.Weight = src.Weight
		}
	}
	merge(&t.High, ac.High)
	merge(&t.Medium, ac.Medium)
	merge(&t.Regional, ac.Regional)
	return t
}

func scorerOptions(ac config.AnalysisConfig) []analysis.ScorerOption {
	var opts []analysis.ScorerOption
	if ac.FuzzyThreshold != nil {
		opts = append(opts, analysis.WithFuzzyThreshold(*ac.FuzzyThreshold))
	}
	if ac.Shouting != nil {
		opts = append(opts, analysis.WithShouting(*ac.Shouting))
	}
	if ac.Exclamations != nil {
		opts = append(opts, analysis.WithExclamations(*ac.Exclamations))
	}
	return opts
}
