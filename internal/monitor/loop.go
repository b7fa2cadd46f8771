package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voiceguard/internal/alert"
	"github.com/MrWong99/voiceguard/internal/detector"
	"github.com/MrWong99/voiceguard/internal/evidence"
	"github.com/MrWong99/voiceguard/internal/observe"
	"github.com/MrWong99/voiceguard/internal/threat"
	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// incidentTimeout bounds persistence and alerting of one incident once the
// run context no longer applies.
const incidentTimeout = 30 * time.Second

// loop holds the state owned by the monitoring goroutine.
type loop struct {
	s    *Session
	run  *run
	rate int

	det      *detector.Detector
	evidence *evidence.Buffer
	cooldown *threat.Cooldown
}

func (l *loop) monitor(ctx context.Context) {
	s := l.s
	log := observe.Logger(ctx)

	var sourceErr error
	defer func() {
		if err := l.det.Close(); err != nil {
			log.Warn("monitor: close vad session", "err", err)
		}
		// The capture device is released on every exit path, including a
		// Stop whose caller gave up waiting.
		if err := s.cfg.Source.Stop(); err != nil {
			l.run.stopErr = err
			log.Warn("monitor: stop audio source", "err", err)
		}
		s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
		s.finish(l.run, sourceErr)
		close(l.run.done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		chunk, err := s.cfg.Source.Pull(ctx, s.cfg.PollInterval)
		switch {
		case err == nil:
			l.process(ctx, chunk)
		case errors.Is(err, audio.ErrNoData):
		case ctx.Err() != nil:
			return
		case errors.Is(err, audio.ErrSourceStopped):
			sourceErr = l.sourceFailure()
			if sourceErr != nil {
				log.Error("monitor: audio source failed, stopping session", "err", sourceErr)
			} else {
				log.Info("monitor: audio source ended, stopping session")
			}
			return
		default:
			log.Warn("monitor: pull audio", "err", err)
		}
	}
}

// sourceFailure returns the capture error of sources that expose one. A
// source without a recorded error ended normally (e.g. a finished file).
func (l *loop) sourceFailure() error {
	es, ok := l.s.cfg.Source.(interface{ Err() error })
	if !ok {
		return nil
	}
	if err := es.Err(); err != nil {
		return fmt.Errorf("%w: %w", audio.ErrSourceStopped, err)
	}
	return nil
}

// process runs one monitoring cycle for chunk.
func (l *loop) process(ctx context.Context, chunk audio.Chunk) {
	s := l.s
	m := s.cfg.Metrics
	if chunk.SampleRate == 0 {
		chunk.SampleRate = l.rate
	}
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = s.cfg.Now()
	}

	l.evidence.Add(chunk.Samples)
	l.det.AddAudio(chunk.Samples)
	speech := l.det.PollSpeech()

	var a types.Assessment
	if speech {
		a = s.classifier.Assess(chunk, l.det.Confidence())
		m.SpeechChunks.Add(ctx, 1)
	} else {
		a = threat.Silent(chunk, l.det.Confidence())
	}
	m.ChunksProcessed.Add(ctx, 1)
	m.RecordAssessment(ctx, a.Level.String())
	n := s.stats.observe(speech, a.Level == types.ThreatHigh)

	if a.Level >= types.ThreatMedium {
		slog.Debug("monitor: elevated threat",
			"level", a.Level.String(),
			"volume", a.Volume,
			"confidence", a.Confidence,
			"consecutive_high", l.cooldown.Consecutive(),
		)
	}

	if l.cooldown.Observe(a.Level, a.At) {
		l.fire(ctx, a)
	}

	if s.cfg.StatsEvery > 0 && n%int64(s.cfg.StatsEvery) == 0 {
		st := s.Stats()
		observe.Logger(ctx).Info("monitor: statistics",
			"chunks", st.Chunks,
			"speech_ratio", st.SpeechRatio(),
			"high_threat_ratio", st.HighRatio(),
			"incidents", st.Incidents,
			"vad_frame_errors", l.det.FrameErrors(),
		)
	}
}

// fire handles a confirmed incident: snapshot the evidence, analyse it,
// persist the record, then notify and alert. Every step after the snapshot is
// best-effort except persistence, and nothing is retried.
func (l *loop) fire(ctx context.Context, a types.Assessment) {
	s := l.s
	m := s.cfg.Metrics

	ctx, span := observe.StartSpan(ctx, "monitor.incident")
	defer span.End()
	log := observe.Logger(ctx)

	dests := *s.dests.Load()
	samples := l.evidence.Recent(s.cfg.EvidenceWindow)
	log.Warn("monitor: sustained high threat confirmed",
		"volume", a.Volume,
		"confidence", a.Confidence,
		"evidence_samples", len(samples),
	)

	var analysis *types.ContentAnalysis
	if s.cfg.Analyzer != nil {
		start := time.Now()
		res, err := s.cfg.Analyzer.Analyze(ctx, samples, l.rate)
		m.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			m.AnalysisErrors.Add(ctx, 1)
			log.Warn("monitor: content analysis failed, recording audio-only incident", "err", err)
		} else {
			analysis = res
		}
	}

	// A confirmed incident is persisted and alerted even when Stop cancels
	// the run mid-analysis.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), incidentTimeout)
	defer cancel()

	inc, err := s.cfg.Store.Record(ctx, incident.Request{
		Assessment: a,
		Samples:    samples,
		SampleRate: l.rate,
		Analysis:   analysis,
	})
	if err != nil {
		m.IncidentFailures.Add(ctx, 1)
		s.stats.incidentFailed()
		log.Error("monitor: incident not recorded", "err", err)
		return
	}
	m.RecordIncident(ctx, inc.ThreatLevel.String())
	if !inc.Saved {
		m.EvidenceFailures.Add(ctx, 1)
	}
	s.stats.incidentRecorded()
	log.Info("monitor: incident recorded",
		"incident_id", inc.ID,
		"audio_saved", inc.Saved,
		"duration_s", inc.DurationSeconds,
	)

	s.notify(inc)

	if s.cfg.Dispatcher == nil || len(dests) == 0 {
		return
	}
	results := s.cfg.Dispatcher.Dispatch(ctx, dests, alert.FromIncident(inc, s.cfg.AlertMessage))
	var ok int
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	log.Info("monitor: alerts dispatched", "incident_id", inc.ID, "delivered", ok, "destinations", len(results))
}
