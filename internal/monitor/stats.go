package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a snapshot of the counters of the current or last run.
type Stats struct {
	StartedAt        time.Time `json:"started_at"`
	Chunks           int64     `json:"chunks"`
	SpeechChunks     int64     `json:"speech_chunks"`
	HighThreatChunks int64     `json:"high_threat_chunks"`
	Incidents        int64     `json:"incidents"`
	IncidentFailures int64     `json:"incident_failures"`
}

// SpeechRatio is the fraction of chunks with detected speech.
func (s Stats) SpeechRatio() float64 {
	if s.Chunks == 0 {
		return 0
	}
	return float64(s.SpeechChunks) / float64(s.Chunks)
}

// HighRatio is the fraction of speech chunks classified HIGH. Chunks without
// speech are never classified, so they do not dilute the ratio.
func (s Stats) HighRatio() float64 {
	if s.SpeechChunks == 0 {
		return 0
	}
	return float64(s.HighThreatChunks) / float64(s.SpeechChunks)
}

type counters struct {
	mu        sync.Mutex
	startedAt time.Time

	chunks, speech, high, incidents, failures atomic.Int64
}

func (c *counters) reset(now time.Time) {
	c.mu.Lock()
	c.startedAt = now
	c.mu.Unlock()
	c.chunks.Store(0)
	c.speech.Store(0)
	c.high.Store(0)
	c.incidents.Store(0)
	c.failures.Store(0)
}

// observe counts one chunk and returns the new chunk total.
func (c *counters) observe(speech, high bool) int64 {
	if speech {
		c.speech.Add(1)
	}
	if high {
		c.high.Add(1)
	}
	return c.chunks.Add(1)
}

func (c *counters) incidentRecorded() { c.incidents.Add(1) }
func (c *counters) incidentFailed()   { c.failures.Add(1) }

// Stats returns the counters of the current run, or of the last run when the
// session is inactive.
func (s *Session) Stats() Stats {
	s.stats.mu.Lock()
	started := s.stats.startedAt
	s.stats.mu.Unlock()
	return Stats{
		StartedAt:        started,
		Chunks:           s.stats.chunks.Load(),
		SpeechChunks:     s.stats.speech.Load(),
		HighThreatChunks: s.stats.high.Load(),
		Incidents:        s.stats.incidents.Load(),
		IncidentFailures: s.stats.failures.Load(),
	}
}
