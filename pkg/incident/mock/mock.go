// Package mock provides an in-memory test double for [incident.Store].
//
// Records are kept in a slice and IDs are issued by a real
// [incident.Sequencer], so callers observe the same ID format as the
// persistent backends. Set RecordErr to simulate a metadata failure; a
// cancelled context fails Record the same way.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voiceguard/pkg/incident"
)

// Store is a mock implementation of incident.Store.
type Store struct {
	mu sync.Mutex

	// Now is the clock used for new records. Defaults to time.Now.
	Now func() time.Time

	// RecordErr, if non-nil, is returned by Record after the call is
	// recorded. The error is wrapped in [incident.ErrMetadata].
	RecordErr error

	// SummaryErr, if non-nil, is returned by Summary.
	SummaryErr error

	// RecordCalls records every Request passed to Record in order.
	RecordCalls []incident.Request

	// CloseCalls counts Close invocations.
	CloseCalls int

	seq       *incident.Sequencer
	incidents []incident.Incident
	evidence  map[string][]byte
}

var _ incident.Store = (*Store)(nil)

// Record implements incident.Store.
func (s *Store) Record(ctx context.Context, req incident.Request) (incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecordCalls = append(s.RecordCalls, req)
	if s.RecordErr != nil {
		return incident.Incident{}, fmt.Errorf("%w: %w", incident.ErrMetadata, s.RecordErr)
	}
	// Like the persistent backends, nothing is written for a cancelled ctx.
	if err := ctx.Err(); err != nil {
		return incident.Incident{}, fmt.Errorf("%w: %w", incident.ErrMetadata, err)
	}
	if s.seq == nil {
		s.seq = incident.NewSequencer(0, s.Now)
	}

	seq, id, at := s.seq.Next()
	inc := incident.New(seq, id, at, req)
	if wav, err := incident.EncodeEvidence(req.Samples, req.SampleRate, ""); err == nil {
		if s.evidence == nil {
			s.evidence = make(map[string][]byte)
		}
		s.evidence[id] = wav
		inc.MarkSaved("mock/"+id, len(req.Samples))
	}
	s.incidents = append(s.incidents, inc)
	return inc, nil
}

// Summary implements incident.Store.
func (s *Store) Summary(context.Context) (incident.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SummaryErr != nil {
		return incident.Summary{}, s.SummaryErr
	}
	out := slices.Clone(s.incidents)
	if out == nil {
		out = []incident.Incident{}
	}
	incident.SortNewestFirst(out)
	return incident.Summary{Total: len(out), Incidents: out}, nil
}

// Evidence implements incident.Store.
func (s *Store) Evidence(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wav, ok := s.evidence[id]
	if !ok {
		return nil, fmt.Errorf("%w: evidence %s", incident.ErrNotFound, id)
	}
	return wav, nil
}

// Close implements incident.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// Incidents returns a copy of the stored records in insertion order.
func (s *Store) Incidents() []incident.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.incidents)
}

// Calls returns a copy of the requests passed to Record.
func (s *Store) Calls() []incident.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.RecordCalls)
}
