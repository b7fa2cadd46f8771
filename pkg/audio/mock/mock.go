// Package mock provides an in-memory mock implementation of [audio.Source] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records every lifecycle call so that
// tests can assert on call counts, and it exposes exported fields that the test
// can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Rate:   16000,
//	    Chunks: []audio.Chunk{{Samples: loud, SampleRate: 16000}},
//	    StopWhenDrained: true,
//	}
//	sess := monitor.New(src, ...)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voiceguard/pkg/audio"
)

// Source is a scripted [audio.Source]. Pull hands out Chunks in order. Once
// they are exhausted it either reports [audio.ErrSourceStopped]
// (StopWhenDrained) or waits for the timeout and reports [audio.ErrNoData].
type Source struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to 16000 when zero.
	Rate int

	// Chunks are delivered by Pull in order.
	Chunks []audio.Chunk

	// StopWhenDrained makes Pull report ErrSourceStopped after the last chunk,
	// simulating a capture device failure or end of input.
	StopWhenDrained bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// PullErr, if non-nil, is returned by every Pull call instead of a chunk.
	PullErr error

	// --- Call records ---

	// StartCalls is the number of times Start was called.
	StartCalls int

	// StopCalls is the number of times Stop was called.
	StopCalls int

	// PullCalls is the number of times Pull was called.
	PullCalls int

	next      int
	recording bool
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.recording = true
	return nil
}

// Pull implements [audio.Source].
func (s *Source) Pull(ctx context.Context, timeout time.Duration) (audio.Chunk, error) {
	s.mu.Lock()
	s.PullCalls++
	if s.PullErr != nil {
		err := s.PullErr
		s.mu.Unlock()
		return audio.Chunk{}, err
	}
	if s.next < len(s.Chunks) {
		c := s.Chunks[s.next]
		s.next++
		s.mu.Unlock()
		return c, nil
	}
	stopped := s.StopWhenDrained || !s.recording
	s.mu.Unlock()

	if stopped {
		return audio.Chunk{}, audio.ErrSourceStopped
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return audio.Chunk{}, audio.ErrNoData
	case <-ctx.Done():
		return audio.Chunk{}, ctx.Err()
	}
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	s.recording = false
	return s.StopErr
}

// SampleRate implements [audio.Source].
func (s *Source) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Rate == 0 {
		return 16000
	}
	return s.Rate
}

// Push appends chunks to the script. Safe to call while the source is in use.
func (s *Source) Push(chunks ...audio.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Chunks = append(s.Chunks, chunks...)
}

// Consumed returns how many scripted chunks have been pulled.
func (s *Source) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

var _ audio.Source = (*Source)(nil)
