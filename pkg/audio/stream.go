package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize = 64
	defaultChunkSize = 1024
)

// CaptureFunc runs a capture device until ctx is cancelled or the device
// fails. Every block of captured mono samples is handed to emit. emit copies
// the samples, so the caller may reuse its buffer. A CaptureFunc must not call
// emit after it has returned.
type CaptureFunc func(ctx context.Context, emit func(samples []int16)) error

type streamState int

const (
	streamIdle streamState = iota
	streamRecording
	streamStopped
)

// StreamOption configures a [Stream].
type StreamOption func(*Stream)

// WithQueueSize sets the capacity of the chunk queue. When the queue is full
// the oldest chunk is dropped so capture never blocks. Default: 64.
func WithQueueSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithChunkSize sets the number of samples per emitted [Chunk]. Captured
// blocks are re-sliced to this size. Default: 1024.
func WithChunkSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithBackpressure makes a full queue block the capture side instead of
// dropping the oldest chunk. Use it for sources that can be paused, such as
// file replay.
func WithBackpressure() StreamOption {
	return func(s *Stream) { s.block = true }
}

// WithClock overrides the wall clock used to timestamp chunks.
func WithClock(now func() time.Time) StreamOption {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

// Stream is a [Source] that runs a [CaptureFunc] on its own goroutine and
// buffers the produced chunks in a bounded queue.
type Stream struct {
	capture   CaptureFunc
	rate      int
	queueSize int
	chunkSize int
	block     bool
	now       func() time.Time

	mu     sync.Mutex
	state  streamState
	queue  chan Chunk
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// emitMu guards pending and closed, which are touched from the capture
	// goroutine or device callback thread.
	emitMu  sync.Mutex
	pending []int16
	closed  bool

	dropped atomic.Int64
}

var _ Source = (*Stream)(nil)

// NewStream returns an idle Stream that emits chunks at sampleRate using capture.
func NewStream(sampleRate int, capture CaptureFunc, opts ...StreamOption) (*Stream, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if capture == nil {
		return nil, errors.New("audio: capture func must not be nil")
	}
	s := &Stream{
		capture:   capture,
		rate:      sampleRate,
		queueSize: defaultQueueSize,
		chunkSize: defaultChunkSize,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// SampleRate implements [Source].
func (s *Stream) SampleRate() int { return s.rate }

// Start implements [Source]. The capture goroutine lives until Stop is called,
// ctx is cancelled, or the capture function returns.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == streamRecording {
		slog.Info("audio: source already recording")
		return nil
	}

	captureCtx, cancel := context.WithCancel(ctx)
	queue := make(chan Chunk, s.queueSize)
	done := make(chan struct{})

	s.emitMu.Lock()
	s.pending = s.pending[:0]
	s.closed = false
	s.emitMu.Unlock()

	s.queue = queue
	s.cancel = cancel
	s.done = done
	s.err = nil
	s.state = streamRecording

	go s.run(captureCtx, queue, done)
	return nil
}

func (s *Stream) run(ctx context.Context, queue chan Chunk, done chan struct{}) {
	defer close(done)

	err := s.capture(ctx, func(samples []int16) { s.emit(ctx, queue, samples) })
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("audio: capture stopped with error", "err", err)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}

	s.emitMu.Lock()
	s.closed = true
	s.pending = s.pending[:0]
	close(queue)
	s.emitMu.Unlock()
}

func (s *Stream) emit(ctx context.Context, queue chan Chunk, samples []int16) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}

	s.pending = append(s.pending, samples...)
	for len(s.pending) >= s.chunkSize {
		block := make([]int16, s.chunkSize)
		copy(block, s.pending[:s.chunkSize])
		s.pending = append(s.pending[:0], s.pending[s.chunkSize:]...)

		chunk := Chunk{
			Samples:    block,
			SampleRate: s.rate,
			Timestamp:  s.now().Add(-time.Duration(len(block)) * time.Second / time.Duration(s.rate)),
		}
		if s.block {
			select {
			case queue <- chunk:
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case queue <- chunk:
		default:
			// Queue full: discard the oldest chunk to make room.
			select {
			case <-queue:
			default:
			}
			select {
			case queue <- chunk:
			default:
			}
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				slog.Warn("audio: consumer too slow, dropping chunks", "dropped", n)
			}
		}
	}
}

// Pull implements [Source].
func (s *Stream) Pull(ctx context.Context, timeout time.Duration) (Chunk, error) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return Chunk{}, ErrSourceStopped
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-queue:
		if !ok {
			return Chunk{}, ErrSourceStopped
		}
		return chunk, nil
	case <-timer.C:
		return Chunk{}, ErrNoData
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// Stop implements [Source]. It blocks until the capture goroutine has exited.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.state != streamRecording {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.state = streamStopped
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Err returns the error that terminated the capture goroutine, or nil if it
// is still running or ended because it was stopped.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns the number of chunks discarded because the queue was full.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }
