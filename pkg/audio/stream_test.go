package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voiceguard/pkg/audio"
)

// blockingCapture emits the given blocks and then waits for cancellation.
func blockingCapture(blocks ...[]int16) audio.CaptureFunc {
	return func(ctx context.Context, emit func([]int16)) error {
		for _, b := range blocks {
			emit(b)
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestStream_RechunksAndPulls(t *testing.T) {
	t.Parallel()

	s, err := audio.NewStream(16000, blockingCapture(make([]int16, 300), make([]int16, 500)),
		audio.WithChunkSize(400))
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	for i := range 2 {
		chunk, err := s.Pull(ctx, time.Second)
		if err != nil {
			t.Fatalf("Pull %d: %v", i, err)
		}
		if len(chunk.Samples) != 400 {
			t.Errorf("chunk %d: got %d samples, want 400", i, len(chunk.Samples))
		}
		if chunk.SampleRate != 16000 {
			t.Errorf("chunk %d: sample rate %d", i, chunk.SampleRate)
		}
	}

	if _, err := s.Pull(ctx, 20*time.Millisecond); !errors.Is(err, audio.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestStream_StartTwiceIsNoop(t *testing.T) {
	t.Parallel()

	calls := 0
	s, _ := audio.NewStream(16000, func(ctx context.Context, emit func([]int16)) error {
		calls++
		<-ctx.Done()
		return nil
	})
	ctx := context.Background()
	_ = s.Start(ctx)
	_ = s.Start(ctx)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if calls != 1 {
		t.Errorf("capture ran %d times, want 1", calls)
	}
	// Stop on a stopped stream is a no-op.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStream_CaptureFailureReportsStopped(t *testing.T) {
	t.Parallel()

	boom := errors.New("device unplugged")
	s, _ := audio.NewStream(16000, func(ctx context.Context, emit func([]int16)) error {
		emit(make([]int16, 1024))
		return boom
	})
	ctx := context.Background()
	_ = s.Start(ctx)
	defer s.Stop()

	if _, err := s.Pull(ctx, time.Second); err != nil {
		t.Fatalf("queued chunk should still be delivered, got %v", err)
	}
	if _, err := s.Pull(ctx, time.Second); !errors.Is(err, audio.ErrSourceStopped) {
		t.Errorf("expected ErrSourceStopped, got %v", err)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want %v", s.Err(), boom)
	}
}

func TestStream_DropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	blocks := make([][]int16, 5)
	for i := range blocks {
		blocks[i] = []int16{int16(i)}
	}
	s, _ := audio.NewStream(8000, blockingCapture(blocks...),
		audio.WithChunkSize(1), audio.WithQueueSize(2))
	ctx := context.Background()
	_ = s.Start(ctx)
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for s.Dropped() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Dropped() != 3 {
		t.Fatalf("Dropped() = %d, want 3", s.Dropped())
	}
	first, _ := s.Pull(ctx, time.Second)
	second, _ := s.Pull(ctx, time.Second)
	if first.Samples[0] != 3 || second.Samples[0] != 4 {
		t.Errorf("got %d,%d, want newest chunks 3,4", first.Samples[0], second.Samples[0])
	}
}

func TestStream_PullBeforeStart(t *testing.T) {
	t.Parallel()
	s, _ := audio.NewStream(16000, blockingCapture())
	if _, err := s.Pull(context.Background(), time.Millisecond); !errors.Is(err, audio.ErrSourceStopped) {
		t.Errorf("expected ErrSourceStopped, got %v", err)
	}
}

func TestNewStream_Validation(t *testing.T) {
	t.Parallel()
	if _, err := audio.NewStream(0, blockingCapture()); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := audio.NewStream(16000, nil); err == nil {
		t.Error("expected error for nil capture")
	}
}

func TestChunk_Duration(t *testing.T) {
	t.Parallel()
	c := audio.Chunk{Samples: make([]int16, 1600), SampleRate: 16000}
	if c.Duration() != 100*time.Millisecond {
		t.Errorf("Duration() = %v, want 100ms", c.Duration())
	}
}
