package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/voiceguard/pkg/audio"
)

// FileConfig configures a WAV replay source.
type FileConfig struct {
	// Path is the WAV file to replay.
	Path string

	// ChunkSize is the number of samples per emitted chunk.
	ChunkSize int

	// QueueSize is the chunk queue capacity.
	QueueSize int

	// Realtime paces emission at the file's sample rate. When false the file
	// is pushed as fast as the consumer drains it.
	Realtime bool
}

// NewFile decodes the WAV file at cfg.Path and returns a Source replaying it.
// The source reports [audio.ErrSourceStopped] once the whole file has been
// consumed.
func NewFile(cfg FileConfig) (*audio.Stream, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %q: %w", cfg.Path, err)
	}
	defer f.Close()

	samples, rate, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("capture: decode %q: %w", cfg.Path, err)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	opts := []audio.StreamOption{
		audio.WithChunkSize(chunkSize),
		audio.WithQueueSize(cfg.QueueSize),
	}
	if !cfg.Realtime {
		opts = append(opts, audio.WithBackpressure())
	}
	return audio.NewStream(rate, replay(samples, rate, chunkSize, cfg.Realtime), opts...)
}

func replay(samples []int16, rate, chunkSize int, realtime bool) audio.CaptureFunc {
	return func(ctx context.Context, emit func([]int16)) error {
		var tick <-chan time.Time
		if realtime {
			t := time.NewTicker(time.Duration(chunkSize) * time.Second / time.Duration(rate))
			defer t.Stop()
			tick = t.C
		}

		for off := 0; off < len(samples); off += chunkSize {
			end := min(off+chunkSize, len(samples))
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return nil
				}
			} else if ctx.Err() != nil {
				return nil
			}
			emit(samples[off:end])
		}
		slog.Info("capture: file replay finished", "samples", len(samples), "sample_rate", rate)
		return nil
	}
}
