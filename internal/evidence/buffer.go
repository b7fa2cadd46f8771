// Package evidence implements the bounded ring buffer that retains the most
// recent audio for incident evidence.
package evidence

import (
	"fmt"
	"time"
)

// Buffer keeps the last maxDuration of mono samples. When full, the oldest
// samples are overwritten. Memory use is fixed at construction.
//
// Buffer is owned by the monitoring loop and is not safe for concurrent use.
type Buffer struct {
	data  []int16
	rate  int
	start int // index of the oldest sample
	size  int
}

// New returns a Buffer holding up to maxDuration of audio at sampleRate.
func New(maxDuration time.Duration, sampleRate int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("evidence: invalid sample rate %d", sampleRate)
	}
	capacity := int(maxDuration.Seconds() * float64(sampleRate))
	if capacity <= 0 {
		return nil, fmt.Errorf("evidence: max duration %s yields no capacity", maxDuration)
	}
	return &Buffer{data: make([]int16, capacity), rate: sampleRate}, nil
}

// Add appends samples, evicting the oldest ones beyond capacity.
func (b *Buffer) Add(samples []int16) {
	c := len(b.data)
	if len(samples) >= c {
		copy(b.data, samples[len(samples)-c:])
		b.start, b.size = 0, c
		return
	}
	for len(samples) > 0 {
		w := (b.start + b.size) % c
		n := copy(b.data[w:], samples)
		samples = samples[n:]
		b.size += n
		if b.size > c {
			b.start = (b.start + b.size - c) % c
			b.size = c
		}
	}
}

// Recent returns a copy of the last min(d × rate, Len()) samples in
// chronological order. d ≤ 0 yields an empty slice.
func (b *Buffer) Recent(d time.Duration) []int16 {
	want := int(d.Seconds() * float64(b.rate))
	n := max(0, min(want, b.size))
	out := make([]int16, n)
	if n == 0 {
		return out
	}
	c := len(b.data)
	from := (b.start + b.size - n) % c
	k := copy(out, b.data[from:min(from+n, c)])
	copy(out[k:], b.data[:n-k])
	return out
}

// Clear empties the buffer without releasing its storage.
func (b *Buffer) Clear() {
	b.start, b.size = 0, 0
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int { return b.size }

// Cap returns the capacity in samples.
func (b *Buffer) Cap() int { return len(b.data) }

// SampleRate returns the rate the buffer was built for.
func (b *Buffer) SampleRate() int { return b.rate }

// Duration returns the length of the audio currently held.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.size) * time.Second / time.Duration(b.rate)
}
