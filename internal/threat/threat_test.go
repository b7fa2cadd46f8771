package threat_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voiceguard/internal/threat"
	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/types"
)

func newClassifier(t *testing.T) *threat.Classifier {
	t.Helper()
	c, err := threat.NewClassifier(threat.DefaultThresholds)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestClassifier_Level(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	tests := []struct {
		name       string
		volume     float64
		confidence float64
		want       types.ThreatLevel
	}{
		{"loud and confident", 16000, 0.8, types.ThreatHigh},
		{"loud but unsure", 16000, 0.6, types.ThreatMedium},
		{"medium", 9000, 0.6, types.ThreatMedium},
		{"boundary volume is exclusive", 15000, 0.9, types.ThreatMedium},
		{"boundary confidence is exclusive", 16000, 0.7, types.ThreatMedium},
		{"quiet", 500, 1.0, types.ThreatLow},
		{"zero", 0, 0, types.ThreatLow},
		{"loud no confidence", 30000, 0.1, types.ThreatLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Level(tt.volume, tt.confidence); got != tt.want {
				t.Errorf("Level(%v, %v) = %v, want %v", tt.volume, tt.confidence, got, tt.want)
			}
		})
	}
}

func TestClassifier_Monotonic(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)

	volumes := []float64{0, 4000, 7999, 8000, 8001, 12000, 15000, 15001, 20000, 32768}
	confs := []float64{0, 0.25, 0.5, 0.51, 0.6, 0.7, 0.71, 0.9, 1}

	for i, v1 := range volumes {
		for _, v2 := range volumes[i:] {
			for j, c1 := range confs {
				for _, c2 := range confs[j:] {
					if c.Level(v2, c2) < c.Level(v1, c1) {
						t.Fatalf("Level(%v,%v)=%v < Level(%v,%v)=%v",
							v2, c2, c.Level(v2, c2), v1, c1, c.Level(v1, c1))
					}
				}
			}
		}
	}
}

func TestClassifier_Assess(t *testing.T) {
	t.Parallel()
	c := newClassifier(t)
	samples := make([]int16, 1024)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 20000
		} else {
			samples[i] = -20000
		}
	}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := c.Assess(audio.Chunk{Samples: samples, SampleRate: 16000, Timestamp: ts}, 0.9)
	if a.Volume != 20000 || a.Level != types.ThreatHigh || !a.At.Equal(ts) {
		t.Errorf("Assess = %+v", a)
	}

	s := threat.Silent(audio.Chunk{Samples: samples}, 0.1)
	if s.Level != types.ThreatNone {
		t.Errorf("Silent level = %v, want NONE", s.Level)
	}
}

func TestThresholds_Validate(t *testing.T) {
	t.Parallel()
	bad := []threat.Thresholds{
		{VolumeHigh: 100, VolumeLow: 200, ConfidenceHigh: 0.7, ConfidenceMedium: 0.5},
		{VolumeHigh: 200, VolumeLow: 100, ConfidenceHigh: 0.4, ConfidenceMedium: 0.5},
		{VolumeHigh: 200, VolumeLow: 100, ConfidenceHigh: 1.5, ConfidenceMedium: 0.5},
		{VolumeHigh: 200, VolumeLow: -1, ConfidenceHigh: 0.7, ConfidenceMedium: 0.5},
	}
	for i, th := range bad {
		if _, err := threat.NewClassifier(th); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, th)
		}
	}
}

// ── Cooldown ─────────────────────────────────────────────────────────────────

func newCooldown(t *testing.T, required int, period time.Duration) *threat.Cooldown {
	t.Helper()
	c, err := threat.NewCooldown(threat.CooldownConfig{RequiredConsecutive: required, Period: period})
	if err != nil {
		t.Fatalf("NewCooldown: %v", err)
	}
	return c
}

func TestCooldown_RequiresConsecutiveHigh(t *testing.T) {
	t.Parallel()
	c := newCooldown(t, 3, 30*time.Second)
	now := time.Unix(1_700_000_000, 0)

	seq := []types.ThreatLevel{types.ThreatHigh, types.ThreatHigh, types.ThreatMedium, types.ThreatHigh, types.ThreatHigh}
	for i, lvl := range seq {
		if c.Observe(lvl, now.Add(time.Duration(i)*100*time.Millisecond)) {
			t.Fatalf("fired at step %d", i)
		}
	}
	if c.Consecutive() != 2 {
		t.Errorf("Consecutive() = %d, want 2", c.Consecutive())
	}
	if !c.Observe(types.ThreatHigh, now.Add(time.Second)) {
		t.Error("expected fire on third consecutive HIGH")
	}
	if c.Consecutive() != 0 {
		t.Errorf("Consecutive() after fire = %d, want 0", c.Consecutive())
	}
}

func TestCooldown_ResetAfterNonHigh(t *testing.T) {
	t.Parallel()
	for _, lvl := range []types.ThreatLevel{types.ThreatNone, types.ThreatLow, types.ThreatMedium} {
		c := newCooldown(t, 5, time.Minute)
		now := time.Now()
		c.Observe(types.ThreatHigh, now)
		c.Observe(types.ThreatHigh, now)
		c.Observe(lvl, now)
		if c.Consecutive() != 0 {
			t.Errorf("%v did not reset count: %d", lvl, c.Consecutive())
		}
	}
}

func TestCooldown_NeverFiresTwiceWithinPeriod(t *testing.T) {
	t.Parallel()
	c := newCooldown(t, 1, 30*time.Second)
	start := time.Unix(1_700_000_000, 0)

	var fires []time.Time
	// HIGH every 100 ms for 95 s.
	for i := range 950 {
		at := start.Add(time.Duration(i) * 100 * time.Millisecond)
		if c.Observe(types.ThreatHigh, at) {
			fires = append(fires, at)
		}
	}
	for i := 1; i < len(fires); i++ {
		if gap := fires[i].Sub(fires[i-1]); gap <= 30*time.Second {
			t.Fatalf("fires %d and %d only %s apart", i-1, i, gap)
		}
	}
	// Strict comparison: fires at 0, 30.1, 60.2, 90.3 s.
	if len(fires) != 4 {
		t.Errorf("got %d fires, want 4", len(fires))
	}
}

func TestCooldown_SingleIncidentForFiveSecondBurst(t *testing.T) {
	t.Parallel()
	c := newCooldown(t, 1, 30*time.Second)
	start := time.Unix(1_700_000_000, 0)

	fired := 0
	for i := range 50 {
		at := start.Add(time.Duration(i) * 100 * time.Millisecond)
		if c.Observe(types.ThreatHigh, at) {
			fired++
			if i != 0 {
				t.Errorf("fired at step %d, want only the first HIGH", i)
			}
		}
	}
	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
	last, ok := c.LastFired()
	if !ok || !last.Equal(start) {
		t.Errorf("LastFired() = %v, %v", last, ok)
	}
}

func TestNewCooldown_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := threat.NewCooldown(threat.CooldownConfig{RequiredConsecutive: 0, Period: time.Second}); err == nil {
		t.Error("expected error for zero required_consecutive")
	}
	if _, err := threat.NewCooldown(threat.CooldownConfig{RequiredConsecutive: 1, Period: -time.Second}); err == nil {
		t.Error("expected error for negative period")
	}
}
