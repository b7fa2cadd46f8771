package analysis

import (
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/voiceguard/pkg/types"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScorer_Score(t *testing.T) {
	s := NewScorer(DefaultTables())

	tests := []struct {
		name       string
		text       string
		wantScore  float64
		wantLevel  types.ThreatLevel
		indicators []string
	}{
		{"empty", "", 0, types.ThreatNone, []string{}},
		{"whitespace", "   ", 0, types.ThreatNone, []string{}},
		{"neutral", "dinner is ready", 0, types.ThreatNone, []string{}},
		{"single medium", "please stop", 0.15, types.ThreatLow, []string{"stop"}},
		{"single high", "i will kill", 0.3, types.ThreatLow, []string{"kill"}},
		{"high and medium", "stop or i will hurt you", 0.45, types.ThreatMedium, []string{"hurt", "stop"}},
		{"regional", "chup raho", 0.25, types.ThreatLow, []string{"chup"}},
		{"multi-word regional", "band kar yeh", 0.25, types.ThreatLow, []string{"band kar"}},
		{
			"many matches capped",
			"kill murder death attack fight hate",
			1, types.ThreatHigh,
			[]string{"kill", "murder", "death", "attack", "fight", "hate"},
		},
		{
			"shouting",
			"GET OUT OF HERE NOW",
			0.2, types.ThreatLow,
			[]string{MarkerExcessiveCaps},
		},
		{"short caps ignored", "NO NO NO", 0, types.ThreatNone, []string{}},
		{
			"exclamations",
			"go away!!!",
			0.3, types.ThreatLow,
			[]string{MarkerMultipleExclamations},
		},
		{"two exclamations ignored", "go away!!", 0, types.ThreatNone, []string{}},
		{
			"exclamation bonus capped",
			"go!!!!!!!!",
			0.3, types.ThreatLow,
			[]string{MarkerMultipleExclamations},
		},
		{
			"substring semantics",
			"she studied hard",
			0.3, types.ThreatLow,
			[]string{"die"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(tt.text)
			if !approx(got.Value, tt.wantScore) {
				t.Errorf("score = %v, want %v", got.Value, tt.wantScore)
			}
			if got.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", got.Level, tt.wantLevel)
			}
			if !slices.Equal(got.Indicators, tt.indicators) {
				t.Errorf("indicators = %v, want %v", got.Indicators, tt.indicators)
			}
		})
	}
}

func TestScorer_FuzzyMatchesMistranscription(t *testing.T) {
	s := NewScorer(DefaultTables())
	got := s.Score("you are so stupidd")
	if !slices.Contains(got.Indicators, "stupid") {
		t.Fatalf("indicators = %v, want stupid via substring", got.Indicators)
	}

	got = s.Score("i will destroi everything")
	if !slices.Contains(got.Indicators, "destroy") {
		t.Errorf("indicators = %v, want fuzzy match on destroy", got.Indicators)
	}

	off := NewScorer(DefaultTables(), WithFuzzyThreshold(0))
	if got := off.Score("i will destroi everything"); slices.Contains(got.Indicators, "destroy") {
		t.Errorf("fuzzy matching disabled but got %v", got.Indicators)
	}
}

func TestScorer_FuzzyIgnoresShortWords(t *testing.T) {
	s := NewScorer(DefaultTables())
	// "hat" is close to "hate" and "hit" but too short for fuzzy matching.
	if got := s.Score("nice hat"); len(got.Indicators) != 0 {
		t.Errorf("indicators = %v, want none", got.Indicators)
	}
}

func TestScorer_HeuristicToggles(t *testing.T) {
	s := NewScorer(DefaultTables(), WithShouting(false), WithExclamations(false))
	got := s.Score("GET OUT OF HERE NOW!!!")
	if got.Value != 0 || len(got.Indicators) != 0 {
		t.Errorf("got %+v, want no heuristic markers", got)
	}
}

func TestScorer_CustomTables(t *testing.T) {
	s := NewScorer(Tables{
		High:     Table{Weight: 0.5, Terms: []string{" Danger ", ""}},
		Medium:   Table{Weight: 0.2, Terms: []string{"careful"}},
		Regional: Table{},
	})
	got := s.Score("DANGER, be careful")
	if !approx(got.Value, 0.7) || got.Level != types.ThreatHigh {
		t.Errorf("got %+v, want 0.7 HIGH", got)
	}
	if !slices.Equal(got.Indicators, []string{"danger", "careful"}) {
		t.Errorf("indicators = %v", got.Indicators)
	}
}

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  types.ThreatLevel
	}{
		{0, types.ThreatNone},
		{0.09, types.ThreatNone},
		{0.1, types.ThreatLow},
		{0.39, types.ThreatLow},
		{0.4, types.ThreatMedium},
		{0.69, types.ThreatMedium},
		{0.7, types.ThreatHigh},
		{1, types.ThreatHigh},
	}
	for _, tt := range tests {
		if got := LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestScorer_MonotonicInMatches(t *testing.T) {
	s := NewScorer(DefaultTables())
	text := ""
	prev := -1.0
	for _, w := range []string{"stop", "angry", "kill", "maar", "murder"} {
		text += " " + w
		got := s.Score(text).Value
		if got < prev {
			t.Fatalf("score decreased from %v to %v adding %q", prev, got, w)
		}
		prev = got
	}
}
