package analysis

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voiceguard/pkg/types"
)

// Heuristic markers added to the indicator list.
const (
	MarkerExcessiveCaps        = "EXCESSIVE_CAPS"
	MarkerMultipleExclamations = "MULTIPLE_EXCLAMATIONS"
)

const (
	shoutingWeight      = 0.2
	shoutingMinLength   = 10
	shoutingCapsRatio   = 0.6
	exclamationMinCount = 3
	exclamationStep     = 0.1
	exclamationMax      = 0.3

	defaultFuzzyThreshold = 0.92

	// fuzzyMinLength keeps short words such as "hit" or "mad" out of fuzzy
	// matching, where nearly every short token would score highly.
	fuzzyMinLength = 5
)

// Table is a weighted list of indicator terms. Each matched term adds Weight
// to the score once.
type Table struct {
	Terms  []string
	Weight float64
}

// Tables groups the three indicator tables.
type Tables struct {
	High     Table
	Medium   Table
	Regional Table
}

// DefaultTables returns the built-in English and Hindi/Hinglish indicator
// lists.
func DefaultTables() Tables {
	return Tables{
		High: Table{Weight: 0.3, Terms: []string{
			"kill", "murder", "die", "death", "hurt", "pain", "beat", "hit",
			"destroy", "break", "smash", "attack", "fight", "violence",
			"stupid", "idiot", "useless", "worthless", "hate", "disgust",
		}},
		Medium: Table{Weight: 0.15, Terms: []string{
			"angry", "mad", "upset", "annoyed", "frustrated", "irritated",
			"shut up", "stop", "enough", "problem", "wrong", "bad",
		}},
		Regional: Table{Weight: 0.25, Terms: []string{
			"maar", "marunga", "khatam", "pagal", "bewakoof", "gadha",
			"chup", "band kar", "paagal hai", "dimag kharab",
		}},
	}
}

// ScorerOption configures a [Scorer].
type ScorerOption func(*Scorer)

// WithFuzzyThreshold sets the Jaro-Winkler score a transcript word needs to
// count as a mis-transcription of an indicator term. Zero disables fuzzy
// matching. Default: 0.92.
func WithFuzzyThreshold(threshold float64) ScorerOption {
	return func(s *Scorer) { s.fuzzyThreshold = threshold }
}

// WithShouting toggles the excessive capitalisation heuristic. Default: on.
func WithShouting(enabled bool) ScorerOption {
	return func(s *Scorer) { s.shouting = enabled }
}

// WithExclamations toggles the repeated exclamation mark heuristic.
// Default: on.
func WithExclamations(enabled bool) ScorerOption {
	return func(s *Scorer) { s.exclamations = enabled }
}

// Score is the result of scoring a transcript.
type Score struct {
	Value      float64
	Level      types.ThreatLevel
	Indicators []string
}

// Scorer assigns a keyword threat score to transcript text. It is read-only
// after construction and safe for concurrent use.
type Scorer struct {
	tables         []Table
	fuzzyThreshold float64
	shouting       bool
	exclamations   bool

	// codes caches the Double Metaphone codes of every fuzzy-eligible term,
	// indexed like tables.
	codes [][]termCodes
}

type termCodes struct {
	primary, secondary string
}

// NewScorer returns a Scorer for the given tables.
func NewScorer(tables Tables, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		tables:         []Table{normalizeTable(tables.High), normalizeTable(tables.Medium), normalizeTable(tables.Regional)},
		fuzzyThreshold: defaultFuzzyThreshold,
		shouting:       true,
		exclamations:   true,
	}
	for _, o := range opts {
		o(s)
	}
	s.codes = make([][]termCodes, len(s.tables))
	for i, tbl := range s.tables {
		s.codes[i] = make([]termCodes, len(tbl.Terms))
		for j, term := range tbl.Terms {
			if fuzzyEligible(term) {
				p, sec := matchr.DoubleMetaphone(term)
				s.codes[i][j] = termCodes{p, sec}
			}
		}
	}
	return s
}

func normalizeTable(t Table) Table {
	out := Table{Weight: t.Weight, Terms: make([]string, 0, len(t.Terms))}
	for _, term := range t.Terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			out.Terms = append(out.Terms, term)
		}
	}
	return out
}

func fuzzyEligible(term string) bool {
	return !strings.Contains(term, " ") && len([]rune(term)) >= fuzzyMinLength
}

// Score evaluates text. Each term is matched at most once: first as a
// substring of the lower-cased text, then, for single words, fuzzily against
// the transcript words. Empty text scores zero with no indicators.
func (s *Scorer) Score(text string) Score {
	out := Score{Indicators: []string{}}
	if strings.TrimSpace(text) == "" {
		return out
	}

	lower := strings.ToLower(text)
	words := tokenize(lower)

	var score float64
	for i, tbl := range s.tables {
		for j, term := range tbl.Terms {
			if strings.Contains(lower, term) || s.fuzzyMatch(term, s.codes[i][j], words) {
				out.Indicators = append(out.Indicators, term)
				score += tbl.Weight
			}
		}
	}

	if s.shouting && isShouting(text) {
		score += shoutingWeight
		out.Indicators = append(out.Indicators, MarkerExcessiveCaps)
	}
	if n := strings.Count(text, "!"); s.exclamations && n >= exclamationMinCount {
		score += min(float64(n)*exclamationStep, exclamationMax)
		out.Indicators = append(out.Indicators, MarkerMultipleExclamations)
	}

	out.Value = min(score, 1.0)
	out.Level = LevelForScore(out.Value)
	return out
}

// fuzzyMatch reports whether any word shares a Double Metaphone code with
// term and reaches the Jaro-Winkler threshold.
func (s *Scorer) fuzzyMatch(term string, codes termCodes, words []string) bool {
	if s.fuzzyThreshold <= 0 || codes.primary == "" {
		return false
	}
	for _, w := range words {
		if len([]rune(w)) < fuzzyMinLength {
			continue
		}
		p, sec := matchr.DoubleMetaphone(w)
		if !codesOverlap(p, sec, codes) {
			continue
		}
		if matchr.JaroWinkler(w, term, false) >= s.fuzzyThreshold {
			return true
		}
	}
	return false
}

func codesOverlap(p, sec string, c termCodes) bool {
	for _, a := range []string{p, sec} {
		if a == "" {
			continue
		}
		if a == c.primary || a == c.secondary {
			return true
		}
	}
	return false
}

// LevelForScore maps a keyword score to a threat level.
func LevelForScore(score float64) types.ThreatLevel {
	switch {
	case score >= 0.7:
		return types.ThreatHigh
	case score >= 0.4:
		return types.ThreatMedium
	case score >= 0.1:
		return types.ThreatLow
	default:
		return types.ThreatNone
	}
}

// isShouting reports whether more than 60% of the characters of a text
// longer than 10 characters are upper case.
func isShouting(text string) bool {
	runes := []rune(text)
	if len(runes) <= shoutingMinLength {
		return false
	}
	var upper int
	for _, r := range runes {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper)/float64(len(runes)) > shoutingCapsRatio
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
