package whisper

import (
	"strings"

	"github.com/MrWong99/voiceguard/pkg/audio"
)

// languageCodes maps the full language names reported by whisper-server's
// verbose_json output to ISO 639-1 codes.
var languageCodes = map[string]string{
	"english":   "en",
	"hindi":     "hi",
	"urdu":      "ur",
	"bengali":   "bn",
	"punjabi":   "pa",
	"marathi":   "mr",
	"gujarati":  "gu",
	"tamil":     "ta",
	"telugu":    "te",
	"kannada":   "kn",
	"malayalam": "ml",
	"nepali":    "ne",
	"spanish":   "es",
	"french":    "fr",
	"german":    "de",
	"arabic":    "ar",
	"chinese":   "zh",
}

// normalizeLanguage returns an ISO 639-1 code for lang. Codes pass through
// unchanged and unknown names are returned lower-cased.
func normalizeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	return l
}

// toModelInput resamples samples to 16 kHz and normalises them to
// float32 in [-1.0, 1.0) as expected by the whisper.cpp bindings.
func toModelInput(samples []int16, sampleRate int) []float32 {
	return audio.Normalize(audio.Resample(samples, sampleRate, modelSampleRate))
}
