// Package langdetect wraps lingua-go for the stop-word selection
// internal/toptext needs: extracting frequency-based top terms from a
// cluster's articles is only meaningful once the dominant language of the
// content is known, so English stop words don't get ranked as "top terms"
// for a French cluster and vice versa.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// MinConfidence is the minimum ComputeLanguageConfidenceValues confidence
// the top-ranked language must hold before Detect trusts it. Below this,
// text is short or multilingual enough that guessing a language for
// stop-word filtering would do more harm than skipping filtering entirely.
const MinConfidence = 0.25

// DetectISO6391 returns the lowercase ISO 639-1 code lingua-go is most
// confident in, or "" if the text is too short or the result too uncertain.
func DetectISO6391(text string) string {
	code, _ := Detect(text)
	return code
}

// Detect returns the detected ISO 639-1 code together with lingua-go's
// confidence value for the top-ranked language. Below MinConfidence the
// code is "" but the confidence is still returned.
func Detect(text string) (iso6391 string, confidence float64) {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return "", 0
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return "", 0
	}

	values := getDetector().ComputeLanguageConfidenceValues(sample)
	if len(values) == 0 {
		return "", 0
	}
	top := values[0]
	if top.Value() < MinConfidence {
		return "", top.Value()
	}

	code := strings.ToLower(top.Language().IsoCode639_1().String())
	if len(code) != 2 {
		return "", top.Value()
	}
	return code, top.Value()
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
