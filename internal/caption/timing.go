package caption

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/babelcast/pkg/provider"
)

const (
	// BaseDuration is added to every caption regardless of length.
	BaseDuration = 1000 * time.Millisecond

	// PerRune is the reading time per character, spaces included.
	PerRune = 50 * time.Millisecond

	// MinWord is the shortest time a word stays highlighted.
	MinWord = 100 * time.Millisecond
)

// speedFactors scales reading time by base language. Higher is faster.
var speedFactors = map[string]float64{
	"zh": 0.7,
	"ja": 0.7,
	"ko": 0.8,
	"de": 0.9,
	"en": 1.0,
	"es": 1.2,
	"fr": 1.2,
}

// SpeedFactor returns the reading speed factor for lang. Unknown languages
// read at 1.0.
func SpeedFactor(lang string) float64 {
	if f, ok := speedFactors[provider.BaseLanguage(lang)]; ok {
		return f
	}
	return 1.0
}

// Timings splits text into words and allocates the estimated reading time
// across them in proportion to word length. Every word gets at least
// [MinWord].
func Timings(text, lang string) (words []string, perWord []time.Duration, total time.Duration) {
	words = strings.Fields(text)
	if len(words) == 0 {
		return nil, nil, 0
	}
	runes := utf8.RuneCountInString(text)
	totalMs := (float64(BaseDuration.Milliseconds()) + float64(runes)*float64(PerRune.Milliseconds())) / SpeedFactor(lang)
	total = time.Duration(math.Round(totalMs)) * time.Millisecond

	var letters int
	for _, w := range words {
		letters += utf8.RuneCountInString(w)
	}
	perWord = make([]time.Duration, len(words))
	for i, w := range words {
		ms := math.Round(totalMs * float64(utf8.RuneCountInString(w)) / float64(letters))
		perWord[i] = max(MinWord, time.Duration(ms)*time.Millisecond)
	}
	return words, perWord, total
}
