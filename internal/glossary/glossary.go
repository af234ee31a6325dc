// Package glossary fixes misrecognised proper nouns in recognised speech
// before it is translated.
//
// Recognizers routinely mangle names they have never seen: a speaker's
// surname, a product, a place. A [Glossary] holds the expected spellings and
// rewrites word windows that sound like one of them. Matching runs in two
// tiers:
//
//  1. Phonetic: Double Metaphone codes of the window and the term share a
//     code, and their Jaro-Winkler similarity reaches the phonetic threshold.
//  2. Fuzzy: without a phonetic overlap, the Jaro-Winkler similarity alone
//     must reach the higher fuzzy threshold.
//
// Multi-word terms ("Tower Bridge") are matched against windows of the same
// width, and every term against windows one word wider, since recognizers
// tend to split unknown names ("elder nacks" for "Eldrinax"). The widest
// matching window wins.
package glossary

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultPhoneticThreshold is the minimum similarity of a phonetic match.
	DefaultPhoneticThreshold = 0.80

	// DefaultFuzzyThreshold is the minimum similarity without a phonetic match.
	DefaultFuzzyThreshold = 0.90

	minFuzzyRunes = 4
)

// Correction is one substitution applied by [Glossary.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
	Phonetic   bool
}

// Option configures a [Glossary].
type Option func(*Glossary)

// WithPhoneticThreshold overrides [DefaultPhoneticThreshold].
func WithPhoneticThreshold(v float64) Option {
	return func(g *Glossary) { g.phoneticThreshold = v }
}

// WithFuzzyThreshold overrides [DefaultFuzzyThreshold].
func WithFuzzyThreshold(v float64) Option {
	return func(g *Glossary) { g.fuzzyThreshold = v }
}

// term is a glossary entry with its matching data computed once.
type term struct {
	text   string
	lower  string
	tokens []string
	joined string
	runes  int
	codes  map[string]struct{}
}

// Glossary is read-only after construction and safe for concurrent use.
type Glossary struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New prepares terms for matching. Blank terms are ignored.
func New(terms []string, opts ...Option) *Glossary {
	g := &Glossary{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(g)
	}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		tokens := strings.Fields(lower)
		if len(tokens) == 0 {
			continue
		}
		g.terms = append(g.terms, term{
			text:   strings.TrimSpace(t),
			lower:  lower,
			tokens: tokens,
			joined: strings.Join(tokens, ""),
			runes:  utf8.RuneCountInString(strings.Join(tokens, "")),
			codes:  codesFor(tokens),
		})
		g.maxWords = max(g.maxWords, len(tokens))
	}
	return g
}

// Len returns the number of usable terms.
func (g *Glossary) Len() int { return len(g.terms) }

// Match returns the term that window most likely stands for.
func (g *Glossary) Match(window string) (string, float64, bool) {
	t, score, _ := g.match(window)
	if t == nil {
		return window, 0, false
	}
	return t.text, score, true
}

// match compares window with every term of the same width or one word
// narrower whose letter count is close to the window's. Windows shorter than
// [minFuzzyRunes] only match their term spelled exactly, ignoring case.
func (g *Glossary) match(window string) (best *term, bestScore float64, phonetic bool) {
	lower := strings.ToLower(strings.TrimSpace(window))
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return nil, 0, false
	}
	joined := strings.Join(tokens, "")
	runes := utf8.RuneCountInString(joined)
	short := runes < minFuzzyRunes
	codes := codesFor(tokens)

	for i := range g.terms {
		t := &g.terms[i]
		if n := len(tokens) - len(t.tokens); n < 0 || n > 1 {
			continue
		}
		if d := runes - t.runes; d > max(2, t.runes/4) || -d > max(2, t.runes/4) {
			continue
		}
		if short {
			if lower == t.lower {
				return t, 1, true
			}
			continue
		}
		score := similarity(tokens, t.tokens, lower, t.lower, joined, t.joined)
		if overlaps(codes, t.codes) {
			if score >= g.phoneticThreshold && (!phonetic || score > bestScore) {
				best, bestScore, phonetic = t, score, true
			}
			continue
		}
		if !phonetic && score >= g.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore, phonetic
}

// Correct rewrites every window of text that matches a term. Windows of the
// widest term are tried first at each position. Punctuation around a
// window is preserved. Windows already spelled like their term are left
// alone and not reported.
func (g *Glossary) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(g.terms) == 0 {
		return text, nil
	}

	var (
		out   []string
		fixes []Correction
	)
	for i := 0; i < len(tokens); {
		matched := false
		for n := min(g.maxWords+1, len(tokens)-i); n >= 1; n-- {
			prefix, core, suffix := splitPunct(tokens[i : i+n])
			if core == "" {
				continue
			}
			t, conf, phonetic := g.match(core)
			if t == nil {
				continue
			}
			out = append(out, prefix+t.text+suffix)
			if t.text != core {
				fixes = append(fixes, Correction{
					Original:   core,
					Corrected:  t.text,
					Confidence: conf,
					Phonetic:   phonetic,
				})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	if len(fixes) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), fixes
}

// splitPunct joins window and strips leading punctuation of its first token
// and trailing punctuation of its last one.
func splitPunct(window []string) (prefix, core, suffix string) {
	joined := strings.Join(window, " ")
	start := strings.IndexFunc(joined, isWordRune)
	if start < 0 {
		return "", "", ""
	}
	end := strings.LastIndexFunc(joined, isWordRune)
	_, size := utf8.DecodeRuneInString(joined[end:])
	end += size
	return joined[:start], joined[start:end], joined[end:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// codesFor returns the union of the Double Metaphone codes of tokens and,
// for several tokens, of their concatenation, so a name split into two
// words still shares a code with the name.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2+2)
	words := tokens
	if len(tokens) > 1 {
		words = append(slices.Clip(tokens), strings.Join(tokens, ""))
	}
	for _, t := range words {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity scores a window against a term. A window as wide as a
// multi-word term scores its weakest word pair, so sharing one word is not
// enough. Otherwise the better Jaro-Winkler score of the full strings and the
// strings without spaces counts.
func similarity(in, tm []string, inFull, tmFull, inJoined, tmJoined string) float64 {
	if len(in) == len(tm) && len(in) > 1 {
		score := 1.0
		for i := range in {
			score = min(score, matchr.JaroWinkler(in[i], tm[i], false))
		}
		return score
	}
	return max(matchr.JaroWinkler(inFull, tmFull, false), matchr.JaroWinkler(inJoined, tmJoined, false))
}
