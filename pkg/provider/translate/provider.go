// Package translate defines the Provider interface for text translation.
//
// A translation provider maps one recognised utterance from a source language
// to a target language. Calls are stateless and independent; the pipeline
// issues one call per recognised text and bounds it with a context deadline.
package translate

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/babelcast/pkg/provider"
)

// ErrNoTranslation reports that the service answered but returned no
// translated text.
var ErrNoTranslation = errors.New("translate: no translation returned")

// Request is one translation call.
type Request struct {
	// Text is the recognised source text.
	Text string

	// From is the source language. Providers reduce it to its base subtag.
	From string

	// To is the target language (e.g. "es", "zh-Hans").
	To string
}

// Provider translates text between languages.
//
// Implementations must be safe for concurrent use and honour ctx.
type Provider interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// Source returns the base subtag of req.From ("en-US" → "en").
func (r Request) Source() string { return provider.BaseLanguage(r.From) }

// Normalize trims text and turns an empty result into ErrNoTranslation.
func Normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoTranslation
	}
	return text, nil
}
