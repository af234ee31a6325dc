// Package tts defines the Provider interface for text-to-speech backends and
// the voice selection shared by them.
//
// A TTS provider turns one translated utterance into one playable audio clip.
// The speech queue synthesises items strictly one at a time, so providers do
// not need to stream; they return the complete encoded clip.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// ErrSynthesis is wrapped by providers when a clip could not be produced.
var ErrSynthesis = errors.New("tts: synthesis failed")

// Gender selects between the two voices of a language in the [VoiceTable].
type Gender string

const (
	Female Gender = "female"
	Male   Gender = "male"
)

// ParseGender maps a configuration value to a Gender. Empty means Female.
func ParseGender(s string) (Gender, error) {
	switch Gender(strings.ToLower(strings.TrimSpace(s))) {
	case Female, "":
		return Female, nil
	case Male:
		return Male, nil
	}
	return "", fmt.Errorf("tts: unknown voice gender %q (want female or male)", s)
}

// Request is one synthesis call.
type Request struct {
	// Text is the utterance to speak. Providers escape it as needed.
	Text string

	// Language is the BCP-47 tag of Text.
	Language string

	// Voice is a provider-specific voice ID. Empty selects a voice from
	// Language and Gender.
	Voice string

	// Gender is used when Voice is empty.
	Gender Gender
}

// Provider synthesises speech.
type Provider interface {
	// Synthesize returns the complete clip for req. Failures wrap ErrSynthesis
	// or are *provider.TransportError values.
	Synthesize(ctx context.Context, req Request) (audio.Clip, error)
}

// Voice describes a voice offered by a provider.
type Voice struct {
	ID       string
	Name     string
	Provider string
	Metadata map[string]string
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Failed wraps cause with ErrSynthesis and the provider name.
func Failed(providerName string, cause error) error {
	return fmt.Errorf("%s: %w: %w", providerName, ErrSynthesis, cause)
}
