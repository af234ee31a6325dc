// Package stt defines the Provider interface for batch speech recognition.
//
// A recognition provider receives one encoded batch of captured audio and
// returns the text spoken in it. Providers wrap remote services (Azure Speech,
// a whisper.cpp server, OpenAI, Deepgram, a JSON relay) or an in-process
// model; the pipeline guarantees that at most one Recognize call per capture
// stream is in flight.
//
// "No speech in this batch" is not a failure: providers return [ErrNoSpeech]
// and the pipeline drops the batch silently. Network and HTTP failures are
// returned as *provider.TransportError.
package stt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio/wire"
)

// ErrNoSpeech reports that the service found no recognisable speech in the
// batch (no-match, initial silence timeout or an empty transcript).
var ErrNoSpeech = errors.New("stt: no speech detected")

// Request is one recognition call.
type Request struct {
	// Audio is the encoded batch. Providers convert it with [wire.As] when
	// they need a different encoding.
	Audio wire.Payload

	// Language is the BCP-47 source language tag (e.g. "en-US").
	Language string
}

// Result is a successful recognition.
type Result struct {
	// Text is the recognised speech. Never empty; empty results are
	// reported as ErrNoSpeech.
	Text string

	// Language is the language the text was recognised in.
	Language string

	// Confidence is in [0, 1], or 0 when the provider does not report it.
	Confidence float64

	// Duration is the audio span covered by the result, when reported.
	Duration time.Duration
}

// Provider recognises speech in a single audio batch.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation and deadlines.
type Provider interface {
	Recognize(ctx context.Context, req Request) (Result, error)
}

// EncodingPreferrer is implemented by providers that have a natural wire
// encoding. The dispatcher encodes batches accordingly so no conversion is
// needed per request.
type EncodingPreferrer interface {
	PreferredEncoding() wire.Encoding
}

// Normalize trims text and turns an empty transcript into ErrNoSpeech.
func Normalize(text, language string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrNoSpeech
	}
	return Result{Text: text, Language: language}, nil
}
