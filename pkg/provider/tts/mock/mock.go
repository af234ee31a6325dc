// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled clips (or failures) per request and to
// verify the order in which the speech queue synthesises items.
//
// Example:
//
//	p := &mock.Provider{
//	    Errs: map[string]error{"B": tts.ErrSynthesis},
//	}
//	clip, err := p.Synthesize(ctx, tts.Request{Text: "A"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Clip is returned for every request without an entry in Errs. When its
	// Data is empty the request text is used as the clip payload, so players
	// can tell clips apart.
	Clip audio.Clip

	// Errs maps request text to a synthesis error.
	Errs map[string]error

	// Hook, when set, runs before the response is chosen.
	Hook func(ctx context.Context, req tts.Request)

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every request in order.
	SynthesizeCalls []tts.Request

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// Synthesize records req and returns the configured clip or error.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	hook := p.Hook
	err := p.Errs[req.Text]
	clip := p.Clip
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if err != nil {
		return audio.Clip{}, err
	}
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	if len(clip.Data) == 0 {
		clip.Data = []byte(req.Text)
		clip.Format = audio.ClipPCM
		clip.SampleRate = audio.DefaultSampleRate
	}
	return clip, nil
}

// ListVoices records the call and returns ListVoicesResult.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Texts returns the text of every synthesised request in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
