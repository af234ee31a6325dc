package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertions.
var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// A request rejected as unsynthesisable ([tts.ErrSynthesis]) is not retried
// elsewhere; transport failures are.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Terminal == nil {
		cfg.Terminal = func(err error) bool { return errors.Is(err, tts.ErrSynthesis) }
	}
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders req with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (audio.Clip, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns the voices of the first healthy provider that can list them.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.Voice, error) {
		vl, ok := p.(tts.VoiceLister)
		if !ok {
			return nil, errors.New("provider cannot list voices")
		}
		return vl.ListVoices(ctx)
	})
}
