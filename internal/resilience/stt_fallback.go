package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// recognizers. Each backend has its own circuit breaker. [stt.ErrNoSpeech] is
// an answer, not a fault: it is returned without trying the next backend.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertions.
var (
	_ stt.Provider          = (*STTFallback)(nil)
	_ stt.EncodingPreferrer = (*STTFallback)(nil)
)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Terminal == nil {
		cfg.Terminal = func(err error) bool { return errors.Is(err, stt.ErrNoSpeech) }
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Recognize sends the batch to the first healthy recognizer. Backends
// convert the payload to their own encoding when it differs.
func (f *STTFallback) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Recognize(ctx, req)
	})
}

// PreferredEncoding reports the primary's encoding so batches are encoded
// once for the common case.
func (f *STTFallback) PreferredEncoding() wire.Encoding {
	if ep, ok := f.group.Primary().(stt.EncodingPreferrer); ok {
		return ep.PreferredEncoding()
	}
	return wire.EncodingWAV
}
