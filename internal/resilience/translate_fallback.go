package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

// TranslateFallback implements [translate.Provider] with automatic failover
// across multiple translators.
type TranslateFallback struct {
	group *FallbackGroup[translate.Provider]
}

// Compile-time interface assertion.
var _ translate.Provider = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] with primary as the
// preferred backend.
func NewTranslateFallback(primary translate.Provider, primaryName string, cfg FallbackConfig) *TranslateFallback {
	if cfg.Terminal == nil {
		cfg.Terminal = func(err error) bool { return errors.Is(err, translate.ErrNoTranslation) }
	}
	return &TranslateFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translator as a fallback.
func (f *TranslateFallback) AddFallback(name string, provider translate.Provider) {
	f.group.AddFallback(name, provider)
}

// Translate sends req to the first healthy translator.
func (f *TranslateFallback) Translate(ctx context.Context, req translate.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p translate.Provider) (string, error) {
		return p.Translate(ctx, req)
	})
}
