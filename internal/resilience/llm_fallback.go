package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/babelcast/pkg/provider/llm"
)

// LLMFallback is the model behind the llm translator when providers.llm lists
// fallbacks. A backend that replies with blank text counts as failed, so the
// next model gets the prompt instead of the translator giving up on the
// utterance.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred model.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another model.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete returns the first non-blank reply. A blank reply from every model
// yields an error wrapping [llm.ErrEmptyCompletion].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return nil, llm.ErrEmptyCompletion
		}
		return resp, nil
	})
}
