// Package llm provides a translator that prompts a language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/babelcast/pkg/provider/llm"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

var _ translate.Provider = (*Provider)(nil)

// systemPrompt instructs the model to return only the translation.
const systemPrompt = `You are a translation engine. Translate the user's message from %s to %s.
Reply with the translation only: no quotes, notes, transliteration or explanations.
Keep names, numbers and punctuation. If the message is already in %[2]s, repeat it unchanged.`

// Provider translates with an llm.Provider at temperature 0.
type Provider struct {
	model     llm.Provider
	maxTokens int
}

// New wraps model. maxTokens <= 0 leaves the limit to the backend.
func New(model llm.Provider, maxTokens int) (*Provider, error) {
	if model == nil {
		return nil, errors.New("llm-translator: model must not be nil")
	}
	return &Provider{model: model, maxTokens: maxTokens}, nil
}

// Translate asks the model for a translation of req.Text.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (string, error) {
	from := req.Source()
	if from == "" {
		from = "the detected language"
	}
	resp, err := p.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPrompt, from, req.To),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Text}},
		Temperature:  0,
		MaxTokens:    p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm-translator: %w", err)
	}
	if resp == nil {
		return "", translate.ErrNoTranslation
	}
	return translate.Normalize(strings.Trim(resp.Content, "\"“”"))
}
