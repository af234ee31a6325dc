package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/babelcast/pkg/provider/llm"
	llmmock "github.com/MrWong99/babelcast/pkg/provider/llm/mock"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
	translator "github.com/MrWong99/babelcast/pkg/provider/translate/llm"
)

func TestTranslate_PromptAndTrim(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: ` "Guten Morgen" `}}
	p, err := translator.New(model, 128)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Translate(context.Background(), translate.Request{Text: "Good morning", From: "en-US", To: "de"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Guten Morgen" {
		t.Errorf("Translate = %q", got)
	}

	calls := model.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	req := calls[0].Req
	if !strings.Contains(req.SystemPrompt, "from en to de") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0 || req.MaxTokens != 128 {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "Good morning" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestTranslate_Errors(t *testing.T) {
	t.Parallel()

	empty := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	p, _ := translator.New(empty, 0)
	if _, err := p.Translate(context.Background(), translate.Request{Text: "x", To: "es"}); !errors.Is(err, translate.ErrNoTranslation) {
		t.Errorf("empty reply: err = %v", err)
	}

	boom := errors.New("rate limited")
	failing := &llmmock.Provider{CompleteErr: boom}
	p, _ = translator.New(failing, 0)
	if _, err := p.Translate(context.Background(), translate.Request{Text: "x", To: "es"}); !errors.Is(err, boom) {
		t.Errorf("backend error not wrapped: %v", err)
	}

	if _, err := translator.New(nil, 0); err == nil {
		t.Error("expected error for nil model")
	}
}
