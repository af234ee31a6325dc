// Package mock provides a test double for translate.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

// Provider is a configurable translate.Provider that records its calls.
type Provider struct {
	mu sync.Mutex

	// Func, when set, computes the result. Otherwise Text/Err are returned.
	Func func(ctx context.Context, req translate.Request) (string, error)

	// Text is returned when Func is nil. Empty Text echoes "[to] source".
	Text string

	// Err is returned when Func is nil.
	Err error

	calls []translate.Request
}

var _ translate.Provider = (*Provider)(nil)

// Translate records req and returns the configured result.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	fn, text, err := p.Func, p.Text, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	if text == "" {
		text = "[" + req.To + "] " + req.Text
	}
	return text, nil
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []translate.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]translate.Request(nil), p.calls...)
}
