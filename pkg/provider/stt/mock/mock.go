// Package mock provides a test double for the stt.Provider interface.
//
// Responses are consumed in order from Responses; once exhausted the provider
// returns Default. Every call is recorded, and the peak number of concurrent
// Recognize calls is tracked so tests can assert single-flight dispatch.
//
// Example:
//
//	p := &mock.Provider{Responses: []mock.Response{
//	    {Result: stt.Result{Text: "hello"}},
//	    {Err: stt.ErrNoSpeech},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

// Response is one scripted Recognize outcome.
type Response struct {
	Result stt.Result
	Err    error
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are returned in call order.
	Responses []Response

	// Default is returned once Responses is exhausted.
	Default Response

	// Hook, when set, runs inside Recognize before the response is chosen.
	// Use it to block or to observe timing.
	Hook func(ctx context.Context, req stt.Request)

	// Calls records every request in call order.
	Calls []stt.Request

	inflight int
	peak     int
}

// Recognize records req and returns the next scripted response.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	p.inflight++
	p.peak = max(p.peak, p.inflight)
	hook := p.Hook
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	resp := p.Default
	if len(p.Responses) > 0 {
		resp = p.Responses[0]
		p.Responses = p.Responses[1:]
	}
	if resp.Err != nil {
		return stt.Result{}, resp.Err
	}
	if resp.Result.Language == "" {
		resp.Result.Language = req.Language
	}
	return resp.Result, nil
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// PeakConcurrency returns the highest number of simultaneous Recognize calls.
func (p *Provider) PeakConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

var _ stt.Provider = (*Provider)(nil)
