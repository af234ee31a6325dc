// Package deepgram provides a recognizer backed by Deepgram's pre-recorded
// audio API (POST /v1/listen). Each batch is uploaded as a WAV body.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

const (
	providerName    = "deepgram"
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
)

var (
	_ stt.Provider          = (*Provider)(nil)
	_ stt.EncodingPreferrer = (*Provider)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback language for requests that carry none.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithBaseURL points the provider at a different API host (tests, proxies).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithKeywords boosts recognition of the given terms. Deepgram's format is
// "word:boost" (e.g. "Kubernetes:5").
func WithKeywords(keywords map[string]float64) Option {
	return func(p *Provider) { p.keywords = keywords }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider backed by the Deepgram REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	keywords   map[string]float64
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// PreferredEncoding reports WAV; Deepgram sniffs the container.
func (p *Provider) PreferredEncoding() wire.Encoding { return wire.EncodingWAV }

// listenResponse is the subset of the pre-recorded response we consume.
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Recognize uploads the batch and returns the top alternative of the first
// channel. A missing or empty transcript is stt.ErrNoSpeech.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	payload, err := wire.As(req.Audio, wire.EncodingWAV)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}
	endpoint, err := p.buildURL(req.Language)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload.Data))
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "audio/wav")

	resp, err := provider.Do(p.httpClient, httpReq, providerName, "recognize")
	if err != nil {
		return stt.Result{}, err
	}
	defer resp.Body.Close()

	var body listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return stt.Result{}, &provider.TransportError{Provider: providerName, Op: "recognize", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(body.Results.Channels) == 0 || len(body.Results.Channels[0].Alternatives) == 0 {
		return stt.Result{}, stt.ErrNoSpeech
	}
	alt := body.Results.Channels[0].Alternatives[0]
	res, err := stt.Normalize(alt.Transcript, req.Language)
	if err != nil {
		return stt.Result{}, err
	}
	res.Confidence = alt.Confidence
	res.Duration = time.Duration(body.Metadata.Duration * float64(time.Second))
	return res, nil
}

// buildURL constructs the /v1/listen URL for lang.
func (p *Provider) buildURL(lang string) (string, error) {
	u, err := url.Parse(p.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	if lang == "" {
		lang = p.language
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	for kw, boost := range p.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw, boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
