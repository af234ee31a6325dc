// Package relay provides a recognizer that forwards batches to a JSON relay
// service. The relay holds the real speech credentials; clients send base64
// PCM and receive text.
//
//	POST {base}/recognize  {"audio_data": "<base64 pcm>", "from_lang": "en-US"}
//	200                    {"text": "..."}
//	4xx/5xx                {"error": "..."}
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

const providerName = "relay-stt"

var (
	_ stt.Provider          = (*Provider)(nil)
	_ stt.EncodingPreferrer = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider calls a relay's /recognize endpoint.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider for the relay at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("relay: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// PreferredEncoding reports base64 PCM.
func (p *Provider) PreferredEncoding() wire.Encoding { return wire.EncodingBase64 }

type recognizeRequest struct {
	AudioData string `json:"audio_data"`
	FromLang  string `json:"from_lang"`
}

type recognizeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Recognize sends the batch to the relay. An empty text is stt.ErrNoSpeech;
// an error field in a 2xx body is reported as a TransportError.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	payload, err := wire.As(req.Audio, wire.EncodingBase64)
	if err != nil {
		return stt.Result{}, fmt.Errorf("relay: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = "en-US"
	}

	var out recognizeResponse
	in := recognizeRequest{AudioData: string(payload.Data), FromLang: lang}
	if err := provider.PostJSON(ctx, p.httpClient, p.baseURL+"/recognize", nil, in, &out, providerName, "recognize"); err != nil {
		return stt.Result{}, err
	}
	if out.Error != "" {
		return stt.Result{}, &provider.TransportError{Provider: providerName, Op: "recognize", Err: errors.New(out.Error)}
	}
	return stt.Normalize(out.Text, lang)
}

// Ping checks the relay's /health endpoint.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("relay: create request: %w", err)
	}
	resp, err := provider.Do(p.httpClient, req, providerName, "health")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
