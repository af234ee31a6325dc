// Package azure provides a recognizer for the Azure Speech short-audio REST
// API. Each batch is posted as a 16 kHz mono WAV file and the simple-format
// result is mapped onto the stt contract.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/azure"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

const providerName = "azure-stt"

var (
	_ stt.Provider          = (*Provider)(nil)
	_ stt.EncodingPreferrer = (*Provider)(nil)
)

// Recognition statuses returned in the simple output format.
const (
	StatusSuccess               = "Success"
	StatusNoMatch               = "NoMatch"
	StatusInitialSilenceTimeout = "InitialSilenceTimeout"
)

// Option configures a Provider.
type Option func(*Provider)

// WithEndpoint overrides the recognition endpoint (tests, sovereign clouds).
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithTokenSource authenticates with STS bearer tokens in addition to the
// subscription key.
func WithTokenSource(ts *azure.TokenSource) Option {
	return func(p *Provider) { p.tokens = ts }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithLogger sets the logger used for unexpected recognition statuses.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// Provider recognises speech with Azure Speech.
type Provider struct {
	creds      azure.Credentials
	endpoint   string
	tokens     *azure.TokenSource
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Provider for the resource identified by creds.
func New(creds azure.Credentials, opts ...Option) (*Provider, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{
		creds:      creds,
		endpoint:   fmt.Sprintf("https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1", creds.Region),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// PreferredEncoding reports that the service expects WAV bodies.
func (p *Provider) PreferredEncoding() wire.Encoding { return wire.EncodingWAV }

// Recognize posts the batch and maps the recognition status:
// Success returns DisplayText, NoMatch and InitialSilenceTimeout return
// stt.ErrNoSpeech, and any other status is logged and also treated as no speech.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	payload, err := wire.As(req.Audio, wire.EncodingWAV)
	if err != nil {
		return stt.Result{}, fmt.Errorf("azure-stt: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = "en-US"
	}

	u, err := url.Parse(p.endpoint)
	if err != nil {
		return stt.Result{}, fmt.Errorf("azure-stt: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("language", lang)
	q.Set("format", "simple")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload.Data))
	if err != nil {
		return stt.Result{}, fmt.Errorf("azure-stt: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", fmt.Sprintf("audio/wav; codecs=audio/pcm; samplerate=%d", payload.SampleRate))
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(azure.HeaderKey, p.creds.Key)
	if p.tokens != nil {
		token, err := p.tokens.Token(ctx)
		if err != nil {
			return stt.Result{}, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := provider.Do(p.httpClient, httpReq, providerName, "recognize")
	if err != nil {
		var te *provider.TransportError
		if p.tokens != nil && errors.As(err, &te) && te.StatusCode == http.StatusUnauthorized {
			p.tokens.Invalidate()
		}
		return stt.Result{}, err
	}
	defer resp.Body.Close()

	var result struct {
		RecognitionStatus string `json:"RecognitionStatus"`
		DisplayText       string `json:"DisplayText"`
		Offset            int64  `json:"Offset"`
		Duration          int64  `json:"Duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Result{}, &provider.TransportError{Provider: providerName, Op: "recognize", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	switch result.RecognitionStatus {
	case StatusSuccess:
		res, err := stt.Normalize(result.DisplayText, lang)
		if err != nil {
			return stt.Result{}, err
		}
		// Offset and Duration are in 100-nanosecond ticks.
		res.Duration = time.Duration(result.Duration * 100)
		return res, nil
	case StatusNoMatch, StatusInitialSilenceTimeout:
		return stt.Result{}, stt.ErrNoSpeech
	default:
		p.log.Warn("azure-stt: unexpected recognition status", "status", result.RecognitionStatus, "language", lang)
		return stt.Result{}, stt.ErrNoSpeech
	}
}
