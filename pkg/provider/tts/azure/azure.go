// Package azure provides a synthesizer for the Azure Speech text-to-speech
// REST API. Requests are SSML documents built with tts.BuildSSML.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/azure"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

const (
	providerName = "azure-tts"

	// DefaultOutputFormat is a 16 kHz mono MP3 stream.
	DefaultOutputFormat = "audio-16khz-128kbitrate-mono-mp3"

	userAgent = "babelcast"
)

var _ tts.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithEndpoint overrides the synthesis endpoint.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithOutputFormat sets the X-Microsoft-OutputFormat value.
func WithOutputFormat(f string) Option {
	return func(p *Provider) {
		if f != "" {
			p.outputFormat = f
		}
	}
}

// WithTokenSource authenticates with STS bearer tokens.
func WithTokenSource(ts *azure.TokenSource) Option {
	return func(p *Provider) { p.tokens = ts }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider synthesises speech with Azure neural voices.
type Provider struct {
	creds        azure.Credentials
	endpoint     string
	outputFormat string
	tokens       *azure.TokenSource
	httpClient   *http.Client
}

// New creates a Provider for creds.
func New(creds azure.Credentials, opts ...Option) (*Provider, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{
		creds:        creds,
		endpoint:     fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", creds.Region),
		outputFormat: DefaultOutputFormat,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize renders req as SSML and returns the encoded audio. Without an
// explicit voice the tts.VoiceTable entry for req.Language and req.Gender is used.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return audio.Clip{}, tts.Failed(providerName, errors.New("empty text"))
	}
	voice := req.Voice
	if voice == "" {
		voice = tts.LookupVoice(req.Language, req.Gender)
	}
	ssml := tts.BuildSSML(req.Text, req.Language, voice)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(ssml))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("azure-tts: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", p.outputFormat)
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(azure.HeaderKey, p.creds.Key)
	if p.tokens != nil {
		token, err := p.tokens.Token(ctx)
		if err != nil {
			return audio.Clip{}, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := provider.Do(p.httpClient, httpReq, providerName, "synthesize")
	if err != nil {
		var te *provider.TransportError
		if p.tokens != nil && errors.As(err, &te) && te.StatusCode == http.StatusUnauthorized {
			p.tokens.Invalidate()
		}
		return audio.Clip{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, &provider.TransportError{Provider: providerName, Op: "synthesize", StatusCode: resp.StatusCode, Err: err}
	}
	if len(data) == 0 {
		return audio.Clip{}, tts.Failed(providerName, errors.New("empty audio response"))
	}
	format, rate := ClipFormat(p.outputFormat)
	return audio.Clip{Data: data, Format: format, SampleRate: rate}, nil
}

// ClipFormat derives the clip container and sample rate from an Azure output
// format name such as "riff-24khz-16bit-mono-pcm".
func ClipFormat(outputFormat string) (audio.ClipFormat, int) {
	f := strings.ToLower(outputFormat)
	format := audio.ClipPCM
	switch {
	case strings.HasPrefix(f, "riff-"):
		format = audio.ClipWAV
	case strings.Contains(f, "mp3"):
		format = audio.ClipMP3
	}
	rate := 0
	for _, part := range strings.Split(f, "-") {
		var khz int
		if _, err := fmt.Sscanf(part, "%dkhz", &khz); err == nil {
			rate = khz * 1000
			break
		}
	}
	return format, rate
}
