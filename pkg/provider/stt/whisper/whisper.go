// Package whisper provides speech recognizers backed by whisper.cpp.
//
// [Provider] talks to a whisper.cpp HTTP server (the "server" example binary,
// POST /inference) and uploads each batch as a WAV file in a multipart form.
// [NativeProvider] links the whisper.cpp library through its CGO bindings and
// runs inference in-process.
//
// whisper.cpp is a batch engine, which matches the pipeline's fixed-size
// batches: one Recognize call is one inference.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Recognize(ctx, stt.Request{Audio: payload, Language: "en-US"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

const (
	providerName    = "whisper"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

var (
	_ stt.Provider          = (*Provider)(nil)
	_ stt.EncodingPreferrer = (*Provider)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model name sent as a hint with every request. Most
// whisper.cpp server builds ignore it because the model is fixed at startup.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback language used when a request carries none.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the HTTP client timeout. Defaults to 30 s.
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

// Provider recognises speech through a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// PreferredEncoding reports that the server expects WAV uploads.
func (p *Provider) PreferredEncoding() wire.Encoding { return wire.EncodingWAV }

// Recognize uploads the batch to /inference and returns the transcript.
// An empty transcript is reported as stt.ErrNoSpeech.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	payload, err := wire.As(req.Audio, wire.EncodingWAV)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	lang := provider.BaseLanguage(req.Language)
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(payload.Data); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := [][2]string{{"response_format", "json"}, {"language", lang}}
	if p.model != "" {
		fields = append(fields, [2]string{"model", p.model})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := provider.Do(p.httpClient, httpReq, providerName, "recognize")
	if err != nil {
		return stt.Result{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Result{}, &provider.TransportError{Provider: providerName, Op: "recognize", StatusCode: resp.StatusCode, Err: fmt.Errorf("parse JSON response: %w", err)}
	}

	return stt.Normalize(result.Text, req.Language)
}
