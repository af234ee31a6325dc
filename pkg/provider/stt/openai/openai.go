// Package openai provides a recognizer backed by the OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe, or any compatible
// server).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider"
	llmopenai "github.com/MrWong99/babelcast/pkg/provider/llm/openai"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

const defaultModel = "whisper-1"

var (
	_ stt.Provider          = (*Provider)(nil)
	_ stt.EncodingPreferrer = (*Provider)(nil)
)

// Provider transcribes batches with the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New creates a Provider. model defaults to "whisper-1". Options are shared
// with the OpenAI LLM provider (base URL, organization, timeout).
func New(apiKey, model string, opts ...llmopenai.Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai-stt: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client: oai.NewClient(llmopenai.RequestOptions(apiKey, opts...)...),
		model:  model,
	}, nil
}

// PreferredEncoding reports WAV; the endpoint needs a real audio file.
func (p *Provider) PreferredEncoding() wire.Encoding { return wire.EncodingWAV }

// Recognize uploads the batch as audio.wav.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	payload, err := wire.As(req.Audio, wire.EncodingWAV)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai-stt: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(payload.Data), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang := provider.BaseLanguage(req.Language); lang != "" {
		params.Language = param.NewOpt(lang)
	}

	tr, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, transportError(err)
	}
	return stt.Normalize(tr.Text, req.Language)
}

// transportError maps SDK failures onto provider.TransportError so the
// resilience layer can classify them.
func transportError(err error) error {
	te := &provider.TransportError{Provider: "openai-stt", Op: "recognize", Err: err}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		te.StatusCode = apiErr.StatusCode
		te.Body = apiErr.Message
	}
	return te
}
