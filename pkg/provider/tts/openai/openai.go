// Package openai provides a synthesizer backed by the OpenAI speech endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider"
	llmopenai "github.com/MrWong99/babelcast/pkg/provider/llm/openai"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

const (
	providerName = "openai-tts"
	defaultModel = "tts-1"
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// voices are the built-in OpenAI speech voices.
var voices = []string{"alloy", "ash", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

// DefaultVoice returns the voice used for gender when a request names none.
func DefaultVoice(g tts.Gender) string {
	if g == tts.Male {
		return "onyx"
	}
	return "nova"
}

// Provider synthesises MP3 clips with the OpenAI API. The speech models are
// multilingual and detect the language from the text.
type Provider struct {
	client oai.Client
	model  string
}

// New creates a Provider. model defaults to "tts-1".
func New(apiKey, model string, opts ...llmopenai.Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai-tts: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client: oai.NewClient(llmopenai.RequestOptions(apiKey, opts...)...),
		model:  model,
	}, nil
}

// Synthesize returns the MP3 rendering of req.Text.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return audio.Clip{}, tts.Failed(providerName, errors.New("empty text"))
	}
	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice(req.Gender)
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		te := &provider.TransportError{Provider: providerName, Op: "synthesize", Err: err}
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			te.StatusCode = apiErr.StatusCode
			te.Body = apiErr.Message
		}
		return audio.Clip{}, te
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, &provider.TransportError{Provider: providerName, Op: "synthesize", StatusCode: resp.StatusCode, Err: err}
	}
	if len(data) == 0 {
		return audio.Clip{}, tts.Failed(providerName, fmt.Errorf("empty audio response for voice %q", voice))
	}
	return audio.Clip{Data: data, Format: audio.ClipMP3, SampleRate: 24000}, nil
}

// ListVoices returns the fixed catalogue of OpenAI voices.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	out := make([]tts.Voice, 0, len(voices))
	for _, v := range voices {
		out = append(out, tts.Voice{ID: v, Name: v, Provider: providerName, Metadata: map[string]string{"model": p.model}})
	}
	return out, nil
}
