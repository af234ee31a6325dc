// Package relay provides a translator that calls a JSON relay service.
//
//	POST {base}/translate  {"text": "...", "from_lang": "en", "to_lang": "es"}
//	200                    {"translated_text": "..."}  (or "translatedText")
package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

const providerName = "relay-translator"

var _ translate.Provider = (*Provider)(nil)

// Provider calls a relay's /translate endpoint.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider for the relay at baseURL. timeout <= 0 uses 15 s.
func New(baseURL string, timeout time.Duration) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("relay: baseURL must not be empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type translateRequest struct {
	Text     string `json:"text"`
	FromLang string `json:"from_lang"`
	ToLang   string `json:"to_lang"`
}

type translateResponse struct {
	TranslatedText      string `json:"translated_text"`
	TranslatedTextCamel string `json:"translatedText"`
	Error               string `json:"error"`
}

// Translate sends the text to the relay.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (string, error) {
	in := translateRequest{Text: req.Text, FromLang: req.Source(), ToLang: req.To}
	var out translateResponse
	if err := provider.PostJSON(ctx, p.httpClient, p.baseURL+"/translate", nil, in, &out, providerName, "translate"); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &provider.TransportError{Provider: providerName, Op: "translate", Err: errors.New(out.Error)}
	}
	text := out.TranslatedText
	if text == "" {
		text = out.TranslatedTextCamel
	}
	return translate.Normalize(text)
}
