// Package azure provides a translator backed by Azure AI Translator (v3).
package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/azure"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

const (
	providerName = "azure-translator"

	// DefaultEndpoint is the global Translator endpoint.
	DefaultEndpoint = "https://api.cognitive.microsofttranslator.com/translate"
)

var _ translate.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithEndpoint overrides the translate endpoint.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithTraceIDs replaces the X-ClientTraceId generator, for tests.
func WithTraceIDs(fn func() string) Option {
	return func(p *Provider) { p.traceID = fn }
}

// Provider calls the Translator v3 /translate operation.
type Provider struct {
	creds      azure.Credentials
	endpoint   string
	httpClient *http.Client
	traceID    func() string
}

// New creates a Provider for creds.
func New(creds azure.Credentials, opts ...Option) (*Provider, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{
		creds:      creds,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		traceID:    func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type textItem struct {
	Text string `json:"text"`
}

type translateResult struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

// Translate sends one text element and returns the first translation.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("azure-translator: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api-version", "3.0")
	if from := req.Source(); from != "" {
		q.Set("from", from)
	}
	q.Set("to", req.To)
	u.RawQuery = q.Encode()

	header := http.Header{}
	p.creds.SetHeaders(header)
	header.Set("X-ClientTraceId", p.traceID())

	var out []translateResult
	if err := provider.PostJSON(ctx, p.httpClient, u.String(), header, []textItem{{Text: req.Text}}, &out, providerName, "translate"); err != nil {
		return "", err
	}
	if len(out) == 0 || len(out[0].Translations) == 0 {
		return "", translate.ErrNoTranslation
	}
	return translate.Normalize(out[0].Translations[0].Text)
}
