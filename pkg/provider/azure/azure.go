// Package azure holds the credential plumbing shared by the Azure Cognitive
// Services adapters: subscription-key headers and a cached STS bearer token.
//
// The speech recognizer (stt/azure), the translator (translate/azure) and the
// synthesizer (tts/azure) all authenticate with the same subscription key and
// region, so one [Credentials] value is built from configuration and handed to
// each of them.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/babelcast/pkg/provider"
)

const (
	// HeaderKey carries the subscription key.
	HeaderKey = "Ocp-Apim-Subscription-Key"

	// HeaderRegion carries the resource region for multi-service keys.
	HeaderRegion = "Ocp-Apim-Subscription-Region"

	// TokenLifetime is how long an issued token is reused. STS tokens are
	// valid for ten minutes; renewing after nine leaves headroom.
	TokenLifetime = 9 * time.Minute
)

// Credentials identifies an Azure Cognitive Services resource.
type Credentials struct {
	Key    string
	Region string
}

// Validate reports missing fields.
func (c Credentials) Validate() error {
	var errs []error
	if c.Key == "" {
		errs = append(errs, errors.New("azure: subscription key must not be empty"))
	}
	if c.Region == "" {
		errs = append(errs, errors.New("azure: region must not be empty"))
	}
	return errors.Join(errs...)
}

// SetHeaders adds the subscription key and region headers to h.
func (c Credentials) SetHeaders(h http.Header) {
	h.Set(HeaderKey, c.Key)
	if c.Region != "" {
		h.Set(HeaderRegion, c.Region)
	}
}

// IssueTokenURL returns the regional STS endpoint.
func (c Credentials) IssueTokenURL() string {
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", c.Region)
}

// TokenSource issues STS bearer tokens and caches each for [TokenLifetime].
// It is safe for concurrent use; concurrent callers during a refresh share one
// request.
type TokenSource struct {
	creds  Credentials
	url    string
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// TokenOption configures a TokenSource.
type TokenOption func(*TokenSource)

// WithTokenURL overrides the STS endpoint.
func WithTokenURL(u string) TokenOption {
	return func(ts *TokenSource) { ts.url = u }
}

// WithTokenClient sets the HTTP client used for token requests.
func WithTokenClient(c *http.Client) TokenOption {
	return func(ts *TokenSource) {
		if c != nil {
			ts.client = c
		}
	}
}

// WithTokenClock replaces time.Now, for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(ts *TokenSource) { ts.now = now }
}

// NewTokenSource creates a TokenSource for creds.
func NewTokenSource(creds Credentials, opts ...TokenOption) *TokenSource {
	ts := &TokenSource{
		creds:  creds,
		url:    creds.IssueTokenURL(),
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, o := range opts {
		o(ts)
	}
	return ts
}

// Token returns a valid bearer token, issuing a new one when the cached token
// has expired.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expires) {
		return ts.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.url, nil)
	if err != nil {
		return "", fmt.Errorf("azure: create token request: %w", err)
	}
	req.Header.Set(HeaderKey, ts.creds.Key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := provider.Do(ts.client, req, "azure-sts", "issue token")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if err != nil {
		return "", &provider.TransportError{Provider: "azure-sts", Op: "issue token", StatusCode: resp.StatusCode, Err: err}
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", &provider.TransportError{Provider: "azure-sts", Op: "issue token", StatusCode: resp.StatusCode, Err: errors.New("empty token")}
	}

	ts.token = token
	ts.expires = ts.now().Add(TokenLifetime)
	return token, nil
}

// Invalidate drops the cached token so the next call issues a fresh one.
// Adapters call it after a 401.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}
