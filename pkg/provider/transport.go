// Package provider holds the transport plumbing shared by every remote
// service adapter: a typed [TransportError] for network failures and non-2xx
// responses, and small helpers for JSON request/response round trips.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failing response body is kept for the error.
const maxErrorBody = 512

// TransportError reports a network failure or non-success HTTP status from a
// remote service call.
type TransportError struct {
	// Provider names the adapter (e.g. "azure-stt").
	Provider string

	// Op is the operation that failed (e.g. "recognize").
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Body holds the start of the response body when StatusCode is set.
	Body string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", e.Body)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the request may succeed: network errors,
// 408, 429 and 5xx responses.
func (e *TransportError) Temporary() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// IsTransport reports whether err wraps a [TransportError].
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Do sends req with client and returns the response when its status is 2xx.
// Any other outcome is returned as a [TransportError]; the response body is
// closed in that case.
func Do(client *http.Client, req *http.Request, providerName, op string) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: providerName, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			Provider:   providerName,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}

// PostJSON marshals in, POSTs it to url with the given extra headers and
// decodes a 2xx JSON response into out.
func PostJSON(ctx context.Context, client *http.Client, url string, header http.Header, in, out any, providerName, op string) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: %s: marshal request: %w", providerName, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %s: build request: %w", providerName, op, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := Do(client, req, providerName, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Provider: providerName, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
