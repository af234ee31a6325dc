package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
	"github.com/MrWong99/babelcast/pkg/provider/translate/relay"
)

func TestTranslate_ResponseShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		want      string
		wantErr   error
		transport bool
	}{
		{name: "snake case", status: 200, body: `{"translated_text":"Bonjour"}`, want: "Bonjour"},
		{name: "camel case", status: 200, body: `{"translatedText":"Salut"}`, want: "Salut"},
		{name: "empty", status: 200, body: `{}`, wantErr: translate.ErrNoTranslation},
		{name: "error body", status: 500, body: `{"error":"Translation failed"}`, transport: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var in map[string]string
				_ = json.NewDecoder(r.Body).Decode(&in)
				if r.URL.Path != "/translate" || in["from_lang"] != "en" || in["to_lang"] != "fr" || in["text"] != "Hello" {
					t.Errorf("request %s %v", r.URL.Path, in)
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			p, err := relay.New(srv.URL, 0)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got, err := p.Translate(context.Background(), translate.Request{Text: "Hello", From: "en-GB", To: "fr"})
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.transport != provider.IsTransport(err) {
				t.Errorf("IsTransport(%v) = %v", err, !tc.transport)
			}
			if got != tc.want {
				t.Errorf("Translate = %q, want %q", got, tc.want)
			}
		})
	}
}
