package openai_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider"
	llmopenai "github.com/MrWong99/babelcast/pkg/provider/llm/openai"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	"github.com/MrWong99/babelcast/pkg/provider/stt/openai"
)

func payload(t *testing.T) wire.Payload {
	t.Helper()
	p, err := wire.Encoder{Encoding: wire.EncodingBase64}.Encode([]audio.Frame{audio.FromSamples(make([]int16, 160), 16000)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return p
}

func TestRecognize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "es" {
			t.Errorf("language = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "audio.wav" || string(data[:4]) != "RIFF" {
			t.Errorf("file = %s (%q...)", hdr.Filename, data[:4])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"buenos días"}`)
	}))
	defer srv.Close()

	p, err := openai.New("sk-test", "", llmopenai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Recognize(context.Background(), stt.Request{Audio: payload(t), Language: "es-ES"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "buenos días" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestRecognize_EmptyIsNoSpeech(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":""}`)
	}))
	defer srv.Close()

	p, _ := openai.New("sk-test", "whisper-1", llmopenai.WithBaseURL(srv.URL))
	if _, err := p.Recognize(context.Background(), stt.Request{Audio: payload(t)}); !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestRecognize_APIErrorIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad audio","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p, _ := openai.New("sk-test", "whisper-1", llmopenai.WithBaseURL(srv.URL))
	_, err := p.Recognize(context.Background(), stt.Request{Audio: payload(t)})
	var te *provider.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 TransportError", err)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error")
	}
}
