package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/audio/wire"
	"github.com/MrWong99/babelcast/pkg/provider"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	"github.com/MrWong99/babelcast/pkg/provider/stt/whisper"
)

// inferenceServer answers POST /inference with text and records the form.
func inferenceServer(t *testing.T, text string, form chan<- map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if form != nil {
			form <- map[string]string{
				"riff":            string(data[:4]),
				"language":        r.FormValue("language"),
				"response_format": r.FormValue("response_format"),
				"model":           r.FormValue("model"),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func batch(t *testing.T, enc wire.Encoding) wire.Payload {
	t.Helper()
	p, err := wire.Encoder{Encoding: enc}.Encode([]audio.Frame{audio.FromSamples(make([]int16, 320), 16000)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return p
}

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestRecognize_UploadsWAV(t *testing.T) {
	t.Parallel()

	form := make(chan map[string]string, 1)
	srv := inferenceServer(t, "  hello there ", form)
	p, err := whisper.New(srv.URL, whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A base64 batch is converted to WAV before upload.
	res, err := p.Recognize(context.Background(), stt.Request{Audio: batch(t, wire.EncodingBase64), Language: "de-DE"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "hello there" || res.Language != "de-DE" {
		t.Errorf("result = %+v", res)
	}

	got := <-form
	want := map[string]string{"riff": "RIFF", "language": "de", "response_format": "json", "model": "base.en"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("form %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestRecognize_EmptyTextIsNoSpeech(t *testing.T) {
	t.Parallel()

	srv := inferenceServer(t, "   ", nil)
	p, _ := whisper.New(srv.URL)
	_, err := p.Recognize(context.Background(), stt.Request{Audio: batch(t, wire.EncodingWAV)})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestRecognize_ServerErrorIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Recognize(context.Background(), stt.Request{Audio: batch(t, wire.EncodingWAV)})
	var te *provider.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if te.StatusCode != http.StatusServiceUnavailable || !te.Temporary() {
		t.Errorf("TransportError = %+v", te)
	}
}

func TestPreferredEncoding(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://localhost:1")
	if got := p.PreferredEncoding(); got != wire.EncodingWAV {
		t.Errorf("PreferredEncoding = %q", got)
	}
}
