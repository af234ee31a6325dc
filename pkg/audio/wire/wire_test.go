package wire_test

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/audio/wire"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = int16(i * 7)
	}
	pcm := audio.FromSamples(samples, 16000).Data
	out := wire.EncodeWAV(pcm, 16000)

	if len(out) != wire.HeaderSize+640 {
		t.Fatalf("len = %d, want %d", len(out), wire.HeaderSize+640)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"riff tag", string(out[0:4]), "RIFF"},
		{"riff size", binary.LittleEndian.Uint32(out[4:8]), uint32(676)},
		{"wave tag", string(out[8:12]), "WAVE"},
		{"fmt tag", string(out[12:16]), "fmt "},
		{"fmt length", binary.LittleEndian.Uint32(out[16:20]), uint32(16)},
		{"audio format", binary.LittleEndian.Uint16(out[20:22]), uint16(1)},
		{"channels", binary.LittleEndian.Uint16(out[22:24]), uint16(1)},
		{"sample rate", binary.LittleEndian.Uint32(out[24:28]), uint32(16000)},
		{"byte rate", binary.LittleEndian.Uint32(out[28:32]), uint32(32000)},
		{"block align", binary.LittleEndian.Uint16(out[32:34]), uint16(2)},
		{"bits per sample", binary.LittleEndian.Uint16(out[34:36]), uint16(16)},
		{"data tag", string(out[36:40]), "data"},
		{"data size", binary.LittleEndian.Uint32(out[40:44]), uint32(640)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if !bytes.Equal(out[wire.HeaderSize:], pcm) {
		t.Error("payload does not match input PCM")
	}
}

func TestEncoder_ConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	frames := []audio.Frame{
		audio.FromSamples([]int16{1, 2}, 16000),
		audio.FromSamples([]int16{3}, 16000),
		audio.FromSamples([]int16{4, 5, 6}, 16000),
	}

	enc := wire.Encoder{Encoding: wire.EncodingWAV, SampleRate: 16000}
	p, err := enc.Encode(frames)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if p.ContentType != "audio/wav" {
		t.Errorf("content type = %q", p.ContentType)
	}
	got := audio.Frame{Data: p.Data[wire.HeaderSize:]}.Samples()
	for i, want := range []int16{1, 2, 3, 4, 5, 6} {
		if got[i] != want {
			t.Errorf("sample %d = %d, want %d", i, got[i], want)
		}
	}
}

func TestEncoder_Base64(t *testing.T) {
	t.Parallel()

	frame := audio.FromSamples([]int16{-1, 256}, 16000)
	p, err := wire.Encoder{Encoding: wire.EncodingBase64, SampleRate: 16000}.Encode([]audio.Frame{frame})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(string(p.Data))
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if !bytes.Equal(raw, []byte{0xff, 0xff, 0x00, 0x01}) {
		t.Errorf("decoded = %x", raw)
	}
}

func TestEncoder_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		enc   wire.Encoder
		frame audio.Frame
	}{
		{"stereo", wire.Encoder{Encoding: wire.EncodingWAV, SampleRate: 16000}, audio.Frame{Data: []byte{0, 0, 0, 0}, SampleRate: 16000, Channels: 2}},
		{"rate mismatch", wire.Encoder{Encoding: wire.EncodingWAV, SampleRate: 16000}, audio.Frame{Data: []byte{0, 0}, SampleRate: 48000, Channels: 1}},
		{"unknown encoding", wire.Encoder{Encoding: "flac", SampleRate: 16000}, audio.Frame{Data: []byte{0, 0}, SampleRate: 16000, Channels: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tc.enc.Encode([]audio.Frame{tc.frame}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAs_RoundTripsBetweenEncodings(t *testing.T) {
	t.Parallel()

	frame := audio.FromSamples([]int16{10, -20, 30}, 16000)
	wav, err := wire.Encoder{Encoding: wire.EncodingWAV, SampleRate: 16000}.Encode([]audio.Frame{frame})
	if err != nil {
		t.Fatal(err)
	}

	b64, err := wire.As(wav, wire.EncodingBase64)
	if err != nil {
		t.Fatalf("As(base64): %v", err)
	}
	back, err := wire.As(b64, wire.EncodingWAV)
	if err != nil {
		t.Fatalf("As(wav): %v", err)
	}
	if !bytes.Equal(back.Data, wav.Data) {
		t.Error("wav -> base64 -> wav changed the payload")
	}

	same, _ := wire.As(wav, wire.EncodingWAV)
	if &same.Data[0] != &wav.Data[0] {
		t.Error("matching encoding should not copy")
	}

	if _, err := (wire.Payload{Encoding: wire.EncodingWAV, Data: []byte("nope")}).PCM(); err == nil {
		t.Error("expected error for truncated WAV")
	}
}
