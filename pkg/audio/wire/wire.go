// Package wire serializes batches of capture frames into the encodings the
// recognition transports accept: a WAV container for services that expect an
// audio file, or base64 raw PCM for JSON transports.
package wire

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// HeaderSize is the length of the canonical PCM WAV header written by [EncodeWAV].
const HeaderSize = 44

const bitsPerSample = 16

// Encoding selects the wire representation of a batch.
type Encoding string

const (
	// EncodingWAV wraps the PCM in a 44-byte RIFF/WAVE header.
	EncodingWAV Encoding = "wav"

	// EncodingBase64 is standard base64 over raw little-endian PCM bytes.
	EncodingBase64 Encoding = "base64"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingWAV || e == EncodingBase64
}

// Payload is an encoded batch ready for a recognition request.
type Payload struct {
	Data        []byte
	Encoding    Encoding
	SampleRate  int
	ContentType string
}

// Encoder turns a batch of mono frames into a [Payload].
type Encoder struct {
	Encoding   Encoding
	SampleRate int
}

// Encode concatenates frames in order and serializes them with e.Encoding.
// All frames must be mono; a frame with a different sample rate than
// e.SampleRate is rejected.
func (e Encoder) Encode(frames []audio.Frame) (Payload, error) {
	rate := e.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	for i, f := range frames {
		if f.Channels > 1 {
			return Payload{}, fmt.Errorf("wire: frame %d has %d channels, want mono", i, f.Channels)
		}
		if f.SampleRate != 0 && f.SampleRate != rate {
			return Payload{}, fmt.Errorf("wire: frame %d sample rate %d, want %d", i, f.SampleRate, rate)
		}
	}
	pcm := Concat(frames)

	switch e.Encoding {
	case EncodingWAV, "":
		return Payload{Data: EncodeWAV(pcm, rate), Encoding: EncodingWAV, SampleRate: rate, ContentType: "audio/wav"}, nil
	case EncodingBase64:
		return Payload{Data: EncodeBase64(pcm), Encoding: EncodingBase64, SampleRate: rate, ContentType: "text/plain"}, nil
	}
	return Payload{}, fmt.Errorf("wire: unknown encoding %q", e.Encoding)
}

// Concat joins the PCM payloads of frames into one linear buffer.
func Concat(frames []audio.Frame) []byte {
	n := 0
	for _, f := range frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range frames {
		out = append(out, f.Data...)
	}
	return out
}

// EncodeWAV wraps mono 16-bit little-endian PCM in a canonical WAV container.
//
// Header layout: "RIFF", 36+dataSize, "WAVE", "fmt ", 16, PCM(1), channels(1),
// sampleRate, byteRate, blockAlign(2), bitsPerSample(16), "data", dataSize.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, HeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[HeaderSize:], pcm)

	return buf
}

// EncodeBase64 returns the standard base64 encoding of raw PCM bytes.
func EncodeBase64(pcm []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(pcm)))
	base64.StdEncoding.Encode(out, pcm)
	return out
}

// PCM returns the raw little-endian PCM carried by p.
func (p Payload) PCM() ([]byte, error) {
	switch p.Encoding {
	case EncodingWAV:
		if len(p.Data) < HeaderSize || string(p.Data[0:4]) != "RIFF" || string(p.Data[36:40]) != "data" {
			return nil, fmt.Errorf("wire: payload is not a canonical WAV container")
		}
		return p.Data[HeaderSize:], nil
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.DecodedLen(len(p.Data)))
		n, err := base64.StdEncoding.Decode(out, p.Data)
		if err != nil {
			return nil, fmt.Errorf("wire: decode base64 payload: %w", err)
		}
		return out[:n], nil
	}
	return nil, fmt.Errorf("wire: unknown encoding %q", p.Encoding)
}

// As returns p re-encoded with enc. It returns p unchanged when the encoding
// already matches, so adapters can accept whatever the dispatcher produced.
func As(p Payload, enc Encoding) (Payload, error) {
	if p.Encoding == enc {
		return p, nil
	}
	pcm, err := p.PCM()
	if err != nil {
		return Payload{}, err
	}
	rate := p.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	frame := audio.Frame{Data: pcm, SampleRate: rate, Channels: 1}
	return Encoder{Encoding: enc, SampleRate: rate}.Encode([]audio.Frame{frame})
}
