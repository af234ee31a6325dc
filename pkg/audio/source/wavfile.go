package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/babelcast/pkg/audio"
)

var _ audio.Source = (*WAVFile)(nil)

// WAVFile streams a PCM WAV file. Any rate, channel count and 8/16/24/32 bit
// depth is accepted and converted to the capture format.
type WAVFile struct {
	path string
	opts options
}

// NewWAVFile creates a source for the file at path. The file is opened on
// each Stream call.
func NewWAVFile(path string, opts ...Option) *WAVFile {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &WAVFile{path: path, opts: o}
}

// Stream delivers the file's audio until it ends or ctx is cancelled.
func (w *WAVFile) Stream(ctx context.Context, push func(audio.Frame)) error {
	conv := &audio.FormatConverter{Target: audio.CaptureFormat}
	p := &pacer{enabled: w.opts.realtime}
	var clock time.Duration
	for {
		frames, err := w.streamOnce(ctx, conv, p, &clock, push)
		if err != nil {
			return err
		}
		if !w.opts.loop || frames == 0 {
			return nil
		}
	}
}

// streamOnce plays the file once. clock is the stream position, carried
// across loops so timestamps keep increasing.
func (w *WAVFile) streamOnce(ctx context.Context, conv *audio.FormatConverter, p *pacer, clock *time.Duration, push func(audio.Frame)) (int, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return 0, fmt.Errorf("source: open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("source: %s is not a valid wav file", w.path)
	}
	if dec.WavAudioFormat != 1 {
		return 0, fmt.Errorf("source: %s: unsupported wav format %d (want PCM)", w.path, dec.WavAudioFormat)
	}
	channels := int(dec.NumChans)
	rate := int(dec.SampleRate)
	depth := int(dec.BitDepth)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:   make([]int, w.opts.frameSamples*channels),
	}
	frames := 0
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return frames, fmt.Errorf("source: read wav: %w", err)
		}
		if n == 0 {
			return frames, nil
		}
		// The final frame is zero padded to the fixed frame length.
		samples := make([]int16, len(buf.Data))
		for i, v := range buf.Data[:n] {
			samples[i] = toInt16(v, depth)
		}
		frame := audio.FromSamples(samples, rate)
		frame.Channels = channels
		frame.Timestamp = *clock

		if err := p.wait(ctx, frame.Timestamp); err != nil {
			return frames, err
		}
		push(conv.Convert(frame))
		frames++
		*clock += frame.Duration()
	}
}

// toInt16 scales a decoded sample of the given bit depth to 16 bits.
func toInt16(v, depth int) int16 {
	switch depth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	}
	return int16(v)
}
