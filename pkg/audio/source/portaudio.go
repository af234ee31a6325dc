//go:build portaudio

package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// Available reports whether the binary was built with microphone support.
const Available = true

var _ audio.Source = (*Microphone)(nil)

// Microphone captures mono audio from the default input device via PortAudio.
type Microphone struct {
	opts options
	log  *slog.Logger
}

// NewMicrophone creates a microphone source. PortAudio is initialised when
// Stream starts and terminated when it returns.
func NewMicrophone(opts ...Option) (*Microphone, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Microphone{opts: o, log: slog.Default()}, nil
}

// Stream captures until ctx is cancelled. The PortAudio callback converts the
// float buffer to int16 and pushes it; push never blocks, so the real-time
// audio thread is never stalled.
func (m *Microphone) Stream(ctx context.Context, push func(audio.Frame)) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("source: portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	var (
		elapsed atomic.Int64
		frames  atomic.Uint64
	)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(audio.DefaultSampleRate), m.opts.frameSamples, func(in []float32) {
		frame := audio.FromSamples(audio.Float32ToInt16(in), audio.DefaultSampleRate)
		frame.Timestamp = time.Duration(elapsed.Load())
		elapsed.Add(int64(frame.Duration()))
		frames.Add(1)
		push(frame)
	})
	if err != nil {
		return fmt.Errorf("source: open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("source: start input stream: %w", err)
	}
	m.log.Info("microphone capture started", "sample_rate", audio.DefaultSampleRate, "frame_samples", m.opts.frameSamples)

	<-ctx.Done()
	if err := stream.Stop(); err != nil {
		m.log.Warn("microphone: stop stream", "err", err)
	}
	m.log.Info("microphone capture stopped", "frames", frames.Load())
	return nil
}
