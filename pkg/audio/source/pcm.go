package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

var _ audio.Source = (*PCMReader)(nil)

// PCMReader streams raw signed 16-bit little-endian PCM from r, typically
// stdin fed by another process (`arecord -f S16_LE -r 16000 -c 1 -t raw`).
// Reads block on r, so the stream is naturally paced by the producer and
// no additional pacing is applied.
type PCMReader struct {
	r      io.Reader
	format audio.Format
	opts   options
}

// NewPCMReader creates a source reading PCM in the given format from r.
func NewPCMReader(r io.Reader, format audio.Format, opts ...Option) (*PCMReader, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("source: invalid pcm format %dHz/%dch", format.SampleRate, format.Channels)
	}
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &PCMReader{r: r, format: format, opts: o}, nil
}

// Stream reads fixed-size frames until r is exhausted or ctx is cancelled.
// A short read at end of input is zero padded to a full frame.
func (p *PCMReader) Stream(ctx context.Context, push func(audio.Frame)) error {
	conv := &audio.FormatConverter{Target: audio.CaptureFormat}
	size := p.opts.frameSamples * p.format.Channels * 2
	var clock time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := make([]byte, size)
		n, err := io.ReadFull(p.r, buf)
		if n > 0 {
			frame := audio.Frame{Data: buf, SampleRate: p.format.SampleRate, Channels: p.format.Channels, Timestamp: clock}
			push(conv.Convert(frame))
			clock += frame.Duration()
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		case err != nil:
			return fmt.Errorf("source: read pcm: %w", err)
		}
	}
}
