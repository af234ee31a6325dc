// Package source provides [audio.Source] implementations: a WAV file, a raw
// PCM stream (e.g. stdin) and, with the portaudio build tag, the default
// input device.
//
// Every source converts its input to [audio.CaptureFormat] and delivers
// frames of a fixed sample count, paced at the rate the audio would arrive
// from a live device unless pacing is disabled.
package source

import (
	"context"
	"time"
)

// DefaultFrameSamples is the number of samples per delivered frame
// (256 ms at 16 kHz).
const DefaultFrameSamples = 4096

// Option configures a source.
type Option func(*options)

type options struct {
	frameSamples int
	realtime     bool
	loop         bool
}

func defaultOptions() options {
	return options{frameSamples: DefaultFrameSamples, realtime: true}
}

// WithFrameSamples sets the samples per frame, per channel of the input.
// Values < 1 are ignored.
func WithFrameSamples(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.frameSamples = n
		}
	}
}

// WithRealtime controls pacing. With pacing off, file sources deliver frames
// as fast as they can be read.
func WithRealtime(on bool) Option {
	return func(o *options) { o.realtime = on }
}

// WithLoop restarts file sources at end of file until ctx is cancelled.
func WithLoop(on bool) Option {
	return func(o *options) { o.loop = on }
}

// pacer sleeps until each frame's due time so delivery tracks the audio clock.
type pacer struct {
	enabled bool
	start   time.Time
}

func (p *pacer) wait(ctx context.Context, at time.Duration) error {
	if !p.enabled {
		return ctx.Err()
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}
	d := time.Until(p.start.Add(at))
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
