// Package audio defines the audio primitives shared by the babelcast pipeline:
// PCM frames delivered by a [Source], synthesized [Clip]s handed to a [Player],
// and the sample-level helpers used to normalise capture input to 16 kHz mono.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// DefaultSampleRate is the capture rate expected by the recognition services.
const DefaultSampleRate = 16000

// Frame is a fixed-length buffer of signed 16-bit little-endian PCM captured
// from a [Source]. Frames arrive in strict temporal order.
type Frame struct {
	// Data holds little-endian int16 PCM samples.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for frames entering the capture buffer.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// SampleCount returns the number of int16 samples in the frame across all channels.
func (f Frame) SampleCount() int {
	return len(f.Data) / 2
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	ch := max(f.Channels, 1)
	if f.SampleRate <= 0 {
		return 0
	}
	perChannel := f.SampleCount() / ch
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the frame payload into int16 samples.
func (f Frame) Samples() []int16 {
	out := make([]int16, len(f.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
	}
	return out
}

// FromSamples builds a mono frame from int16 samples.
func FromSamples(samples []int16, sampleRate int) Frame {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return Frame{Data: data, SampleRate: sampleRate, Channels: 1}
}

// Float32ToInt16 converts normalised float samples in [-1, 1] to int16 PCM.
// Values outside the range are clamped; negative values scale by 0x8000 and
// positive values by 0x7FFF so both extremes map exactly.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		v := math.Max(-1, math.Min(1, float64(s)))
		if v < 0 {
			out[i] = int16(v * 0x8000)
		} else {
			out[i] = int16(v * 0x7FFF)
		}
	}
	return out
}
