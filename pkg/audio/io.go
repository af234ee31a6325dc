package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPlayback is wrapped by [Player] implementations when a clip could not be
// played to completion.
var ErrPlayback = errors.New("audio: playback failed")

// Source delivers fixed-size PCM frames at a fixed rate.
//
// Stream blocks until ctx is cancelled or the source is exhausted, calling
// push once per frame in capture order. push must not block; the capture
// buffer only appends or discards the frame and returns. A nil error is
// returned when the source ends normally (e.g. end of file).
type Source interface {
	Stream(ctx context.Context, push func(Frame)) error
}

// SourceFunc adapts a plain function to the [Source] interface.
type SourceFunc func(ctx context.Context, push func(Frame)) error

// Stream calls f.
func (f SourceFunc) Stream(ctx context.Context, push func(Frame)) error { return f(ctx, push) }

// ClipFormat names the container/codec of synthesized audio.
type ClipFormat string

const (
	ClipMP3 ClipFormat = "mp3"
	ClipWAV ClipFormat = "wav"
	ClipPCM ClipFormat = "pcm"
)

// Clip is one synthesized utterance ready for playback.
type Clip struct {
	// Data is the encoded audio payload.
	Data []byte

	// Format identifies how Data is encoded.
	Format ClipFormat

	// SampleRate is the sample rate of the decoded audio, when known.
	SampleRate int
}

// Player plays clips to completion, one at a time.
//
// Play blocks until the clip has finished playing, ctx is cancelled, or
// playback fails. Failures are returned wrapped around [ErrPlayback].
type Player interface {
	Play(ctx context.Context, clip Clip) (time.Duration, error)
}
