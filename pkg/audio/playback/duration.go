package playback

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// ErrUnknownDuration is returned by [Duration] when a clip's length cannot be
// derived from its payload.
var ErrUnknownDuration = errors.New("playback: unknown clip duration")

// Duration decodes enough of clip to report its playback length.
// PCM clips are assumed to be mono 16-bit at clip.SampleRate.
func Duration(clip audio.Clip) (time.Duration, error) {
	switch clip.Format {
	case audio.ClipMP3:
		dec, err := mp3.NewDecoder(bytes.NewReader(clip.Data))
		if err != nil {
			return 0, fmt.Errorf("playback: decode mp3: %w", err)
		}
		// go-mp3 always decodes to 16-bit stereo.
		n := dec.Length()
		if n < 0 || dec.SampleRate() <= 0 {
			return 0, ErrUnknownDuration
		}
		return time.Duration(n/4) * time.Second / time.Duration(dec.SampleRate()), nil

	case audio.ClipWAV:
		dec := wav.NewDecoder(bytes.NewReader(clip.Data))
		if !dec.IsValidFile() {
			return 0, fmt.Errorf("playback: %w: invalid wav", ErrUnknownDuration)
		}
		d, err := dec.Duration()
		if err != nil {
			return 0, fmt.Errorf("playback: wav duration: %w", err)
		}
		return d, nil

	case audio.ClipPCM:
		if clip.SampleRate <= 0 {
			return 0, ErrUnknownDuration
		}
		f := audio.Frame{Data: clip.Data, SampleRate: clip.SampleRate, Channels: 1}
		return f.Duration(), nil
	}
	return 0, fmt.Errorf("playback: %w: format %q", ErrUnknownDuration, clip.Format)
}
