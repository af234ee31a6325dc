//go:build !portaudio

package source

import (
	"context"
	"errors"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// Available reports whether the binary was built with microphone support.
const Available = false

// ErrNoMicrophone is returned when the binary was built without the
// portaudio build tag.
var ErrNoMicrophone = errors.New("source: microphone support not compiled in (build with -tags portaudio)")

// Microphone is unavailable in this build.
type Microphone struct{}

// NewMicrophone always fails with ErrNoMicrophone in this build.
func NewMicrophone(...Option) (*Microphone, error) { return nil, ErrNoMicrophone }

// Stream always fails with ErrNoMicrophone.
func (*Microphone) Stream(context.Context, func(audio.Frame)) error { return ErrNoMicrophone }
