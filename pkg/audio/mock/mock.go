// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Frames: frames}
//	player := &mock.Player{Errs: map[string]error{"B": errBroken}}
//	err := src.Stream(ctx, buffer.Push)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Frames are pushed in order by every Stream call.
	Frames []audio.Frame

	// StreamErr is returned by Stream after the frames were pushed.
	StreamErr error

	// Block makes Stream wait for ctx cancellation after pushing the frames,
	// like a live device.
	Block bool

	// CallCountStream records how many times Stream was called.
	CallCountStream int
}

// Stream pushes Frames and returns StreamErr.
func (s *Source) Stream(ctx context.Context, push func(audio.Frame)) error {
	s.mu.Lock()
	s.CallCountStream++
	frames := append([]audio.Frame(nil), s.Frames...)
	block := s.Block
	streamErr := s.StreamErr
	s.mu.Unlock()

	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		push(f)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return streamErr
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records a single invocation of [Player.Play].
type PlayCall struct {
	Clip  audio.Clip
	Start time.Time
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// Duration is returned for successful plays.
	Duration time.Duration

	// Errs maps a clip payload (as a string) to the error Play returns for it.
	Errs map[string]error

	// Hook, when set, runs inside Play before the result is chosen. Use it
	// to block playback or to observe ordering.
	Hook func(ctx context.Context, clip audio.Clip)

	// PlayCalls records every call in order.
	PlayCalls []PlayCall

	inflight int
	peak     int
}

// Play records clip and returns the configured result.
func (p *Player) Play(ctx context.Context, clip audio.Clip) (time.Duration, error) {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{Clip: clip, Start: time.Now()})
	p.inflight++
	p.peak = max(p.peak, p.inflight)
	hook := p.Hook
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, clip)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if err := p.Errs[string(clip.Data)]; err != nil {
		return 0, err
	}
	return p.Duration, nil
}

// Played returns the payload of every played clip in order, as strings.
func (p *Player) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.PlayCalls))
	for i, c := range p.PlayCalls {
		out[i] = string(c.Clip.Data)
	}
	return out
}

// PeakConcurrency returns the highest number of simultaneous Play calls.
func (p *Player) PeakConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Player = (*Player)(nil)
)
