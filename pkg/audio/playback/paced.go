package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

var _ audio.Player = (*Paced)(nil)

// Paced is a player without an audio device. It holds the speech queue for
// the real length of each clip, so captions and queue timing behave as with
// a speaker attached. Used for headless runs and when only events are wanted.
type Paced struct {
	// Fallback is waited when a clip's duration cannot be decoded.
	Fallback time.Duration

	// Sleep waits d or until ctx ends. Defaults to a timer; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Play waits for the clip's duration.
func (p *Paced) Play(ctx context.Context, clip audio.Clip) (time.Duration, error) {
	d, err := Duration(clip)
	if err != nil {
		if p.Fallback <= 0 {
			return 0, fmt.Errorf("%w: %w", audio.ErrPlayback, err)
		}
		d = p.Fallback
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	if err := sleep(ctx, d); err != nil {
		return 0, fmt.Errorf("%w: %w", audio.ErrPlayback, err)
	}
	return d, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
