package caption

import (
	"errors"
	"log/slog"
	"strings"
)

// ErrSurfaceUnavailable is reported when the caption surface keeps failing
// after it has been recreated once.
var ErrSurfaceUnavailable = errors.New("caption: surface unavailable")

// Frame is the caption state pushed to a surface.
type Frame struct {
	SessionID string   `json:"session_id"`
	Lang      string   `json:"lang"`
	Words     []string `json:"words"`

	// Active is the index of the highlighted word. Words before it have been
	// spoken. Active equals len(Words) once the caption has completed and
	// is -1 before the first word is highlighted.
	Active int `json:"active"`

	// Progress runs from 0 to 1.
	Progress float64 `json:"progress"`
	Done     bool    `json:"done"`
}

// Surface renders captions. Calls arrive serialized and must not block.
type Surface interface {
	// Show replaces whatever is displayed with a new caption.
	Show(f Frame) error

	// Highlight moves the word cursor of the caption being shown.
	Highlight(f Frame) error

	// Hide removes the caption for sessionID.
	Hide(sessionID string) error
}

// LogSurface writes captions to a logger. It is the surface used when no
// overlay client is attached.
type LogSurface struct {
	Log *slog.Logger
}

func (s LogSurface) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Show logs the full caption.
func (s LogSurface) Show(f Frame) error {
	s.logger().Info("caption", "session_id", f.SessionID, "lang", f.Lang, "text", strings.Join(f.Words, " "))
	return nil
}

// Highlight logs the active word.
func (s LogSurface) Highlight(f Frame) error {
	if f.Done {
		s.logger().Debug("caption: completed", "session_id", f.SessionID)
		return nil
	}
	if f.Active >= 0 && f.Active < len(f.Words) {
		s.logger().Debug("caption: word", "session_id", f.SessionID, "index", f.Active, "word", f.Words[f.Active], "progress", f.Progress)
	}
	return nil
}

// Hide logs the hide.
func (s LogSurface) Hide(sessionID string) error {
	s.logger().Debug("caption: hidden", "session_id", sessionID)
	return nil
}

// Multi fans every call out to several surfaces. All surfaces are called;
// the errors are joined.
type Multi []Surface

// Show implements [Surface].
func (m Multi) Show(f Frame) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Show(f))
	}
	return errors.Join(errs...)
}

// Highlight implements [Surface].
func (m Multi) Highlight(f Frame) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Highlight(f))
	}
	return errors.Join(errs...)
}

// Hide implements [Surface].
func (m Multi) Hide(sessionID string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Hide(sessionID))
	}
	return errors.Join(errs...)
}

// SurfaceFactory returns a function building a new [Multi] from a fresh
// [LogSurface] on log and hub. A nil or closed hub is left out, so the
// captions keep reaching the log after the overlay has shut down.
func SurfaceFactory(log *slog.Logger, hub *Hub) func() (Surface, error) {
	return func() (Surface, error) {
		m := Multi{LogSurface{Log: log}}
		if hub != nil && !hub.Closed() {
			m = append(m, hub)
		}
		return m, nil
	}
}
