package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultSessionPrefix prefixes every session id.
const DefaultSessionPrefix = "utt"

// SessionIDs issues ids of the form <prefix>_<unix-millis>_<counter>. The
// counter is monotonic for the lifetime of the generator, so ids are unique
// within a run even when two are issued in the same millisecond.
type SessionIDs struct {
	prefix  string
	now     func() time.Time
	counter atomic.Uint64
}

// NewSessionIDs creates a generator. An empty prefix selects
// [DefaultSessionPrefix]; a nil clock selects time.Now.
func NewSessionIDs(prefix string, now func() time.Time) *SessionIDs {
	if prefix == "" {
		prefix = DefaultSessionPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &SessionIDs{prefix: prefix, now: now}
}

// Next returns a fresh id.
func (s *SessionIDs) Next() string {
	n := s.counter.Add(1)
	return fmt.Sprintf("%s_%d_%d", s.prefix, s.now().UnixMilli(), n)
}
