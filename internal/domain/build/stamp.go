package build

import (
	"sync"
	"time"
)

// StampLayout renders timestamps with microsecond precision and no colons,
// so that they are valid in file names on every OS.
const StampLayout = "2006-01-02 15-04-05.000000"

// Stamper hands out strictly increasing UTC timestamps at microsecond
// resolution, even when the wall clock stalls or goes backwards.
type Stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewStamper returns a Stamper reading now, or time.Now when nil.
func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}

	return &Stamper{now: now}
}

// Next returns the next timestamp.
func (s *Stamper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}

	s.last = t

	return t
}

// NextString returns Next formatted with StampLayout.
func (s *Stamper) NextString() string {
	return s.Next().Format(StampLayout)
}
