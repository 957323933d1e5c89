package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake pinned at t.
func NewFake(t time.Time) *Fake { return &Fake{now: t} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// ScriptedRNG replays fixed draws. When the script runs out it repeats the
// last value, so tests don't have to count draws exactly.
type ScriptedRNG struct {
	mu        sync.Mutex
	ints      []int
	durations []time.Duration
}

func NewScriptedRNG(ints []int, durations []time.Duration) *ScriptedRNG {
	return &ScriptedRNG{ints: ints, durations: durations}
}

func (s *ScriptedRNG) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0]
	if len(s.ints) > 1 {
		s.ints = s.ints[1:]
	}
	if v >= n {
		v = n - 1
	}
	return v
}

func (s *ScriptedRNG) DurationBetween(min, max time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.durations) == 0 {
		return min
	}
	v := s.durations[0]
	if len(s.durations) > 1 {
		s.durations = s.durations[1:]
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}
