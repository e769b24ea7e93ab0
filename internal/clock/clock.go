// ABOUTME: Per-node clock state for Berkeley synchronization
// ABOUTME: Tracks a signed offset applied on top of a pluggable real time source
package clock

import (
	"math/rand"
	"sync"
	"time"
)

// MaxInitialOffset bounds the simulated drift given to a fresh node, in seconds
const MaxInitialOffset = 10

// TimeSource returns the current real time. Tests inject ManualSource.
type TimeSource interface {
	Now() time.Time
}

// State is a node's clock: real time plus an accumulated offset in seconds
type State struct {
	mu     sync.RWMutex
	source TimeSource
	offset float64
}

// NewState creates a clock with the given initial offset in seconds
func NewState(source TimeSource, offset float64) *State {
	if source == nil {
		source = SystemSource{}
	}
	return &State{
		source: source,
		offset: offset,
	}
}

// NewRandomState creates a clock whose offset simulates drift: a random
// whole number of seconds in [-MaxInitialOffset, +MaxInitialOffset]
func NewRandomState(source TimeSource) *State {
	return NewState(source, RandomOffset())
}

// RandomOffset returns a whole number of seconds in [-MaxInitialOffset, +MaxInitialOffset]
func RandomOffset() float64 {
	return float64(rand.Intn(2*MaxInitialOffset+1) - MaxInitialOffset)
}

// Now returns the node's reported time in seconds since the Unix epoch
func (s *State) Now() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Seconds(s.source.Now()) + s.offset
}

// Offset returns the current offset in seconds
func (s *State) Offset() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Adjust adds delta to the offset and returns the new offset.
// Adjustments accumulate; they never replace the offset.
func (s *State) Adjust(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += delta
	return s.offset
}

// Source returns the underlying real time source
func (s *State) Source() TimeSource {
	return s.source
}

// Seconds converts a time to float seconds since the Unix epoch
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds converts float seconds since the Unix epoch to a time
func FromSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
