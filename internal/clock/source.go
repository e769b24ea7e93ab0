// ABOUTME: Real time sources backing a node clock
// ABOUTME: SystemSource reads the wall clock, ManualSource is driven by callers
package clock

import (
	"sync"
	"time"
)

// SystemSource reads the host wall clock
type SystemSource struct{}

// Now returns time.Now()
func (SystemSource) Now() time.Time { return time.Now() }

// ManualSource is a TimeSource that only moves when told to.
// Safe for concurrent use.
type ManualSource struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualSource creates a source frozen at the given instant
func NewManualSource(initial time.Time) *ManualSource {
	return &ManualSource{now: initial}
}

// Now returns the current manual time
func (m *ManualSource) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the source to t
func (m *ManualSource) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the source forward by d
func (m *ManualSource) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
