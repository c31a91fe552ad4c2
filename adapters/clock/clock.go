// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/kalita/ports"
)

// Real returns the actual current time in UTC.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake provides a controllable clock for testing.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time, then advances it by the step if one is set.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.current
	f.current = f.current.Add(f.step)
	return now
}

// Set sets the fake current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake time forward by duration d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Step makes every Now call advance the clock by d, so successive records
// get distinct timestamps.
func (f *Fake) Step(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = d
	return f
}

var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
