package clock

import (
	"sync"
	"time"
)

// Manual is a controllable clock for deterministic tests. Time only moves
// when Advance or Set is called; Sleep and After resolve against the manual
// timeline.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at time.Time
	ch chan time.Time
}

// NewManual constructs a Manual clock starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that fires once the manual clock advances by d.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	if d <= 0 {
		now := m.now
		m.mu.Unlock()
		ch <- now
		return ch
	}
	m.timers = append(m.timers, &manualTimer{at: m.now.Add(d), ch: ch})
	m.mu.Unlock()
	return ch
}

// Sleep blocks the caller until the clock has been advanced past d.
func (m *Manual) Sleep(d time.Duration) {
	<-m.After(d)
}

// Advance moves the clock forward and fires any due timers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.fireLocked()
	m.mu.Unlock()
}

// Set jumps the clock to an absolute time. Moving backwards is not supported.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	if t.After(m.now) {
		m.now = t.UTC()
		m.fireLocked()
	}
	m.mu.Unlock()
}

func (m *Manual) fireLocked() {
	remaining := m.timers[:0]
	for _, timer := range m.timers {
		if !timer.at.After(m.now) {
			timer.ch <- m.now
			continue
		}
		remaining = append(remaining, timer)
	}
	m.timers = remaining
}
