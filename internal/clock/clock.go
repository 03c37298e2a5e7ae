// Package clock provides a mockable wall-clock source for testing.
// In production it simply wraps time.Now(). For tests, use MockClock.
package clock

import (
	"sync"
	"time"
)

// CanonicalLayout is the timestamp format stored in the database:
// "YYYY-MM-DD HH:MM:SS" local time.
const CanonicalLayout = "2006-01-02 15:04:05"

// Clock is the interface for time operations. Use package-level functions
// for convenience, or inject a Clock for testing.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
}

// RealClock provides the actual system time.
type RealClock struct{}

func (c *RealClock) Now() time.Time                  { return time.Now() }
func (c *RealClock) Since(t time.Time) time.Duration  { return time.Since(t) }
func (c *RealClock) Until(t time.Time) time.Duration  { return time.Until(t) }

// MockClock is a test clock with controllable time.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewMockClock creates a mock clock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *MockClock) Until(t time.Time) time.Duration {
	return t.Sub(c.Now())
}

// Set sets the mock time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance advances the mock time by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// --- Package-level convenience functions, backed by RealClock unless
// overridden with SetDefault (used in a few integration tests that need
// the package-level helpers, e.g. CanonicalFormat, to follow a mock). ---

var (
	defaultMu sync.RWMutex
	def       Clock = &RealClock{}
)

// SetDefault overrides the package-level clock. Tests should restore the
// previous value (returned) when done.
func SetDefault(c Clock) Clock {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := def
	def = c
	return prev
}

func current() Clock {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return def
}

// Now returns the current time from the default clock.
func Now() time.Time { return current().Now() }

// Since returns the time elapsed since t, from the default clock.
func Since(t time.Time) time.Duration { return current().Since(t) }

// Until returns the time until t, from the default clock.
func Until(t time.Time) time.Duration { return current().Until(t) }

// CanonicalFormat formats t using the canonical "YYYY-MM-DD HH:MM:SS" layout.
func CanonicalFormat(t time.Time) string {
	return t.Local().Format(CanonicalLayout)
}

// ParseCanonical parses a timestamp in the canonical layout, local time.
func ParseCanonical(s string) (time.Time, error) {
	return time.ParseInLocation(CanonicalLayout, s, time.Local)
}

// MinusHours returns the canonical-formatted timestamp `hours` before now.
func MinusHours(hours float64) string {
	d := time.Duration(hours * float64(time.Hour))
	return CanonicalFormat(current().Now().Add(-d))
}

// AddSeconds returns t plus the given number of seconds.
func AddSeconds(t time.Time, seconds int) time.Time {
	return t.Add(time.Duration(seconds) * time.Second)
}
