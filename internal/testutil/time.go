package testutil

import "sync"

// MockTime is a settable millisecond clock for tests.
//
// It satisfies engine.TimeSource. Time only moves when Set or Advance is
// called, so documents driven by it replay identically.
//
// Thread-safety: all methods are safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now int64
}

// NewMockTime creates a clock reading start.
func NewMockTime(start int64) *MockTime {
	return &MockTime{now: start}
}

// Now returns the current time in milliseconds.
func (m *MockTime) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to ms.
func (m *MockTime) Set(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = ms
}

// Advance moves the clock forward by ms and returns the new time.
func (m *MockTime) Advance(ms int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += ms
	return m.now
}
