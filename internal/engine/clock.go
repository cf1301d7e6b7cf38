package engine

import "time"

// TimeSource supplies the current time in milliseconds.
//
// Envelopes carry their own timestamp, so the engine only consults a
// TimeSource when it forges envelopes for convenience methods like Connect
// or Invalidate. Tests inject testutil.MockTime.
type TimeSource interface {
	Now() int64
}

// SystemTime reads the wall clock.
type SystemTime struct{}

// Now implements TimeSource.
func (SystemTime) Now() int64 {
	return time.Now().UnixMilli()
}

// TimeFunc adapts a function to TimeSource.
type TimeFunc func() int64

// Now implements TimeSource.
func (f TimeFunc) Now() int64 {
	return f()
}
