package waveform

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrInvalidInterval is returned when setting a non-positive interval.
var ErrInvalidInterval = errors.New("report interval must be positive")

// Interval is the report interval shared by the periodic tasks and the
// command handlers. Readers always observe the latest stored value.
type Interval struct {
	seconds atomic.Int64
}

// NewInterval returns an Interval holding seconds. Non-positive values fall
// back to DefaultIntervalSeconds.
func NewInterval(seconds int) *Interval {
	i := &Interval{}
	if seconds <= 0 {
		seconds = DefaultIntervalSeconds
	}
	i.seconds.Store(int64(seconds))
	return i
}

// Seconds returns the current interval in seconds.
func (i *Interval) Seconds() int { return int(i.seconds.Load()) }

// Duration returns the current interval as a time.Duration.
func (i *Interval) Duration() time.Duration {
	return time.Duration(i.seconds.Load()) * time.Second
}

// Set stores a new interval.
func (i *Interval) Set(seconds int) error {
	if seconds <= 0 {
		return ErrInvalidInterval
	}
	i.seconds.Store(int64(seconds))
	return nil
}
