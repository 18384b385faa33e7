// Package timeutil provides helpers for working with reusable timers.
package timeutil

import (
	"time"
)

// NewStoppedTimer creates a timer that is stopped and has an empty channel, so
// that it can later be armed with Reset.
func NewStoppedTimer() *time.Timer {
	timer := time.NewTimer(time.Hour)
	StopAndDrainTimer(timer)
	return timer
}

// StopAndDrainTimer stops a timer and performs a non-blocking drain of its
// channel, regardless of whether or not it has already fired.
func StopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}

// ResetTimer stops, drains, and re-arms a timer with the specified duration.
// It must not be called concurrently with receives from the timer's channel.
func ResetTimer(timer *time.Timer, duration time.Duration) {
	StopAndDrainTimer(timer)
	timer.Reset(duration)
}
