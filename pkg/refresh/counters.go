package refresh

import (
	"sync/atomic"
	"time"
)

// Counters are operational counters for a refresher. They are informational
// only. All methods are safe for concurrent usage.
type Counters struct {
	// fullScans is the number of full-sync reconciliation attempts.
	fullScans atomic.Uint64
	// partialScans is the number of partial-sync reconciliation attempts.
	partialScans atomic.Uint64
	// retries is the number of attempts discarded due to cache races.
	retries atomic.Uint64
	// sessions is the number of completed sessions.
	sessions atomic.Uint64
	// cancelledSessions is the number of cancelled sessions.
	cancelledSessions atomic.Uint64
	// events is the number of events delivered by completed sessions.
	events atomic.Uint64
	// cacheTime is the time spent reading the cache, in nanoseconds.
	cacheTime atomic.Int64
	// syscallTime is the time spent querying the filesystem, in nanoseconds.
	syscallTime atomic.Int64
}

// addCacheTime records time spent reading the cache.
func (c *Counters) addCacheTime(duration time.Duration) {
	c.cacheTime.Add(int64(duration))
}

// addSyscallTime records time spent querying the filesystem.
func (c *Counters) addSyscallTime(duration time.Duration) {
	c.syscallTime.Add(int64(duration))
}

// CounterSnapshot is a point-in-time copy of refresh counters.
type CounterSnapshot struct {
	// FullScans is the number of full-sync reconciliation attempts.
	FullScans uint64
	// PartialScans is the number of partial-sync reconciliation attempts.
	PartialScans uint64
	// Retries is the number of attempts discarded due to cache races.
	Retries uint64
	// Sessions is the number of completed sessions.
	Sessions uint64
	// CancelledSessions is the number of cancelled sessions.
	CancelledSessions uint64
	// Events is the number of events delivered by completed sessions.
	Events uint64
	// CacheTime is the total time spent reading the cache.
	CacheTime time.Duration
	// SyscallTime is the total time spent querying the filesystem.
	SyscallTime time.Duration
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		FullScans:         c.fullScans.Load(),
		PartialScans:      c.partialScans.Load(),
		Retries:           c.retries.Load(),
		Sessions:          c.sessions.Load(),
		CancelledSessions: c.cancelledSessions.Load(),
		Events:            c.events.Load(),
		CacheTime:         time.Duration(c.cacheTime.Load()),
		SyscallTime:       time.Duration(c.syscallTime.Load()),
	}
}
