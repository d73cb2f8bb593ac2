package metrics

import "sync/atomic"

// Counters holds the lock-free run counters shared by all workers.
type Counters struct {
	totalRequests int64
	successful    int64
	active        int64
	completed     int64
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	Active             int64
	Completed          int64
}

// ConnectionOpened marks a connection as established.
func (c *Counters) ConnectionOpened() {
	atomic.AddInt64(&c.active, 1)
}

// ConnectionClosed marks a connection as finished. wasOpen reports whether
// ConnectionOpened was called for it, so connections that never got a
// transport only bump the completed count.
func (c *Counters) ConnectionClosed(wasOpen bool) {
	if wasOpen {
		atomic.AddInt64(&c.active, -1)
	}
	atomic.AddInt64(&c.completed, 1)
}

// Active returns the number of currently open connections.
func (c *Counters) Active() int64 {
	return atomic.LoadInt64(&c.active)
}

// Completed returns the number of connections that reached Closed.
func (c *Counters) Completed() int64 {
	return atomic.LoadInt64(&c.completed)
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		TotalRequests:      atomic.LoadInt64(&c.totalRequests),
		SuccessfulRequests: atomic.LoadInt64(&c.successful),
		Active:             atomic.LoadInt64(&c.active),
		Completed:          atomic.LoadInt64(&c.completed),
	}
}

// ConnectionsSkipped marks n connections that were never launched as completed.
func (c *Counters) ConnectionsSkipped(n int) {
	if n > 0 {
		atomic.AddInt64(&c.completed, int64(n))
	}
}
