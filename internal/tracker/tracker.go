// Package tracker correlates asynchronous responses with the requests that caused them.
package tracker

import (
	"fmt"
	"sync"
	"time"
)

// ErrDuplicateID is returned by Register when the identifier is already pending.
type ErrDuplicateID struct {
	ID string
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("request %q already registered", e.ID)
}

type pendingRequest struct {
	sentAt   time.Time
	resolved bool
}

// Tracker maps outstanding request identifiers to their send timestamps.
// Entries are never evicted during a run; unresolved ones are simply lost.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{pending: make(map[string]*pendingRequest)}
}

// Register records id as sent at ts. A collision leaves the existing entry
// untouched and returns *ErrDuplicateID.
func (t *Tracker) Register(id string, ts time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		return &ErrDuplicateID{ID: id}
	}
	t.pending[id] = &pendingRequest{sentAt: ts}
	return nil
}

// Resolve marks id as answered at now and returns the elapsed time since it
// was registered. It reports false for unknown identifiers and for any
// resolution after the first, so a response is counted at most once.
func (t *Tracker) Resolve(id string, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[id]
	if !ok || req.resolved {
		return 0, false
	}
	req.resolved = true
	elapsed := now.Sub(req.sentAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, true
}

// Forget drops an unresolved id whose request was never sent. Resolved
// entries are kept so a late duplicate is still ignored.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if req, ok := t.pending[id]; ok && !req.resolved {
		delete(t.pending, id)
	}
}

// Outstanding returns the number of registered requests not yet resolved.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, req := range t.pending {
		if !req.resolved {
			n++
		}
	}
	return n
}
