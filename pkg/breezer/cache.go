package breezer

import (
	"sync"
	"time"

	"github.com/tion-home/tionctl/pkg/tion"
)

// Snapshot is what the cache hands out: the last decoded reading, its age and
// whether it was invalidated by a disconnect. Stale data is flagged, never
// deleted; callers decide their own staleness tolerance.
type Snapshot struct {
	Reading     tion.Reading
	CapturedAt  time.Time
	Invalidated bool
}

// Age returns how old the snapshot is.
func (s Snapshot) Age() time.Duration { return time.Since(s.CapturedAt) }

// StateCache is a single-slot cache of the last known device state. One
// instance exists per device; the reading is overwritten atomically on fresh
// data and read-only otherwise.
type StateCache struct {
	mu          sync.RWMutex
	reading     tion.Reading
	capturedAt  time.Time
	hasValue    bool
	invalidated bool
}

// NewStateCache returns an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{}
}

// Get returns the cached snapshot, if any.
func (c *StateCache) Get() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasValue {
		return Snapshot{}, false
	}
	return Snapshot{Reading: c.reading, CapturedAt: c.capturedAt, Invalidated: c.invalidated}, true
}

// Put replaces the cached reading wholesale and clears the invalidated flag.
func (c *StateCache) Put(r tion.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = r
	c.capturedAt = time.Now()
	c.hasValue = true
	c.invalidated = false
}

// Invalidate flags the cached data as untrusted. The value stays readable so
// callers with a loose staleness tolerance can still use it.
func (c *StateCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = true
}
