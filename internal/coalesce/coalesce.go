// Package coalesce implements the gateway's request coalescer (C4):
// concurrent duplicate calls within a short window share one upstream
// invocation. The in-flight dedup itself is golang.org/x/sync/singleflight
// — this package adds the window-staleness rule singleflight alone doesn't
// have (a pending call older than windowMs no longer admits new riders,
// even though it is still in flight for whoever is already attached, and
// its original callers still receive its result).
package coalesce

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultWindow matches spec.md §4.4's default staleness bound.
const DefaultWindow = 100 * time.Millisecond

// Coalescer deduplicates concurrent calls sharing the same key.
type Coalescer struct {
	group  singleflight.Group
	window time.Duration

	mu        sync.Mutex
	startedAt map[string]time.Time
	gen       map[string]int
}

// New creates a Coalescer with the given staleness window. A zero window
// uses DefaultWindow.
func New(window time.Duration) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coalescer{
		window:    window,
		startedAt: make(map[string]time.Time),
		gen:       make(map[string]int),
	}
}

// Execute invokes fn for key, or attaches to an already in-flight call for
// the same key if one was started less than the window ago. Every caller
// attached to a given invocation observes the same value or the same
// error; the entry is removed as soon as fn settles.
func (c *Coalescer) Execute(key string, fn func() (any, error)) (any, error, bool) {
	sfKey, gen := c.admit(key)

	v, err, shared := c.group.Do(sfKey, func() (any, error) {
		defer c.release(key, gen)
		return fn()
	})
	return v, err, shared
}

// admit assigns the singleflight key a new caller should use: the current
// generation's key if a call for this fingerprint started within the
// window, otherwise a fresh generation (which singleflight treats as an
// independent call, leaving any still-in-flight prior generation's callers
// unaffected). The returned generation number lets release identify which
// generation it is settling, so a slow call finishing after the window has
// already rolled over doesn't clobber the next generation's bookkeeping.
func (c *Coalescer) admit(key string) (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	startedAt, pending := c.startedAt[key]
	if !pending || time.Since(startedAt) >= c.window {
		c.gen[key]++
		c.startedAt[key] = time.Now()
	}
	return fmt.Sprintf("%s#%d", key, c.gen[key]), c.gen[key]
}

// release clears key's bookkeeping only if gen is still the current
// generation — a call from an older, already-superseded generation must
// not delete the entry a newer, still in-flight generation owns.
func (c *Coalescer) release(key string, gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[key] == gen {
		delete(c.startedAt, key)
	}
}
