// Package cell implements the observable-value primitive referenced
// throughout spec §4: "a value with a version counter that waiters can
// block on until it changes". DDEnabledState's three-state toggle
// (orchestrator.EnabledState) and the orchestrator's trackerCancelled
// flag are built on it.
//
// Grounded on weed/wdclient/exclusive_locks/exclusive_locker.go's
// generation-counter pattern (a renew token plus a "has this changed"
// check), generalized into a small generic primitive with a proper
// condition-variable wakeup instead of polling.
package cell

import "sync"

// Cell holds a value of type T plus a monotonically increasing version,
// and lets callers block until the version advances.
type Cell[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	value   T
	version uint64
}

// New builds a Cell initialized to value at version 0.
func New[T any](value T) *Cell[T] {
	c := &Cell[T]{value: value}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Get returns the current value and its version.
func (c *Cell[T]) Get() (T, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.version
}

// Set unconditionally overwrites the value, advances the version, and
// wakes every waiter.
func (c *Cell[T]) Set(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	c.version++
	c.cond.Broadcast()
}

// CompareAndSet sets value only if the current version equals
// expectVersion, returning whether the swap happened (spec §4.5's
// CAS-guarded state transitions — DDEnabledState's toggles are built on
// exactly this).
func (c *Cell[T]) CompareAndSet(expectVersion uint64, value T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != expectVersion {
		return false
	}
	c.value = value
	c.version++
	c.cond.Broadcast()
	return true
}

// AwaitChange blocks until the version differs from knownVersion, or done
// is closed, and returns the new value/version. A closed done returns the
// current value/version immediately with ok=false.
func (c *Cell[T]) AwaitChange(knownVersion uint64, done <-chan struct{}) (value T, version uint64, ok bool) {
	changed := make(chan struct{})
	stopped := false // guarded by c.mu; set when done fires first
	go func() {
		c.mu.Lock()
		for c.version == knownVersion && !stopped {
			c.cond.Wait()
		}
		c.mu.Unlock()
		close(changed)
	}()

	select {
	case <-changed:
	case <-done:
		c.mu.Lock()
		v, ver := c.value, c.version
		stopped = true
		c.mu.Unlock()
		// Wake the helper goroutine so it sees stopped and exits instead
		// of leaking blocked on Wait forever.
		c.cond.Broadcast()
		return v, ver, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.version, true
}
