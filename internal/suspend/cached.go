package suspend

import "sync"

// Cached holds one value fetched from the target. The value is reused only
// while the tracker is valid and no invalidation happened since it was
// fetched.
type Cached[T any] struct {
	tracker *Tracker

	mu    sync.Mutex
	ok    bool
	gen   uint64
	value T
}

func NewCached[T any](t *Tracker) *Cached[T] {
	return &Cached[T]{tracker: t}
}

// Get returns the cached value or calls fetch. A value fetched while the
// tracker is invalid, or across an invalidation, is returned but not kept.
func (c *Cached[T]) Get(fetch func() (T, error)) (T, error) {
	c.tracker.mu.Lock()
	valid, gen := c.tracker.valid, c.tracker.generation
	c.tracker.mu.Unlock()

	c.mu.Lock()
	if valid && c.ok && c.gen == gen {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}

	c.tracker.mu.Lock()
	stillValid := valid && c.tracker.valid && c.tracker.generation == gen
	c.tracker.mu.Unlock()

	c.mu.Lock()
	if stillValid {
		c.value, c.gen, c.ok = v, gen, true
	} else {
		c.ok = false
	}
	c.mu.Unlock()
	return v, nil
}

// Reset drops the cached value.
func (c *Cached[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value, c.ok = zero, false
}
