package events

import (
	"sync"

	"github.com/danmuck/dbgwire/internal/protocol/schema"
)

type requestKey struct {
	kind schema.EventKind
	id   int32
}

// RequestTable records the event requests one side (client or engine)
// created, and whether each is currently enabled.
type RequestTable struct {
	mu       sync.RWMutex
	requests map[requestKey]bool
}

func NewRequestTable() *RequestTable {
	return &RequestTable{requests: make(map[requestKey]bool)}
}

// Register adds an enabled request.
func (t *RequestTable) Register(kind schema.EventKind, id int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[requestKey{kind, id}] = true
}

func (t *RequestTable) Enable(kind schema.EventKind, id int32) bool {
	return t.setEnabled(kind, id, true)
}

func (t *RequestTable) Disable(kind schema.EventKind, id int32) bool {
	return t.setEnabled(kind, id, false)
}

func (t *RequestTable) setEnabled(kind schema.EventKind, id int32, enabled bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := requestKey{kind, id}
	if _, ok := t.requests[key]; !ok {
		return false
	}
	t.requests[key] = enabled
	return true
}

func (t *RequestTable) Delete(kind schema.EventKind, id int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.requests, requestKey{kind, id})
}

// Enabled reports whether (kind, id) is registered and enabled.
func (t *RequestTable) Enabled(kind schema.EventKind, id int32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.requests[requestKey{kind, id}]
}

func (t *RequestTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.requests)
}
