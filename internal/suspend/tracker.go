// Package suspend tracks whether the target is in a stable suspended state,
// so that values read from it may be reused until the next resume.
package suspend

import (
	"sync"
	"weak"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AllThreads is the thread id used for process-wide transitions.
const AllThreads uint64 = 0

// Listener reacts to validity transitions. Invalidate receives AllThreads
// for a process-wide invalidation, or the id of the one thread that
// resumed. Returning false removes the listener.
type Listener interface {
	Invalidate(thread uint64) bool
	Validate() bool
}

type listenerEntry struct {
	get     func() Listener
	removed bool
}

// Registration is the handle returned by Register.
type Registration struct {
	tracker *Tracker
	entry   *listenerEntry
}

// Remove unregisters the listener. Safe to call more than once.
func (r *Registration) Remove() {
	if r == nil || r.tracker == nil {
		return
	}
	r.tracker.mu.Lock()
	r.entry.removed = true
	r.tracker.mu.Unlock()
}

// Tracker is safe for concurrent use. Its mutex is never held while
// listeners run.
type Tracker struct {
	logger zerolog.Logger

	mu               sync.Mutex
	valid            bool
	suspendSeen      bool
	vmSuspended      bool
	generation       uint64
	resuming         map[uint32]struct{}
	suspendedThreads map[uint64]struct{}
	listeners        []*listenerEntry
}

func NewTracker() *Tracker {
	return &Tracker{
		logger:           log.Logger.With().Str("component", "suspend").Logger(),
		resuming:         make(map[uint32]struct{}),
		suspendedThreads: make(map[uint64]struct{}),
	}
}

// Register adds l as a weakly held listener: the tracker never keeps l
// alive, and a collected listener is pruned on the next notification.
func Register[T any, P interface {
	*T
	Listener
}](t *Tracker, l P) *Registration {
	wp := weak.Make((*T)(l))
	entry := &listenerEntry{get: func() Listener {
		if p := wp.Value(); p != nil {
			return P(p)
		}
		return nil
	}}
	t.mu.Lock()
	t.listeners = append(t.listeners, entry)
	t.mu.Unlock()
	return &Registration{tracker: t, entry: entry}
}

// Valid reports whether cached target state may be reused.
func (t *Tracker) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid
}

// Generation advances on every process-wide invalidation.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// NotifySuspend records that the whole target is suspended.
func (t *Tracker) NotifySuspend() {
	t.mu.Lock()
	t.suspendSeen = true
	t.vmSuspended = true
	validated := t.tryValidateLocked()
	t.mu.Unlock()
	if validated {
		t.notify(func(l Listener) bool { return l.Validate() })
	}
}

// NotifySuspendThread records that one thread is suspended. It does not by
// itself make process-wide state valid.
func (t *Tracker) NotifySuspendThread(thread uint64) {
	if thread == AllThreads {
		t.NotifySuspend()
		return
	}
	t.mu.Lock()
	t.suspendedThreads[thread] = struct{}{}
	t.mu.Unlock()
}

// ThreadSuspended reports whether thread is known to be suspended, either
// individually or by a whole-target suspend.
func (t *Tracker) ThreadSuspended(thread uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vmSuspended {
		return true
	}
	_, ok := t.suspendedThreads[thread]
	return ok
}

// NotifyResume records a resume of thread, or of everything for
// AllThreads. A single-thread resume invalidates only that thread unless no
// other thread remains suspended.
func (t *Tracker) NotifyResume(thread uint64) {
	t.mu.Lock()
	if thread != AllThreads {
		delete(t.suspendedThreads, thread)
		if t.vmSuspended || len(t.suspendedThreads) > 0 {
			t.mu.Unlock()
			t.notify(func(l Listener) bool { return l.Invalidate(thread) })
			return
		}
	}
	t.invalidateLocked()
	t.mu.Unlock()
	t.notify(func(l Listener) bool { return l.Invalidate(AllThreads) })
}

// BeginResume registers an in-flight resume-class command. Invalidation
// happens here, at send time, since the target may run before replying.
func (t *Tracker) BeginResume(id uint32) {
	t.mu.Lock()
	t.resuming[id] = struct{}{}
	t.invalidateLocked()
	t.mu.Unlock()
	t.notify(func(l Listener) bool { return l.Invalidate(AllThreads) })
}

// EndResume deregisters id once its reply arrived or the connection ended.
func (t *Tracker) EndResume(id uint32) {
	t.mu.Lock()
	delete(t.resuming, id)
	validated := t.tryValidateLocked()
	t.mu.Unlock()
	if validated {
		t.notify(func(l Listener) bool { return l.Validate() })
	}
}

func (t *Tracker) invalidateLocked() {
	t.valid = false
	t.suspendSeen = false
	t.vmSuspended = false
	t.generation++
	clear(t.suspendedThreads)
}

func (t *Tracker) tryValidateLocked() bool {
	if t.valid || !t.suspendSeen || len(t.resuming) > 0 {
		return false
	}
	t.valid = true
	return true
}

// notify calls fn for every live listener outside the lock, then prunes
// collected listeners and those that asked to be removed.
func (t *Tracker) notify(fn func(Listener) bool) {
	t.mu.Lock()
	entries := make([]*listenerEntry, 0, len(t.listeners))
	for _, e := range t.listeners {
		if !e.removed {
			entries = append(entries, e)
		}
	}
	t.mu.Unlock()

	var drop []*listenerEntry
	for _, e := range entries {
		l := e.get()
		if l == nil || !fn(l) {
			drop = append(drop, e)
		}
	}

	t.mu.Lock()
	for _, e := range drop {
		e.removed = true
	}
	kept := t.listeners[:0]
	for _, e := range t.listeners {
		if !e.removed {
			kept = append(kept, e)
		}
	}
	clear(t.listeners[len(kept):])
	t.listeners = kept
	t.mu.Unlock()

	if len(drop) > 0 {
		t.logger.Debug().Int("pruned", len(drop)).Msg("suspend.notify pruned listeners")
	}
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	Valid            bool   `json:"valid"`
	SuspendSeen      bool   `json:"suspend_seen"`
	VMSuspended      bool   `json:"vm_suspended"`
	Generation       uint64 `json:"generation"`
	ResumesInFlight  int    `json:"resumes_in_flight"`
	SuspendedThreads int    `json:"suspended_threads"`
	Listeners        int    `json:"listeners"`
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Valid:            t.valid,
		SuspendSeen:      t.suspendSeen,
		VMSuspended:      t.vmSuspended,
		Generation:       t.generation,
		ResumesInFlight:  len(t.resuming),
		SuspendedThreads: len(t.suspendedThreads),
		Listeners:        len(t.listeners),
	}
}
