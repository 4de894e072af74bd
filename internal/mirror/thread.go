package mirror

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/dbgwire/internal/dispatch"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
	"github.com/danmuck/dbgwire/internal/suspend"
)

var (
	// ErrStaleHandle is returned by frame and monitor snapshots used after
	// their thread resumed.
	ErrStaleHandle = errors.New("mirror: stale handle, owning thread resumed")
	ErrThreadDead  = errors.New("mirror: thread is dead")
)

// ThreadStatus is the reply of ThreadReference.Status.
type ThreadStatus struct {
	Status        int32
	SuspendStatus int32
}

func (s ThreadStatus) Suspended() bool {
	return s.SuspendStatus&1 != 0
}

// threadState is the per-suspension cache. It is replaced wholesale on
// invalidation.
type threadState struct {
	name         *string
	status       *ThreadStatus
	suspendCount *int32
	frames       []*Frame
	framesOK     bool
	owned        []*MonitorInfo
	ownedOK      bool
	contended    *MonitorInfo
	contendedOK  bool
}

// Thread mirrors a remote thread and caches what it read between a suspend
// and the thread's next resume.
type Thread struct {
	base
	registration *suspend.Registration

	mu         sync.Mutex
	generation uint64
	dead       bool
	state      threadState
}

func newThread(b base) *Thread {
	return &Thread{base: b}
}

// Invalidate implements suspend.Listener.
func (t *Thread) Invalidate(thread uint64) bool {
	if thread == suspend.AllThreads || thread == t.id {
		t.invalidate()
	}
	return true
}

// Validate implements suspend.Listener.
func (t *Thread) Validate() bool {
	return true
}

func (t *Thread) invalidate() {
	t.mu.Lock()
	t.generation++
	t.state = threadState{}
	t.mu.Unlock()
}

func (t *Thread) markDead() {
	t.mu.Lock()
	t.dead = true
	t.generation++
	t.state = threadState{}
	t.mu.Unlock()
}

// Generation advances every time the thread's cache is invalidated.
func (t *Thread) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

func (t *Thread) Dead() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dead
}

func (t *Thread) idPayload() []byte {
	return wire.NewWriter(t.cache.sizes).ObjectID(t.id).Bytes()
}

func (t *Thread) send(ctx context.Context, command uint8, payload []byte) (*wire.Reader, error) {
	reply, err := t.cache.commander.SendCommand(ctx, schema.SetThreadReference, command, payload)
	if err != nil {
		return nil, err
	}
	return wire.NewReader(reply.Payload, t.cache.sizes), nil
}

// load returns the cached slot or fetches it. The result is cached only if
// no invalidation happened during the fetch and the thread is known
// suspended.
func load[V any](ctx context.Context, t *Thread, get func(*threadState) (V, bool), put func(*threadState, V), fetch func(context.Context, uint64) (V, error)) (V, error) {
	var zero V
	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return zero, ErrThreadDead
	}
	gen := t.generation
	if v, ok := get(&t.state); ok {
		t.mu.Unlock()
		return v, nil
	}
	t.mu.Unlock()

	v, err := fetch(ctx, gen)
	if err != nil {
		return zero, err
	}
	suspended := t.cache.tracker.ThreadSuspended(t.id)
	t.mu.Lock()
	if t.generation == gen && suspended {
		put(&t.state, v)
	}
	t.mu.Unlock()
	return v, nil
}

func (t *Thread) Name(ctx context.Context) (string, error) {
	return load(ctx, t,
		func(s *threadState) (string, bool) {
			if s.name == nil {
				return "", false
			}
			return *s.name, true
		},
		func(s *threadState, v string) { s.name = &v },
		func(ctx context.Context, _ uint64) (string, error) {
			r, err := t.send(ctx, schema.ThreadName, t.idPayload())
			if err != nil {
				return "", err
			}
			return r.String()
		})
}

func (t *Thread) Status(ctx context.Context) (ThreadStatus, error) {
	return load(ctx, t,
		func(s *threadState) (ThreadStatus, bool) {
			if s.status == nil {
				return ThreadStatus{}, false
			}
			return *s.status, true
		},
		func(s *threadState, v ThreadStatus) { s.status = &v },
		func(ctx context.Context, _ uint64) (ThreadStatus, error) {
			r, err := t.send(ctx, schema.ThreadStatus, t.idPayload())
			if err != nil {
				return ThreadStatus{}, err
			}
			var st ThreadStatus
			if st.Status, err = r.Int32(); err != nil {
				return ThreadStatus{}, err
			}
			if st.SuspendStatus, err = r.Int32(); err != nil {
				return ThreadStatus{}, err
			}
			return st, nil
		})
}

func (t *Thread) SuspendCount(ctx context.Context) (int32, error) {
	return load(ctx, t,
		func(s *threadState) (int32, bool) {
			if s.suspendCount == nil {
				return 0, false
			}
			return *s.suspendCount, true
		},
		func(s *threadState, v int32) { s.suspendCount = &v },
		func(ctx context.Context, _ uint64) (int32, error) {
			r, err := t.send(ctx, schema.ThreadSuspendCount, t.idPayload())
			if err != nil {
				return 0, err
			}
			return r.Int32()
		})
}

// Frames returns every frame of the suspended thread, top first.
func (t *Thread) Frames(ctx context.Context) ([]*Frame, error) {
	return load(ctx, t,
		func(s *threadState) ([]*Frame, bool) { return s.frames, s.framesOK },
		func(s *threadState, v []*Frame) { s.frames, s.framesOK = v, true },
		func(ctx context.Context, gen uint64) ([]*Frame, error) {
			payload := wire.NewWriter(t.cache.sizes).ObjectID(t.id).Int32(0).Int32(-1).Bytes()
			r, err := t.send(ctx, schema.ThreadFrames, payload)
			if err != nil {
				return nil, err
			}
			n, err := r.Int32()
			if err != nil {
				return nil, err
			}
			frames := make([]*Frame, 0, max(n, 0))
			for i := int32(0); i < n; i++ {
				id, err := r.FrameID()
				if err != nil {
					return nil, err
				}
				loc, err := r.Location()
				if err != nil {
					return nil, err
				}
				frames = append(frames, &Frame{thread: t, generation: gen, id: id, location: loc})
			}
			return frames, nil
		})
}

// OwnedMonitors returns the monitors the suspended thread holds.
func (t *Thread) OwnedMonitors(ctx context.Context) ([]*MonitorInfo, error) {
	return load(ctx, t,
		func(s *threadState) ([]*MonitorInfo, bool) { return s.owned, s.ownedOK },
		func(s *threadState, v []*MonitorInfo) { s.owned, s.ownedOK = v, true },
		func(ctx context.Context, gen uint64) ([]*MonitorInfo, error) {
			r, err := t.send(ctx, schema.ThreadOwnedMonitors, t.idPayload())
			if err != nil {
				return nil, err
			}
			n, err := r.Int32()
			if err != nil {
				return nil, err
			}
			out := make([]*MonitorInfo, 0, max(n, 0))
			for i := int32(0); i < n; i++ {
				obj, err := r.TaggedObject()
				if err != nil {
					return nil, err
				}
				out = append(out, &MonitorInfo{thread: t, generation: gen, monitor: obj, owned: true})
			}
			return out, nil
		})
}

// ContendedMonitor returns the monitor the thread waits to enter, or nil.
func (t *Thread) ContendedMonitor(ctx context.Context) (*MonitorInfo, error) {
	return load(ctx, t,
		func(s *threadState) (*MonitorInfo, bool) { return s.contended, s.contendedOK },
		func(s *threadState, v *MonitorInfo) { s.contended, s.contendedOK = v, true },
		func(ctx context.Context, gen uint64) (*MonitorInfo, error) {
			r, err := t.send(ctx, schema.ThreadCurrentContendedMonitor, t.idPayload())
			if err != nil {
				return nil, err
			}
			obj, err := r.TaggedObject()
			if err != nil {
				return nil, err
			}
			if obj.IsNull() {
				return nil, nil
			}
			return &MonitorInfo{thread: t, generation: gen, monitor: obj}, nil
		})
}

// Suspend suspends this thread and records it with the tracker.
func (t *Thread) Suspend(ctx context.Context) error {
	if _, err := t.send(ctx, schema.ThreadSuspend, t.idPayload()); err != nil {
		return err
	}
	t.cache.tracker.NotifySuspendThread(t.id)
	return nil
}

// Resume invalidates the thread's cache before the command is written.
func (t *Thread) Resume(ctx context.Context) error {
	t.invalidate()
	t.cache.tracker.NotifyResume(t.id)
	_, err := t.send(ctx, schema.ThreadResume, t.idPayload())
	return err
}

// Invoke sends a command that runs code on this thread (method invocation,
// new instance). The thread cache is invalidated before the write.
func (t *Thread) Invoke(ctx context.Context, commandSet, command uint8, payload []byte) (dispatch.Reply, error) {
	t.invalidate()
	t.cache.tracker.NotifyResume(t.id)
	return t.cache.commander.SendCommand(ctx, commandSet, command, payload)
}

// Frame is a stack frame captured while its thread was suspended.
type Frame struct {
	thread     *Thread
	generation uint64
	id         uint64
	location   wire.Location
}

func (f *Frame) stale() bool {
	return f.thread.Generation() != f.generation
}

func (f *Frame) Thread() *Thread {
	return f.thread
}

func (f *Frame) ID() (uint64, error) {
	if f.stale() {
		return 0, ErrStaleHandle
	}
	return f.id, nil
}

func (f *Frame) Location() (wire.Location, error) {
	if f.stale() {
		return wire.Location{}, ErrStaleHandle
	}
	return f.location, nil
}

// ThisObject asks the target for the frame's receiver. Null for static
// and native frames.
func (f *Frame) ThisObject(ctx context.Context) (wire.TaggedObject, error) {
	if f.stale() {
		return wire.TaggedObject{}, ErrStaleHandle
	}
	c := f.thread.cache
	payload := wire.NewWriter(c.sizes).ObjectID(f.thread.id).FrameID(f.id).Bytes()
	reply, err := c.commander.SendCommand(ctx, schema.SetStackFrame, schema.StackFrameThisObject, payload)
	if err != nil {
		return wire.TaggedObject{}, err
	}
	return wire.NewReader(reply.Payload, c.sizes).TaggedObject()
}

// MonitorInfo is a monitor observed while its thread was suspended.
type MonitorInfo struct {
	thread     *Thread
	generation uint64
	monitor    wire.TaggedObject
	owned      bool
}

func (m *MonitorInfo) Monitor() (wire.TaggedObject, error) {
	if m.thread.Generation() != m.generation {
		return wire.TaggedObject{}, ErrStaleHandle
	}
	return m.monitor, nil
}

// Owned reports whether the thread held the monitor (as opposed to
// contending for it).
func (m *MonitorInfo) Owned() (bool, error) {
	if m.thread.Generation() != m.generation {
		return false, ErrStaleHandle
	}
	return m.owned, nil
}
