package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/dbgwire/internal/dispatch"
	"github.com/danmuck/dbgwire/internal/protocol/packet"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
	"github.com/danmuck/dbgwire/internal/testutil/testlog"
)

var sizes = wire.DefaultIDSizes()

type eventWriter func(*wire.Writer)

func composite(policy schema.SuspendPolicy, events ...eventWriter) packet.Packet {
	w := wire.NewWriter(sizes).Uint8(uint8(policy)).Int32(int32(len(events)))
	for _, ev := range events {
		ev(w)
	}
	return packet.NewCommand(schema.SetEvent, schema.EventComposite, w.Bytes())
}

func loc(index int64) wire.Location {
	return wire.Location{TypeTag: schema.TypeTagClass, ClassID: 3, Method: 4, Index: index}
}

func breakpoint(req int32, thread uint64) eventWriter {
	return func(w *wire.Writer) {
		w.Uint8(uint8(schema.EventBreakpoint)).Int32(req).ObjectID(thread).Location(loc(1))
	}
}

func threadEvent(kind schema.EventKind, req int32, thread uint64) eventWriter {
	return func(w *wire.Writer) {
		w.Uint8(uint8(kind)).Int32(req).ObjectID(thread)
	}
}

func truncated() eventWriter {
	return func(w *wire.Writer) {
		w.Uint8(uint8(schema.EventBreakpoint)).Int32(1)
	}
}

type fakeResumer struct {
	mu      sync.Mutex
	all     int
	threads []uint64
}

func (r *fakeResumer) Resume(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all++
	return nil
}

func (r *fakeResumer) ResumeThread(_ context.Context, thread uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = append(r.threads, thread)
	return nil
}

func (r *fakeResumer) snapshot() (int, []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all, append([]uint64(nil), r.threads...)
}

type countingCommander struct {
	mu     sync.Mutex
	counts map[uint8]int
}

func (c *countingCommander) SendCommand(_ context.Context, _, cmd uint8, _ []byte) (dispatch.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[uint8]int)
	}
	c.counts[cmd]++
	return dispatch.Reply{}, nil
}

func (c *countingCommander) count(cmd uint8) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[cmd]
}

func TestDecodeEveryKind(t *testing.T) {
	testlog.Start(t)
	tagged := wire.TaggedObject{Tag: schema.TagObject, ID: 77}
	intVal := wire.Value{Tag: schema.TagInt, Raw: []byte{0, 0, 0, 5}}
	p := composite(schema.SuspendAll,
		threadEvent(schema.EventVMStart, 0, 1),
		breakpoint(2, 1),
		func(w *wire.Writer) {
			w.Uint8(uint8(schema.EventMethodExitWithReturnValue)).Int32(3).ObjectID(1).Location(loc(2)).Value(intVal)
		},
		func(w *wire.Writer) {
			w.Uint8(uint8(schema.EventMonitorWait)).Int32(4).ObjectID(1).TaggedObject(tagged).Location(loc(3)).Int64(1500)
		},
		func(w *wire.Writer) {
			w.Uint8(uint8(schema.EventMonitorWaited)).Int32(5).ObjectID(1).TaggedObject(tagged).Location(loc(4)).Bool(true)
		},
		func(w *wire.Writer) {
			w.Uint8(uint8(schema.EventException)).Int32(6).ObjectID(1).Location(loc(5)).TaggedObject(tagged).Location(wire.Location{})
		},
		func(w *wire.Writer) {
			w.Uint8(uint8(schema.EventClassPrepare)).Int32(7).ObjectID(1).Uint8(schema.TypeTagClass).ReferenceTypeID(88).String("LFoo;").Int32(7)
		},
		func(w *wire.Writer) {
			w.Uint8(uint8(schema.EventClassUnload)).Int32(8).String("LBar;")
		},
		func(w *wire.Writer) {
			w.Uint8(uint8(schema.EventFieldModification)).Int32(9).ObjectID(1).Location(loc(6)).
				Uint8(schema.TypeTagClass).ReferenceTypeID(88).FieldID(99).TaggedObject(tagged).Value(intVal)
		},
		func(w *wire.Writer) {
			w.Uint8(uint8(schema.EventVMDeath)).Int32(0)
		},
	)

	policy, ok, evs, err := decodeComposite(p.Payload, sizes)
	if err != nil || !ok || policy != schema.SuspendAll {
		t.Fatalf("decode policy=%v ok=%v err=%v", policy, ok, err)
	}
	if len(evs) != 10 {
		t.Fatalf("decoded %d events, want 10", len(evs))
	}
	if d, ok := evs[2].Detail.(ReturnDetail); !ok || d.Value.Raw[3] != 5 {
		t.Fatalf("return detail got %+v", evs[2].Detail)
	}
	if d, ok := evs[3].Detail.(MonitorDetail); !ok || d.Timeout != 1500 || d.Monitor.ID != 77 || evs[3].Location.Index != 3 {
		t.Fatalf("monitor wait got %+v", evs[3])
	}
	if d, ok := evs[4].Detail.(MonitorDetail); !ok || !d.TimedOut {
		t.Fatalf("monitor waited got %+v", evs[4].Detail)
	}
	if d, ok := evs[5].Detail.(ExceptionDetail); !ok || d.Caught() || d.Exception.ID != 77 {
		t.Fatalf("exception got %+v", evs[5].Detail)
	}
	if d, ok := evs[6].Detail.(ClassPrepareDetail); !ok || d.Signature != "LFoo;" || d.TypeID != 88 {
		t.Fatalf("class prepare got %+v", evs[6].Detail)
	}
	if d, ok := evs[7].Detail.(ClassUnloadDetail); !ok || d.Signature != "LBar;" || evs[7].Thread != 0 {
		t.Fatalf("class unload got %+v", evs[7])
	}
	if d, ok := evs[8].Detail.(FieldDetail); !ok || d.NewValue == nil || d.FieldID != 99 {
		t.Fatalf("field modification got %+v", evs[8].Detail)
	}
	if evs[9].Kind != schema.EventVMDeath {
		t.Fatalf("last event got %v", evs[9].Kind)
	}
}

func TestDecodeUnknownKindKeepsPrefix(t *testing.T) {
	testlog.Start(t)
	p := composite(schema.SuspendNone,
		breakpoint(1, 5),
		func(w *wire.Writer) { w.Uint8(200).Int32(2).ObjectID(5) },
	)
	_, _, evs, err := decodeComposite(p.Payload, sizes)
	if !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind, got %v", err)
	}
	if len(evs) != 1 || evs[0].Thread != 5 {
		t.Fatalf("expected the decoded prefix, got %v", evs)
	}
}

func TestRoutingKeepsOnlyEnabledClientEvents(t *testing.T) {
	testlog.Start(t)
	resumer := &fakeResumer{}
	hub := NewHub(Options{Session: "t-route", Resumer: resumer})
	hub.ClientRequests().Register(schema.EventBreakpoint, 1)
	hub.ClientRequests().Register(schema.EventBreakpoint, 2)
	hub.ClientRequests().Disable(schema.EventBreakpoint, 1)
	q := hub.Subscribe(false)

	hub.Deliver(composite(schema.SuspendAll, breakpoint(1, 10), breakpoint(2, 11)))
	set, err := q.Remove(time.Second)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if set.Len() != 1 || set.Events()[0].RequestID != 2 || set.Thread() != 11 {
		t.Fatalf("expected only event B, got %v", set.Events())
	}
	if all, _ := resumer.snapshot(); all != 0 {
		t.Fatalf("engine resumed a set the client still owns")
	}
}

func TestUnclaimedAllSetResumesOnce(t *testing.T) {
	testlog.Start(t)
	resumer := &fakeResumer{}
	hub := NewHub(Options{Session: "t-unclaimed", Resumer: resumer})
	hub.ClientRequests().Register(schema.EventBreakpoint, 1)
	hub.ClientRequests().Disable(schema.EventBreakpoint, 1)
	internal := hub.Subscribe(true)
	client := hub.Subscribe(false)

	hub.Deliver(composite(schema.SuspendAll, breakpoint(1, 10), breakpoint(42, 11)))

	if _, err := internal.Remove(30 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("internal queue: expected timeout, got %v", err)
	}
	if _, err := client.Remove(30 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("client queue: expected empty set to be skipped, got %v", err)
	}
	if all, _ := resumer.snapshot(); all != 1 {
		t.Fatalf("resume-all issued %d times, want exactly 1", all)
	}
}

func TestUnclaimedEventThreadSetResumesEachThread(t *testing.T) {
	testlog.Start(t)
	resumer := &fakeResumer{}
	hub := NewHub(Options{Session: "t-threads", Resumer: resumer})
	q := hub.Subscribe(false)

	hub.Deliver(composite(schema.SuspendEventThread, breakpoint(5, 21), breakpoint(6, 22), breakpoint(7, 21)))
	if _, err := q.Remove(30 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	all, threads := resumer.snapshot()
	if all != 0 || len(threads) != 2 || threads[0] != 21 || threads[1] != 22 {
		t.Fatalf("expected resume of threads 21 and 22, got all=%d threads=%v", all, threads)
	}
}

func TestMixedEventThreadSetResumesUnclaimedThreads(t *testing.T) {
	testlog.Start(t)
	resumer := &fakeResumer{}
	hub := NewHub(Options{Session: "t-mixed", Resumer: resumer})
	hub.ClientRequests().Register(schema.EventBreakpoint, 5)
	q := hub.Subscribe(false)

	hub.Deliver(composite(schema.SuspendEventThread, breakpoint(5, 21), breakpoint(99, 22), breakpoint(5, 23), breakpoint(98, 21)))
	set, err := q.Remove(time.Second)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected the two claimed events, got %v", set.Events())
	}
	if all, threads := resumer.snapshot(); all != 0 || len(threads) != 1 || threads[0] != 22 {
		t.Fatalf("expected only thread 22 resumed on build, got all=%d threads=%v", all, threads)
	}

	if err := set.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	all, threads := resumer.snapshot()
	if all != 0 || len(threads) != 3 || threads[1] != 21 || threads[2] != 23 {
		t.Fatalf("expected threads 22, 21 and 23 resumed once each, got all=%d threads=%v", all, threads)
	}
}

func TestDecodeFailureCountsAsEmptyClientSet(t *testing.T) {
	testlog.Start(t)
	resumer := &fakeResumer{}
	hub := NewHub(Options{Session: "t-decode", Resumer: resumer})
	hub.ClientRequests().Register(schema.EventBreakpoint, 1)
	q := hub.Subscribe(false)

	hub.Deliver(composite(schema.SuspendEventThread, breakpoint(1, 31), truncated()))
	hub.Deliver(composite(schema.SuspendAll, breakpoint(1, 32)))

	set, err := q.Remove(time.Second)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if set.Thread() != 32 || set.Err() != nil {
		t.Fatalf("broken set should have been skipped, got %v", set.Events())
	}
	if _, threads := resumer.snapshot(); len(threads) != 1 || threads[0] != 31 {
		t.Fatalf("expected auto resume of thread 31, got %v", threads)
	}
}

func TestInternalViewSeesInternalAndAutomaticEvents(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(Options{Session: "t-internal"})
	hub.InternalRequests().Register(schema.EventThreadDeath, 7)
	internal := hub.Subscribe(true)
	client := hub.Subscribe(false)

	hub.Deliver(composite(schema.SuspendNone, threadEvent(schema.EventThreadDeath, 7, 3), threadEvent(schema.EventVMStart, 0, 1)))

	in, err := internal.Remove(time.Second)
	if err != nil || in.Len() != 2 {
		t.Fatalf("internal view got %v err=%v", in.Events(), err)
	}
	out, err := client.Remove(time.Second)
	if err != nil || out.Len() != 1 || out.Events()[0].Kind != schema.EventVMStart {
		t.Fatalf("client view got %v err=%v", out.Events(), err)
	}
}

func TestEventSetResumeFollowsPolicy(t *testing.T) {
	testlog.Start(t)
	resumer := &fakeResumer{}
	hub := NewHub(Options{Session: "t-policy", Resumer: resumer})
	hub.ClientRequests().Register(schema.EventBreakpoint, 1)
	q := hub.Subscribe(false)

	for _, policy := range []schema.SuspendPolicy{schema.SuspendAll, schema.SuspendEventThread, schema.SuspendNone} {
		hub.Deliver(composite(policy, breakpoint(1, 50)))
		set, err := q.Remove(time.Second)
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := set.Resume(context.Background()); err != nil {
			t.Fatalf("resume: %v", err)
		}
	}
	all, threads := resumer.snapshot()
	if all != 1 || len(threads) != 1 || threads[0] != 50 {
		t.Fatalf("policy resume got all=%d threads=%v", all, threads)
	}
}

func TestCloseWakesBlockedConsumer(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(Options{Session: "t-close"})
	q := hub.Subscribe(false)

	got := make(chan error, 1)
	var terminal bool
	go func() {
		set, err := q.Remove(0)
		terminal = set.Terminal()
		got <- err
	}()
	time.Sleep(20 * time.Millisecond)
	hub.Close()

	select {
	case err := <-got:
		if !errors.Is(err, ErrQueueClosed) || !terminal {
			t.Fatalf("expected terminal set and ErrQueueClosed, got terminal=%v err=%v", terminal, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer not woken by close")
	}
	late := hub.Subscribe(false)
	if _, err := late.Remove(time.Second); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("queue subscribed after close should be closed, got %v", err)
	}
}

func TestClosedQueueDrainsBeforeTerminal(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(Options{Session: "t-drain"})
	q := hub.Subscribe(false)
	hub.Deliver(composite(schema.SuspendNone, threadEvent(schema.EventVMStart, 0, 1)))
	q.Close()

	if set, err := q.Remove(time.Second); err != nil || set.Len() != 1 {
		t.Fatalf("queued set lost on close: %v err=%v", set.Events(), err)
	}
	if set, err := q.Remove(time.Second); !errors.Is(err, ErrQueueClosed) || !set.Terminal() {
		t.Fatalf("expected terminal after drain, got %v", err)
	}
	if hub.Stats().Queues != 0 {
		t.Fatalf("closed queue still subscribed")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestFlowControlHoldAndReleaseExactlyOnce(t *testing.T) {
	testlog.Start(t)
	cmd := &countingCommander{}
	hub := NewHub(Options{Session: "t-flow", Commander: cmd})
	q := hub.Subscribe(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = hub.RunFlowControl(ctx)
		close(done)
	}()

	p := composite(schema.SuspendNone, threadEvent(schema.EventVMStart, 0, 1))
	for i := 0; i < DefaultHighWater; i++ {
		hub.Deliver(p)
	}
	time.Sleep(10 * time.Millisecond)
	if n := cmd.count(schema.VMHoldEvents); n != 0 {
		t.Fatalf("hold sent at the high-water mark, before crossing it")
	}
	for i := 0; i < 50; i++ {
		hub.Deliver(p)
	}
	waitFor(t, "hold", func() bool { return cmd.count(schema.VMHoldEvents) == 1 })

	for hub.Stats().MaxDepth >= DefaultLowWater {
		if _, err := q.Remove(time.Second); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	waitFor(t, "release", func() bool { return cmd.count(schema.VMReleaseEvents) == 1 })

	for q.Depth() > 0 {
		if _, err := q.Remove(time.Second); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	hub.Close()
	<-done
	if h, r := cmd.count(schema.VMHoldEvents), cmd.count(schema.VMReleaseEvents); h != 1 || r != 1 {
		t.Fatalf("expected exactly one hold and one release, got %d/%d", h, r)
	}
	if st := hub.Stats(); st.Holds != 1 || st.Releases != 1 || st.Held {
		t.Fatalf("unexpected stats %+v", st)
	}
}
