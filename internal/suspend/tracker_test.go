package suspend

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/dbgwire/internal/testutil/testlog"
)

type recordingListener struct {
	mu          sync.Mutex
	invalidated []uint64
	validated   int
	keep        bool
}

func (l *recordingListener) Invalidate(thread uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidated = append(l.invalidated, thread)
	return l.keep
}

func (l *recordingListener) Validate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.validated++
	return l.keep
}

func (l *recordingListener) calls() ([]uint64, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.invalidated...), l.validated
}

func TestValidRequiresSuspendAndNoResumesInFlight(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	if tr.Valid() {
		t.Fatalf("tracker must start invalid")
	}

	tr.BeginResume(1)
	tr.NotifySuspend()
	if tr.Valid() {
		t.Fatalf("valid with a resume in flight")
	}
	tr.EndResume(1)
	if !tr.Valid() {
		t.Fatalf("suspend seen after invalidation and no resumes left: expected valid")
	}

	tr.BeginResume(2)
	if tr.Valid() {
		t.Fatalf("sending a resume must invalidate immediately")
	}
	tr.EndResume(2)
	if tr.Valid() {
		t.Fatalf("completing a resume without a new suspend must stay invalid")
	}
}

func TestCachedValueRefetchedAfterResume(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	tr.NotifySuspend()

	var fetches atomic.Int32
	cached := NewCached[int](tr)
	fetch := func() (int, error) {
		return int(fetches.Add(1)), nil
	}

	if v, _ := cached.Get(fetch); v != 1 {
		t.Fatalf("first get got=%d", v)
	}
	if v, _ := cached.Get(fetch); v != 1 || fetches.Load() != 1 {
		t.Fatalf("cached value not reused while valid: v=%d fetches=%d", v, fetches.Load())
	}

	done := make(chan struct{})
	go func() {
		tr.BeginResume(9)
		close(done)
	}()
	<-done

	if v, _ := cached.Get(fetch); v != 2 {
		t.Fatalf("expected re-fetch after resume, got=%d", v)
	}
	tr.EndResume(9)
	if v, _ := cached.Get(fetch); v != 3 {
		t.Fatalf("value fetched while invalid must not be kept, got=%d", v)
	}
}

func TestSingleThreadResumeIsScoped(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	l := &recordingListener{keep: true}
	reg := Register(tr, l)
	defer reg.Remove()

	tr.NotifySuspend()
	tr.NotifyResume(7)
	invalidated, validated := l.calls()
	if validated != 1 || len(invalidated) != 1 || invalidated[0] != 7 {
		t.Fatalf("expected one thread-scoped invalidation, got %v validated=%d", invalidated, validated)
	}
	if !tr.Valid() {
		t.Fatalf("process-wide state must survive a single-thread resume under a vm suspend")
	}

	tr.NotifyResume(AllThreads)
	if tr.Valid() {
		t.Fatalf("resume-all must invalidate")
	}

	tr.NotifySuspendThread(5)
	tr.NotifySuspendThread(6)
	tr.NotifyResume(5)
	tr.NotifyResume(6)
	invalidated, _ = l.calls()
	want := []uint64{7, AllThreads, 5, AllThreads}
	if len(invalidated) != len(want) {
		t.Fatalf("invalidations got=%v want=%v", invalidated, want)
	}
	for i := range want {
		if invalidated[i] != want[i] {
			t.Fatalf("invalidations got=%v want=%v", invalidated, want)
		}
	}
}

func TestListenerMayRemoveItself(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	once := &recordingListener{keep: false}
	stay := &recordingListener{keep: true}
	Register(tr, once)
	Register(tr, stay)

	tr.NotifyResume(AllThreads)
	tr.NotifyResume(AllThreads)

	if got, _ := once.calls(); len(got) != 1 {
		t.Fatalf("removed listener notified %d times", len(got))
	}
	if got, _ := stay.calls(); len(got) != 2 {
		t.Fatalf("kept listener notified %d times", len(got))
	}
	if n := tr.Snapshot().Listeners; n != 1 {
		t.Fatalf("expected 1 listener left, got %d", n)
	}
}

func TestCollectedListenerIsPruned(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	func() {
		Register(tr, &recordingListener{keep: true})
	}()

	for i := 0; i < 20 && tr.Snapshot().Listeners > 0; i++ {
		runtime.GC()
		tr.NotifyResume(AllThreads)
	}
	if n := tr.Snapshot().Listeners; n != 0 {
		t.Fatalf("collected listener not pruned, %d left", n)
	}
}
