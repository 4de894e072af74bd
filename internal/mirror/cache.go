package mirror

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/danmuck/dbgwire/internal/dispatch"
	"github.com/danmuck/dbgwire/internal/observability"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
	"github.com/danmuck/dbgwire/internal/suspend"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDisposeThreshold is the batch size past which collected ids are
// released in one DisposeObjects command.
const DefaultDisposeThreshold = 50

var ErrUnknownKind = errors.New("mirror: unknown kind tag")

// Commander sends one command and waits for its reply.
type Commander interface {
	SendCommand(ctx context.Context, commandSet, command uint8, payload []byte) (dispatch.Reply, error)
}

type Options struct {
	Session   string
	Sizes     wire.IDSizes
	Threshold int
	Tracker   *suspend.Tracker
	Logger    *zerolog.Logger
}

// DisposeRequest is one (id, refCount) pair of a dispose batch.
type DisposeRequest struct {
	ID       uint64
	RefCount int32
}

type entry struct {
	id       uint64
	get      func() Mirror
	refCount int32
	// retired is set, under Cache.mu, when the entry leaves the live map.
	// It guards the single move into the dispose batch.
	retired bool
}

// Cache maps remote ids to weakly held mirrors.
type Cache struct {
	commander Commander
	sizes     wire.IDSizes
	threshold int
	tracker   *suspend.Tracker
	session   string
	logger    zerolog.Logger

	mu        sync.Mutex
	live      map[uint64]*entry
	collected []*entry
	batch     []DisposeRequest
	disposed  uint64
}

func NewCache(commander Commander, opts Options) *Cache {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultDisposeThreshold
	}
	if opts.Sizes == (wire.IDSizes{}) {
		opts.Sizes = wire.DefaultIDSizes()
	}
	if opts.Tracker == nil {
		opts.Tracker = suspend.NewTracker()
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Cache{
		commander: commander,
		sizes:     opts.Sizes,
		threshold: opts.Threshold,
		tracker:   opts.Tracker,
		session:   opts.Session,
		logger:    logger.With().Str("component", "mirror").Logger(),
		live:      make(map[uint64]*entry),
	}
}

// Lookup returns the live mirror for id, or constructs one of the kind
// named by tag. Every call counts one reference the target handed out. A
// zero id is the null reference and yields nil.
func (c *Cache) Lookup(ctx context.Context, id uint64, tag uint8) (Mirror, error) {
	if id == 0 {
		return nil, nil
	}
	if !kindOf(tag) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tag)
	}
	c.drainCollected()

	c.mu.Lock()
	if e, ok := c.live[id]; ok {
		if m := e.get(); m != nil {
			e.refCount++
			c.mu.Unlock()
			return m, nil
		}
		// Collected but its cleanup has not run yet.
		c.retireLocked(e)
	}
	e := &entry{id: id, refCount: 1}
	m := c.construct(e, id, tag)
	c.live[id] = e
	c.mu.Unlock()

	return m, c.maybeFlush(ctx)
}

// Peek returns the live mirror for id without counting a reference.
func (c *Cache) Peek(id uint64) (Mirror, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live[id]
	if !ok {
		return nil, false
	}
	m := e.get()
	return m, m != nil
}

func (c *Cache) construct(e *entry, id uint64, tag uint8) Mirror {
	b := base{cache: c, id: id, tag: tag}
	switch tag {
	case schema.TagString:
		return track(c, e, &String{b})
	case schema.TagArray:
		return track(c, e, &Array{b})
	case schema.TagThread:
		return track(c, e, newThread(b))
	case schema.TagThreadGroup:
		return track(c, e, &ThreadGroup{b})
	case schema.TagClassLoader:
		return track(c, e, &ClassLoader{b})
	case schema.TagClassObject:
		return track(c, e, &ClassObject{b})
	default:
		return track(c, e, &Object{b})
	}
}

// track wires weak ownership: the entry sees m only through a weak pointer,
// and the cleanup queues the entry once m is collected.
func track[T any, P interface {
	*T
	Mirror
}](c *Cache, e *entry, m P) Mirror {
	wp := weak.Make((*T)(m))
	e.get = func() Mirror {
		if p := wp.Value(); p != nil {
			return P(p)
		}
		return nil
	}
	runtime.AddCleanup((*T)(m), c.onCollected, e)
	if t, ok := any(m).(*Thread); ok {
		t.registration = suspend.Register(c.tracker, t)
	}
	return m
}

// onCollected runs on the runtime cleanup goroutine.
func (c *Cache) onCollected(e *entry) {
	c.mu.Lock()
	c.collected = append(c.collected, e)
	c.mu.Unlock()
}

func (c *Cache) retireLocked(e *entry) {
	if e.retired {
		return
	}
	e.retired = true
	if c.live[e.id] == e {
		delete(c.live, e.id)
	}
	c.batch = append(c.batch, DisposeRequest{ID: e.id, RefCount: e.refCount})
}

func (c *Cache) drainCollected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.collected {
		c.retireLocked(e)
	}
	clear(c.collected)
	c.collected = c.collected[:0]
}

// Sweep moves collected entries into the dispose batch and flushes the
// batch once it exceeds the threshold.
func (c *Cache) Sweep(ctx context.Context) error {
	c.drainCollected()
	return c.maybeFlush(ctx)
}

func (c *Cache) maybeFlush(ctx context.Context) error {
	c.mu.Lock()
	over := len(c.batch) > c.threshold
	c.mu.Unlock()
	if !over {
		return nil
	}
	return c.Flush(ctx)
}

// Flush sends the whole pending batch now. Ids taken into a flush are never
// requeued, so a failed flush is logged and the ids dropped.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.batch
	c.batch = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	w := wire.NewWriter(c.sizes).Int32(int32(len(batch)))
	for _, req := range batch {
		w.ObjectID(req.ID).Int32(req.RefCount)
	}
	if _, err := c.commander.SendCommand(ctx, schema.SetVirtualMachine, schema.VMDisposeObjects, w.Bytes()); err != nil {
		c.logger.Warn().Err(err).Int("ids", len(batch)).Msg("mirror.Flush dispose failed")
		return err
	}

	c.mu.Lock()
	c.disposed += uint64(len(batch))
	c.mu.Unlock()
	observability.RecordDisposed(c.session, len(batch))
	c.logger.Debug().Int("ids", len(batch)).Msg("mirror.Flush disposed")
	return nil
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Live     int    `json:"live"`
	Pending  int    `json:"pending_dispose"`
	Disposed uint64 `json:"disposed"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Live: len(c.live), Pending: len(c.batch), Disposed: c.disposed}
}

// Len returns the number of ids in the live map.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Tracker returns the suspend tracker mirrors consult.
func (c *Cache) Tracker() *suspend.Tracker {
	return c.tracker
}

// ForgetThread drops the caches of a thread the target reported dead.
func (c *Cache) ForgetThread(id uint64) {
	if m, ok := c.Peek(id); ok {
		if t, ok := m.(*Thread); ok {
			t.markDead()
		}
	}
}
