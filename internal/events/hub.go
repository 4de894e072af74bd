package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danmuck/dbgwire/internal/dispatch"
	"github.com/danmuck/dbgwire/internal/observability"
	"github.com/danmuck/dbgwire/internal/protocol/packet"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHighWater = 10000
	DefaultLowWater  = 100
)

// Commander sends one command and waits for its reply.
type Commander interface {
	SendCommand(ctx context.Context, commandSet, command uint8, payload []byte) (dispatch.Reply, error)
}

type Options struct {
	Session   string
	HighWater int
	LowWater  int
	Sizes     wire.IDSizes
	Commander Commander
	Resumer   Resumer
	Suspender SuspendNotifier
	Client    *RequestTable
	Internal  *RequestTable
	Logger    *zerolog.Logger
}

type flowAction uint8

const (
	flowHold flowAction = iota + 1
	flowRelease
)

func (a flowAction) String() string {
	if a == flowHold {
		return "hold"
	}
	return "release"
}

// Hub is the single dispatch point feeding every queue. It implements
// dispatch.EventSink.
type Hub struct {
	session   string
	logger    zerolog.Logger
	commander Commander
	resumer   Resumer
	suspender SuspendNotifier
	client    *RequestTable
	internal  *RequestTable
	sizes     atomic.Pointer[wire.IDSizes]
	high, low int

	mu       sync.Mutex
	queues   map[*Queue]struct{}
	closed   bool
	held     bool
	maxDepth int
	actions  []flowAction

	flowWake chan struct{}
	holds    atomic.Uint64
	releases atomic.Uint64
	resumes  atomic.Uint64
}

func NewHub(opts Options) *Hub {
	if opts.HighWater <= 0 {
		opts.HighWater = DefaultHighWater
	}
	if opts.LowWater <= 0 || opts.LowWater >= opts.HighWater {
		opts.LowWater = min(DefaultLowWater, opts.HighWater/2)
	}
	if opts.Client == nil {
		opts.Client = NewRequestTable()
	}
	if opts.Internal == nil {
		opts.Internal = NewRequestTable()
	}
	if opts.Sizes == (wire.IDSizes{}) {
		opts.Sizes = wire.DefaultIDSizes()
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	h := &Hub{
		session:   opts.Session,
		logger:    logger.With().Str("component", "events").Logger(),
		commander: opts.Commander,
		resumer:   opts.Resumer,
		suspender: opts.Suspender,
		client:    opts.Client,
		internal:  opts.Internal,
		high:      opts.HighWater,
		low:       opts.LowWater,
		queues:    make(map[*Queue]struct{}),
		flowWake:  make(chan struct{}, 1),
	}
	h.sizes.Store(&opts.Sizes)
	return h
}

// SetCommander sets where hold and release commands go.
func (h *Hub) SetCommander(c Commander) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commander = c
}

// SetIDSizes changes the id widths used by sets built from now on.
func (h *Hub) SetIDSizes(sizes wire.IDSizes) {
	h.sizes.Store(&sizes)
}

func (h *Hub) idSizes() wire.IDSizes {
	return *h.sizes.Load()
}

func (h *Hub) ClientRequests() *RequestTable {
	return h.client
}

func (h *Hub) InternalRequests() *RequestTable {
	return h.internal
}

// Subscribe adds a queue that receives every set delivered from now on.
// internal selects the engine-side view. After Close the queue comes back
// already closed.
func (h *Hub) Subscribe(internal bool) *Queue {
	q := newQueue(h, internal)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		q.shutdown()
		return q
	}
	h.queues[q] = struct{}{}
	return q
}

func (h *Hub) unsubscribe(q *Queue) {
	h.mu.Lock()
	delete(h.queues, q)
	h.mu.Unlock()
	h.depthChanged()
}

// Deliver queues one raw composite on every live queue. It never decodes
// and never blocks on the network.
func (h *Hub) Deliver(p packet.Packet) {
	s := &Set{hub: h, raw: p}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	depth := 0
	for q := range h.queues {
		depth = max(depth, q.push(s))
	}
	h.updateFlowLocked(depth)
}

// Close closes every queue. Consumers drain what is queued, then get the
// terminal set.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	queues := make([]*Queue, 0, len(h.queues))
	for q := range h.queues {
		queues = append(queues, q)
	}
	clear(h.queues)
	h.mu.Unlock()

	for _, q := range queues {
		q.shutdown()
	}
	h.signalFlow()
	h.logger.Debug().Int("queues", len(queues)).Msg("events.Close closed queues")
}

func (h *Hub) depthChanged() {
	h.mu.Lock()
	defer h.mu.Unlock()
	depth := 0
	for q := range h.queues {
		depth = max(depth, q.Depth())
	}
	h.updateFlowLocked(depth)
}

func (h *Hub) updateFlowLocked(depth int) {
	h.maxDepth = depth
	observability.SetQueueDepth(h.session, depth)
	switch {
	case !h.held && depth > h.high:
		h.held = true
		h.actions = append(h.actions, flowHold)
	case h.held && depth < h.low:
		h.held = false
		h.actions = append(h.actions, flowRelease)
	default:
		return
	}
	h.signalFlow()
}

func (h *Hub) signalFlow() {
	select {
	case h.flowWake <- struct{}{}:
	default:
	}
}

// RunFlowControl sends the hold/release commands decided by Deliver and
// Remove. It runs on its own goroutine so it never waits behind the
// backlog it manages. Returns when ctx is done or the hub closed.
func (h *Hub) RunFlowControl(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.flowWake:
		}

		h.mu.Lock()
		actions := h.actions
		h.actions = nil
		closed := h.closed
		h.mu.Unlock()

		for _, a := range actions {
			h.sendFlow(ctx, a)
		}
		if closed {
			return nil
		}
	}
}

func (h *Hub) sendFlow(ctx context.Context, a flowAction) {
	cmd := schema.VMHoldEvents
	counter := &h.holds
	if a == flowRelease {
		cmd = schema.VMReleaseEvents
		counter = &h.releases
	}
	counter.Add(1)
	observability.RecordFlowControl(h.session, a.String())
	h.mu.Lock()
	commander := h.commander
	h.mu.Unlock()
	if commander == nil {
		return
	}
	if _, err := commander.SendCommand(ctx, schema.SetVirtualMachine, cmd, nil); err != nil {
		h.logger.Warn().Err(err).Stringer("action", a).Msg("events.RunFlowControl command failed")
		return
	}
	h.logger.Info().Stringer("action", a).Msg("events.RunFlowControl sent")
}

// autoResume undoes the suspension of a set no client request claimed.
func (h *Hub) autoResume(policy schema.SuspendPolicy, threads []uint64) {
	if h.resumer == nil || policy == schema.SuspendNone {
		return
	}
	ctx := context.Background()
	switch policy {
	case schema.SuspendAll:
		h.resumes.Add(1)
		observability.RecordAutoResume(h.session, policy.String())
		if err := h.resumer.Resume(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("events.autoResume resume-all failed")
		}
	case schema.SuspendEventThread:
		for _, thread := range threads {
			h.resumes.Add(1)
			observability.RecordAutoResume(h.session, policy.String())
			if err := h.resumer.ResumeThread(ctx, thread); err != nil {
				h.logger.Warn().Err(err).Uint64("thread", thread).Msg("events.autoResume resume-thread failed")
			}
		}
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Queues      int    `json:"queues"`
	MaxDepth    int    `json:"max_depth"`
	Held        bool   `json:"held"`
	Holds       uint64 `json:"holds"`
	Releases    uint64 `json:"releases"`
	AutoResumes uint64 `json:"auto_resumes"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Queues:      len(h.queues),
		MaxDepth:    h.maxDepth,
		Held:        h.held,
		Holds:       h.holds.Load(),
		Releases:    h.releases.Load(),
		AutoResumes: h.resumes.Load(),
	}
}
