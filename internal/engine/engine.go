// Package engine composes the wire pieces into one debugging session: the
// transport and dispatcher, the suspend tracker, the event hub and the
// mirror cache.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/dbgwire/internal/dispatch"
	"github.com/danmuck/dbgwire/internal/events"
	"github.com/danmuck/dbgwire/internal/mirror"
	"github.com/danmuck/dbgwire/internal/observability"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/session"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
	"github.com/danmuck/dbgwire/internal/suspend"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrNotReady = errors.New("engine: id sizes not negotiated")

type Options struct {
	// Session labels logs and metrics; a random id is used when empty.
	Session          string
	HighWater        int
	LowWater         int
	DisposeThreshold int
	// StartTimeout bounds the IDSizes negotiation and internal setup.
	StartTimeout time.Duration
}

// Engine is one attached debugging session.
type Engine struct {
	id        string
	base      zerolog.Logger
	logger    zerolog.Logger
	started   time.Time
	remote    string
	transport session.Transport
	opts      Options

	tracker *suspend.Tracker
	hub     *events.Hub
	disp    *dispatch.Dispatcher
	cache   atomic.Pointer[mirror.Cache]
	sizes   atomic.Pointer[wire.IDSizes]

	primary  *events.Queue
	internal *events.Queue

	group  *errgroup.Group
	cancel context.CancelFunc

	dead      chan struct{}
	deadOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Start takes ownership of an established transport, starts the background
// goroutines, negotiates id sizes and registers the engine's own event
// requests. The primary event queue exists before the first packet is
// read, so VM_START is never missed.
func Start(ctx context.Context, transport session.Transport, opts Options) (*Engine, error) {
	if opts.Session == "" {
		opts.Session = uuid.NewString()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 10 * time.Second
	}
	logger := observability.ComponentLogger("engine", opts.Session)
	// Components add their own component field.
	base := log.Logger.With().Str("session", opts.Session).Logger()

	e := &Engine{
		id:        opts.Session,
		base:      base,
		logger:    logger,
		started:   time.Now(),
		remote:    transport.RemoteAddr(),
		transport: transport,
		opts:      opts,
		tracker:   suspend.NewTracker(),
		dead:      make(chan struct{}),
	}
	defaults := wire.DefaultIDSizes()
	e.sizes.Store(&defaults)

	e.hub = events.NewHub(events.Options{
		Session:   opts.Session,
		HighWater: opts.HighWater,
		LowWater:  opts.LowWater,
		Resumer:   e,
		Suspender: e.tracker,
		Logger:    &base,
	})
	e.disp = dispatch.New(transport, dispatch.Options{
		Session: opts.Session,
		Logger:  &base,
		Resume:  e.tracker,
		Events:  e.hub,
	})
	e.hub.SetCommander(e.disp)
	e.primary = e.hub.Subscribe(false)
	e.internal = e.hub.Subscribe(true)

	gctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, gctx = errgroup.WithContext(gctx)
	e.group.Go(e.disp.Run)
	e.group.Go(func() error { return e.hub.RunFlowControl(gctx) })
	e.group.Go(e.consumeInternal)

	sctx, scancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer scancel()
	if err := e.negotiate(sctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	if _, err := e.SetEventRequest(sctx, Request{Kind: schema.EventThreadDeath, Policy: schema.SuspendNone, Internal: true}); err != nil {
		e.logger.Warn().Err(err).Msg("engine.Start thread-death request failed")
	}

	e.logger.Info().Str("remote", e.remote).Msg("engine.Start attached")
	return e, nil
}

func (e *Engine) negotiate(ctx context.Context) error {
	reply, err := e.disp.SendCommand(ctx, schema.SetVirtualMachine, schema.VMIDSizes, nil)
	if err != nil {
		return fmt.Errorf("engine: id sizes: %w", err)
	}
	r := wire.NewReader(reply.Payload, wire.DefaultIDSizes())
	var widths [5]int32
	for i := range widths {
		if widths[i], err = r.Int32(); err != nil {
			return fmt.Errorf("engine: id sizes: %w", err)
		}
	}
	sizes := wire.IDSizes{
		FieldID:         int(widths[0]),
		MethodID:        int(widths[1]),
		ObjectID:        int(widths[2]),
		ReferenceTypeID: int(widths[3]),
		FrameID:         int(widths[4]),
	}
	if err := sizes.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.sizes.Store(&sizes)
	e.hub.SetIDSizes(sizes)
	e.cache.Store(mirror.NewCache(e.disp, mirror.Options{
		Session:   e.id,
		Sizes:     sizes,
		Threshold: e.opts.DisposeThreshold,
		Tracker:   e.tracker,
		Logger:    &e.base,
	}))
	e.logger.Debug().Interface("sizes", sizes).Msg("engine.negotiate id sizes")
	return nil
}

// consumeInternal drains the engine's own view until the hub closes.
func (e *Engine) consumeInternal() error {
	for {
		set, err := e.internal.Remove(0)
		if errors.Is(err, events.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, ev := range set.Events() {
			switch ev.Kind {
			case schema.EventThreadDeath:
				if cache := e.cache.Load(); cache != nil {
					cache.ForgetThread(ev.Thread)
				}
			case schema.EventVMStart:
				e.logger.Info().Uint64("thread", ev.Thread).Msg("engine.consumeInternal target started")
			case schema.EventVMDeath:
				e.deadOnce.Do(func() {
					close(e.dead)
					e.logger.Info().Msg("engine.consumeInternal target died")
				})
			}
		}
	}
}

// ID is the session id used in logs, metrics and status.
func (e *Engine) ID() string {
	return e.id
}

// SendCommand sends one command and waits for its reply. Collected mirrors
// are swept afterwards so dispose batches go out between commands.
func (e *Engine) SendCommand(ctx context.Context, commandSet, command uint8, payload []byte) (dispatch.Reply, error) {
	reply, err := e.disp.SendCommand(ctx, commandSet, command, payload)
	if cache := e.cache.Load(); cache != nil {
		if serr := cache.Sweep(ctx); serr != nil && !errors.Is(serr, dispatch.ErrDisconnected) {
			e.logger.Warn().Err(serr).Msg("engine.SendCommand dispose sweep failed")
		}
	}
	return reply, err
}

// Events returns the primary client queue, subscribed before the first
// packet was read. It must be drained or closed: flow control follows the
// deepest live queue, so an abandoned one holds events forever.
func (e *Engine) Events() *events.Queue {
	return e.primary
}

// SubscribeEvents adds another client queue that receives every set
// delivered from now on. Callers reading only from their own queues close
// Events() first.
func (e *Engine) SubscribeEvents() *events.Queue {
	return e.hub.Subscribe(false)
}

// NotifySuspend tells the tracker the whole target was suspended by means
// the engine did not see.
func (e *Engine) NotifySuspend() {
	e.tracker.NotifySuspend()
}

// NotifyResume tells the tracker thread was resumed, or the whole target for
// suspend.AllThreads.
func (e *Engine) NotifyResume(thread uint64) {
	e.tracker.NotifyResume(thread)
}

// LookupMirror returns the canonical mirror for id.
func (e *Engine) LookupMirror(ctx context.Context, id uint64, tag uint8) (mirror.Mirror, error) {
	cache := e.cache.Load()
	if cache == nil {
		return nil, ErrNotReady
	}
	return cache.Lookup(ctx, id, tag)
}

// Mirrors returns the mirror cache.
func (e *Engine) Mirrors() *mirror.Cache {
	return e.cache.Load()
}

func (e *Engine) Tracker() *suspend.Tracker {
	return e.tracker
}

// IDSizes returns the negotiated id widths.
func (e *Engine) IDSizes() wire.IDSizes {
	return *e.sizes.Load()
}

// Done is closed once the connection has ended.
func (e *Engine) Done() <-chan struct{} {
	return e.disp.Done()
}

// Err reports why the connection ended, nil while it is open, after Close,
// or when the target hung up cleanly.
func (e *Engine) Err() error {
	if err := e.disp.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// TargetDead is closed when the target reported VM_DEATH.
func (e *Engine) TargetDead() <-chan struct{} {
	return e.dead
}

// Close tears the connection down and waits for the background goroutines.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		_ = e.disp.Close()
		e.closeErr = e.group.Wait()
		e.cancel()
		e.logger.Info().Msg("engine.Close closed")
	})
	return e.closeErr
}
