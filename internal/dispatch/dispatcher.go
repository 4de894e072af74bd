// Package dispatch correlates replies with outstanding commands and routes
// unsolicited event packets to the event pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/dbgwire/internal/observability"
	"github.com/danmuck/dbgwire/internal/protocol/packet"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is the packet-level connection the dispatcher owns.
// ReadPacket is only ever called from the reader goroutine.
type Transport interface {
	ReadPacket() (packet.Packet, error)
	WritePacket(p packet.Packet) error
	Close() error
}

// ResumeObserver is told about resume-class commands: BeginResume before
// the write, EndResume once the reply arrives or the connection ends.
type ResumeObserver interface {
	BeginResume(id uint32)
	EndResume(id uint32)
}

// EventSink receives raw event composites in arrival order. Close is called
// once when the connection ends.
type EventSink interface {
	Deliver(p packet.Packet)
	Close()
}

// Reply is a correlated reply.
type Reply struct {
	ErrorCode uint16
	Payload   []byte
}

type Options struct {
	// Session labels logs and metrics.
	Session string
	Logger  *zerolog.Logger
	Resume  ResumeObserver
	Events  EventSink
}

type pendingRequest struct {
	id         uint32
	commandSet uint8
	command    uint8
	resume     bool
	started    time.Time

	done      chan struct{}
	closeOnce sync.Once
	reply     Reply
	err       error
}

func (p *pendingRequest) finish(reply Reply, err error) {
	p.closeOnce.Do(func() {
		p.reply = reply
		p.err = err
		close(p.done)
	})
}

// Dispatcher owns the transport: one reader goroutine (Run) and any number
// of concurrent SendCommand callers.
type Dispatcher struct {
	transport Transport
	session   string
	logger    zerolog.Logger
	resume    ResumeObserver
	events    EventSink

	// writeSlot serializes packet writes; a buffered channel so that
	// waiting for it can be bounded by a context.
	writeSlot chan struct{}

	mu      sync.Mutex
	pending map[uint32]*pendingRequest
	closed  bool
	cause   error

	closeOnce sync.Once
	done      chan struct{}
}

func New(transport Transport, opts Options) *Dispatcher {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Dispatcher{
		transport: transport,
		session:   opts.Session,
		logger:    logger.With().Str("component", "dispatch").Logger(),
		resume:    opts.Resume,
		events:    opts.Events,
		writeSlot: make(chan struct{}, 1),
		pending:   make(map[uint32]*pendingRequest),
		done:      make(chan struct{}),
	}
}

// Run reads packets until the transport fails or Close is called. It
// returns nil for a clean end of stream or explicit Close.
func (d *Dispatcher) Run() error {
	for {
		p, err := d.transport.ReadPacket()
		if err != nil {
			var fe *packet.FormatError
			if errors.As(err, &fe) && fe.Skipped {
				d.dropOversize(fe)
				continue
			}
			d.teardown(err)
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || d.closedByCaller() {
				return nil
			}
			return fmt.Errorf("dispatch: read: %w", err)
		}

		switch {
		case p.IsReply():
			observability.RecordPacket(d.session, observability.DirectionIn, observability.KindReply)
			d.deliverReply(p)
		case schema.IsEventComposite(p.CommandSet, p.Command):
			observability.RecordPacket(d.session, observability.DirectionIn, observability.KindEvent)
			if d.events != nil {
				d.events.Deliver(p)
			}
		default:
			observability.RecordDroppedPacket(d.session, "unexpected_command")
			d.logger.Warn().
				Uint32("id", p.ID).
				Str("command", schema.CommandName(p.CommandSet, p.Command)).
				Msg("dispatch.Run dropping unexpected inbound command")
		}
	}
}

// dropOversize discards a packet that exceeded the read limit. A reply
// still completes its caller, with the format error.
func (d *Dispatcher) dropOversize(fe *packet.FormatError) {
	observability.RecordDroppedPacket(d.session, "oversize")
	d.logger.Warn().Err(fe).Uint32("id", fe.Header.ID).Msg("dispatch.Run dropped oversize packet")
	if !fe.Header.IsReply() {
		return
	}
	if pr := d.takePending(fe.Header.ID); pr != nil {
		if pr.resume && d.resume != nil {
			d.resume.EndResume(pr.id)
		}
		pr.finish(Reply{}, fe)
	}
}

func (d *Dispatcher) deliverReply(p packet.Packet) {
	pr := d.takePending(p.ID)
	if pr == nil {
		observability.RecordUnmatchedReply(d.session)
		d.logger.Warn().Uint32("id", p.ID).Uint16("error_code", p.ErrorCode).Msg("dispatch.Run reply with no pending request")
		return
	}
	if pr.resume && d.resume != nil {
		d.resume.EndResume(pr.id)
	}
	observability.RecordCommand(d.session, schema.CommandName(pr.commandSet, pr.command), time.Since(pr.started), p.ErrorCode)
	pr.finish(Reply{ErrorCode: p.ErrorCode, Payload: p.Payload}, nil)
}

func (d *Dispatcher) takePending(id uint32) *pendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	pr, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	observability.SetPendingRequests(d.session, len(d.pending))
	return pr
}

// SendCommand writes one command and blocks until its reply arrives or the
// connection ends. ctx bounds only the wait for the write slot; once the
// command is on the wire it is abandoned only by teardown. A nonzero reply
// error code is returned as *RemoteError alongside the reply.
func (d *Dispatcher) SendCommand(ctx context.Context, commandSet, command uint8, payload []byte) (Reply, error) {
	select {
	case d.writeSlot <- struct{}{}:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-d.done:
		return Reply{}, d.disconnectedErr()
	}

	p := packet.NewCommand(commandSet, command, payload)
	pr := &pendingRequest{
		id:         p.ID,
		commandSet: commandSet,
		command:    command,
		resume:     schema.IsResumeCommand(commandSet, command),
		started:    time.Now(),
		done:       make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.writeSlot
		return Reply{}, d.disconnectedErr()
	}
	d.pending[pr.id] = pr
	observability.SetPendingRequests(d.session, len(d.pending))
	d.mu.Unlock()

	if pr.resume && d.resume != nil {
		d.resume.BeginResume(pr.id)
	}

	err := d.transport.WritePacket(p)
	<-d.writeSlot
	if err != nil {
		var fe *packet.FormatError
		if errors.As(err, &fe) {
			// Nothing reached the wire.
			if d.takePending(pr.id) != nil && pr.resume && d.resume != nil {
				d.resume.EndResume(pr.id)
			}
			return Reply{}, err
		}
		d.teardown(fmt.Errorf("write %s: %w", schema.CommandName(commandSet, command), err))
	} else {
		observability.RecordPacket(d.session, observability.DirectionOut, observability.KindCommand)
	}

	<-pr.done
	if pr.err != nil {
		return Reply{}, pr.err
	}
	if pr.reply.ErrorCode != 0 {
		return pr.reply, &RemoteError{CommandSet: commandSet, Command: command, Code: pr.reply.ErrorCode}
	}
	return pr.reply, nil
}

// Close tears the connection down as if the transport had been lost.
func (d *Dispatcher) Close() error {
	d.teardown(nil)
	return nil
}

// Done is closed once teardown has completed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err returns the teardown cause, nil while connected or after Close.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cause
}

// Pending returns the number of commands awaiting replies.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) closedByCaller() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed && d.cause == nil
}

func (d *Dispatcher) disconnectedErr() error {
	if cause := d.Err(); cause != nil && !errors.Is(cause, io.EOF) {
		return fmt.Errorf("%w: %v", ErrDisconnected, cause)
	}
	return ErrDisconnected
}

// teardown runs once: close the transport, fail every waiter, close the
// event sink.
func (d *Dispatcher) teardown(cause error) {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.cause = cause
		pending := d.pending
		d.pending = make(map[uint32]*pendingRequest)
		d.mu.Unlock()
		observability.SetPendingRequests(d.session, 0)

		if err := d.transport.Close(); err != nil {
			d.logger.Debug().Err(err).Msg("dispatch.teardown transport close")
		}
		disconnected := d.disconnectedErr()
		for _, pr := range pending {
			if pr.resume && d.resume != nil {
				d.resume.EndResume(pr.id)
			}
			pr.finish(Reply{}, disconnected)
		}
		if d.events != nil {
			d.events.Close()
		}

		event := d.logger.Info()
		if cause != nil && !errors.Is(cause, io.EOF) {
			event = d.logger.Warn().Err(cause)
		}
		event.Int("failed_waiters", len(pending)).Msg("dispatch.teardown connection ended")
		close(d.done)
	})
}
