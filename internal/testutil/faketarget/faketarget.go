// Package faketarget is a scripted debug target for tests. It speaks the
// handshake and packet framing over net.Pipe, answers commands from a
// handler table and can push event composites at any time.
package faketarget

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/dbgwire/internal/protocol/packet"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/session"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
)

// Reply is what a handler answers with.
type Reply struct {
	Code    uint16
	Payload []byte
}

// Handler answers one command. Returning false leaves the command
// unanswered.
type Handler func(cmd packet.Packet) (Reply, bool)

type key struct{ set, cmd uint8 }

// Target is the far end of a debugging connection.
type Target struct {
	t     testing.TB
	conn  net.Conn
	sizes wire.IDSizes

	writeMu sync.Mutex

	mu          sync.Mutex
	handlers    map[key]Handler
	received    []packet.Packet
	nextRequest int32
	changed     chan struct{}

	done chan struct{}
}

// Start connects a target to a fresh client transport and performs the
// handshake. The target reports the given id sizes; the zero value means
// the 8-byte defaults.
func Start(t testing.TB, sizes wire.IDSizes) (*Target, *session.ConnTransport) {
	t.Helper()
	if sizes == (wire.IDSizes{}) {
		sizes = wire.DefaultIDSizes()
	}
	client, server := net.Pipe()
	tg := &Target{
		t:        t,
		conn:     server,
		sizes:    sizes,
		handlers: make(map[key]Handler),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	tg.installDefaults()

	echoed := make(chan error, 1)
	go func() {
		buf := make([]byte, len(session.HandshakeText))
		if _, err := io.ReadFull(server, buf); err != nil {
			echoed <- err
			return
		}
		_, err := server.Write(buf)
		echoed <- err
	}()
	if err := session.Handshake(client, 2*time.Second); err != nil {
		t.Fatalf("faketarget handshake: %v", err)
	}
	if err := <-echoed; err != nil {
		t.Fatalf("faketarget handshake echo: %v", err)
	}

	go tg.serve()
	t.Cleanup(func() { _ = tg.Close() })
	return tg, session.NewConnTransport(client, session.DefaultConfig())
}

// Sizes returns the id sizes the target reports.
func (tg *Target) Sizes() wire.IDSizes {
	return tg.sizes
}

func (tg *Target) installDefaults() {
	ok := func(payload []byte) Reply { return Reply{Payload: payload} }
	tg.handlers[key{schema.SetVirtualMachine, schema.VMIDSizes}] = func(packet.Packet) (Reply, bool) {
		w := wire.NewWriter(tg.sizes).
			Int32(int32(tg.sizes.FieldID)).
			Int32(int32(tg.sizes.MethodID)).
			Int32(int32(tg.sizes.ObjectID)).
			Int32(int32(tg.sizes.ReferenceTypeID)).
			Int32(int32(tg.sizes.FrameID))
		return ok(w.Bytes()), true
	}
	tg.handlers[key{schema.SetVirtualMachine, schema.VMVersion}] = func(packet.Packet) (Reply, bool) {
		w := wire.NewWriter(tg.sizes).
			String("fake target").
			Int32(17).
			Int32(0).
			String("17.0.2").
			String("FakeVM")
		return ok(w.Bytes()), true
	}
	tg.handlers[key{schema.SetEventRequest, schema.EventRequestSet}] = func(packet.Packet) (Reply, bool) {
		tg.mu.Lock()
		tg.nextRequest++
		id := tg.nextRequest
		tg.mu.Unlock()
		return ok(wire.NewWriter(tg.sizes).Int32(id).Bytes()), true
	}
}

// Handle replaces the handler for set/cmd.
func (tg *Target) Handle(set, cmd uint8, h Handler) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.handlers[key{set, cmd}] = h
}

func (tg *Target) serve() {
	defer close(tg.done)
	for {
		p, err := packet.ReadPacket(tg.conn, packet.DefaultLimits())
		if err != nil {
			return
		}
		tg.mu.Lock()
		tg.received = append(tg.received, p)
		h := tg.handlers[key{p.CommandSet, p.Command}]
		close(tg.changed)
		tg.changed = make(chan struct{})
		tg.mu.Unlock()

		reply := Reply{}
		answer := true
		if h != nil {
			reply, answer = h(p)
		}
		if !answer {
			continue
		}
		if err := tg.write(packet.NewReply(p.ID, reply.Code, reply.Payload)); err != nil {
			return
		}
	}
}

func (tg *Target) write(p packet.Packet) error {
	tg.writeMu.Lock()
	defer tg.writeMu.Unlock()
	return packet.WritePacket(tg.conn, p, packet.DefaultLimits())
}

// Send pushes an event composite with the given payload to the client.
func (tg *Target) Send(payload []byte) {
	tg.t.Helper()
	p := packet.NewCommand(schema.SetEvent, schema.EventComposite, payload)
	if err := tg.write(p); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		tg.t.Errorf("faketarget send: %v", err)
	}
}

// Received returns every command for set/cmd seen so far.
func (tg *Target) Received(set, cmd uint8) []packet.Packet {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	var out []packet.Packet
	for _, p := range tg.received {
		if p.CommandSet == set && p.Command == cmd {
			out = append(out, p)
		}
	}
	return out
}

// WaitFor blocks until at least n commands for set/cmd arrived and returns
// them.
func (tg *Target) WaitFor(set, cmd uint8, n int) []packet.Packet {
	tg.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		tg.mu.Lock()
		changed := tg.changed
		tg.mu.Unlock()
		if got := tg.Received(set, cmd); len(got) >= n {
			return got
		}
		select {
		case <-changed:
		case <-deadline:
			tg.t.Fatalf("faketarget: waited for %d x %s, got %d", n, schema.CommandName(set, cmd), len(tg.Received(set, cmd)))
			return nil
		}
	}
}

// Close hangs up the connection.
func (tg *Target) Close() error {
	err := tg.conn.Close()
	<-tg.done
	return err
}
