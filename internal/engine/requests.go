package engine

import (
	"context"
	"fmt"

	"github.com/danmuck/dbgwire/internal/events"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
)

// Modifier narrows an event request. Only the modifiers the engine and its
// CLI use are modeled.
type Modifier struct {
	Kind    uint8
	Count   int32
	Thread  uint64
	Pattern string
}

func Count(n int32) Modifier             { return Modifier{Kind: schema.ModCount, Count: n} }
func ThreadOnly(thread uint64) Modifier  { return Modifier{Kind: schema.ModThreadOnly, Thread: thread} }
func ClassMatch(pattern string) Modifier { return Modifier{Kind: schema.ModClassMatch, Pattern: pattern} }
func ClassExclude(pattern string) Modifier {
	return Modifier{Kind: schema.ModClassExclude, Pattern: pattern}
}

// Request describes one EventRequest.Set. Internal requests feed the
// engine's own view instead of client queues.
type Request struct {
	Kind      schema.EventKind
	Policy    schema.SuspendPolicy
	Modifiers []Modifier
	Internal  bool
}

func (e *Engine) table(internal bool) *events.RequestTable {
	if internal {
		return e.hub.InternalRequests()
	}
	return e.hub.ClientRequests()
}

func encodeRequest(sizes wire.IDSizes, req Request) ([]byte, error) {
	w := wire.NewWriter(sizes).
		Uint8(uint8(req.Kind)).
		Uint8(uint8(req.Policy)).
		Int32(int32(len(req.Modifiers)))
	for _, m := range req.Modifiers {
		w.Uint8(m.Kind)
		switch m.Kind {
		case schema.ModCount:
			w.Int32(m.Count)
		case schema.ModThreadOnly:
			w.ObjectID(m.Thread)
		case schema.ModClassMatch, schema.ModClassExclude:
			w.String(m.Pattern)
		default:
			return nil, fmt.Errorf("engine: unsupported modifier kind %d", m.Kind)
		}
	}
	return w.Bytes(), nil
}

// SetEventRequest creates an event request on the target and records it in
// the client or internal table. It returns the target's request id.
func (e *Engine) SetEventRequest(ctx context.Context, req Request) (int32, error) {
	if !req.Policy.Valid() {
		return 0, fmt.Errorf("engine: invalid suspend policy %d", req.Policy)
	}
	payload, err := encodeRequest(e.IDSizes(), req)
	if err != nil {
		return 0, err
	}
	reply, err := e.SendCommand(ctx, schema.SetEventRequest, schema.EventRequestSet, payload)
	if err != nil {
		return 0, err
	}
	id, err := wire.NewReader(reply.Payload, e.IDSizes()).Int32()
	if err != nil {
		return 0, fmt.Errorf("engine: event request id: %w", err)
	}
	e.table(req.Internal).Register(req.Kind, id)
	e.logger.Debug().Stringer("kind", req.Kind).Int32("request", id).Bool("internal", req.Internal).Msg("engine.SetEventRequest registered")
	return id, nil
}

// ClearEventRequest deletes a request on the target. The local record is
// dropped first so no further event is routed to it.
func (e *Engine) ClearEventRequest(ctx context.Context, kind schema.EventKind, id int32) error {
	e.hub.ClientRequests().Delete(kind, id)
	e.hub.InternalRequests().Delete(kind, id)
	payload := wire.NewWriter(e.IDSizes()).Uint8(uint8(kind)).Int32(id).Bytes()
	_, err := e.SendCommand(ctx, schema.SetEventRequest, schema.EventRequestClear, payload)
	return err
}

// EnableEventRequest and DisableEventRequest toggle local routing only; the
// target keeps reporting, and sets no enabled request claims are resumed
// automatically.
func (e *Engine) EnableEventRequest(kind schema.EventKind, id int32) bool {
	return e.hub.ClientRequests().Enable(kind, id) || e.hub.InternalRequests().Enable(kind, id)
}

func (e *Engine) DisableEventRequest(kind schema.EventKind, id int32) bool {
	return e.hub.ClientRequests().Disable(kind, id) || e.hub.InternalRequests().Disable(kind, id)
}
