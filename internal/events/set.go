package events

import (
	"context"
	"slices"
	"sync"

	"github.com/danmuck/dbgwire/internal/observability"
	"github.com/danmuck/dbgwire/internal/protocol/packet"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
)

// Resumer lets the pipeline resume what an unclaimed event set suspended.
type Resumer interface {
	Resume(ctx context.Context) error
	ResumeThread(ctx context.Context, thread uint64) error
}

// SuspendNotifier is told what a built event set suspended.
type SuspendNotifier interface {
	NotifySuspend()
	NotifySuspendThread(thread uint64)
}

// Set is one raw composite shared by every queue it was delivered to. It is
// decoded and classified at most once, by whichever consumer gets to it
// first.
type Set struct {
	hub *Hub
	raw packet.Packet

	once     sync.Once
	policy   schema.SuspendPolicy
	client   []Event
	internal []Event
	err      error
}

func (s *Set) build() {
	s.once.Do(s.classify)
}

func (s *Set) classify() {
	h := s.hub
	policy, policyOK, decoded, err := decodeComposite(s.raw.Payload, h.idSizes())
	s.policy = policy
	s.err = err

	var unclaimed []uint64
	remember := func(thread uint64) {
		if policy == schema.SuspendEventThread && thread != 0 && !slices.Contains(unclaimed, thread) {
			unclaimed = append(unclaimed, thread)
		}
	}

	for _, ev := range decoded {
		switch {
		case ev.RequestID == 0:
			// Automatic events (VM_START, VM_DEATH) are seen by both sides.
			s.client = append(s.client, ev)
			s.internal = append(s.internal, ev)
		case h.client.Enabled(ev.Kind, ev.RequestID):
			s.client = append(s.client, ev)
		case h.internal.Enabled(ev.Kind, ev.RequestID):
			s.internal = append(s.internal, ev)
			remember(ev.Thread)
		default:
			remember(ev.Thread)
			h.logger.Debug().Stringer("kind", ev.Kind).Int32("request", ev.RequestID).Msg("events.build dropped event for inactive request")
		}
	}

	if err != nil {
		observability.RecordDecodeFailure(h.session)
		h.logger.Warn().Err(err).Uint32("packet", s.raw.ID).Int("decoded", len(decoded)).Msg("events.build decode failed")
		for _, ev := range s.client {
			remember(ev.Thread)
		}
		s.client = nil
	}
	if !policyOK {
		return
	}

	if h.suspender != nil {
		switch policy {
		case schema.SuspendAll:
			h.suspender.NotifySuspend()
		case schema.SuspendEventThread:
			for _, ev := range decoded {
				if ev.Thread != 0 {
					h.suspender.NotifySuspendThread(ev.Thread)
				}
			}
		}
	}

	if len(s.client) == 0 {
		h.autoResume(policy, unclaimed)
		return
	}
	if policy == schema.SuspendEventThread {
		// A claimed set is resumed by its consumer, which only knows the
		// threads of its own events.
		stranded := slices.DeleteFunc(unclaimed, func(thread uint64) bool {
			return slices.ContainsFunc(s.client, func(ev Event) bool { return ev.Thread == thread })
		})
		h.autoResume(policy, stranded)
	}
}

// view returns the consumer-facing set for the client or internal side.
func (s *Set) view(internal bool) EventSet {
	s.build()
	events := s.client
	if internal {
		events = s.internal
	}
	return EventSet{set: s, events: events, internal: internal}
}

// EventSet is what a consumer receives: the events of one composite that
// belong to its side, or the terminal marker.
type EventSet struct {
	set      *Set
	events   []Event
	internal bool
	terminal bool
}

// Terminal reports the end-of-stream marker delivered when a queue closes.
func (e EventSet) Terminal() bool {
	return e.terminal
}

// Events must not be modified; the slice is shared.
func (e EventSet) Events() []Event {
	return e.events
}

func (e EventSet) Len() int {
	return len(e.events)
}

func (e EventSet) Policy() schema.SuspendPolicy {
	if e.set == nil {
		return schema.SuspendNone
	}
	return e.set.policy
}

// Thread returns the thread of the first thread-bearing event, or zero.
func (e EventSet) Thread() uint64 {
	for _, ev := range e.events {
		if ev.Thread != 0 {
			return ev.Thread
		}
	}
	return 0
}

// Err returns the decode error of the underlying composite, if any.
func (e EventSet) Err() error {
	if e.set == nil {
		return nil
	}
	return e.set.err
}

// Resume undoes exactly what the set's suspend policy suspended: the whole
// target for ALL, each event thread of this view for EVENT_THREAD, nothing
// for NONE. Threads no event of the view names were already resumed when
// the set was built.
func (e EventSet) Resume(ctx context.Context) error {
	if e.terminal || e.set == nil || e.set.hub.resumer == nil {
		return nil
	}
	switch e.set.policy {
	case schema.SuspendAll:
		return e.set.hub.resumer.Resume(ctx)
	case schema.SuspendEventThread:
		var resumed []uint64
		for _, ev := range e.events {
			if ev.Thread == 0 || slices.Contains(resumed, ev.Thread) {
				continue
			}
			resumed = append(resumed, ev.Thread)
			if err := e.set.hub.resumer.ResumeThread(ctx, ev.Thread); err != nil {
				return err
			}
		}
	}
	return nil
}
