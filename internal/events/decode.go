package events

import (
	"errors"
	"fmt"

	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
)

var ErrUnknownEventKind = errors.New("events: unknown event kind")

// decodeComposite decodes an Event.Composite payload. On error it returns
// the events decoded before the failure; policyOK reports whether the
// suspend policy itself was read.
func decodeComposite(payload []byte, sizes wire.IDSizes) (policy schema.SuspendPolicy, policyOK bool, out []Event, err error) {
	r := wire.NewReader(payload, sizes)
	p, err := r.Uint8()
	if err != nil {
		return 0, false, nil, fmt.Errorf("events: suspend policy: %w", err)
	}
	policy = schema.SuspendPolicy(p)
	if !policy.Valid() {
		return 0, false, nil, fmt.Errorf("events: invalid suspend policy %d", p)
	}
	n, err := r.Int32()
	if err != nil {
		return policy, true, nil, fmt.Errorf("events: event count: %w", err)
	}
	if n < 0 {
		return policy, true, nil, fmt.Errorf("events: negative event count %d", n)
	}
	out = make([]Event, 0, min(int(n), 64))
	for i := int32(0); i < n; i++ {
		ev, err := decodeEvent(r)
		if err != nil {
			return policy, true, out, fmt.Errorf("events: event %d of %d: %w", i+1, n, err)
		}
		out = append(out, ev)
	}
	if r.Remaining() != 0 {
		return policy, true, out, fmt.Errorf("events: %d trailing bytes", r.Remaining())
	}
	return policy, true, out, nil
}

func decodeEvent(r *wire.Reader) (Event, error) {
	k, err := r.Uint8()
	if err != nil {
		return Event{}, err
	}
	ev := Event{Kind: schema.EventKind(k)}
	if ev.RequestID, err = r.Int32(); err != nil {
		return Event{}, err
	}

	switch ev.Kind {
	case schema.EventVMDeath:
		return ev, nil
	case schema.EventClassUnload:
		sig, err := r.String()
		if err != nil {
			return Event{}, err
		}
		ev.Detail = ClassUnloadDetail{Signature: sig}
		return ev, nil
	}

	// Every remaining kind starts with the thread.
	if ev.Thread, err = r.ObjectID(); err != nil {
		return Event{}, err
	}

	switch ev.Kind {
	case schema.EventVMStart, schema.EventThreadStart, schema.EventThreadDeath:
		return ev, nil

	case schema.EventClassPrepare:
		var d ClassPrepareDetail
		if d.RefTypeTag, err = r.Uint8(); err != nil {
			return Event{}, err
		}
		if d.TypeID, err = r.ReferenceTypeID(); err != nil {
			return Event{}, err
		}
		if d.Signature, err = r.String(); err != nil {
			return Event{}, err
		}
		if d.Status, err = r.Int32(); err != nil {
			return Event{}, err
		}
		ev.Detail = d
		return ev, nil

	case schema.EventMonitorContendedEnter, schema.EventMonitorContendedEntered,
		schema.EventMonitorWait, schema.EventMonitorWaited:
		return decodeMonitor(ev, r)

	case schema.EventSingleStep, schema.EventBreakpoint, schema.EventMethodEntry,
		schema.EventMethodExit, schema.EventMethodExitWithReturnValue,
		schema.EventException, schema.EventFieldAccess, schema.EventFieldModification:
		if ev.Location, err = r.Location(); err != nil {
			return Event{}, err
		}
		ev.HasLocation = true

	default:
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownEventKind, k)
	}

	switch ev.Kind {
	case schema.EventMethodExitWithReturnValue:
		v, err := r.Value()
		if err != nil {
			return Event{}, err
		}
		ev.Detail = ReturnDetail{Value: v}

	case schema.EventException:
		var d ExceptionDetail
		if d.Exception, err = r.TaggedObject(); err != nil {
			return Event{}, err
		}
		if d.CatchLocation, err = r.Location(); err != nil {
			return Event{}, err
		}
		ev.Detail = d

	case schema.EventFieldAccess, schema.EventFieldModification:
		var d FieldDetail
		if d.RefTypeTag, err = r.Uint8(); err != nil {
			return Event{}, err
		}
		if d.TypeID, err = r.ReferenceTypeID(); err != nil {
			return Event{}, err
		}
		if d.FieldID, err = r.FieldID(); err != nil {
			return Event{}, err
		}
		if d.Object, err = r.TaggedObject(); err != nil {
			return Event{}, err
		}
		if ev.Kind == schema.EventFieldModification {
			v, err := r.Value()
			if err != nil {
				return Event{}, err
			}
			d.NewValue = &v
		}
		ev.Detail = d
	}
	return ev, nil
}

// decodeMonitor reads the monitor, location and wait fields, which follow
// the thread in that order.
func decodeMonitor(ev Event, r *wire.Reader) (Event, error) {
	var d MonitorDetail
	var err error
	if d.Monitor, err = r.TaggedObject(); err != nil {
		return Event{}, err
	}
	if ev.Location, err = r.Location(); err != nil {
		return Event{}, err
	}
	ev.HasLocation = true
	switch ev.Kind {
	case schema.EventMonitorWait:
		if d.Timeout, err = r.Int64(); err != nil {
			return Event{}, err
		}
	case schema.EventMonitorWaited:
		if d.TimedOut, err = r.Bool(); err != nil {
			return Event{}, err
		}
	}
	ev.Detail = d
	return ev, nil
}
