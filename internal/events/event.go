// Package events queues raw event composites, decodes them lazily on the
// consuming goroutine, and routes each event to the client or internal view.
package events

import (
	"fmt"

	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
)

// Event is one decoded notification from a composite.
type Event struct {
	Kind      schema.EventKind
	RequestID int32
	// Thread is zero for kinds not tied to a thread.
	Thread      uint64
	Location    wire.Location
	HasLocation bool
	// Detail carries the kind-specific payload, nil when the kind has none.
	Detail Detail
}

func (e Event) String() string {
	if e.HasLocation {
		return fmt.Sprintf("%s req=%d thread=%d %s", e.Kind, e.RequestID, e.Thread, e.Location)
	}
	return fmt.Sprintf("%s req=%d thread=%d", e.Kind, e.RequestID, e.Thread)
}

// Detail is implemented by the kind-specific payload types.
type Detail interface {
	detail()
}

// ExceptionDetail accompanies EXCEPTION.
type ExceptionDetail struct {
	Exception     wire.TaggedObject
	CatchLocation wire.Location
}

// Caught reports whether the exception has a catch location.
func (d ExceptionDetail) Caught() bool {
	return d.CatchLocation.ClassID != 0
}

// ClassPrepareDetail accompanies CLASS_PREPARE.
type ClassPrepareDetail struct {
	RefTypeTag uint8
	TypeID     uint64
	Signature  string
	Status     int32
}

// ClassUnloadDetail accompanies CLASS_UNLOAD.
type ClassUnloadDetail struct {
	Signature string
}

// FieldDetail accompanies FIELD_ACCESS and FIELD_MODIFICATION. NewValue is
// set only for modifications.
type FieldDetail struct {
	RefTypeTag uint8
	TypeID     uint64
	FieldID    uint64
	Object     wire.TaggedObject
	NewValue   *wire.Value
}

// MonitorDetail accompanies the MONITOR_* kinds. Timeout is set for
// MONITOR_WAIT, TimedOut for MONITOR_WAITED.
type MonitorDetail struct {
	Monitor  wire.TaggedObject
	Timeout  int64
	TimedOut bool
}

// ReturnDetail accompanies METHOD_EXIT_WITH_RETURN_VALUE.
type ReturnDetail struct {
	Value wire.Value
}

func (ExceptionDetail) detail()    {}
func (ClassPrepareDetail) detail() {}
func (ClassUnloadDetail) detail()  {}
func (FieldDetail) detail()        {}
func (MonitorDetail) detail()      {}
func (ReturnDetail) detail()       {}
