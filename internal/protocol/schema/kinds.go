package schema

import "fmt"

// EventKind identifies one event inside a composite.
type EventKind uint8

const (
	EventSingleStep                EventKind = 1
	EventBreakpoint                EventKind = 2
	EventFramePop                  EventKind = 3
	EventException                 EventKind = 4
	EventUserDefined               EventKind = 5
	EventThreadStart               EventKind = 6
	EventThreadDeath               EventKind = 7
	EventClassPrepare              EventKind = 8
	EventClassUnload               EventKind = 9
	EventClassLoad                 EventKind = 10
	EventFieldAccess               EventKind = 20
	EventFieldModification         EventKind = 21
	EventExceptionCatch            EventKind = 30
	EventMethodEntry               EventKind = 40
	EventMethodExit                EventKind = 41
	EventMethodExitWithReturnValue EventKind = 42
	EventMonitorContendedEnter     EventKind = 43
	EventMonitorContendedEntered   EventKind = 44
	EventMonitorWait               EventKind = 45
	EventMonitorWaited             EventKind = 46
	EventVMStart                   EventKind = 90
	EventVMDeath                   EventKind = 99
	EventVMDisconnected            EventKind = 100
)

var eventKindNames = map[EventKind]string{
	EventSingleStep:                "SINGLE_STEP",
	EventBreakpoint:                "BREAKPOINT",
	EventFramePop:                  "FRAME_POP",
	EventException:                 "EXCEPTION",
	EventUserDefined:               "USER_DEFINED",
	EventThreadStart:               "THREAD_START",
	EventThreadDeath:               "THREAD_DEATH",
	EventClassPrepare:              "CLASS_PREPARE",
	EventClassUnload:               "CLASS_UNLOAD",
	EventClassLoad:                 "CLASS_LOAD",
	EventFieldAccess:               "FIELD_ACCESS",
	EventFieldModification:         "FIELD_MODIFICATION",
	EventExceptionCatch:            "EXCEPTION_CATCH",
	EventMethodEntry:               "METHOD_ENTRY",
	EventMethodExit:                "METHOD_EXIT",
	EventMethodExitWithReturnValue: "METHOD_EXIT_WITH_RETURN_VALUE",
	EventMonitorContendedEnter:     "MONITOR_CONTENDED_ENTER",
	EventMonitorContendedEntered:   "MONITOR_CONTENDED_ENTERED",
	EventMonitorWait:               "MONITOR_WAIT",
	EventMonitorWaited:             "MONITOR_WAITED",
	EventVMStart:                   "VM_START",
	EventVMDeath:                   "VM_DEATH",
	EventVMDisconnected:            "VM_DISCONNECTED",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EVENT_KIND(%d)", uint8(k))
}

func (k EventKind) Known() bool {
	_, ok := eventKindNames[k]
	return ok
}

// SuspendPolicy is the automatic-suspension scope of an event set.
type SuspendPolicy uint8

const (
	SuspendNone        SuspendPolicy = 0
	SuspendEventThread SuspendPolicy = 1
	SuspendAll         SuspendPolicy = 2
)

func (p SuspendPolicy) String() string {
	switch p {
	case SuspendNone:
		return "NONE"
	case SuspendEventThread:
		return "EVENT_THREAD"
	case SuspendAll:
		return "ALL"
	}
	return fmt.Sprintf("SUSPEND_POLICY(%d)", uint8(p))
}

func (p SuspendPolicy) Valid() bool {
	return p <= SuspendAll
}

// Value and object tags.
const (
	TagArray       uint8 = '['
	TagByte        uint8 = 'B'
	TagChar        uint8 = 'C'
	TagObject      uint8 = 'L'
	TagFloat       uint8 = 'F'
	TagDouble      uint8 = 'D'
	TagInt         uint8 = 'I'
	TagLong        uint8 = 'J'
	TagShort       uint8 = 'S'
	TagVoid        uint8 = 'V'
	TagBoolean     uint8 = 'Z'
	TagString      uint8 = 's'
	TagThread      uint8 = 't'
	TagThreadGroup uint8 = 'g'
	TagClassLoader uint8 = 'l'
	TagClassObject uint8 = 'c'
)

// PrimitiveSize returns the payload width of a primitive tag.
func PrimitiveSize(tag uint8) (int, bool) {
	switch tag {
	case TagVoid:
		return 0, true
	case TagByte, TagBoolean:
		return 1, true
	case TagChar, TagShort:
		return 2, true
	case TagInt, TagFloat:
		return 4, true
	case TagLong, TagDouble:
		return 8, true
	}
	return 0, false
}

// IsObjectTag reports whether tag is followed by an object id.
func IsObjectTag(tag uint8) bool {
	switch tag {
	case TagArray, TagObject, TagString, TagThread, TagThreadGroup, TagClassLoader, TagClassObject:
		return true
	}
	return false
}

// Reference type tags.
const (
	TypeTagClass     uint8 = 1
	TypeTagInterface uint8 = 2
	TypeTagArray     uint8 = 3
)

// Thread status values.
const (
	ThreadStatusZombie   int32 = 0
	ThreadStatusRunning  int32 = 1
	ThreadStatusSleeping int32 = 2
	ThreadStatusMonitor  int32 = 3
	ThreadStatusWait     int32 = 4
)

// Event request modifier kinds used by engine-owned requests.
const (
	ModCount        uint8 = 1
	ModThreadOnly   uint8 = 3
	ModClassMatch   uint8 = 5
	ModClassExclude uint8 = 6
)
