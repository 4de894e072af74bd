package schema

import "fmt"

// Reply error codes.
const (
	ErrNone               uint16 = 0
	ErrInvalidThread      uint16 = 10
	ErrInvalidThreadGroup uint16 = 11
	ErrThreadNotSuspended uint16 = 13
	ErrThreadSuspended    uint16 = 14
	ErrThreadNotAlive     uint16 = 15
	ErrInvalidObject      uint16 = 20
	ErrInvalidClass       uint16 = 21
	ErrInvalidMethodID    uint16 = 23
	ErrInvalidLocation    uint16 = 24
	ErrInvalidFieldID     uint16 = 25
	ErrInvalidFrameID     uint16 = 30
	ErrNoMoreFrames       uint16 = 31
	ErrOpaqueFrame        uint16 = 32
	ErrNotCurrentFrame    uint16 = 33
	ErrTypeMismatch       uint16 = 34
	ErrInvalidSlot        uint16 = 35
	ErrDuplicate          uint16 = 40
	ErrNotFound           uint16 = 41
	ErrInvalidMonitor     uint16 = 50
	ErrNotMonitorOwner    uint16 = 51
	ErrInterrupt          uint16 = 52
	ErrNotImplemented     uint16 = 99
	ErrNullPointer        uint16 = 100
	ErrAbsentInformation  uint16 = 101
	ErrInvalidEventType   uint16 = 102
	ErrIllegalArgument    uint16 = 103
	ErrOutOfMemory        uint16 = 110
	ErrAccessDenied       uint16 = 111
	ErrVMDead             uint16 = 112
	ErrInternal           uint16 = 113
	ErrUnattachedThread   uint16 = 115
	ErrInvalidTag         uint16 = 500
	ErrAlreadyInvoking    uint16 = 502
	ErrInvalidIndex       uint16 = 503
	ErrInvalidLength      uint16 = 504
	ErrInvalidString      uint16 = 506
	ErrInvalidClassLoader uint16 = 507
	ErrInvalidArray       uint16 = 508
	ErrTransportLoad      uint16 = 509
	ErrTransportInit      uint16 = 510
	ErrNativeMethod       uint16 = 511
	ErrInvalidCount       uint16 = 512
)

var errorNames = map[uint16]string{
	ErrNone:               "NONE",
	ErrInvalidThread:      "INVALID_THREAD",
	ErrInvalidThreadGroup: "INVALID_THREAD_GROUP",
	ErrThreadNotSuspended: "THREAD_NOT_SUSPENDED",
	ErrThreadSuspended:    "THREAD_SUSPENDED",
	ErrThreadNotAlive:     "THREAD_NOT_ALIVE",
	ErrInvalidObject:      "INVALID_OBJECT",
	ErrInvalidClass:       "INVALID_CLASS",
	ErrInvalidMethodID:    "INVALID_METHODID",
	ErrInvalidLocation:    "INVALID_LOCATION",
	ErrInvalidFieldID:     "INVALID_FIELDID",
	ErrInvalidFrameID:     "INVALID_FRAMEID",
	ErrNoMoreFrames:       "NO_MORE_FRAMES",
	ErrOpaqueFrame:        "OPAQUE_FRAME",
	ErrNotCurrentFrame:    "NOT_CURRENT_FRAME",
	ErrTypeMismatch:       "TYPE_MISMATCH",
	ErrInvalidSlot:        "INVALID_SLOT",
	ErrDuplicate:          "DUPLICATE",
	ErrNotFound:           "NOT_FOUND",
	ErrInvalidMonitor:     "INVALID_MONITOR",
	ErrNotMonitorOwner:    "NOT_MONITOR_OWNER",
	ErrInterrupt:          "INTERRUPT",
	ErrNotImplemented:     "NOT_IMPLEMENTED",
	ErrNullPointer:        "NULL_POINTER",
	ErrAbsentInformation:  "ABSENT_INFORMATION",
	ErrInvalidEventType:   "INVALID_EVENT_TYPE",
	ErrIllegalArgument:    "ILLEGAL_ARGUMENT",
	ErrOutOfMemory:        "OUT_OF_MEMORY",
	ErrAccessDenied:       "ACCESS_DENIED",
	ErrVMDead:             "VM_DEAD",
	ErrInternal:           "INTERNAL",
	ErrUnattachedThread:   "UNATTACHED_THREAD",
	ErrInvalidTag:         "INVALID_TAG",
	ErrAlreadyInvoking:    "ALREADY_INVOKING",
	ErrInvalidIndex:       "INVALID_INDEX",
	ErrInvalidLength:      "INVALID_LENGTH",
	ErrInvalidString:      "INVALID_STRING",
	ErrInvalidClassLoader: "INVALID_CLASS_LOADER",
	ErrInvalidArray:       "INVALID_ARRAY",
	ErrTransportLoad:      "TRANSPORT_LOAD",
	ErrTransportInit:      "TRANSPORT_INIT",
	ErrNativeMethod:       "NATIVE_METHOD",
	ErrInvalidCount:       "INVALID_COUNT",
}

// ErrorName maps a reply error code to its protocol name.
func ErrorName(code uint16) string {
	if name, ok := errorNames[code]; ok {
		return name
	}
	return fmt.Sprintf("ERROR(%d)", code)
}
