package schema

import "fmt"

// Command sets.
const (
	SetVirtualMachine       uint8 = 1
	SetReferenceType        uint8 = 2
	SetClassType            uint8 = 3
	SetArrayType            uint8 = 4
	SetInterfaceType        uint8 = 5
	SetMethod               uint8 = 6
	SetField                uint8 = 8
	SetObjectReference      uint8 = 9
	SetStringReference      uint8 = 10
	SetThreadReference      uint8 = 11
	SetThreadGroupReference uint8 = 12
	SetArrayReference       uint8 = 13
	SetClassLoaderReference uint8 = 14
	SetEventRequest         uint8 = 15
	SetStackFrame           uint8 = 16
	SetClassObjectReference uint8 = 17
	SetModuleReference      uint8 = 18
	SetEvent                uint8 = 64
)

// VirtualMachine commands.
const (
	VMVersion         uint8 = 1
	VMAllThreads      uint8 = 4
	VMDispose         uint8 = 6
	VMIDSizes         uint8 = 7
	VMSuspend         uint8 = 8
	VMResume          uint8 = 9
	VMExit            uint8 = 10
	VMCapabilities    uint8 = 12
	VMDisposeObjects  uint8 = 14
	VMHoldEvents      uint8 = 15
	VMReleaseEvents   uint8 = 16
	VMCapabilitiesNew uint8 = 17
)

// ThreadReference commands.
const (
	ThreadName                    uint8 = 1
	ThreadSuspend                 uint8 = 2
	ThreadResume                  uint8 = 3
	ThreadStatus                  uint8 = 4
	ThreadFrames                  uint8 = 6
	ThreadFrameCount              uint8 = 7
	ThreadOwnedMonitors           uint8 = 8
	ThreadCurrentContendedMonitor uint8 = 9
	ThreadSuspendCount            uint8 = 12
)

// Invoke-style commands that let the target run.
const (
	ClassTypeInvokeMethod       uint8 = 3
	ClassTypeNewInstance        uint8 = 4
	InterfaceTypeInvokeMethod   uint8 = 1
	ObjectReferenceInvokeMethod uint8 = 6
)

// StackFrame commands.
const (
	StackFrameThisObject uint8 = 3
	StackFramePopFrames  uint8 = 4
)

// EventRequest commands.
const (
	EventRequestSet                 uint8 = 1
	EventRequestClear               uint8 = 2
	EventRequestClearAllBreakpoints uint8 = 3
)

// EventComposite is the only command the target sends unsolicited.
const EventComposite uint8 = 100

type command struct {
	set uint8
	cmd uint8
}

// resumeCommands implicitly resume the whole target while in flight.
var resumeCommands = map[command]bool{
	{SetVirtualMachine, VMResume}:                     true,
	{SetClassType, ClassTypeInvokeMethod}:             true,
	{SetClassType, ClassTypeNewInstance}:              true,
	{SetInterfaceType, InterfaceTypeInvokeMethod}:     true,
	{SetObjectReference, ObjectReferenceInvokeMethod}: true,
}

// IsResumeCommand reports whether sending set/cmd lets the target run.
func IsResumeCommand(set, cmd uint8) bool {
	return resumeCommands[command{set, cmd}]
}

// IsEventComposite reports whether an inbound request-shaped packet is the
// batched event notification.
func IsEventComposite(set, cmd uint8) bool {
	return set == SetEvent && cmd == EventComposite
}

var commandNames = map[command]string{
	{SetVirtualMachine, VMVersion}:                      "VirtualMachine.Version",
	{SetVirtualMachine, VMAllThreads}:                   "VirtualMachine.AllThreads",
	{SetVirtualMachine, VMDispose}:                      "VirtualMachine.Dispose",
	{SetVirtualMachine, VMIDSizes}:                      "VirtualMachine.IDSizes",
	{SetVirtualMachine, VMSuspend}:                      "VirtualMachine.Suspend",
	{SetVirtualMachine, VMResume}:                       "VirtualMachine.Resume",
	{SetVirtualMachine, VMExit}:                         "VirtualMachine.Exit",
	{SetVirtualMachine, VMCapabilities}:                 "VirtualMachine.Capabilities",
	{SetVirtualMachine, VMDisposeObjects}:               "VirtualMachine.DisposeObjects",
	{SetVirtualMachine, VMHoldEvents}:                   "VirtualMachine.HoldEvents",
	{SetVirtualMachine, VMReleaseEvents}:                "VirtualMachine.ReleaseEvents",
	{SetVirtualMachine, VMCapabilitiesNew}:              "VirtualMachine.CapabilitiesNew",
	{SetThreadReference, ThreadName}:                    "ThreadReference.Name",
	{SetThreadReference, ThreadSuspend}:                 "ThreadReference.Suspend",
	{SetThreadReference, ThreadResume}:                  "ThreadReference.Resume",
	{SetThreadReference, ThreadStatus}:                  "ThreadReference.Status",
	{SetThreadReference, ThreadFrames}:                  "ThreadReference.Frames",
	{SetThreadReference, ThreadFrameCount}:              "ThreadReference.FrameCount",
	{SetThreadReference, ThreadOwnedMonitors}:           "ThreadReference.OwnedMonitors",
	{SetThreadReference, ThreadCurrentContendedMonitor}: "ThreadReference.CurrentContendedMonitor",
	{SetThreadReference, ThreadSuspendCount}:            "ThreadReference.SuspendCount",
	{SetClassType, ClassTypeInvokeMethod}:               "ClassType.InvokeMethod",
	{SetClassType, ClassTypeNewInstance}:                "ClassType.NewInstance",
	{SetInterfaceType, InterfaceTypeInvokeMethod}:       "InterfaceType.InvokeMethod",
	{SetObjectReference, ObjectReferenceInvokeMethod}:   "ObjectReference.InvokeMethod",
	{SetStackFrame, StackFrameThisObject}:               "StackFrame.ThisObject",
	{SetStackFrame, StackFramePopFrames}:                "StackFrame.PopFrames",
	{SetEventRequest, EventRequestSet}:                  "EventRequest.Set",
	{SetEventRequest, EventRequestClear}:                "EventRequest.Clear",
	{SetEventRequest, EventRequestClearAllBreakpoints}:  "EventRequest.ClearAllBreakpoints",
	{SetEvent, EventComposite}:                          "Event.Composite",
}

// CommandName names set/cmd for logs and metric labels, falling back to
// "set.cmd" for commands outside the table.
func CommandName(set, cmd uint8) string {
	if name, ok := commandNames[command{set, cmd}]; ok {
		return name
	}
	return fmt.Sprintf("%d.%d", set, cmd)
}
