package schema

import "testing"

func TestIsResumeCommand(t *testing.T) {
	resuming := [][2]uint8{
		{SetVirtualMachine, VMResume},
		{SetClassType, ClassTypeInvokeMethod},
		{SetClassType, ClassTypeNewInstance},
		{SetInterfaceType, InterfaceTypeInvokeMethod},
		{SetObjectReference, ObjectReferenceInvokeMethod},
	}
	for _, c := range resuming {
		if !IsResumeCommand(c[0], c[1]) {
			t.Fatalf("expected %s to be resume-class", CommandName(c[0], c[1]))
		}
	}
	quiet := [][2]uint8{
		{SetVirtualMachine, VMSuspend},
		{SetVirtualMachine, VMIDSizes},
		{SetThreadReference, ThreadResume},
		{SetEventRequest, EventRequestSet},
	}
	for _, c := range quiet {
		if IsResumeCommand(c[0], c[1]) {
			t.Fatalf("did not expect %s to be resume-class", CommandName(c[0], c[1]))
		}
	}
}

func TestNames(t *testing.T) {
	if got := ErrorName(ErrVMDead); got != "VM_DEAD" {
		t.Fatalf("unexpected error name: %q", got)
	}
	if got := ErrorName(9999); got != "ERROR(9999)" {
		t.Fatalf("unexpected unknown error name: %q", got)
	}
	if got := EventBreakpoint.String(); got != "BREAKPOINT" {
		t.Fatalf("unexpected event kind name: %q", got)
	}
	if EventKind(55).Known() {
		t.Fatalf("kind 55 should be unknown")
	}
	if got := SuspendEventThread.String(); got != "EVENT_THREAD" {
		t.Fatalf("unexpected policy name: %q", got)
	}
	if !IsEventComposite(SetEvent, EventComposite) || IsEventComposite(SetEvent, 1) {
		t.Fatalf("composite detection mismatch")
	}
}

func TestCommandNames(t *testing.T) {
	named := map[[2]uint8]string{
		{SetVirtualMachine, VMIDSizes}:        "VirtualMachine.IDSizes",
		{SetVirtualMachine, VMDisposeObjects}: "VirtualMachine.DisposeObjects",
		{SetThreadReference, ThreadResume}:    "ThreadReference.Resume",
		{SetEventRequest, EventRequestClear}:  "EventRequest.Clear",
		{SetEvent, EventComposite}:            "Event.Composite",
	}
	for c, want := range named {
		if got := CommandName(c[0], c[1]); got != want {
			t.Fatalf("CommandName(%d,%d) got=%q want=%q", c[0], c[1], got, want)
		}
	}
	if got := CommandName(SetModuleReference, 1); got != "18.1" {
		t.Fatalf("unknown command got=%q", got)
	}
}
