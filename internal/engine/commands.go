package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/dbgwire/internal/dispatch"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
)

// Suspend suspends the whole target.
func (e *Engine) Suspend(ctx context.Context) error {
	if _, err := e.SendCommand(ctx, schema.SetVirtualMachine, schema.VMSuspend, nil); err != nil {
		return err
	}
	e.tracker.NotifySuspend()
	return nil
}

// Resume resumes the whole target. The dispatcher invalidates cached state
// before the command is written.
func (e *Engine) Resume(ctx context.Context) error {
	_, err := e.SendCommand(ctx, schema.SetVirtualMachine, schema.VMResume, nil)
	return err
}

// SuspendThread suspends one thread.
func (e *Engine) SuspendThread(ctx context.Context, thread uint64) error {
	payload := wire.NewWriter(e.IDSizes()).ObjectID(thread).Bytes()
	if _, err := e.SendCommand(ctx, schema.SetThreadReference, schema.ThreadSuspend, payload); err != nil {
		return err
	}
	e.tracker.NotifySuspendThread(thread)
	return nil
}

// ResumeThread resumes one thread, invalidating that thread's cached state
// first.
func (e *Engine) ResumeThread(ctx context.Context, thread uint64) error {
	e.tracker.NotifyResume(thread)
	payload := wire.NewWriter(e.IDSizes()).ObjectID(thread).Bytes()
	_, err := e.SendCommand(ctx, schema.SetThreadReference, schema.ThreadResume, payload)
	return err
}

// Version is the target's VirtualMachine.Version reply.
type Version struct {
	Description string `json:"description"`
	Major       int32  `json:"major"`
	Minor       int32  `json:"minor"`
	VMVersion   string `json:"vm_version"`
	VMName      string `json:"vm_name"`
}

func (e *Engine) Version(ctx context.Context) (Version, error) {
	reply, err := e.SendCommand(ctx, schema.SetVirtualMachine, schema.VMVersion, nil)
	if err != nil {
		return Version{}, err
	}
	r := wire.NewReader(reply.Payload, e.IDSizes())
	var v Version
	if v.Description, err = r.String(); err != nil {
		return Version{}, fmt.Errorf("engine: version: %w", err)
	}
	if v.Major, err = r.Int32(); err != nil {
		return Version{}, fmt.Errorf("engine: version: %w", err)
	}
	if v.Minor, err = r.Int32(); err != nil {
		return Version{}, fmt.Errorf("engine: version: %w", err)
	}
	if v.VMVersion, err = r.String(); err != nil {
		return Version{}, fmt.Errorf("engine: version: %w", err)
	}
	if v.VMName, err = r.String(); err != nil {
		return Version{}, fmt.Errorf("engine: version: %w", err)
	}
	return v, nil
}

// Dispose flushes pending dispose ids, tells the target the debugger is
// leaving, and closes the session. The target keeps running.
func (e *Engine) Dispose(ctx context.Context) error {
	return e.leave(ctx, schema.VMDispose, nil)
}

// Exit terminates the target with code and closes the session.
func (e *Engine) Exit(ctx context.Context, code int32) error {
	return e.leave(ctx, schema.VMExit, wire.NewWriter(e.IDSizes()).Int32(code).Bytes())
}

func (e *Engine) leave(ctx context.Context, command uint8, payload []byte) error {
	if cache := e.cache.Load(); cache != nil {
		if err := cache.Flush(ctx); err != nil && !errors.Is(err, dispatch.ErrDisconnected) {
			e.logger.Warn().Err(err).Msg("engine.leave dispose flush failed")
		}
	}
	_, err := e.disp.SendCommand(ctx, schema.SetVirtualMachine, command, payload)
	if errors.Is(err, dispatch.ErrDisconnected) {
		// Exit may hang up before replying.
		err = nil
	}
	if cerr := e.Close(); err == nil {
		err = cerr
	}
	return err
}
