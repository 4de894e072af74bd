package dispatch

import (
	"errors"
	"fmt"

	"github.com/danmuck/dbgwire/internal/protocol/schema"
)

// ErrDisconnected is returned to every caller still waiting when the
// connection ends, and to every later caller.
var ErrDisconnected = errors.New("dispatch: target disconnected")

// RemoteError is a reply that carried a nonzero error code.
type RemoteError struct {
	CommandSet uint8
	Command    uint8
	Code       uint16
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("dispatch: %s: remote error %s (%d)",
		schema.CommandName(e.CommandSet, e.Command), schema.ErrorName(e.Code), e.Code)
}

// Name is the protocol name of the error code.
func (e *RemoteError) Name() string {
	return schema.ErrorName(e.Code)
}

// IsRemoteCode reports whether err is a RemoteError with the given code.
func IsRemoteCode(err error, code uint16) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Code == code
}
