package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// HandshakeText is exchanged verbatim in both directions before any packet.
const HandshakeText = "JDWP-Handshake"

var (
	ErrHandshakeMismatch = errors.New("session: handshake mismatch")
	ErrHandshakeTimeout  = errors.New("session: handshake timeout")
)

// Handshake writes the handshake text and waits for the target to echo it.
// The debugger side always writes first, whichever side opened the
// connection. Connections without deadline support (ssh channels) are closed
// when the timeout fires instead.
func Handshake(conn net.Conn, timeout time.Duration) error {
	var expired atomic.Bool
	deadlineSet := false
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err == nil {
			deadlineSet = true
		} else {
			timer := time.AfterFunc(timeout, func() {
				expired.Store(true)
				_ = conn.Close()
			})
			defer timer.Stop()
		}
	}

	if _, err := io.WriteString(conn, HandshakeText); err != nil {
		return handshakeErr("write", err, expired.Load())
	}
	buf := make([]byte, len(HandshakeText))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return handshakeErr("read", err, expired.Load())
	}
	if string(buf) != HandshakeText {
		return fmt.Errorf("%w: got %q", ErrHandshakeMismatch, buf)
	}
	if deadlineSet {
		return conn.SetDeadline(time.Time{})
	}
	return nil
}

func handshakeErr(op string, err error, expired bool) error {
	var netErr net.Error
	if expired || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrHandshakeTimeout, op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: connection closed: %v", ErrHandshakeMismatch, op, err)
	}
	return fmt.Errorf("session: handshake %s: %w", op, err)
}
