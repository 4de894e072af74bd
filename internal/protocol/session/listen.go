package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
)

var ErrAcceptTimeout = errors.New("session: accept timeout")

// Listener waits for a target that was launched to connect back.
type Listener struct {
	cfg Config
	ln  net.Listener
}

// Listen binds address. Use ":0" for an ephemeral port and read it back
// from Addr.
func Listen(address string, cfg Config) (*Listener, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.serverTLSConfig()
		if err != nil {
			_ = ln.Close()
			return nil, err
		}
		ln = tls.NewListener(ln, tlsCfg)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("session.Listen bound")
	return &Listener{cfg: cfg, ln: ln}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for one target connection, bounded by ctx and
// cfg.AcceptTimeout, then performs the handshake under HandshakeTimeout.
func (l *Listener) Accept(ctx context.Context) (*ConnTransport, error) {
	if l.cfg.AcceptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.AcceptTimeout)
		defer cancel()
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		done <- result{conn: conn, err: err}
	}()

	var conn net.Conn
	select {
	case <-ctx.Done():
		// Closing the listener unblocks Accept; the goroutine drains into
		// the buffered channel.
		_ = l.ln.Close()
		if r := <-done; r.conn != nil {
			_ = r.conn.Close()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrAcceptTimeout, l.cfg.AcceptTimeout)
		}
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		conn = r.conn
	}

	if err := Handshake(conn, l.cfg.HandshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("session.Listener accepted target")
	return NewConnTransport(conn, l.cfg), nil
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
