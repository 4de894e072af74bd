package session

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/danmuck/dbgwire/internal/protocol/packet"
	"github.com/rs/zerolog/log"
)

// Transport moves whole packets over an established, handshaken connection.
// ReadPacket is called from a single reader goroutine. WritePacket is safe
// for concurrent use; each packet is written contiguously.
type Transport interface {
	ReadPacket() (packet.Packet, error)
	WritePacket(p packet.Packet) error
	Close() error
	RemoteAddr() string
}

// ConnTransport is a Transport over a net.Conn.
type ConnTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	limits       packet.Limits
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConnTransport wraps conn. The handshake must already be complete.
func NewConnTransport(conn net.Conn, cfg Config) *ConnTransport {
	cfg = cfg.WithDefaults()
	return &ConnTransport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		limits:       cfg.Limits,
		writeTimeout: cfg.WriteTimeout,
	}
}

func (t *ConnTransport) ReadPacket() (packet.Packet, error) {
	return packet.ReadPacket(t.reader, t.limits)
}

func (t *ConnTransport) WritePacket(p packet.Packet) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	return packet.WritePacket(t.conn, p, t.limits)
}

// Close is idempotent. It unblocks a pending ReadPacket.
func (t *ConnTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		log.Debug().Str("remote", t.RemoteAddr()).Msg("session transport closed")
	})
	return t.closeErr
}

func (t *ConnTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
