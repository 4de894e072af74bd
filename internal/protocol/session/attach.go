package session

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// Attach dials the target at address, optionally wraps the connection in
// TLS, and performs the handshake. Failed attempts are retried with backoff
// up to cfg.MaxConnectAttempts (<=0 retries until ctx is done). A handshake
// mismatch is not retried.
func Attach(ctx context.Context, address string, cfg Config) (*ConnTransport, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		conn, err := dial(ctx, address, cfg)
		if err == nil {
			if err = Handshake(conn, cfg.HandshakeTimeout); err == nil {
				log.Info().Str("addr", address).Int("attempt", attempt).Msg("session.Attach handshake complete")
				return NewConnTransport(conn, cfg), nil
			}
			_ = conn.Close()
			if errors.Is(err, ErrHandshakeMismatch) {
				return nil, err
			}
		}
		log.Warn().Str("addr", address).Int("attempt", attempt).Err(err).Msg("session.Attach attempt failed")
		if !shouldRetry(cfg.MaxConnectAttempts, attempt) {
			return nil, err
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func shouldRetry(maxAttempts, attempt int) bool {
	if maxAttempts <= 0 {
		return true
	}
	return attempt < maxAttempts
}

func dial(ctx context.Context, address string, cfg Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return wrapClientTLS(ctx, rawConn, address, cfg)
}

func wrapClientTLS(ctx context.Context, rawConn net.Conn, address string, cfg Config) (net.Conn, error) {
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}
	tlsCfg, err := cfg.clientTLSConfig(address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}
