package session

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes the jump host used to reach a target that only
// listens on the remote loopback.
type SSHConfig struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
}

func (c SSHConfig) address() (string, error) {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return "", fmt.Errorf("session: ssh host is required")
	}
	if c.Port != "" {
		return net.JoinHostPort(host, c.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (c SSHConfig) clientConfig(timeout time.Duration) (*ssh.ClientConfig, error) {
	if c.User == "" {
		return nil, fmt.Errorf("session: ssh user is required")
	}
	signer, err := c.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := c.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (c SSHConfig) signer() (ssh.Signer, error) {
	if c.KeyPath == "" {
		return nil, fmt.Errorf("session: ssh key path is required")
	}
	privateKey, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(c.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, c.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (c SSHConfig) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(c.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("session: known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// tunnelConn closes the ssh client together with the forwarded channel.
type tunnelConn struct {
	net.Conn
	client    *ssh.Client
	closeOnce sync.Once
	closeErr  error
}

func (c *tunnelConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
		_ = c.client.Close()
	})
	return c.closeErr
}

// AttachSSH connects to the jump host and opens a direct-tcpip channel to
// target (as seen from the jump host), then runs the handshake over it.
// Retry and backoff follow Attach.
func AttachSSH(ctx context.Context, jump SSHConfig, target string, cfg Config) (*ConnTransport, error) {
	cfg = cfg.WithDefaults()
	jumpAddr, err := jump.address()
	if err != nil {
		return nil, err
	}
	sshCfg, err := jump.clientConfig(cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		conn, err := dialSSH(ctx, jumpAddr, target, sshCfg, cfg.ConnectTimeout)
		if err == nil {
			if err = Handshake(conn, cfg.HandshakeTimeout); err == nil {
				log.Info().Str("jump", jumpAddr).Str("target", target).Msg("session.AttachSSH handshake complete")
				return NewConnTransport(conn, cfg), nil
			}
			_ = conn.Close()
		}
		log.Warn().Str("jump", jumpAddr).Str("target", target).Int("attempt", attempt).Err(err).Msg("session.AttachSSH attempt failed")
		if !shouldRetry(cfg.MaxConnectAttempts, attempt) {
			return nil, err
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func dialSSH(ctx context.Context, jumpAddr, target string, sshCfg *ssh.ClientConfig, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", jumpAddr)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(raw, jumpAddr, sshCfg)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	client := ssh.NewClient(clientConn, chans, reqs)
	conn, err := client.DialContext(ctx, "tcp", target)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &tunnelConn{Conn: conn, client: client}, nil
}
