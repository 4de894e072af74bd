package config

import (
	"github.com/danmuck/dbgwire/internal/engine"
	"github.com/danmuck/dbgwire/internal/protocol/packet"
	"github.com/danmuck/dbgwire/internal/protocol/session"
)

// SessionConfig converts the transport sections; zero fields take the
// session defaults.
func (c EngineConfig) SessionConfig() session.Config {
	t := c.Transport
	cfg := session.Config{
		ConnectTimeout:     t.ConnectTimeout.Std(),
		AcceptTimeout:      t.AcceptTimeout.Std(),
		HandshakeTimeout:   t.HandshakeTimeout.Std(),
		WriteTimeout:       t.WriteTimeout.Std(),
		MaxConnectAttempts: t.MaxConnectAttempts,
		Limits:             packet.Limits{MaxPacketBytes: t.MaxPacketBytes},
		SecurityMode:       session.NormalizeSecurityMode(session.SecurityMode(t.SecurityMode)),
		TLS: session.TLSConfig{
			Enabled:            c.TLS.Enabled,
			Mutual:             c.TLS.Mutual,
			CAFile:             c.TLS.CAFile,
			CertFile:           c.TLS.CertFile,
			KeyFile:            c.TLS.KeyFile,
			ServerName:         c.TLS.ServerName,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		},
	}
	return cfg.WithDefaults()
}

func (c EngineConfig) SSHJump() session.SSHConfig {
	return session.SSHConfig{
		Host:                        c.SSH.Host,
		Port:                        c.SSH.Port,
		User:                        c.SSH.User,
		KeyPath:                     c.SSH.KeyPath,
		KnownHostsPath:              c.SSH.KnownHostsPath,
		InsecureSkipHostKeyChecking: c.SSH.InsecureSkipHostKeyChecking,
	}
}

func (c EngineConfig) EngineOptions() engine.Options {
	return engine.Options{
		Session:          c.Session,
		HighWater:        c.Events.HighWater,
		LowWater:         c.Events.LowWater,
		DisposeThreshold: c.Mirrors.DisposeThreshold,
	}
}
