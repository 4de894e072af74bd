package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	ModeAttach = "attach"
	ModeListen = "listen"
	ModeSSH    = "ssh"
)

// Duration reads "5s"-style strings from TOML and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// EngineConfig is the on-disk description of one debugging session.
type EngineConfig struct {
	Name    string `toml:"name" yaml:"name"`
	Mode    string `toml:"mode" yaml:"mode"`
	Target  string `toml:"target" yaml:"target"`
	Listen  string `toml:"listen" yaml:"listen"`
	Session string `toml:"session" yaml:"session"`

	Transport TransportConfig `toml:"transport" yaml:"transport"`
	TLS       TLSConfig       `toml:"tls" yaml:"tls"`
	SSH       SSHConfig       `toml:"ssh" yaml:"ssh"`
	Events    EventsConfig    `toml:"events" yaml:"events"`
	Mirrors   MirrorsConfig   `toml:"mirrors" yaml:"mirrors"`
	Admin     AdminConfig     `toml:"admin" yaml:"admin"`
}

type TransportConfig struct {
	ConnectTimeout     Duration `toml:"connect_timeout" yaml:"connect_timeout"`
	AcceptTimeout      Duration `toml:"accept_timeout" yaml:"accept_timeout"`
	HandshakeTimeout   Duration `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout       Duration `toml:"write_timeout" yaml:"write_timeout"`
	MaxConnectAttempts int      `toml:"max_connect_attempts" yaml:"max_connect_attempts"`
	MaxPacketBytes     int      `toml:"max_packet_bytes" yaml:"max_packet_bytes"`
	SecurityMode       string   `toml:"security_mode" yaml:"security_mode"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled" yaml:"enabled"`
	Mutual             bool   `toml:"mutual" yaml:"mutual"`
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type SSHConfig struct {
	Host                        string `toml:"host" yaml:"host"`
	Port                        string `toml:"port" yaml:"port"`
	User                        string `toml:"user" yaml:"user"`
	KeyPath                     string `toml:"key_path" yaml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts_path" yaml:"known_hosts_path"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking" yaml:"insecure_skip_host_key_checking"`
}

type EventsConfig struct {
	HighWater int `toml:"high_water" yaml:"high_water"`
	LowWater  int `toml:"low_water" yaml:"low_water"`
}

type MirrorsConfig struct {
	DisposeThreshold int `toml:"dispose_threshold" yaml:"dispose_threshold"`
}

type AdminConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Addr        string   `toml:"addr" yaml:"addr"`
	CorsOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	// Token guards the admin action routes; empty leaves them open.
	Token       string   `toml:"token" yaml:"token"`
}

// Load reads path as TOML or YAML by extension, fills defaults and
// validates.
func Load(path string) (EngineConfig, error) {
	var cfg EngineConfig
	if err := decodeFile(path, &cfg); err != nil {
		return EngineConfig{}, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, out)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, out)
	default:
		return fmt.Errorf("config format not recognised (%s): want .toml, .yaml or .yml", path)
	}
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ApplyDefaults fills unset fields. Transport timeouts left at zero are
// filled later by session.Config.WithDefaults.
func (c *EngineConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "dbgwire"
	}
	if c.Mode == "" {
		c.Mode = ModeAttach
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.SSH.Port == "" {
		c.SSH.Port = "22"
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		c.Admin.Addr = "127.0.0.1:9400"
	}
}

func Validate(cfg EngineConfig) error {
	switch cfg.Mode {
	case ModeAttach, ModeSSH:
		if strings.TrimSpace(cfg.Target) == "" {
			return fmt.Errorf("config missing target for mode %s", cfg.Mode)
		}
	case ModeListen:
		if strings.TrimSpace(cfg.Listen) == "" {
			return fmt.Errorf("config missing listen address")
		}
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.Mode == ModeSSH {
		if strings.TrimSpace(cfg.SSH.Host) == "" || strings.TrimSpace(cfg.SSH.User) == "" {
			return fmt.Errorf("ssh mode requires ssh.host and ssh.user")
		}
	}
	if hw, lw := cfg.Events.HighWater, cfg.Events.LowWater; hw < 0 || lw < 0 || (hw > 0 && lw >= hw) {
		return fmt.Errorf("events low_water (%d) must be below high_water (%d)", lw, hw)
	}
	if cfg.Mirrors.DisposeThreshold < 0 {
		return fmt.Errorf("mirrors dispose_threshold must not be negative")
	}
	if cfg.TLS.Mutual && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls mutual requires cert_file and key_file")
	}
	return nil
}
