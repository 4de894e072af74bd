package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/dbgwire/internal/protocol/session"
	"github.com/danmuck/dbgwire/internal/testutil/testlog"
)

func writeTemplate(t *testing.T, format, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := WriteTemplate(path, format, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func TestLoadTomlTemplate(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeTemplate(t, "toml", "engine.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeAttach || cfg.Target != "127.0.0.1:5005" {
		t.Fatalf("unexpected target %q mode %q", cfg.Target, cfg.Mode)
	}
	if cfg.Transport.ConnectTimeout.Std() != 5*time.Second || cfg.Events.HighWater != 10000 || !cfg.Admin.Enabled {
		t.Fatalf("unexpected config %+v", cfg)
	}
	sc := cfg.SessionConfig()
	if sc.MaxConnectAttempts != 3 || sc.WriteTimeout != session.DefaultConfig().WriteTimeout {
		t.Fatalf("session config not merged with defaults: %+v", sc)
	}
	if opts := cfg.EngineOptions(); opts.DisposeThreshold != 50 || opts.LowWater != 100 {
		t.Fatalf("unexpected engine options %+v", opts)
	}
}

func TestLoadYamlTemplate(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeTemplate(t, "yaml", "engine.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeSSH || cfg.SSH.Host != "bastion.internal" || cfg.SSH.Port != "22" {
		t.Fatalf("unexpected ssh config %+v", cfg.SSH)
	}
	if cfg.Transport.HandshakeTimeout.Std() != 5*time.Second {
		t.Fatalf("duration not decoded: %v", cfg.Transport.HandshakeTimeout.Std())
	}
	if jump := cfg.SSHJump(); jump.User != "debug" {
		t.Fatalf("unexpected jump %+v", jump)
	}
}

func TestLoadRejects(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cases := map[string]string{
		"unknown.ini":   "mode = attach",
		"notarget.toml": `mode = "attach"`,
		"badmode.toml":  "mode = \"carrier-pigeon\"\ntarget = \"x:1\"",
		"water.toml":    "target = \"x:1\"\n[events]\nhigh_water = 10\nlow_water = 10",
		"dur.yaml":      "target: x:1\ntransport:\n  connect_timeout: soon\n",
		"ssh.yaml":      "mode: ssh\ntarget: x:1\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := writeTemplate(t, "toml", "engine.toml")
	if err := WriteTemplate(path, "toml", false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal, got %v", err)
	}
	if err := WriteTemplate(path, "yaml", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("json"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}
