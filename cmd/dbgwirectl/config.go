package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
)

// cliConfig holds the tail behaviour; the session itself comes from the
// engine config file.
type cliConfig struct {
	Watch             []string
	ThreadEvents      bool
	WatchPolicy       schema.SuspendPolicy
	AutoResume        bool
	RemoveTimeout     time.Duration
	ExitOnTargetDeath bool
	LogLevel          string
}

type fileCLIConfig struct {
	Watch             []string `toml:"watch"`
	ThreadEvents      bool     `toml:"thread_events"`
	WatchPolicy       string   `toml:"watch_policy"`
	AutoResume        bool     `toml:"auto_resume"`
	RemoveTimeout     string   `toml:"remove_timeout"`
	ExitOnTargetDeath bool     `toml:"exit_on_target_death"`
	LogLevel          string   `toml:"log_level"`
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		WatchPolicy:       schema.SuspendEventThread,
		AutoResume:        true,
		RemoveTimeout:     time.Second,
		ExitOnTargetDeath: true,
	}
}

func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileCLIConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load dbgwirectl config: %w", err)
	}

	if meta.IsDefined("watch") {
		cfg.Watch = normalizePatterns(raw.Watch)
	}
	if meta.IsDefined("thread_events") {
		cfg.ThreadEvents = raw.ThreadEvents
	}
	if meta.IsDefined("watch_policy") {
		policy, err := parsePolicy(raw.WatchPolicy)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.WatchPolicy = policy
	}
	if meta.IsDefined("auto_resume") {
		cfg.AutoResume = raw.AutoResume
	}
	if meta.IsDefined("remove_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RemoveTimeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse remove_timeout: %w", err)
		}
		if d <= 0 {
			return cliConfig{}, fmt.Errorf("remove_timeout must be positive")
		}
		cfg.RemoveTimeout = d
	}
	if meta.IsDefined("exit_on_target_death") {
		cfg.ExitOnTargetDeath = raw.ExitOnTargetDeath
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, nil
}

func parsePolicy(raw string) (schema.SuspendPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none":
		return schema.SuspendNone, nil
	case "event_thread", "thread":
		return schema.SuspendEventThread, nil
	case "all":
		return schema.SuspendAll, nil
	}
	return 0, fmt.Errorf("unknown watch_policy %q", raw)
}

func normalizePatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
