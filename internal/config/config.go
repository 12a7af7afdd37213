// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads devrun's configuration: built-in defaults, then an
// optional YAML file, then DEVRUN_* environment variables.
//
// Nested keys are separated by "." in files and by "__" in environment
// variables, e.g. DEVRUN_RETRY__BOOT_TIMEOUT=10m sets retry.boot_timeout.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/mod/semver"

	"go.chromium.org/devrun/errors"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "DEVRUN_"

// Config is the complete configuration. It is immutable once loaded and is
// passed explicitly to every component that needs it.
type Config struct {
	Tools    ToolsConfig    `koanf:"tools"`
	Bridge   BridgeConfig   `koanf:"bridge"`
	Retry    RetryConfig    `koanf:"retry"`
	Timeouts TimeoutsConfig `koanf:"timeouts"`
	Capture  CaptureConfig  `koanf:"capture"`
	Listener ListenerConfig `koanf:"listener"`
	Apple    AppleConfig    `koanf:"apple"`

	// KnownFailures is a YAML file whose entries take precedence over the
	// built-in known-failure database. Missing is fine.
	KnownFailures string `koanf:"known_failures"`
	// LogDir is the root under which every run gets its own directory.
	LogDir string `koanf:"log_dir"`
}

// ToolsConfig holds paths of external tools.
type ToolsConfig struct {
	ADB     string `koanf:"adb"`
	Xcrun   string `koanf:"xcrun"`
	MLaunch string `koanf:"mlaunch"`
}

// BridgeConfig controls access to the Android device bridge.
type BridgeConfig struct {
	// LockPath names the lock serializing start-server and kill-server
	// across devrun processes.
	LockPath string `koanf:"lock_path"`
	// Enumerate is "cli" to list devices with "adb devices -l", or
	// "server" to query the adb server socket directly.
	Enumerate  string `koanf:"enumerate"`
	ServerHost string `koanf:"server_host"`
	ServerPort int    `koanf:"server_port"`
}

// RetryConfig bounds recovery from flaky device tooling.
type RetryConfig struct {
	BootTimeout      time.Duration `koanf:"boot_timeout"`
	BootPollInterval time.Duration `koanf:"boot_poll_interval"`
	OfflineAttempts  int           `koanf:"offline_attempts"`
	OfflineInterval  time.Duration `koanf:"offline_interval"`
	// HungTimeoutScale multiplies the timeout of an install retried after
	// it hung.
	HungTimeoutScale float64 `koanf:"hung_timeout_scale"`
}

// TimeoutsConfig holds default timeouts, overridable per run.
type TimeoutsConfig struct {
	Run     time.Duration `koanf:"run"`
	Launch  time.Duration `koanf:"launch"`
	Install time.Duration `koanf:"install"`
	Command time.Duration `koanf:"command"`
	Cleanup time.Duration `koanf:"cleanup"`
}

// CaptureConfig controls system log capture.
type CaptureConfig struct {
	Slack int64 `koanf:"slack"`
}

// ListenerConfig controls collection of test results.
type ListenerConfig struct {
	// DirectCopyMinOS is the lowest simulator OS version whose results are
	// read from a file in the simulator's data directory instead of being
	// streamed over TCP.
	DirectCopyMinOS string `koanf:"direct_copy_min_os"`
	// Port is the host TCP port for streamed results. 0 picks a free port.
	Port int `koanf:"port"`
}

// AppleConfig holds Apple-specific settings.
type AppleConfig struct {
	// SimulatorLogs is the system log of a simulator; "{udid}" is replaced
	// by the simulator's UDID.
	SimulatorLogs string `koanf:"simulator_logs"`
	// DiagnosticReports is the directory scanned for crash reports.
	DiagnosticReports string `koanf:"diagnostic_reports"`
	// DebuggerFlagFile is created while a run needs the launch tool to
	// attach a native debugger.
	DebuggerFlagFile string `koanf:"debugger_flag_file"`
	// CreateCompanions allows creating a phone simulator for a watch
	// simulator that is not paired with one.
	CreateCompanions bool `koanf:"create_companions"`
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or missing), and environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(defaultProvider(), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}
	if path != "" {
		path = expandPath(path)
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, errors.Wrapf(err, "failed to load %s", path)
			}
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	cfg.LogDir = expandPath(cfg.LogDir)
	cfg.Bridge.LockPath = expandPath(cfg.Bridge.LockPath)
	cfg.Apple.SimulatorLogs = expandPath(cfg.Apple.SimulatorLogs)
	cfg.Apple.DiagnosticReports = expandPath(cfg.Apple.DiagnosticReports)
	cfg.Apple.DebuggerFlagFile = expandPath(cfg.Apple.DebuggerFlagFile)
	cfg.KnownFailures = expandPath(cfg.KnownFailures)
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// envKey maps DEVRUN_RETRY__BOOT_TIMEOUT to retry.boot_timeout.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	if c.Tools.ADB == "" || c.Tools.Xcrun == "" || c.Tools.MLaunch == "" {
		return errors.New("tool paths must not be empty")
	}
	switch c.Bridge.Enumerate {
	case "cli", "server":
	default:
		return errors.Errorf("bridge.enumerate must be cli or server, got %q", c.Bridge.Enumerate)
	}
	for name, d := range map[string]time.Duration{
		"retry.boot_timeout":       c.Retry.BootTimeout,
		"retry.boot_poll_interval": c.Retry.BootPollInterval,
		"retry.offline_interval":   c.Retry.OfflineInterval,
		"timeouts.run":             c.Timeouts.Run,
		"timeouts.launch":          c.Timeouts.Launch,
		"timeouts.install":         c.Timeouts.Install,
		"timeouts.command":         c.Timeouts.Command,
		"timeouts.cleanup":         c.Timeouts.Cleanup,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.Retry.OfflineAttempts <= 0 {
		return errors.Errorf("retry.offline_attempts must be positive, got %d", c.Retry.OfflineAttempts)
	}
	if c.Retry.HungTimeoutScale < 1 {
		return errors.Errorf("retry.hung_timeout_scale must be at least 1, got %v", c.Retry.HungTimeoutScale)
	}
	if c.Capture.Slack < 0 {
		return errors.Errorf("capture.slack must not be negative, got %d", c.Capture.Slack)
	}
	if v := c.Listener.DirectCopyMinOS; v != "" && !semver.IsValid("v"+v) {
		return errors.Errorf("listener.direct_copy_min_os %q is not a version", v)
	}
	if c.LogDir == "" {
		return errors.New("log_dir must not be empty")
	}
	return nil
}

func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
