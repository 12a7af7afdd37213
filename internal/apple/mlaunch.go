// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package apple

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/logging"
)

// launchedMarker is printed by mlaunch once the app process exists.
const launchedMarker = "Launched application"

// target returns the mlaunch arguments selecting d.
func target(d *device.Device) []string {
	if d.Kind == device.Simulator {
		return []string{"--device", ":v2:udid=" + d.ID}
	}
	return []string{"--devname", d.ID}
}

// InstallCommand returns an invocation installing the app at path on d.
func (c *Client) InstallCommand(path string, d *device.Device) *cmdexec.Invocation {
	op := "--installdev"
	if d.Kind == device.Simulator {
		op = "--installsim"
	}
	args := append([]string{op, path}, target(d)...)
	return c.mlaunch(args...).WithTimeout(c.cfg.Timeouts.Install)
}

// UninstallCommand returns an invocation removing bundleID from d.
func (c *Client) UninstallCommand(bundleID string, d *device.Device) *cmdexec.Invocation {
	if d.Kind == device.Simulator {
		return c.simctl("uninstall", d.ID, bundleID)
	}
	args := append([]string{"--uninstalldevbundleid", bundleID}, target(d)...)
	return c.mlaunch(args...)
}

// LaunchOptions controls LaunchCommand.
type LaunchOptions struct {
	Env  map[string]string
	Args []string
	// WaitForExit keeps mlaunch running until the app exits.
	WaitForExit bool
	// AttachDebugger keeps a native debugger attached, which keeps
	// watchOS apps in the foreground.
	AttachDebugger bool
	// TCPTunnel forwards the port from the device to the host, if set.
	TCPTunnel int
}

// LaunchCommand returns an invocation launching the app at path on d.
func (c *Client) LaunchCommand(path string, d *device.Device, opts *LaunchOptions) *cmdexec.Invocation {
	op := "--launchdev"
	if d.Kind == device.Simulator {
		op = "--launchsim"
	}
	args := append([]string{op, path}, target(d)...)
	if opts.WaitForExit {
		args = append(args, "--wait-for-exit")
	}
	if opts.AttachDebugger {
		args = append(args, "--attach-native-debugger")
	}
	if opts.TCPTunnel > 0 {
		args = append(args, fmt.Sprintf("--tcp-tunnel=%d:%d", opts.TCPTunnel, opts.TCPTunnel))
	}
	for _, kv := range sortedEnv(opts.Env) {
		args = append(args, "--set-env", kv)
	}
	for _, a := range opts.Args {
		args = append(args, "--argument="+a)
	}
	return c.mlaunch(args...).WithTimeout(0)
}

// sortedEnv returns env as KEY=VALUE entries sorted by key.
func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := make([]string, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, k+"="+env[k])
	}
	return kvs
}

// LogCommand returns an invocation streaming the system log of hardware d.
func (c *Client) LogCommand(d *device.Device) *cmdexec.Invocation {
	return c.mlaunch(append([]string{"--logdev"}, target(d)...)...).WithTimeout(0)
}

// Stream copies the output of a long-running tool into a host file.
type Stream struct {
	path string
	f    *os.File
	proc cmdexec.Process
	once sync.Once
}

// StartStream starts inv with its output going to path.
func (c *Client) StartStream(ctx context.Context, inv *cmdexec.Invocation, path string) (*Stream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create log file")
	}
	inv = inv.WithTimeout(0)
	inv.Stdout, inv.Stderr = f, f
	proc, err := c.runner.Start(ctx, inv)
	if err != nil {
		f.Close()
		return nil, err
	}
	logging.Debugf(ctx, "Streaming %s to %s", inv.Name, path)
	return &Stream{path: path, f: f, proc: proc}, nil
}

// Path returns the host file receiving the output.
func (s *Stream) Path() string {
	return s.path
}

// Stop stops the tool. It is safe to call more than once.
func (s *Stream) Stop(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.proc.Stop()
		err = s.f.Close()
	})
	return err
}
