// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package adb drives the Android device bridge.
//
// Every call goes through a cmdexec.Runner so tests can script adb's
// answers. Operations known to flake are wrapped in recovery policies: a
// broken pipe restarts the adb server, storage exhaustion reboots the
// device, a hung install restarts both and retries with a longer timeout.
package adb

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/gofrs/flock"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/poll"
	"go.chromium.org/devrun/internal/recovery"
	"go.chromium.org/devrun/internal/timing"
)

// Client runs adb commands, optionally against one device.
type Client struct {
	runner cmdexec.Runner
	cfg    *config.Config
	clk    clock.Clock
	serial string
}

// New returns a Client not bound to any device.
func New(runner cmdexec.Runner, cfg *config.Config, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Client{runner: runner, cfg: cfg, clk: clk}
}

// ForDevice returns a copy of c that passes -s serial.
func (c *Client) ForDevice(serial string) *Client {
	cc := *c
	cc.serial = serial
	return &cc
}

// Serial returns the device c is bound to.
func (c *Client) Serial() string {
	return c.serial
}

// Command returns an invocation of adb with the default command timeout.
func (c *Client) Command(args ...string) *cmdexec.Invocation {
	if c.serial != "" {
		args = append([]string{"-s", c.serial}, args...)
	}
	return cmdexec.Command(c.cfg.Tools.ADB, args...).WithTimeout(c.cfg.Timeouts.Command)
}

func (c *Client) backoff() *recovery.Backoff {
	return &recovery.Backoff{
		Attempts: c.cfg.Retry.OfflineAttempts,
		Interval: c.cfg.Retry.OfflineInterval,
		Clock:    c.clk,
	}
}

var transientSignatures = []string{
	"device offline",
	"no devices/emulators found",
	"device still authorizing",
	"device still connecting",
	"error: closed",
}

func isTransient(res *cmdexec.Result) bool {
	out := strings.ToLower(res.Output())
	if strings.Contains(out, "device '") && strings.Contains(out, "' not found") {
		return true
	}
	for _, s := range transientSignatures {
		if strings.Contains(out, s) {
			return true
		}
	}
	return false
}

// run runs inv once and turns unsuccessful results into errors.
func (c *Client) run(ctx context.Context, inv *cmdexec.Invocation) (*cmdexec.Result, error) {
	res, err := c.runner.Run(ctx, inv)
	if err != nil {
		return nil, exitcode.Wrap(err, exitcode.ADBFailure, "failed to run adb")
	}
	if !res.Success() {
		err := errors.Errorf("%s: exit code %d: %s", inv, res.ExitCode, strings.TrimSpace(res.Output()))
		if isTransient(res) {
			return res, recovery.Transient(err)
		}
		return res, err
	}
	return res, nil
}

// Shell runs a shell command on the device, retrying while the device is
// transiently unreachable.
func (c *Client) Shell(ctx context.Context, args ...string) (string, error) {
	inv := c.Command(append([]string{"shell"}, args...)...)
	var out string
	err := c.backoff().Retry(ctx, "adb shell", func(ctx context.Context) error {
		res, err := c.run(ctx, inv)
		if err != nil {
			return err
		}
		out = res.Stdout
		return nil
	})
	return out, err
}

// GetProp returns a system property of the device.
func (c *Client) GetProp(ctx context.Context, key string) (string, error) {
	out, err := c.Shell(ctx, "getprop", key)
	return strings.TrimSpace(out), err
}

// Props returns every system property of the device.
func (c *Client) Props(ctx context.Context) (map[string]string, error) {
	out, err := c.Shell(ctx, "getprop")
	if err != nil {
		return nil, err
	}
	return parseProps(out), nil
}

// parseProps parses getprop output lines like "[ro.build.version.sdk]: [34]".
func parseProps(out string) map[string]string {
	props := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		k, v, ok := strings.Cut(line, "]: [")
		if !ok || !strings.HasPrefix(k, "[") || !strings.HasSuffix(v, "]") {
			continue
		}
		props[k[1:]] = v[:len(v)-1]
	}
	return props
}

// WaitForBoot waits until the device reports sys.boot_completed.
func (c *Client) WaitForBoot(ctx context.Context) error {
	ctx, st := timing.Start(ctx, "wait_for_boot")
	defer st.End()

	wait := c.Command("wait-for-device").WithTimeout(c.cfg.Retry.BootTimeout)
	if _, err := c.run(ctx, wait); err != nil {
		return exitcode.Wrap(err, exitcode.ADBFailure, "device %s did not come back", c.serial)
	}
	err := poll.Poll(ctx, func(ctx context.Context) error {
		v, err := c.run(ctx, c.Command("shell", "getprop", "sys.boot_completed"))
		if err != nil {
			return err
		}
		if strings.TrimSpace(v.Stdout) != "1" {
			return errors.New("sys.boot_completed is not 1")
		}
		return nil
	}, &poll.Options{
		Timeout:  c.cfg.Retry.BootTimeout,
		Interval: c.cfg.Retry.BootPollInterval,
		Clock:    c.clk,
	})
	if err != nil {
		return exitcode.Wrap(err, exitcode.ADBFailure, "device %s did not finish booting", c.serial)
	}
	logging.Debugf(ctx, "Device %s finished booting", c.serial)
	return nil
}

// Reboot reboots the device without waiting for it.
func (c *Client) Reboot(ctx context.Context) error {
	logging.Infof(ctx, "Rebooting %s", c.serial)
	if _, err := c.run(ctx, c.Command("reboot")); err != nil {
		return exitcode.Wrap(err, exitcode.ADBFailure, "failed to reboot %s", c.serial)
	}
	return nil
}

// RestartServer restarts the adb server. Concurrent restarts from other
// devrun processes are serialized on the bridge lock.
func (c *Client) RestartServer(ctx context.Context) error {
	unlock, err := c.lockBridge(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	logging.Info(ctx, "Restarting adb server")
	if res, err := c.runner.Run(ctx, cmdexec.Command(c.cfg.Tools.ADB, "kill-server").WithTimeout(c.cfg.Timeouts.Command)); err != nil {
		return exitcode.Wrap(err, exitcode.ADBFailure, "failed to run adb")
	} else if !res.Success() {
		logging.Debugf(ctx, "kill-server exited with %d; continuing", res.ExitCode)
	}
	if _, err := c.run(ctx, cmdexec.Command(c.cfg.Tools.ADB, "start-server").WithTimeout(c.cfg.Timeouts.Command)); err != nil {
		return exitcode.Wrap(err, exitcode.ADBFailure, "failed to start adb server")
	}
	return nil
}

const lockRetryDelay = 100 * time.Millisecond

func (c *Client) lockBridge(ctx context.Context) (unlock func(), err error) {
	path := c.cfg.Bridge.LockPath
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create bridge lock directory")
	}
	lk := flock.New(path)
	locked, err := lk.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock %s", path)
	}
	if !locked {
		return nil, errors.Errorf("failed to lock %s", path)
	}
	return func() {
		if err := lk.Unlock(); err != nil {
			logging.Debugf(ctx, "Failed to unlock %s: %v", path, err)
		}
	}, nil
}
