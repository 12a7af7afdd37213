// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
)

const bugreportTimeout = 5 * time.Minute

// Bugreport writes a full diagnostic bundle of the device to zipPath.
func (c *Client) Bugreport(ctx context.Context, zipPath string) error {
	logging.Infof(ctx, "Collecting bug report from %s", c.serial)
	if _, err := c.run(ctx, c.Command("bugreport", zipPath).WithTimeout(bugreportTimeout)); err != nil {
		return exitcode.Wrap(err, exitcode.ADBFailure, "failed to collect bug report")
	}
	return nil
}

// Reverse forwards connections to port on the device to port on the host.
func (c *Client) Reverse(ctx context.Context, port int) error {
	spec := fmt.Sprintf("tcp:%d", port)
	if _, err := c.run(ctx, c.Command("reverse", spec, spec)); err != nil {
		return exitcode.Wrap(err, exitcode.TCPConnectionFailed, "failed to set up reverse tunnel")
	}
	return nil
}

// RemoveReverse removes a tunnel set up by Reverse.
func (c *Client) RemoveReverse(ctx context.Context, port int) error {
	if _, err := c.run(ctx, c.Command("reverse", "--remove", fmt.Sprintf("tcp:%d", port))); err != nil {
		return exitcode.Wrap(err, exitcode.ADBFailure, "failed to remove reverse tunnel")
	}
	return nil
}

// Pull copies a file from the device.
func (c *Client) Pull(ctx context.Context, remote, local string) error {
	if _, err := c.run(ctx, c.Command("pull", remote, local)); err != nil {
		return exitcode.Wrap(err, exitcode.ADBFailure, "failed to pull %s", remote)
	}
	return nil
}

// InstrumentCommand returns an invocation running the instrumentation
// runner of pkg and waiting for it to finish. Each argument is passed to
// the runner as "-e key value".
func (c *Client) InstrumentCommand(pkg, runner string, args map[string]string, timeout time.Duration) *cmdexec.Invocation {
	cmd := []string{"shell", "am", "instrument", "-w", "-r"}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd = append(cmd, "-e", k, args[k])
	}
	cmd = append(cmd, pkg+"/"+runner)
	return c.Command(cmd...).WithTimeout(timeout)
}

// Runner returns the runner c executes commands with.
func (c *Client) Runner() cmdexec.Runner {
	return c.runner
}
