// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package apple drives iOS, tvOS and watchOS simulators and devices, and
// Mac Catalyst apps.
//
// Simulators are managed with "xcrun simctl", hardware is enumerated with
// "xcrun devicectl", and apps are installed and launched with mlaunch.
// Every call goes through a cmdexec.Runner so tests can script the tools.
package apple

import (
	"context"
	"strings"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
)

// Client runs the Apple developer tools.
type Client struct {
	runner cmdexec.Runner
	cfg    *config.Config
	clk    clock.Clock
}

// New returns a Client.
func New(runner cmdexec.Runner, cfg *config.Config, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Client{runner: runner, cfg: cfg, clk: clk}
}

func (c *Client) xcrun(args ...string) *cmdexec.Invocation {
	return cmdexec.Command(c.cfg.Tools.Xcrun, args...).WithTimeout(c.cfg.Timeouts.Command)
}

func (c *Client) simctl(args ...string) *cmdexec.Invocation {
	return c.xcrun(append([]string{"simctl"}, args...)...)
}

func (c *Client) mlaunch(args ...string) *cmdexec.Invocation {
	return cmdexec.Command(c.cfg.Tools.MLaunch, args...).WithTimeout(c.cfg.Timeouts.Command)
}

// run runs inv once and turns unsuccessful results into errors. The result
// is returned in both cases.
func (c *Client) run(ctx context.Context, inv *cmdexec.Invocation) (*cmdexec.Result, error) {
	res, err := c.runner.Run(ctx, inv)
	if err != nil {
		return nil, exitcode.Wrap(err, exitcode.GeneralFailure, "failed to run %s", inv.Name)
	}
	if !res.Success() {
		return res, errors.Errorf("%s: exit code %d: %s", inv, res.ExitCode, strings.TrimSpace(res.Output()))
	}
	return res, nil
}

// Lister returns a device.Lister of simulators and connected hardware.
func (c *Client) Lister() device.Lister {
	return device.ListerFunc(c.List)
}

func outputOf(res *cmdexec.Result) string {
	if res == nil {
		return ""
	}
	return res.Output()
}
