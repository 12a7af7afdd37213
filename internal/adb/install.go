// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"bufio"
	"context"
	"strings"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/recovery"
	"go.chromium.org/devrun/internal/timing"
)

// Signatures of recoverable install failures.
const (
	brokenPipeSignature = "broken pipe"
	noStorageSignature  = "INSTALL_FAILED_INSUFFICIENT_STORAGE"
)

var hungSignatures = []string{
	"Exception occurred while executing",
	"java.lang.NullPointerException",
	"Can't find service: package",
}

// notPresentSignatures mark an uninstall of a package that is not installed.
var notPresentSignatures = []string{
	"DELETE_FAILED_INTERNAL_ERROR",
	"Unknown package",
	"not installed for",
}

func (c *Client) brokenPipe() *recovery.Condition {
	return &recovery.Condition{
		Name:    "broken pipe",
		Match:   recovery.OutputContains(brokenPipeSignature),
		Recover: c.RestartServer,
	}
}

func (c *Client) installPolicy() *recovery.Policy {
	return &recovery.Policy{
		Op:     "install",
		Runner: c.runner,
		Conditions: []*recovery.Condition{
			c.brokenPipe(),
			{
				Name:    "insufficient storage",
				Match:   recovery.OutputContains(noStorageSignature),
				Recover: c.Reboot,
			},
			{
				Name: "hung install",
				Match: func(res *cmdexec.Result) bool {
					return res.TimedOut || recovery.OutputContains(hungSignatures...)(res)
				},
				Recover: func(ctx context.Context) error {
					if err := c.RestartServer(ctx); err != nil {
						return err
					}
					return c.Reboot(ctx)
				},
				Adjust: recovery.ScaleTimeout(c.cfg.Retry.HungTimeoutScale),
			},
		},
		Ready: c.WaitForBoot,
		Succeeded: func(res *cmdexec.Result) bool {
			return res.Success() && !strings.Contains(res.Output(), "Failure [")
		},
	}
}

// Install installs the APK at path, replacing any installed version. The
// result of the last attempt is returned even on failure so that its
// output can be classified.
func (c *Client) Install(ctx context.Context, path string) (*cmdexec.Result, error) {
	ctx, st := timing.Start(ctx, "adb_install")
	defer st.End()

	logging.Infof(ctx, "Installing %s on %s", path, c.serial)
	inv := c.Command("install", "-r", "-g", path).WithTimeout(c.cfg.Timeouts.Install)
	return c.installPolicy().Run(ctx, inv)
}

// Uninstall removes pkg. A package that is not installed counts as removed.
func (c *Client) Uninstall(ctx context.Context, pkg string) (*cmdexec.Result, error) {
	logging.Infof(ctx, "Uninstalling %s from %s", pkg, c.serial)
	p := &recovery.Policy{
		Op:         "uninstall",
		Runner:     c.runner,
		Conditions: []*recovery.Condition{c.brokenPipe()},
		Ready:      c.WaitForBoot,
		Succeeded: func(res *cmdexec.Result) bool {
			if res.TimedOut || res.Canceled {
				return false
			}
			if res.Success() && !strings.Contains(res.Output(), "Failure [") {
				return true
			}
			return recovery.OutputContains(notPresentSignatures...)(res)
		},
	}
	return p.Run(ctx, c.Command("uninstall", pkg))
}

// IsInstalled reports whether pkg is installed.
func (c *Client) IsInstalled(ctx context.Context, pkg string) (bool, error) {
	pkgs, err := c.packages(ctx, "pm", "list", "packages", pkg)
	if err != nil {
		return false, err
	}
	for _, p := range pkgs {
		if p == pkg {
			return true, nil
		}
	}
	return false, nil
}

// ClearThirdPartyPackages uninstalls every package not shipped with the
// system image, returning an emulator to a clean state.
func (c *Client) ClearThirdPartyPackages(ctx context.Context) error {
	ctx, st := timing.Start(ctx, "reset_emulator")
	defer st.End()

	pkgs, err := c.packages(ctx, "pm", "list", "packages", "-3")
	if err != nil {
		return err
	}
	for _, p := range pkgs {
		if _, err := c.Uninstall(ctx, p); err != nil {
			return errors.Wrapf(err, "failed to remove %s", p)
		}
	}
	logging.Infof(ctx, "Removed %d third-party packages from %s", len(pkgs), c.serial)
	return nil
}

func (c *Client) packages(ctx context.Context, args ...string) ([]string, error) {
	out, err := c.Shell(ctx, args...)
	if err != nil {
		return nil, err
	}
	var pkgs []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if p, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "package:"); ok {
			pkgs = append(pkgs, p)
		}
	}
	return pkgs, nil
}
