// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"io"

	"go.chromium.org/devrun/internal/adb"
	"go.chromium.org/devrun/internal/android"
	"go.chromium.org/devrun/internal/apple"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/knownfail"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/orchestrator"
)

// cliEnv is shared by all subcommands. Tests replace runner to script the
// device tools.
type cliEnv struct {
	cfgPath *string
	stdout  io.Writer
	runner  cmdexec.Runner
}

func newCLIEnv(cfgPath *string, stdout io.Writer) *cliEnv {
	return &cliEnv{cfgPath: cfgPath, stdout: stdout, runner: cmdexec.NewExecRunner(nil)}
}

// loadConfig loads and validates the configuration.
func (e *cliEnv) loadConfig(ctx context.Context) (*config.Config, error) {
	path := ""
	if e.cfgPath != nil {
		path = *e.cfgPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, exitcode.Wrap(err, exitcode.InvalidArguments, "bad configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitcode.Wrap(err, exitcode.InvalidArguments, "bad configuration")
	}
	logging.Debugf(ctx, "Loaded configuration from %q", path)
	return cfg, nil
}

// knownFailures returns the built-in database with cfg's overrides in front.
func knownFailures(ctx context.Context, cfg *config.Config) *knownfail.DB {
	db, err := knownfail.Load(cfg.KnownFailures, knownfail.Default())
	if err != nil {
		logging.Infof(ctx, "Ignoring known failures in %s: %v", cfg.KnownFailures, err)
		return knownfail.Default()
	}
	return db
}

// newDriver returns the driver for platform p.
func (e *cliEnv) newDriver(cfg *config.Config, p device.Platform) (orchestrator.Driver, error) {
	switch {
	case p == device.Android:
		return android.NewDriver(adb.New(e.runner, cfg, nil), cfg, nil), nil
	case p.Apple():
		return apple.NewDriver(apple.New(e.runner, cfg, nil), cfg, p, nil), nil
	}
	return nil, exitcode.New(exitcode.InvalidArguments, "unsupported platform %q", p)
}

// newLister returns a lister of every device of platform p.
func (e *cliEnv) newLister(cfg *config.Config, p device.Platform) (device.Lister, error) {
	switch {
	case p == device.Android:
		return adb.New(e.runner, cfg, nil).Lister(), nil
	case p.Apple():
		return apple.New(e.runner, cfg, nil).Lister(), nil
	}
	return nil, exitcode.New(exitcode.InvalidArguments, "unsupported platform %q", p)
}
