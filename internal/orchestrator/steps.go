// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/knownfail"
	"go.chromium.org/devrun/internal/logging"
)

// stepFunc is one step of the state machine.
type stepFunc func(ctx context.Context, s *session) error

// steps holds the work each state of the machine does for a variant.
type steps struct {
	Reset     stepFunc
	Install   stepFunc
	Execute   stepFunc
	Remove    stepFunc
	Uninstall stepFunc
	Cleanup   stepFunc
}

func skip(context.Context, *session) error { return nil }

// stepsFor returns the steps of variant v. Steps v does not ask for are
// no-ops.
func (o *Orchestrator) stepsFor(v *Variant) *steps {
	p := &steps{Reset: o.reset(v.ForceReset), Install: skip, Execute: skip, Remove: skip, Uninstall: skip, Cleanup: skip}
	if v.Install {
		p.Install = o.install
	}
	if v.Mode != ModeNone {
		mode := v.Mode
		p.Execute = func(ctx context.Context, s *session) error {
			return o.executeApp(ctx, s, mode)
		}
	}
	if v.Remove {
		p.Remove = o.remove
	}
	if v.Uninstall {
		p.Uninstall = o.uninstall
	}
	if v.Cleanup {
		p.Cleanup = o.cleanupDevice
	}
	return p
}

func (o *Orchestrator) reset(force bool) stepFunc {
	return func(ctx context.Context, s *session) error {
		if !force && !s.run.ResetSimulator {
			return nil
		}
		if !s.dev.Kind.Virtual() {
			if force {
				return exitcode.New(exitcode.SimulatorFailure, "%s is not a simulator or emulator", s.dev)
			}
			logging.Infof(ctx, "Not resetting %s: it is a hardware device", s.dev)
			return nil
		}
		logging.Infof(ctx, "Resetting %s", s.dev)
		if err := o.drv.Reset(ctx, s.run, s.dev); err != nil {
			return classify(err, exitcode.SimulatorFailure, "failed to reset "+s.dev.ID)
		}
		return nil
	}
}

func (o *Orchestrator) install(ctx context.Context, s *session) error {
	r := s.run
	if _, err := os.Stat(r.App.Path); err != nil {
		return exitcode.Wrap(err, exitcode.PackageNotFound, "package %s not found", r.App.Path)
	}
	if r.UninstallFirst {
		if _, err := o.drv.Uninstall(ctx, r, s.dev); err != nil {
			logging.Infof(ctx, "Failed to uninstall %s before installing: %v", r.App.ID, err)
		}
	}

	logging.Infof(ctx, "Installing %s on %s", r.App.Path, s.dev)
	s.installed = true
	res, err := o.drv.Install(ctx, r, s.dev)
	logPath := filepath.Join(s.dir, installLogFile)
	if res != nil {
		if werr := os.WriteFile(logPath, []byte(res.Output()), 0644); werr != nil {
			logging.Debugf(ctx, "Failed to write %s: %v", logPath, werr)
		}
	}
	if err == nil {
		return nil
	}

	fallback := classify(err, exitcode.PackageInstallationFailure, "failed to install "+r.App.Path+"; check logs in "+s.dir)
	var output string
	if res != nil {
		output = res.Output()
	}
	f := o.known(ctx, knownfail.StageInstall, output, nil, fallback)

	// The failed install may have left parts of the app behind.
	if _, uerr := o.drv.Uninstall(ctx, r, s.dev); uerr != nil {
		logging.Infof(ctx, "Failed to remove partial install: %v", uerr)
	}
	s.installed = false
	return f
}

func (o *Orchestrator) uninstall(ctx context.Context, s *session) error {
	if s.variant.Install && !s.installed {
		return nil
	}
	logging.Infof(ctx, "Uninstalling %s from %s", s.run.App.ID, s.dev)
	if _, err := o.drv.Uninstall(ctx, s.run, s.dev); err != nil {
		return err
	}
	s.installed = false
	return nil
}

// remove uninstalls the app and classifies a failure by the tool that
// failed.
func (o *Orchestrator) remove(ctx context.Context, s *session) error {
	r := s.run
	logging.Infof(ctx, "Uninstalling %s from %s", r.App.ID, s.dev)
	if _, err := o.drv.Uninstall(ctx, r, s.dev); err != nil {
		return classify(err, toolFailure(s.dev), "failed to uninstall "+r.App.ID+"; check logs in "+s.dir)
	}
	return nil
}

// toolFailure is the code of a failed device tool invocation on dev.
func toolFailure(dev *device.Device) exitcode.Code {
	switch {
	case dev.Platform == device.Android:
		return exitcode.ADBFailure
	case dev.Kind == device.Simulator:
		return exitcode.SimulatorFailure
	default:
		return exitcode.GeneralFailure
	}
}

// cleanupDevice stops the app, and resets a virtual device if the run asked
// for a reset.
func (o *Orchestrator) cleanupDevice(ctx context.Context, s *session) error {
	if err := o.drv.Cleanup(ctx, s.run, s.dev); err != nil {
		logging.Infof(ctx, "Failed to clean up %s: %v", s.dev, err)
	}
	if !s.run.ResetSimulator || !s.dev.Kind.Virtual() {
		return nil
	}
	logging.Infof(ctx, "Resetting %s after the run", s.dev)
	return o.drv.Reset(ctx, s.run, s.dev)
}

// known classifies output and then the logs at paths with the knowledge
// base, or returns fallback. The first source with a match wins.
func (o *Orchestrator) known(ctx context.Context, stage knownfail.Stage, output string, paths []string, fallback *exitcode.Failure) *exitcode.Failure {
	if o.kb == nil {
		return fallback
	}
	if e, ok := o.kb.ClassifyString(output, stage); ok {
		logging.Infof(ctx, "Known failure found in tool output: %s", e.Message)
		return e.Failure(fallback.Code)
	}
	for _, p := range paths {
		e, ok, err := o.kb.ClassifyFile(p, stage)
		if err != nil {
			logging.Debugf(ctx, "Failed to classify %s: %v", p, err)
			continue
		}
		if ok {
			logging.Infof(ctx, "Known failure found in %s: %s", filepath.Base(p), e.Message)
			return e.Failure(fallback.Code)
		}
	}
	return fallback
}
