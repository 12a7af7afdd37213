// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package orchestrator sequences a device test run: find a device, install
// the app, execute it while capturing logs, judge the outcome, and clean up.
//
// The state machine is
//
//	Idle → DeviceFound → Installed → Executing → ResultCollected → CleanedUp → Done
//
// with Failed reachable from any state. Command variants only choose which
// steps do work; the sequence itself never changes. Cleanup runs
// on every path and never replaces the primary failure.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"go.chromium.org/devrun/ctxutil"
	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/knownfail"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/runstats"
	"go.chromium.org/devrun/internal/timing"
)

// Per-run artifact names.
const (
	execLogFile    = "devrun.log"
	timingFile     = "timing.json"
	metricsFile    = "metrics.prom"
	systemLogFile  = "system.log"
	installLogFile = "install.log"
	launchLogFile  = "launch.log"
	resultsFile    = "results.xml"
	diagnosticsDir = "diagnostics"
)

// Orchestrator runs variants against one platform driver.
type Orchestrator struct {
	cfg    *config.Config
	drv    Driver
	kb     *knownfail.DB
	runner cmdexec.Runner
	clk    clock.Clock
}

// New returns an Orchestrator. runner starts the launch tool; a nil clk
// means the wall clock.
func New(cfg *config.Config, drv Driver, kb *knownfail.DB, runner cmdexec.Runner, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Orchestrator{cfg: cfg, drv: drv, kb: kb, runner: runner, clk: clk}
}

// session is the mutable state of one run. It is only touched by the
// goroutine executing the state machine.
type session struct {
	run     *Run
	variant *Variant
	dir     string
	dev     *device.Device
	state   State
	out     *Outcome
	stats   *runstats.Stats
	// installed is set once the app may be on the device.
	installed bool
}

// to moves the state machine and records the transition.
func (o *Orchestrator) to(ctx context.Context, s *session, st State) {
	logging.Infof(ctx, "%v -> %v", s.state, st)
	s.out.History = append(s.out.History, Transition{From: s.state, To: st, Time: o.clk.Now()})
	s.state = st
	s.stats.CountTransition(st.String())
}

// fail records the primary failure. Later failures are only logged.
func (o *Orchestrator) fail(ctx context.Context, s *session, f *exitcode.Failure) {
	if s.out.Failure != nil {
		logging.Infof(ctx, "Ignoring later failure: %v", f)
		return
	}
	logging.Infof(ctx, "Run failed: %v", f)
	s.out.Failure = f
	o.to(ctx, s, Failed)
}

// Run executes variant v of r and reports the outcome. It does not return
// an error: every failure is classified into the outcome.
func (o *Orchestrator) Run(ctx context.Context, v *Variant, r *Run) *Outcome {
	s := &session{run: r, variant: v, out: &Outcome{}, stats: runstats.New()}
	ctx = runstats.NewContext(ctx, s.stats)

	dir, err := o.makeRunDir(r)
	if err != nil {
		s.out.Failure = exitcode.Wrap(err, exitcode.GeneralFailure, "failed to create log directory")
		s.out.State = Failed
		return s.out
	}
	s.dir, s.out.Dir = dir, dir

	logf, err := os.Create(filepath.Join(dir, execLogFile))
	if err == nil {
		defer logf.Close()
		ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(logging.LevelDebug, true, logging.NewWriterSink(logf)))
	}
	tl := timing.NewLog(o.clk)
	ctx = timing.NewContext(ctx, tl)
	logging.Infof(ctx, "Running %s of %s on %s; logs in %s", v.Name, r.App.ID, o.drv.Platform(), dir)

	o.execute(ctx, s, o.stepsFor(v))

	s.out.State = s.state
	o.writeReports(ctx, s, tl)
	return s.out
}

// execute walks the state machine with plan.
func (o *Orchestrator) execute(ctx context.Context, s *session, plan *steps) {
	defer func() {
		cctx, cancel := ctxutil.Detach(ctx, o.cfg.Timeouts.Cleanup)
		defer cancel()
		o.cleanup(cctx, s, plan)
	}()

	if err := o.selectDevice(ctx, s); err != nil {
		o.fail(ctx, s, classify(err, exitcode.DeviceNotFound, "no device found"))
		return
	}
	o.to(ctx, s, DeviceFound)

	for _, st := range []struct {
		name string
		step stepFunc
		next State
	}{
		{"reset", plan.Reset, DeviceFound},
		{"install", plan.Install, Installed},
		{"execute", plan.Execute, ResultCollected},
		{"uninstall", plan.Remove, ResultCollected},
	} {
		sctx, stage := timing.Start(ctx, st.name)
		err := st.step(sctx, s)
		stage.End()
		if err != nil {
			o.fail(ctx, s, classify(err, exitcode.GeneralFailure, st.name+" failed"))
			return
		}
		if st.next != s.state {
			o.to(ctx, s, st.next)
		}
	}
}

// cleanup runs the cleanup steps. Their failures are logged only.
func (o *Orchestrator) cleanup(ctx context.Context, s *session, plan *steps) {
	ctx, stage := timing.Start(ctx, "cleanup")
	defer stage.End()
	ctx = logging.SetLogPrefix(ctx, "[cleanup] ")

	if s.dev != nil {
		for _, st := range []struct {
			name string
			step stepFunc
		}{
			{"uninstall", plan.Uninstall},
			{"device cleanup", plan.Cleanup},
		} {
			if err := st.step(ctx, s); err != nil {
				logging.Infof(ctx, "Cleanup step %s failed: %v", st.name, err)
			}
		}
	}
	failed := s.state == Failed
	o.to(ctx, s, CleanedUp)
	if failed {
		o.to(ctx, s, Failed)
	} else {
		o.to(ctx, s, Done)
	}
}

func (o *Orchestrator) selectDevice(ctx context.Context, s *session) error {
	ctx, stage := timing.Start(ctx, "find_device")
	defer stage.End()

	d, err := o.drv.FindDevice(ctx, s.run)
	if err != nil {
		return err
	}
	s.dev = &d
	s.out.Device = &d
	logging.Infof(ctx, "Selected %s", &d)
	return nil
}

// classify turns err into a Failure, keeping any classification err
// already carries.
func classify(err error, code exitcode.Code, msg string) *exitcode.Failure {
	var f *exitcode.Failure
	if errors.As(err, &f) {
		return f
	}
	return exitcode.Wrap(err, code, "%s", msg)
}

func (o *Orchestrator) makeRunDir(r *Run) (string, error) {
	dir := r.LogDir
	if dir == "" {
		id := uuid.New().String()[:8]
		dir = filepath.Join(o.cfg.LogDir, fmt.Sprintf("%s-%s", o.clk.Now().Format("20060102-150405"), id))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func (o *Orchestrator) writeReports(ctx context.Context, s *session, tl *timing.Log) {
	if b, err := json.MarshalIndent(tl, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(s.dir, timingFile), b, 0644); err != nil {
			logging.Debugf(ctx, "Failed to write timing: %v", err)
		}
	}

	code := s.out.Code()
	s.stats.SetExitCode(s.variant.Name, o.drv.Platform(), code.String(), int(code))
	if s.out.AppExitCode != nil {
		s.stats.SetAppExitCode(*s.out.AppExitCode)
	}
	s.stats.SetStageDurations(tl.TopDurations())
	if err := s.stats.WriteFile(filepath.Join(s.dir, metricsFile)); err != nil {
		logging.Debugf(ctx, "Failed to write metrics: %v", err)
	}

	if f := s.out.Failure; f != nil {
		logging.Infof(ctx, "Finished with %v: %s", f.Code, f.Message)
		if f.Link != "" {
			logging.Infof(ctx, "See %s", f.Link)
		}
	} else {
		logging.Infof(ctx, "Finished with %v", code)
	}
}
