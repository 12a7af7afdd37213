// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"go.chromium.org/devrun/ctxutil"
	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/knownfail"
	"go.chromium.org/devrun/internal/listener"
	"go.chromium.org/devrun/internal/logcapture"
	"go.chromium.org/devrun/internal/logging"
)

// executeApp launches the app, waits for it under the run's timeouts and
// judges the outcome.
func (o *Orchestrator) executeApp(ctx context.Context, s *session, mode Mode) error {
	err := o.launchAndJudge(ctx, s, mode)
	if exitcode.Of(err) == exitcode.AppCrash {
		o.collectDiagnostics(ctx, s)
	}
	return err
}

func (o *Orchestrator) launchAndJudge(ctx context.Context, s *session, mode Mode) error {
	r := s.run
	launch, err := o.drv.Prepare(ctx, r, s.dev, mode, s.dir)
	if err != nil {
		return classify(err, exitcode.AppLaunchFailure, "failed to prepare launch")
	}
	defer o.teardown(ctx, launch)

	var stream Stopper
	if launch.StartStream != nil {
		if stream, err = launch.StartStream(ctx); err != nil {
			logging.Infof(ctx, "Failed to start log stream: %v", err)
		}
	}
	stopStream := func() {
		if stream == nil {
			return
		}
		sctx, cancel := ctxutil.Detach(ctx, o.cfg.Timeouts.Command)
		defer cancel()
		if err := stream.Stop(sctx); err != nil {
			logging.Infof(ctx, "Failed to stop log stream: %v", err)
		}
		stream = nil
	}
	defer stopStream()

	var capture *logcapture.Capture
	if launch.SystemLog != "" {
		capture = logcapture.New(launch.SystemLog, filepath.Join(s.dir, systemLogFile), launch.EntireLog)
		capture.SetSlack(o.cfg.Capture.Slack)
		capture.Start(ctx)
	}
	stopCapture := func() {
		if capture == nil {
			return
		}
		if err := capture.Stop(ctx); err != nil {
			logging.Infof(ctx, "Failed to capture %s: %v", launch.SystemLog, err)
		}
		capture = nil
	}
	defer stopCapture()

	if r.AttachDebugger && o.cfg.Apple.DebuggerFlagFile != "" {
		remove, err := o.raiseDebuggerFlag(ctx)
		if err != nil {
			logging.Infof(ctx, "Failed to create debugger flag: %v", err)
		} else {
			defer remove()
		}
	}

	lf, err := os.Create(filepath.Join(s.dir, launchLogFile))
	if err != nil {
		return exitcode.Wrap(err, exitcode.GeneralFailure, "failed to create launch log")
	}
	defer lf.Close()

	inv := *launch.Command
	inv.Timeout = 0
	inv.Stdout, inv.Stderr = lf, lf
	var seen <-chan struct{}
	if launch.StartedMarker != "" {
		mw := newMarkerWriter(launch.StartedMarker)
		inv.Stdout = io.MultiWriter(lf, mw)
		seen = mw.seen
	}
	var connected <-chan struct{}
	if mode == ModeTest && launch.Listener != nil {
		connected = launch.Listener.Connected()
	}

	o.to(ctx, s, Executing)
	rctx, wd := startWatchdog(ctx, o.clk, r.LaunchTimeout, r.Timeout)
	defer wd.stop()

	logging.Infof(ctx, "Launching %s: %s", r.App.ID, &inv)
	proc, err := o.runner.Start(rctx, &inv)
	if err != nil {
		return exitcode.Wrap(err, exitcode.AppLaunchFailure, "failed to start launch tool")
	}
	if seen == nil && connected == nil {
		wd.markStarted()
	}

	done := make(chan *cmdexec.Result, 1)
	go func() { done <- proc.Wait() }()
	var res *cmdexec.Result
	for res == nil {
		select {
		case <-seen:
			logging.Info(ctx, "App started")
			wd.markStarted()
			seen = nil
		case <-connected:
			logging.Info(ctx, "App connected to the result listener")
			wd.markStarted()
			connected = nil
		case res = <-done:
		}
	}
	cause := rctx.Err()
	wd.stop()
	logging.Infof(ctx, "Launch tool exited with %d after %v", res.ExitCode, res.Elapsed)

	stopStream()
	stopCapture()

	switch {
	case res.Canceled && errors.Is(cause, errLaunchTimeout):
		return exitcode.New(exitcode.AppLaunchTimeout, "app did not start within %v", r.LaunchTimeout)
	case res.Canceled && errors.Is(cause, errRunTimeout), res.TimedOut:
		return exitcode.New(exitcode.TimedOut, "app did not finish within %v", r.Timeout)
	case res.Canceled:
		return exitcode.Wrap(cause, exitcode.GeneralFailure, "run was interrupted")
	}

	if mode == ModeTest {
		return o.judgeResults(ctx, s, launch, res)
	}
	return o.judgeExit(ctx, s, launch, res)
}

// logs returns the host logs of the execution step, launch output first.
func (s *session) logs() []string {
	return []string{filepath.Join(s.dir, launchLogFile), filepath.Join(s.dir, systemLogFile)}
}

// judgeExit classifies a ModeRun execution by the app's exit code.
func (o *Orchestrator) judgeExit(ctx context.Context, s *session, launch *Launch, res *cmdexec.Result) error {
	r := s.run
	code, found := 0, false
	if d := launch.Detector; d != nil {
		if launch.DetectInOutput {
			code, found = d.DetectString(res.Output())
		} else if f, err := os.Open(filepath.Join(s.dir, systemLogFile)); err == nil {
			code, found, err = d.Detect(f)
			f.Close()
			if err != nil {
				logging.Infof(ctx, "Failed to scan system log: %v", err)
			}
		}
	}
	if found && launch.TranslateExitCode != nil {
		code = launch.TranslateExitCode(code)
	}

	if found {
		s.out.AppExitCode = &code
		logging.Infof(ctx, "App exited with code %d", code)
		if code == r.ExpectedExitCode {
			return nil
		}
		var fallback *exitcode.Failure
		if code < 0 || code > 128 {
			fallback = exitcode.New(exitcode.AppCrash, "app terminated abnormally with code %d; check logs in %s", code, s.dir)
		} else {
			fallback = exitcode.New(exitcode.GeneralFailure, "app exited with code %d, expected %d", code, r.ExpectedExitCode)
		}
		return o.known(ctx, knownfail.StageRun, res.Output(), s.logs(), fallback)
	}

	if !res.Success() {
		fallback := exitcode.New(exitcode.AppLaunchFailure, "launch tool exited with code %d; check logs in %s", res.ExitCode, s.dir)
		return o.known(ctx, knownfail.StageRun, res.Output(), s.logs(), fallback)
	}
	if r.ExpectedExitCode == 0 {
		logging.Info(ctx, "No exit code found; the launch tool succeeded")
		return nil
	}
	return exitcode.New(exitcode.ReturnCodeNotSet, "could not find the app's exit code (expected %d); check logs in %s", r.ExpectedExitCode, s.dir)
}

// judgeResults classifies a ModeTest execution by the reported results.
func (o *Orchestrator) judgeResults(ctx context.Context, s *session, launch *Launch, res *cmdexec.Result) error {
	if launch.Listener == nil {
		return exitcode.New(exitcode.GeneralFailure, "no result listener was set up")
	}
	fctx, cancel := ctxutil.OptionalTimeout(ctx, o.cfg.Timeouts.Command)
	defer cancel()
	path, err := launch.Listener.Finish(fctx)
	switch {
	case errors.Is(err, listener.ErrNotConnected):
		fallback := exitcode.Wrap(err, exitcode.TCPConnectionFailed, "app exited without reporting results; check logs in %s", s.dir)
		if !res.Success() {
			fallback = exitcode.New(exitcode.AppLaunchFailure, "launch tool exited with code %d; check logs in %s", res.ExitCode, s.dir)
		}
		return o.known(ctx, knownfail.StageTest, res.Output(), s.logs(), fallback)
	case errors.Is(err, listener.ErrConnectionLost):
		return exitcode.Wrap(err, exitcode.TimedOut, "connection to the app was lost before results were complete")
	case err != nil:
		return exitcode.Wrap(err, exitcode.GeneralFailure, "failed to receive results")
	}

	sum, err := listener.ParseFile(path)
	if err != nil {
		return exitcode.Wrap(err, exitcode.GeneralFailure, "failed to parse results in %s", path)
	}
	s.out.Results = sum
	logging.Infof(ctx, "Results: %v", sum)
	if sum.Failed > 0 {
		fallback := exitcode.New(exitcode.TestsFailed, "%d of %d tests failed", sum.Failed, sum.Total)
		return o.known(ctx, knownfail.StageTest, res.Output(), s.logs(), fallback)
	}
	return nil
}

func (o *Orchestrator) teardown(ctx context.Context, launch *Launch) {
	ctx, cancel := ctxutil.Detach(ctx, o.cfg.Timeouts.Cleanup)
	defer cancel()
	ctx = logging.SetLogPrefix(ctx, "[diagnostics] ")
	if launch.Listener != nil {
		if err := launch.Listener.Close(); err != nil {
			logging.Debugf(ctx, "Failed to close listener: %v", err)
		}
	}
	if launch.Teardown != nil {
		if err := launch.Teardown(ctx); err != nil {
			logging.Infof(ctx, "Launch teardown failed: %v", err)
		}
	}
}

// raiseDebuggerFlag creates the file that tells the launch tool to keep a
// debugger attached. The returned func removes it.
func (o *Orchestrator) raiseDebuggerFlag(ctx context.Context) (func(), error) {
	path := o.cfg.Apple.DebuggerFlagFile
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, err
	}
	logging.Debugf(ctx, "Created %s", path)
	return func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Debugf(ctx, "Failed to remove %s: %v", path, err)
		}
	}, nil
}

// collectDiagnostics runs the driver's collectors concurrently.
func (o *Orchestrator) collectDiagnostics(ctx context.Context, s *session) {
	cs := o.drv.Diagnostics(s.run, s.dev)
	if len(cs) == 0 {
		return
	}
	dir := filepath.Join(s.dir, diagnosticsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Infof(ctx, "Failed to create %s: %v", dir, err)
		return
	}
	ctx, cancel := ctxutil.Detach(ctx, o.cfg.Timeouts.Cleanup)
	defer cancel()

	logging.Infof(ctx, "Collecting diagnostics into %s", dir)
	var g errgroup.Group
	for _, c := range cs {
		c := c
		g.Go(func() error { return c(ctx, dir) })
	}
	if err := g.Wait(); err != nil {
		logging.Infof(ctx, "Failed to collect diagnostics: %v", err)
	}
}
