// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/subcommands"

	"go.chromium.org/devrun/command"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/orchestrator"
)

var synopses = map[string]string{
	"install":         "install an app",
	"uninstall":       "uninstall an app",
	"run":             "install, run and uninstall an app",
	"just-run":        "run an installed app",
	"test":            "install, test and uninstall an app",
	"just-test":       "test an installed app",
	"reset-simulator": "erase a simulator or emulator",
}

// runCmd implements subcommands.Command for one orchestrator variant.
type runCmd struct {
	variant *orchestrator.Variant
	env     *cliEnv

	target        targetFlags
	app           orchestrator.App
	timeout       time.Duration
	launchTimeout time.Duration
	reset         bool
	uninstall     bool
	debugger      bool
	expected      int
	appEnv        map[string]string
	appArgs       []string
	logDir        string
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd(v *orchestrator.Variant, e *cliEnv) *runCmd {
	return &runCmd{variant: v, env: e, appEnv: make(map[string]string)}
}

func (r *runCmd) Name() string     { return r.variant.Name }
func (r *runCmd) Synopsis() string { return synopses[r.variant.Name] }
func (r *runCmd) Usage() string {
	return fmt.Sprintf(`Usage: %s [flag]... [--] [app argument]...

Description:
    %s.
    Exits with the classification of the run, e.g. 0 on success, 70 if it
    timed out or 81 if no device matched. Logs are written to a new directory
    under the configured log_dir unless -logdir is given.

Flag:
`, r.variant.Name, strings.ToUpper(r.Synopsis()[:1])+r.Synopsis()[1:])
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	r.target.SetFlags(f)
	f.StringVar(&r.app.Path, "app", "", "path to the .app, .ipa or .apk to install or run")
	f.StringVar(&r.app.ID, "app-id", "", "bundle identifier or package name")
	f.StringVar(&r.app.Name, "app-name", "", "process name (default: base name of -app)")
	f.StringVar(&r.app.Instrumentation, "instrumentation", "", "Android instrumentation runner class")
	f.Var(command.NewDurationFlag(time.Second, &r.timeout, 0), "timeout", "run timeout in seconds (default from configuration)")
	f.Var(command.NewDurationFlag(time.Second, &r.launchTimeout, 0), "launch-timeout", "launch timeout in seconds (default from configuration)")
	f.BoolVar(&r.reset, "reset-simulator", false, "erase a simulator or emulator before installing")
	f.BoolVar(&r.uninstall, "uninstall-first", false, "uninstall the app before installing it")
	f.BoolVar(&r.debugger, "attach-debugger", false, "attach a native debugger to keep wearable apps in the foreground")
	f.IntVar(&r.expected, "expected-exit-code", 0, "exit code the app must exit with")
	f.Var(command.NewKeyValueFlag(r.appEnv), "env", "KEY=VALUE environment variable for the app (repeatable)")
	rf := command.RepeatedFlag(func(v string) error {
		r.appArgs = append(r.appArgs, v)
		return nil
	})
	f.Var(&rf, "arg", "argument passed to the app (repeatable)")
	f.StringVar(&r.logDir, "logdir", "", "directory for this run's logs")
}

// buildRun validates the flags and returns the run they describe.
func (r *runCmd) buildRun(cfg *config.Config, extra []string) (*orchestrator.Run, error) {
	target, err := r.target.Filter()
	if err != nil {
		return nil, err
	}
	app := r.app
	if app.Path != "" {
		app.Path, err = filepath.Abs(app.Path)
		if err != nil {
			return nil, exitcode.Wrap(err, exitcode.InvalidArguments, "bad app path")
		}
		if app.Name == "" {
			app.Name = strings.TrimSuffix(filepath.Base(app.Path), filepath.Ext(app.Path))
		}
	}
	v := r.variant
	switch {
	case v.Install && app.Path == "":
		return nil, exitcode.New(exitcode.InvalidArguments, "%s needs -app", v.Name)
	case v.Mode == orchestrator.ModeRun && app.Path == "" && app.ID == "":
		return nil, exitcode.New(exitcode.InvalidArguments, "%s needs -app or -app-id", v.Name)
	case (v.Remove || v.Uninstall || v.Mode == orchestrator.ModeTest) && app.ID == "":
		return nil, exitcode.New(exitcode.InvalidArguments, "%s needs -app-id", v.Name)
	}
	if v.Mode != orchestrator.ModeNone {
		if target.Platform.Apple() && app.Path == "" {
			return nil, exitcode.New(exitcode.InvalidArguments, "%s on %s needs -app", v.Name, target.Platform)
		}
		if target.Platform == device.Android && app.ID == "" {
			return nil, exitcode.New(exitcode.InvalidArguments, "%s on %s needs -app-id", v.Name, target.Platform)
		}
	}

	run := &orchestrator.Run{
		Target:           target,
		App:              app,
		Timeout:          r.timeout,
		LaunchTimeout:    r.launchTimeout,
		ResetSimulator:   r.reset,
		UninstallFirst:   r.uninstall,
		AttachDebugger:   r.debugger,
		Env:              r.appEnv,
		Args:             append(append([]string(nil), r.appArgs...), extra...),
		ExpectedExitCode: r.expected,
		LogDir:           r.logDir,
	}
	if run.Timeout == 0 {
		run.Timeout = cfg.Timeouts.Run
	}
	if run.LaunchTimeout == 0 {
		run.LaunchTimeout = cfg.Timeouts.Launch
	}
	return run, nil
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := r.env.loadConfig(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	run, err := r.buildRun(cfg, f.Args())
	if err != nil {
		logging.Info(ctx, r.Usage())
		return r.fail(ctx, err)
	}
	drv, err := r.env.newDriver(cfg, run.Target.Platform)
	if err != nil {
		return r.fail(ctx, err)
	}

	o := orchestrator.New(cfg, drv, knownFailures(ctx, cfg), r.env.runner, nil)
	out := o.Run(ctx, r.variant, run)
	writeOutcome(r.env.stdout, out)
	return subcommands.ExitStatus(out.Code())
}

func (r *runCmd) fail(ctx context.Context, err error) subcommands.ExitStatus {
	logging.Info(ctx, err)
	return subcommands.ExitStatus(exitcode.Of(err))
}

// writeOutcome prints a summary of out for humans.
func writeOutcome(w io.Writer, out *orchestrator.Outcome) {
	if out.Failure == nil {
		fmt.Fprintf(w, "Result: %v\n", exitcode.Success)
	} else {
		fmt.Fprintf(w, "Result: %v: %s\n", out.Failure.Code, out.Failure.Message)
		if out.Failure.Link != "" {
			fmt.Fprintf(w, "See: %s\n", out.Failure.Link)
		}
	}
	if out.Device != nil {
		fmt.Fprintf(w, "Device: %v\n", out.Device)
	}
	if out.AppExitCode != nil {
		fmt.Fprintf(w, "App exit code: %d\n", *out.AppExitCode)
	}
	if out.Results != nil {
		fmt.Fprintf(w, "Tests: %v\n", out.Results)
	}
	if out.Dir != "" {
		fmt.Fprintf(w, "Logs: %s\n", out.Dir)
	}
}
