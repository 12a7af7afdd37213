// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"

	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/cmdexec/cmdexectest"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/orchestrator"
	"go.chromium.org/devrun/testutil"
)

const (
	devicesOutput = `List of devices attached
emulator-5554          device product:sdk_gphone64_x86_64 model:sdk_gphone64_x86_64 transport_id:1
`
	propsOutput = `[ro.build.version.release]: [14]
[ro.build.version.sdk]: [34]
[ro.product.cpu.abi]: [x86_64]
[ro.kernel.qemu]: [1]
[sys.boot_completed]: [1]
`
)

type testEnv struct {
	td     string
	runner *cmdexectest.Runner
	stdout *bytes.Buffer
	cli    *cliEnv
}

func newTestEnv(t *testing.T) *testEnv {
	td := testutil.TempDir(t)
	cfgPath := filepath.Join(td, "config.yaml")
	if err := testutil.WriteFiles(td, map[string]string{
		"app.apk": "PK",
		"config.yaml": `log_dir: ` + filepath.Join(td, "runs") + `
bridge:
  lock_path: ` + filepath.Join(td, "adb.lock") + `
retry:
  boot_poll_interval: 1ms
  offline_interval: 1ms
  offline_attempts: 2
`,
	}); err != nil {
		t.Fatal(err)
	}

	runner := cmdexectest.NewRunner()
	runner.Respond(cmdexectest.Args("devices", "-l"), &cmdexec.Result{Stdout: devicesOutput})
	runner.Respond(cmdexectest.Args("getprop", "sys.boot_completed"), &cmdexec.Result{Stdout: "1\n"})
	runner.Respond(cmdexectest.Args("shell", "getprop"), &cmdexec.Result{Stdout: propsOutput})

	stdout := &bytes.Buffer{}
	return &testEnv{
		td:     td,
		runner: runner,
		stdout: stdout,
		cli:    &cliEnv{cfgPath: &cfgPath, stdout: stdout, runner: runner},
	}
}

func (e *testEnv) execute(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%q) failed: %v", args, err)
	}
	return cmd.Execute(context.Background(), fs)
}

func newVariantCmd(t *testing.T, e *testEnv, name string) *runCmd {
	v, ok := orchestrator.VariantByName(name)
	if !ok {
		t.Fatalf("Variant %q not found", name)
	}
	return newRunCmd(v, e.cli)
}

func TestBuildRun(t *testing.T) {
	e := newTestEnv(t)
	cfg := config.Default()
	cmd := newVariantCmd(t, e, "run")
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.SetFlags(fs)
	app := filepath.Join(e.td, "ExampleApp.app")
	if err := fs.Parse([]string{
		"-platform=ios", "-os-version=17", "-kind=simulator,hardware", "-app=" + app, "-app-id=com.example.app",
		"-timeout=30", "-env=A=1", "-arg=--fast", "-expected-exit-code=3", "--", "extra",
	}); err != nil {
		t.Fatal("Parse failed: ", err)
	}

	run, err := cmd.buildRun(cfg, fs.Args())
	if err != nil {
		t.Fatal("buildRun failed: ", err)
	}
	want := &orchestrator.Run{
		Target: device.Filter{
			Platform:  device.IOS,
			OSVersion: "17",
			Kinds:     []device.Kind{device.Simulator, device.Hardware},
		},
		App:              orchestrator.App{ID: "com.example.app", Name: "ExampleApp", Path: app},
		Timeout:          30 * time.Second,
		LaunchTimeout:    cfg.Timeouts.Launch,
		Env:              map[string]string{"A": "1"},
		Args:             []string{"--fast", "extra"},
		ExpectedExitCode: 3,
	}
	if diff := cmp.Diff(run, want); diff != "" {
		t.Errorf("buildRun mismatch (-got +want):\n%s", diff)
	}
}

func TestBuildRunInvalid(t *testing.T) {
	e := newTestEnv(t)
	for _, tc := range []struct {
		variant string
		args    []string
	}{
		{"install", []string{"-platform=android"}},
		{"uninstall", []string{"-platform=android", "-app=app.apk"}},
		{"run", []string{"-platform=android", "-app=app.apk"}},
		{"just-run", []string{"-platform=ios", "-app-id=com.example.app"}},
		{"test", []string{"-platform=ios", "-app=App.app"}},
		{"run", []string{"-platform=ios", "-app=App.app", "-kind=phone"}},
	} {
		cmd := newVariantCmd(t, e, tc.variant)
		fs := flag.NewFlagSet(tc.variant, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		cmd.SetFlags(fs)
		if err := fs.Parse(tc.args); err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.args, err)
		}
		_, err := cmd.buildRun(config.Default(), nil)
		if code := exitcode.Of(err); code != exitcode.InvalidArguments {
			t.Errorf("%s %q: code = %v; want %v", tc.variant, tc.args, code, exitcode.InvalidArguments)
		}
	}
}

func TestResetSimulatorNeedsNoApp(t *testing.T) {
	e := newTestEnv(t)
	cmd := newVariantCmd(t, e, "reset-simulator")
	fs := flag.NewFlagSet("reset-simulator", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.SetFlags(fs)
	if err := fs.Parse([]string{"-platform=ios", "-device-id=ABC"}); err != nil {
		t.Fatal(err)
	}
	if _, err := cmd.buildRun(config.Default(), nil); err != nil {
		t.Error("buildRun failed: ", err)
	}
}

func TestExecuteRun(t *testing.T) {
	e := newTestEnv(t)
	e.runner.Respond(cmdexectest.Args("am", "instrument"), &cmdexec.Result{Stdout: "INSTRUMENTATION_CODE: -1\n"})

	status := e.execute(t, newVariantCmd(t, e, "run"),
		"-platform=android", "-app="+filepath.Join(e.td, "app.apk"), "-app-id=com.example.app",
		"-instrumentation=androidx.test.runner.AndroidJUnitRunner", "-timeout=5", "-launch-timeout=5")
	if status != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v; want success\n%s", status, e.stdout)
	}
	out := e.stdout.String()
	for _, s := range []string{"Result: SUCCESS", "Device: emulator-5554", "App exit code: 0", "Logs: " + filepath.Join(e.td, "runs")} {
		if !strings.Contains(out, s) {
			t.Errorf("Output lacks %q:\n%s", s, out)
		}
	}
}

func TestExecuteRunPackageNotFound(t *testing.T) {
	e := newTestEnv(t)
	status := e.execute(t, newVariantCmd(t, e, "install"),
		"-platform=android", "-app="+filepath.Join(e.td, "missing.apk"), "-app-id=com.example.app")
	if want := subcommands.ExitStatus(exitcode.PackageNotFound); status != want {
		t.Errorf("Execute = %v; want %v", status, want)
	}
	if !strings.Contains(e.stdout.String(), "Result: PACKAGE_NOT_FOUND") {
		t.Errorf("Output lacks the classification:\n%s", e.stdout)
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	e := newTestEnv(t)
	status := e.execute(t, newVariantCmd(t, e, "install"), "-platform=android")
	if want := subcommands.ExitStatus(exitcode.InvalidArguments); status != want {
		t.Errorf("Execute = %v; want %v", status, want)
	}
	if n := len(e.runner.Calls()); n != 0 {
		t.Errorf("%d tools ran; want none", n)
	}
}

func TestDevices(t *testing.T) {
	e := newTestEnv(t)
	if status := e.execute(t, newDevicesCmd(e.cli), "-platform=android"); status != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v; want success", status)
	}
	want := "emulator-5554 (emulator \"sdk_gphone64_x86_64\" android 14 API 34 x86_64, ready)\n"
	if diff := cmp.Diff(e.stdout.String(), want); diff != "" {
		t.Errorf("Output mismatch (-got +want):\n%s", diff)
	}
}

func TestDevicesNoneMatch(t *testing.T) {
	e := newTestEnv(t)
	status := e.execute(t, newDevicesCmd(e.cli), "-platform=android", "-min-api=35")
	if want := subcommands.ExitStatus(exitcode.DeviceNotFound); status != want {
		t.Errorf("Execute = %v; want %v", status, want)
	}
}

func TestPreferred(t *testing.T) {
	devs := []device.Device{
		{ID: "sim-a", Kind: device.Simulator, OSVersion: "17.4"},
		{ID: "hw-b", Kind: device.Hardware, OSVersion: "17.5"},
		{ID: "sim-c", Kind: device.Simulator, OSVersion: "18.0"},
		{ID: "hw-a", Kind: device.Hardware, OSVersion: "16.0"},
	}
	var got []string
	for _, d := range preferred(devs) {
		got = append(got, d.ID)
	}
	if diff := cmp.Diff(got, []string{"hw-a", "hw-b", "sim-a", "sim-c"}); diff != "" {
		t.Errorf("preferred mismatch (-got +want):\n%s", diff)
	}
}
