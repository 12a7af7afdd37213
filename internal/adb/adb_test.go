// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/cmdexec/cmdexectest"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/testutil"
)

const propsOutput = `[ro.build.version.release]: [14]
[ro.build.version.sdk]: [34]
[ro.product.cpu.abi]: [x86_64]
[ro.product.model]: [sdk_gphone64_x86_64]
[ro.kernel.qemu]: [1]
[sys.boot_completed]: [1]
`

func newClient(t *testing.T) (*Client, *cmdexectest.Runner) {
	cfg := config.Default()
	cfg.Bridge.LockPath = filepath.Join(testutil.TempDir(t), "adb.lock")
	cfg.Retry.BootPollInterval = time.Millisecond
	cfg.Retry.OfflineInterval = time.Millisecond
	cfg.Retry.OfflineAttempts = 3
	runner := cmdexectest.NewRunner()
	runner.Respond(cmdexectest.Args("getprop", "sys.boot_completed"), &cmdexec.Result{Stdout: "1\n"})
	return New(runner, cfg, nil).ForDevice("emulator-5554"), runner
}

func TestInstallBrokenPipeRestartsServerOnce(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("install"),
		&cmdexec.Result{ExitCode: 1, Stderr: "adb: failed to install app.apk: cmd: Failure calling service package: Broken pipe (32)"},
		&cmdexec.Result{Stdout: "Performing Streamed Install\nSuccess\n"})

	if _, err := c.Install(context.Background(), "app.apk"); err != nil {
		t.Fatal("Install failed: ", err)
	}
	if n := runner.Count(cmdexectest.Args("kill-server")); n != 1 {
		t.Errorf("kill-server ran %d times; want 1", n)
	}
	if n := runner.Count(cmdexectest.Args("start-server")); n != 1 {
		t.Errorf("start-server ran %d times; want 1", n)
	}
	if n := runner.Count(cmdexectest.Args("install")); n != 2 {
		t.Errorf("install ran %d times; want 2", n)
	}
}

func TestInstallStorageReboots(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("install"),
		&cmdexec.Result{ExitCode: 1, Stdout: "Failure [INSTALL_FAILED_INSUFFICIENT_STORAGE]"},
		&cmdexec.Result{Stdout: "Success\n"})

	if _, err := c.Install(context.Background(), "app.apk"); err != nil {
		t.Fatal("Install failed: ", err)
	}
	if n := runner.Count(cmdexectest.Args("reboot")); n != 1 {
		t.Errorf("reboot ran %d times; want 1", n)
	}
	if n := runner.Count(cmdexectest.Args("wait-for-device")); n != 1 {
		t.Errorf("wait-for-device ran %d times; want 1", n)
	}
}

func TestInstallHungDoublesTimeout(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("install"),
		&cmdexec.Result{ExitCode: 1, Stderr: "Exception occurred while executing 'install':\njava.lang.IllegalStateException"},
		&cmdexec.Result{Stdout: "Success\n"})

	if _, err := c.Install(context.Background(), "app.apk"); err != nil {
		t.Fatal("Install failed: ", err)
	}
	var timeouts []time.Duration
	for _, inv := range runner.Calls() {
		if len(inv.Args) > 2 && inv.Args[2] == "install" {
			timeouts = append(timeouts, inv.Timeout)
		}
	}
	want := []time.Duration{5 * time.Minute, 10 * time.Minute}
	if diff := cmp.Diff(timeouts, want); diff != "" {
		t.Errorf("Install timeouts mismatch (-got +want):\n%s", diff)
	}
	if runner.Count(cmdexectest.Args("kill-server")) != 1 || runner.Count(cmdexectest.Args("reboot")) != 1 {
		t.Errorf("Hung install did not restart the server and reboot:\n%s", strings.Join(runner.CommandLines(), "\n"))
	}
}

func TestInstallUnknownFailure(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("install"), &cmdexec.Result{ExitCode: 1, Stdout: "Failure [INSTALL_FAILED_NO_MATCHING_ABIS]"})

	res, err := c.Install(context.Background(), "app.apk")
	if err == nil {
		t.Fatal("Install succeeded unexpectedly")
	}
	if res == nil || !strings.Contains(res.Output(), "NO_MATCHING_ABIS") {
		t.Errorf("Install returned result %+v; want the failing output", res)
	}
}

func TestUninstallNotPresentIsSuccess(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("uninstall"), &cmdexec.Result{ExitCode: 1, Stdout: "Failure [DELETE_FAILED_INTERNAL_ERROR]"})

	if _, err := c.Uninstall(context.Background(), "com.example.app"); err != nil {
		t.Error("Uninstall of a missing package failed: ", err)
	}
}

func TestUninstallBrokenPipeWaitsForDevice(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("uninstall"),
		&cmdexec.Result{ExitCode: 1, Stderr: "adb: failed to uninstall: cmd: Failure calling service package: Broken pipe (32)"},
		&cmdexec.Result{Stdout: "Success\n"})

	if _, err := c.Uninstall(context.Background(), "com.example.app"); err != nil {
		t.Fatal("Uninstall failed: ", err)
	}
	for _, tc := range []struct {
		args []string
		want int
	}{
		{[]string{"kill-server"}, 1},
		{[]string{"wait-for-device"}, 1},
		{[]string{"getprop", "sys.boot_completed"}, 1},
		{[]string{"uninstall"}, 2},
	} {
		if n := runner.Count(cmdexectest.Args(tc.args...)); n != tc.want {
			t.Errorf("%q ran %d times; want %d", tc.args, n, tc.want)
		}
	}
}

func TestWaitForBootPolls(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.BootPollInterval = time.Millisecond
	runner := cmdexectest.NewRunner()
	runner.Respond(cmdexectest.Args("getprop", "sys.boot_completed"),
		&cmdexec.Result{Stdout: "\n"}, &cmdexec.Result{Stdout: "0\n"}, &cmdexec.Result{Stdout: "1\n"})
	c := New(runner, cfg, nil).ForDevice("emulator-5554")

	if err := c.WaitForBoot(context.Background()); err != nil {
		t.Fatal("WaitForBoot failed: ", err)
	}
	if n := runner.Count(cmdexectest.Args("getprop", "sys.boot_completed")); n != 3 {
		t.Errorf("getprop ran %d times; want 3", n)
	}
}

func TestShellRetriesOffline(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("getprop", "ro.build.version.sdk"),
		&cmdexec.Result{ExitCode: 1, Stderr: "error: device offline"},
		&cmdexec.Result{Stdout: "34\n"})

	v, err := c.GetProp(context.Background(), "ro.build.version.sdk")
	if err != nil {
		t.Fatal("GetProp failed: ", err)
	}
	if v != "34" {
		t.Errorf("GetProp = %q; want 34", v)
	}
}

func TestList(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("devices", "-l"), &cmdexec.Result{Stdout: `* daemon not running; starting now at tcp:5037
* daemon started successfully
List of devices attached
emulator-5554          device product:sdk_gphone64_x86_64 model:sdk_gphone64_x86_64 device:emu64xa transport_id:1
R58M123ABC             unauthorized usb:1-1 transport_id:2

`})
	runner.Respond(cmdexectest.Args("-s", "emulator-5554", "shell", "getprop"), &cmdexec.Result{Stdout: propsOutput})

	devs, err := c.List(context.Background())
	if err != nil {
		t.Fatal("List failed: ", err)
	}
	want := []device.Device{
		{
			ID: "emulator-5554", Name: "sdk_gphone64_x86_64", Platform: device.Android, OSVersion: "14",
			APILevel: 34, Arch: "x86_64", Kind: device.Emulator, State: device.Ready,
		},
		{ID: "R58M123ABC", Platform: device.Android, Kind: device.Hardware, State: device.Locked},
	}
	if diff := cmp.Diff(devs, want); diff != "" {
		t.Errorf("List mismatch (-got +want):\n%s", diff)
	}
}

func TestClearThirdPartyPackages(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("pm", "list", "packages", "-3"), &cmdexec.Result{Stdout: "package:com.a\npackage:com.b\n"})

	if err := c.ClearThirdPartyPackages(context.Background()); err != nil {
		t.Fatal("ClearThirdPartyPackages failed: ", err)
	}
	for _, p := range []string{"com.a", "com.b"} {
		if n := runner.Count(cmdexectest.Args("uninstall", p)); n != 1 {
			t.Errorf("uninstall %s ran %d times; want 1", p, n)
		}
	}
}

func TestInstrumentCommand(t *testing.T) {
	c, _ := newClient(t)
	inv := c.InstrumentCommand("com.example.tests", "androidx.test.runner.AndroidJUnitRunner",
		map[string]string{"port": "9000", "class": "Foo"}, time.Minute)
	want := []string{"-s", "emulator-5554", "shell", "am", "instrument", "-w", "-r",
		"-e", "class", "Foo", "-e", "port", "9000", "com.example.tests/androidx.test.runner.AndroidJUnitRunner"}
	if diff := cmp.Diff(inv.Args, want); diff != "" {
		t.Errorf("InstrumentCommand args mismatch (-got +want):\n%s", diff)
	}
	if inv.Timeout != time.Minute {
		t.Errorf("Timeout = %v; want 1m", inv.Timeout)
	}
}

func TestReverseFailureCode(t *testing.T) {
	c, runner := newClient(t)
	runner.Respond(cmdexectest.Args("reverse"), &cmdexec.Result{ExitCode: 1, Stderr: "error: closed"})
	if code := exitcode.Of(c.Reverse(context.Background(), 9000)); code != exitcode.TCPConnectionFailed {
		t.Errorf("Reverse code = %v; want %v", code, exitcode.TCPConnectionFailed)
	}
}

func TestLogcatStop(t *testing.T) {
	c, runner := newClient(t)
	path := filepath.Join(testutil.TempDir(t), "logcat.txt")
	runner.Respond(cmdexectest.Args("logcat", "-v"), &cmdexec.Result{Stdout: "01-01 00:00:00.000  1  1 I app: hello\n"})

	l, err := c.StartLogcat(context.Background(), path)
	if err != nil {
		t.Fatal("StartLogcat failed: ", err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Fatal("Stop failed: ", err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Error("Second Stop failed: ", err)
	}
	if got := testutil.MustReadFile(t, path); !strings.Contains(got, "I app: hello") {
		t.Errorf("Logcat file = %q; want streamed lines", got)
	}
	if n := runner.Count(cmdexectest.Args("logcat", "-c")); n != 1 {
		t.Errorf("logcat -c ran %d times; want 1", n)
	}
}
