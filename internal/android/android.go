// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package android implements the orchestrator driver for Android devices
// and emulators.
package android

import (
	"context"
	"path/filepath"
	"strconv"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/devrun/internal/adb"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitdetect"
	"go.chromium.org/devrun/internal/listener"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/orchestrator"
	"go.chromium.org/devrun/shutil"
)

const (
	logcatFile    = "logcat.txt"
	bugreportFile = "bugreport.zip"

	// Instrumentation arguments telling the test runner where to report.
	resultsHostArg = "devrun.results.host"
	resultsPortArg = "devrun.results.port"
	argsArg        = "devrun.args"
)

// Activity result codes reported as INSTRUMENTATION_CODE.
const (
	resultOK       = -1
	resultCanceled = 0
)

// Driver runs apps on Android devices through adb.
type Driver struct {
	adb *adb.Client
	cfg *config.Config
	clk clock.Clock
}

var _ orchestrator.Driver = (*Driver)(nil)

// NewDriver returns a Driver using c, which must not be bound to a device.
func NewDriver(c *adb.Client, cfg *config.Config, clk clock.Clock) *Driver {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Driver{adb: c, cfg: cfg, clk: clk}
}

// Platform implements orchestrator.Driver.
func (d *Driver) Platform() string {
	return string(device.Android)
}

func (d *Driver) client(dev *device.Device) *adb.Client {
	return d.adb.ForDevice(dev.ID)
}

// FindDevice implements orchestrator.Driver.
func (d *Driver) FindDevice(ctx context.Context, r *orchestrator.Run) (device.Device, error) {
	f := r.Target
	f.Platform = device.Android
	return device.Find(ctx, d.adb.Lister(), &f, d.adb.Backoff())
}

// Reset implements orchestrator.Driver. Emulators are reset by removing
// every third-party package.
func (d *Driver) Reset(ctx context.Context, r *orchestrator.Run, dev *device.Device) error {
	return d.client(dev).ClearThirdPartyPackages(ctx)
}

// Install implements orchestrator.Driver.
func (d *Driver) Install(ctx context.Context, r *orchestrator.Run, dev *device.Device) (*cmdexec.Result, error) {
	c := d.client(dev)
	if err := c.WaitForBoot(ctx); err != nil {
		return nil, err
	}
	return c.Install(ctx, r.App.Path)
}

// Uninstall implements orchestrator.Driver.
func (d *Driver) Uninstall(ctx context.Context, r *orchestrator.Run, dev *device.Device) (*cmdexec.Result, error) {
	return d.client(dev).Uninstall(ctx, r.App.ID)
}

// Prepare implements orchestrator.Driver. The app is started through its
// instrumentation runner; in ModeTest results are reported over a reverse
// tunnel to a host TCP listener.
func (d *Driver) Prepare(ctx context.Context, r *orchestrator.Run, dev *device.Device, mode orchestrator.Mode, dir string) (*orchestrator.Launch, error) {
	c := d.client(dev)
	args := make(map[string]string)
	for k, v := range r.Env {
		args[k] = v
	}
	if len(r.Args) > 0 {
		args[argsArg] = shutil.EscapeSlice(r.Args)
	}

	logPath := filepath.Join(dir, logcatFile)
	l := &orchestrator.Launch{
		SystemLog: logPath,
		EntireLog: true,
		StartStream: func(ctx context.Context) (orchestrator.Stopper, error) {
			return c.StartLogcat(ctx, logPath)
		},
		Detector:          exitdetect.ForInstrumentation(),
		DetectInOutput:    true,
		TranslateExitCode: instrumentationExitCode,
	}

	if mode == orchestrator.ModeTest {
		lis, err := listener.ListenTCP(ctx, d.cfg.Listener.Port, filepath.Join(dir, "results.xml"))
		if err != nil {
			return nil, err
		}
		port := lis.Port()
		if err := c.Reverse(ctx, port); err != nil {
			lis.Close()
			return nil, err
		}
		logging.Infof(ctx, "Result listener on port %d, tunnelled from %s", port, dev.ID)
		args[resultsHostArg] = "127.0.0.1"
		args[resultsPortArg] = strconv.Itoa(port)
		l.Listener = lis
		l.Teardown = func(ctx context.Context) error {
			return c.RemoveReverse(ctx, port)
		}
	}

	l.Command = c.InstrumentCommand(r.App.ID, r.App.Instrumentation, args, 0)
	return l, nil
}

// instrumentationExitCode maps Activity result codes to process-style exit
// codes. Other codes are set by the app and kept.
func instrumentationExitCode(code int) int {
	switch code {
	case resultOK:
		return 0
	case resultCanceled:
		return 1
	default:
		return code
	}
}

// Diagnostics implements orchestrator.Driver.
func (d *Driver) Diagnostics(r *orchestrator.Run, dev *device.Device) []orchestrator.Collector {
	c := d.client(dev)
	return []orchestrator.Collector{
		func(ctx context.Context, dir string) error {
			return c.Bugreport(ctx, filepath.Join(dir, bugreportFile))
		},
	}
}

// Cleanup implements orchestrator.Driver. The app is stopped so it does not
// keep running into the next run.
func (d *Driver) Cleanup(ctx context.Context, r *orchestrator.Run, dev *device.Device) error {
	_, err := d.client(dev).Shell(ctx, "am", "force-stop", r.App.ID)
	return err
}
