// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package apple

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"code.cloudfoundry.org/clock"
	"github.com/shirou/gopsutil/v3/host"

	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/config"
	"go.chromium.org/devrun/internal/crash"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/exitdetect"
	"go.chromium.org/devrun/internal/listener"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/orchestrator"
	"go.chromium.org/devrun/internal/recovery"
)

// Environment variables telling a test app where to report results.
const (
	resultsHostEnv = "DEVRUN_RESULTS_HOST"
	resultsPortEnv = "DEVRUN_RESULTS_PORT"
	resultsFileEnv = "DEVRUN_RESULTS_FILE"
)

const (
	// resultsFileName is written by the app relative to its data container.
	resultsFileName = "Documents/devrun-results.xml"
	deviceLogFile   = "device.log"
	maxCrashReports = 5
	localMacID      = "local"
)

// Driver runs apps on one Apple platform.
type Driver struct {
	c        *Client
	cfg      *config.Config
	platform device.Platform
	clk      clock.Clock

	mu      sync.Mutex
	crashes *crash.Snapshot // taken by Prepare
}

var _ orchestrator.Driver = (*Driver)(nil)

// NewDriver returns a Driver for platform p.
func NewDriver(c *Client, cfg *config.Config, p device.Platform, clk clock.Clock) *Driver {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Driver{c: c, cfg: cfg, platform: p, clk: clk}
}

// Platform implements orchestrator.Driver.
func (d *Driver) Platform() string {
	return string(d.platform)
}

func (d *Driver) catalyst() bool {
	return d.platform == device.MacCatalyst
}

func (d *Driver) backoff() *recovery.Backoff {
	return &recovery.Backoff{
		Attempts: d.cfg.Retry.OfflineAttempts,
		Interval: d.cfg.Retry.OfflineInterval,
		Clock:    d.clk,
	}
}

// FindDevice implements orchestrator.Driver. A selected simulator is booted,
// and a watch simulator is paired with a booted phone first.
func (d *Driver) FindDevice(ctx context.Context, r *orchestrator.Run) (device.Device, error) {
	if d.catalyst() {
		return localMac(ctx), nil
	}
	f := r.Target
	f.Platform = d.platform
	dev, err := device.Find(ctx, d.c.Lister(), &f, d.backoff())
	if err != nil {
		return device.Device{}, err
	}
	if dev.Kind != device.Simulator {
		return dev, nil
	}
	if dev.Platform == device.WatchOS {
		phone, err := d.c.EnsurePaired(ctx, &dev)
		if err != nil {
			return device.Device{}, err
		}
		dev.Companion = phone
		if err := d.boot(ctx, phone); err != nil {
			return device.Device{}, err
		}
	}
	if dev.State != device.Ready {
		if err := d.boot(ctx, dev.ID); err != nil {
			return device.Device{}, err
		}
		dev.State = device.Ready
	}
	return dev, nil
}

func (d *Driver) boot(ctx context.Context, udid string) error {
	if err := d.c.Boot(ctx, udid); err != nil {
		return err
	}
	return d.c.WaitBooted(ctx, udid)
}

// localMac describes the host for Mac Catalyst runs.
func localMac(ctx context.Context) device.Device {
	dev := device.Device{ID: localMacID, Platform: device.MacCatalyst, Kind: device.Hardware, State: device.Ready}
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		logging.Debugf(ctx, "Failed to read host info: %v", err)
		return dev
	}
	dev.Name = info.Hostname
	dev.OSVersion = info.PlatformVersion
	dev.Arch = info.KernelArch
	return dev
}

// Reset implements orchestrator.Driver. The simulator is erased and booted
// again.
func (d *Driver) Reset(ctx context.Context, r *orchestrator.Run, dev *device.Device) error {
	if dev.Kind != device.Simulator {
		return exitcode.New(exitcode.SimulatorFailure, "%s is not a simulator", dev.ID)
	}
	if err := d.c.Shutdown(ctx, dev.ID); err != nil {
		return err
	}
	if err := d.c.Erase(ctx, dev.ID); err != nil {
		return err
	}
	return d.boot(ctx, dev.ID)
}

// Install implements orchestrator.Driver. Catalyst apps run in place and
// are not installed.
func (d *Driver) Install(ctx context.Context, r *orchestrator.Run, dev *device.Device) (*cmdexec.Result, error) {
	if d.catalyst() {
		return &cmdexec.Result{}, nil
	}
	p := d.policy("install", dev)
	return p.Run(ctx, d.c.InstallCommand(r.App.Path, dev))
}

// policy returns the recovery policy for op on dev. A simulator that shut
// down underneath the tool is booted again and waited for before the retry.
func (d *Driver) policy(op string, dev *device.Device) *recovery.Policy {
	p := &recovery.Policy{Op: op, Runner: d.c.runner}
	if dev.Kind != device.Simulator {
		return p
	}
	p.Conditions = []*recovery.Condition{{
		Name:  "simulator shut down",
		Match: recovery.OutputContains("current state: Shutdown"),
		Recover: func(ctx context.Context) error {
			return d.c.Boot(ctx, dev.ID)
		},
	}}
	p.Ready = func(ctx context.Context) error {
		return d.c.WaitBooted(ctx, dev.ID)
	}
	return p
}

// Uninstall implements orchestrator.Driver.
func (d *Driver) Uninstall(ctx context.Context, r *orchestrator.Run, dev *device.Device) (*cmdexec.Result, error) {
	if d.catalyst() {
		return &cmdexec.Result{}, nil
	}
	p := d.policy("uninstall", dev)
	p.Succeeded = func(res *cmdexec.Result) bool {
		return res.Success() || recovery.OutputContains("not installed", "No such application")(res)
	}
	return p.Run(ctx, d.c.UninstallCommand(r.App.ID, dev))
}

// directCopy reports whether results of a test app on dev are read from its
// data container instead of received over TCP.
func (d *Driver) directCopy(dev *device.Device) bool {
	return dev.Kind == device.Simulator && device.CompareVersions(dev.OSVersion, d.cfg.Listener.DirectCopyMinOS) >= 0
}

// Prepare implements orchestrator.Driver.
func (d *Driver) Prepare(ctx context.Context, r *orchestrator.Run, dev *device.Device, mode orchestrator.Mode, dir string) (*orchestrator.Launch, error) {
	d.snapshotCrashes(ctx)

	env := make(map[string]string)
	for k, v := range r.Env {
		env[k] = v
	}
	app := exitdetect.App{Name: r.App.Name, BundleID: r.App.ID}
	l := &orchestrator.Launch{}

	var tunnel int
	if mode == orchestrator.ModeTest {
		lis, port, err := d.listen(ctx, r, dev, dir, env)
		if err != nil {
			return nil, err
		}
		l.Listener = lis
		if dev.Kind == device.Hardware && !d.catalyst() {
			tunnel = port
		}
	}

	switch {
	case d.catalyst():
		logPath := filepath.Join(dir, deviceLogFile)
		l.Command = catalystCommand(r, env)
		l.SystemLog, l.EntireLog = logPath, true
		l.StartStream = func(ctx context.Context) (orchestrator.Stopper, error) {
			return d.c.StartStream(ctx, catalystLogCommand(r), logPath)
		}
		l.Detector = exitdetect.ForCatalyst(app)
	case dev.Kind == device.Simulator:
		l.Command = d.c.LaunchCommand(r.App.Path, dev, &LaunchOptions{
			Env: env, Args: r.Args, WaitForExit: true, AttachDebugger: r.AttachDebugger,
		})
		l.StartedMarker = launchedMarker
		l.SystemLog = d.c.SystemLog(dev.ID)
		l.Detector = exitdetect.ForApple(app)
	default:
		logPath := filepath.Join(dir, deviceLogFile)
		l.Command = d.c.LaunchCommand(r.App.Path, dev, &LaunchOptions{
			Env: env, Args: r.Args, WaitForExit: true, AttachDebugger: r.AttachDebugger, TCPTunnel: tunnel,
		})
		l.StartedMarker = launchedMarker
		l.SystemLog, l.EntireLog = logPath, true
		l.StartStream = func(ctx context.Context) (orchestrator.Stopper, error) {
			return d.c.StartStream(ctx, d.c.LogCommand(dev), logPath)
		}
		l.Detector = exitdetect.ForApple(app)
	}
	return l, nil
}

// listen opens the result listener and adds its address to env. The
// returned port is 0 for file listeners.
func (d *Driver) listen(ctx context.Context, r *orchestrator.Run, dev *device.Device, dir string, env map[string]string) (listener.Listener, int, error) {
	dst := filepath.Join(dir, "results.xml")
	if d.directCopy(dev) {
		container, err := d.c.AppContainer(ctx, dev.ID, r.App.ID)
		if err != nil {
			return nil, 0, err
		}
		lis, err := listener.WatchFile(ctx, d.clk, filepath.Join(container, resultsFileName), dst)
		if err != nil {
			return nil, 0, err
		}
		env[resultsFileEnv] = resultsFileName
		return lis, 0, nil
	}
	lis, err := listener.ListenTCP(ctx, d.cfg.Listener.Port, dst)
	if err != nil {
		return nil, 0, exitcode.Wrap(err, exitcode.TCPConnectionFailed, "failed to open result listener")
	}
	env[resultsHostEnv] = "127.0.0.1"
	env[resultsPortEnv] = strconv.Itoa(lis.Port())
	logging.Infof(ctx, "Result listener on port %d", lis.Port())
	return lis, lis.Port(), nil
}

func catalystCommand(r *orchestrator.Run, env map[string]string) *cmdexec.Invocation {
	args := []string{"-W", "-n"}
	for _, kv := range sortedEnv(env) {
		args = append(args, "--env", kv)
	}
	args = append(args, r.App.Path)
	if len(r.Args) > 0 {
		args = append(append(args, "--args"), r.Args...)
	}
	return cmdexec.Command("open", args...)
}

func catalystLogCommand(r *orchestrator.Run) *cmdexec.Invocation {
	pred := fmt.Sprintf(`process == %q OR eventMessage CONTAINS %q`, r.App.Name, "application."+r.App.ID)
	return cmdexec.Command("log", "stream", "--style", "syslog", "--predicate", pred)
}

func (d *Driver) snapshotCrashes(ctx context.Context) {
	s, err := crash.NewSnapshot(d.cfg.Apple.DiagnosticReports)
	if err != nil {
		logging.Debugf(ctx, "Failed to snapshot crash reports: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crashes = s
}

// Diagnostics implements orchestrator.Driver. Crash reports of the app
// written since Prepare are copied.
func (d *Driver) Diagnostics(r *orchestrator.Run, dev *device.Device) []orchestrator.Collector {
	d.mu.Lock()
	s := d.crashes
	d.mu.Unlock()
	if s == nil {
		return nil
	}
	return []orchestrator.Collector{
		func(ctx context.Context, dir string) error {
			copied, warnings, err := s.Collect(dir, []string{r.App.Name}, maxCrashReports)
			for p, w := range warnings {
				logging.Debugf(ctx, "Crash report %s: %v", p, w)
			}
			if err != nil {
				return err
			}
			logging.Infof(ctx, "Collected %d crash report(s)", len(copied))
			return nil
		},
	}
}

// Cleanup implements orchestrator.Driver. An app left running on a
// simulator is terminated.
func (d *Driver) Cleanup(ctx context.Context, r *orchestrator.Run, dev *device.Device) error {
	if dev.Kind != device.Simulator {
		return nil
	}
	if err := d.c.Terminate(ctx, dev.ID, r.App.ID); err != nil {
		logging.Debugf(ctx, "Failed to terminate %s: %v", r.App.ID, err)
	}
	return nil
}
