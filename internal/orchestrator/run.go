// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package orchestrator

import (
	"context"
	"time"

	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitdetect"
	"go.chromium.org/devrun/internal/listener"
)

// App identifies the app under test.
type App struct {
	// ID is the bundle identifier or Android package name.
	ID string
	// Name is the executable or process name, used to find its log lines
	// and crash reports.
	Name string
	// Path is the package to install (.app, .ipa or .apk).
	Path string
	// Instrumentation is the Android instrumentation runner class.
	Instrumentation string
}

// Run is one request to the orchestrator.
type Run struct {
	Target device.Filter
	App    App

	// Timeout bounds the whole execution step.
	Timeout time.Duration
	// LaunchTimeout bounds the time until the app is seen running.
	LaunchTimeout time.Duration

	ResetSimulator bool
	UninstallFirst bool
	// AttachDebugger keeps the app in the foreground on wearables by
	// attaching a native debugger.
	AttachDebugger bool

	Env              map[string]string
	Args             []string
	ExpectedExitCode int

	// LogDir overrides the per-run log directory.
	LogDir string
}

// Mode says how an app is executed and judged.
type Mode int

const (
	// ModeNone skips execution.
	ModeNone Mode = iota
	// ModeRun judges the app by its exit code.
	ModeRun
	// ModeTest judges the app by the result document it reports.
	ModeTest
)

// Stopper stops a background task.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Launch is what a Driver prepares for the execution step.
type Launch struct {
	// Command launches the app. Its timeout is ignored; the run's
	// timeouts apply.
	Command *cmdexec.Invocation
	// StartedMarker, if set, is a launch tool output line fragment that
	// shows the app is running. Without it the app counts as running once
	// the launch tool starts, or once the listener connects in test mode.
	StartedMarker string

	// SystemLog is the host path of the log captured around the launch.
	SystemLog string
	// EntireLog copies the whole log instead of the launch window.
	EntireLog bool
	// StartStream starts a task appending device logs to SystemLog. It is
	// started before capture begins and stopped after the launch returns.
	StartStream func(ctx context.Context) (Stopper, error)

	// Detector finds the app's exit code in ModeRun.
	Detector *exitdetect.Detector
	// DetectInOutput scans the launch tool output instead of the log.
	DetectInOutput bool
	// TranslateExitCode, if set, maps a detected code to the app's exit
	// code.
	TranslateExitCode func(code int) int

	// Listener receives results in ModeTest.
	Listener listener.Listener
	// Teardown releases resources Prepare set up, such as tunnels.
	Teardown func(ctx context.Context) error
}

// Collector gathers one kind of diagnostics into dir.
type Collector func(ctx context.Context, dir string) error

// Driver implements the platform-specific parts of a run.
type Driver interface {
	// Platform names the driver in logs and metrics.
	Platform() string
	// FindDevice selects the target device.
	FindDevice(ctx context.Context, r *Run) (device.Device, error)
	// Reset wipes a virtual device.
	Reset(ctx context.Context, r *Run, d *device.Device) error
	// Install installs r.App. The result is classified on failure.
	Install(ctx context.Context, r *Run, d *device.Device) (*cmdexec.Result, error)
	// Uninstall removes r.App. An app that is not installed counts as
	// removed.
	Uninstall(ctx context.Context, r *Run, d *device.Device) (*cmdexec.Result, error)
	// Prepare sets up the execution step. dir is the run's log directory.
	Prepare(ctx context.Context, r *Run, d *device.Device, mode Mode, dir string) (*Launch, error)
	// Diagnostics returns collectors run after a crash.
	Diagnostics(r *Run, d *device.Device) []Collector
	// Cleanup returns the device to the state it was found in.
	Cleanup(ctx context.Context, r *Run, d *device.Device) error
}
