// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package orchestrator

import (
	"fmt"
	"time"

	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/listener"
)

// State is a state of the run state machine.
type State int

const (
	Idle State = iota
	DeviceFound
	Installed
	Executing
	ResultCollected
	CleanedUp
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:            "Idle",
	DeviceFound:     "DeviceFound",
	Installed:       "Installed",
	Executing:       "Executing",
	ResultCollected: "ResultCollected",
	CleanedUp:       "CleanedUp",
	Done:            "Done",
	Failed:          "Failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Transition is one entry of a run's state history.
type Transition struct {
	From, To State
	Time     time.Time
}

// Outcome is the result of a run.
type Outcome struct {
	// State is Done or Failed.
	State State
	// Failure is the primary failure, nil on success.
	Failure *exitcode.Failure
	// Device is the selected device, nil if none was found.
	Device *device.Device
	// AppExitCode is the detected exit code of the app, if any.
	AppExitCode *int
	// Results summarizes reported test results, if any.
	Results *listener.Summary
	History []Transition
	// Dir is the run's log directory.
	Dir string
}

// Code returns the exit code the run finished with.
func (o *Outcome) Code() exitcode.Code {
	if o.Failure == nil {
		return exitcode.Success
	}
	return o.Failure.Code
}
