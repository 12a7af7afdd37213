// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package exitcode defines the terminal classifications of a device run,
// which double as the process exit status of devrun.
package exitcode

import (
	"fmt"

	"go.chromium.org/devrun/errors"
)

// Code is a terminal classification.
type Code int

// Codes are stable: CI systems match on them.
const (
	Success                    Code = 0
	TestsFailed                Code = 1
	InvalidArguments           Code = 3
	PackageNotFound            Code = 4
	TimedOut                   Code = 70
	GeneralFailure             Code = 71
	PackageInstallationFailure Code = 78
	AppCrash                   Code = 80
	DeviceNotFound             Code = 81
	ReturnCodeNotSet           Code = 82
	AppLaunchFailure           Code = 83
	SimulatorFailure           Code = 85
	AppLaunchTimeout           Code = 90
	ADBFailure                 Code = 91
	TCPConnectionFailed        Code = 92
)

var names = map[Code]string{
	Success:                    "SUCCESS",
	TestsFailed:                "TESTS_FAILED",
	InvalidArguments:           "INVALID_ARGUMENTS",
	PackageNotFound:            "PACKAGE_NOT_FOUND",
	TimedOut:                   "TIMED_OUT",
	GeneralFailure:             "GENERAL_FAILURE",
	PackageInstallationFailure: "PACKAGE_INSTALLATION_FAILURE",
	AppCrash:                   "APP_CRASH",
	DeviceNotFound:             "DEVICE_NOT_FOUND",
	ReturnCodeNotSet:           "RETURN_CODE_NOT_SET",
	AppLaunchFailure:           "APP_LAUNCH_FAILURE",
	SimulatorFailure:           "SIMULATOR_FAILURE",
	AppLaunchTimeout:           "APP_LAUNCH_TIMEOUT",
	ADBFailure:                 "ADB_FAILURE",
	TCPConnectionFailed:        "TCP_CONNECTION_FAILED",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("EXIT_CODE_%d", int(c))
}

// Parse returns the Code named s, e.g. "TIMED_OUT".
func Parse(s string) (Code, bool) {
	for c, n := range names {
		if n == s {
			return c, true
		}
	}
	return 0, false
}

// Failure is a terminal classification with a human-readable cause.
type Failure struct {
	Code    Code
	Message string
	// Link points to documentation about a known cause, if any.
	Link  string
	cause error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	msg := fmt.Sprintf("%v: %s", f.Code, f.Message)
	if f.cause != nil {
		msg += ": " + f.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.cause
}

// New returns a Failure without an underlying error.
func New(code Code, format string, args ...interface{}) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a Failure caused by err.
func Wrap(err error, code Code, format string, args ...interface{}) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// WithLink returns f with its link set.
func (f *Failure) WithLink(link string) *Failure {
	f.Link = link
	return f
}

// Of returns the classification carried by err. nil means Success; errors
// that carry no Failure are GeneralFailure.
func Of(err error) Code {
	if err == nil {
		return Success
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return GeneralFailure
}
