// Copyright 2018 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errors constructs errors that remember where they were created.
//
// Code in this module uses this package instead of the standard errors
// package or fmt.Errorf. Errors created here record a short stack trace and
// their cause, so a failed device run leaves a readable chain in its log.
//
//	errors.New("no device found")
//	errors.Errorf("device %s is offline", serial)
//	errors.Wrap(err, "failed to install package")
//	errors.Wrapf(err, "failed to reboot %s", serial)
//
// The full chain with stack frames is printed with the "%+v" verb.
// Is and As are forwarded from the standard library so callers need a single
// import.
package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"go.chromium.org/devrun/errors/stack"
)

// impl is the error implementation used by this package.
type impl struct {
	msg   string      // message prepended to cause
	stk   stack.Stack // where this error was created
	cause error       // wrapped error if non-nil
}

// Error implements the error interface.
func (e *impl) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap returns the wrapped error, if any.
func (e *impl) Unwrap() error {
	return e.cause
}

// formatChain formats an error chain with a stack for every link that has one.
func formatChain(err error) string {
	var chain []string
	for err != nil {
		e, ok := err.(*impl)
		if !ok {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			break
		}
		chain = append(chain, fmt.Sprintf("%s\n%v", e.msg, e.stk))
		err = e.cause
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter. "%+v" prints the whole chain with stacks.
func (e *impl) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
		return
	}
	io.WriteString(s, e.Error())
}

// New creates a new error with the given message.
func New(msg string) error {
	return &impl{msg, stack.New(1), nil}
}

// Errorf creates a new error with a formatted message.
func Errorf(format string, args ...interface{}) error {
	return &impl{fmt.Sprintf(format, args...), stack.New(1), nil}
}

// Wrap creates a new error with the given message, wrapping cause.
// If cause is nil, this is the same as New.
func Wrap(cause error, msg string) error {
	return &impl{msg, stack.New(1), cause}
}

// Wrapf creates a new error with a formatted message, wrapping cause.
// If cause is nil, this is the same as Errorf.
func Wrapf(cause error, format string, args ...interface{}) error {
	return &impl{fmt.Sprintf(format, args...), stack.New(1), cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
