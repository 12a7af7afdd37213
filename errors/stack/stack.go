// Copyright 2018 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stack captures and formats short stack traces for the errors
// package.
package stack

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	maxDepth = 8 // frames kept per trace

	ellipsis = "\t..."
)

// Stack is a snapshot of program counters.
type Stack []uintptr

// New captures a stack trace, skipping skip frames above the caller.
// skip=0 records the caller of New as the innermost frame.
func New(skip int) Stack {
	pc := make([]uintptr, maxDepth+1)
	return Stack(pc[:runtime.Callers(skip+2, pc)])
}

// String formats the trace one frame per line.
func (s Stack) String() string {
	var lines []string
	frames := runtime.CallersFrames(s)
	for {
		f, more := frames.Next()
		lines = append(lines, fmt.Sprintf("\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line))
		if !more {
			break
		}
		if len(lines) >= maxDepth {
			lines = append(lines, ellipsis)
			break
		}
	}
	return strings.Join(lines, "\n")
}
