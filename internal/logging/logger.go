// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging delivers log messages through context.Context.
//
// A Logger is attached to a context with AttachLogger; any code holding the
// context (or one derived from it) emits logs with Info, Infof, Debug and
// Debugf. A context without a logger silently drops logs.
package logging

import (
	"time"
)

// Level indicates a logging level. A larger level value means a log is more
// important.
type Level int

const (
	// LevelDebug is for tool invocations, retries and other chatter.
	LevelDebug Level = iota
	// LevelInfo is for state transitions and outcomes.
	LevelInfo
)

// Logger consumes logs sent via context.Context.
type Logger interface {
	// Log gets called for a log entry.
	Log(level Level, ts time.Time, msg string)
}

// MultiLogger copies logs to multiple underlying loggers, in order.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new MultiLogger.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log copies a log to the underlying loggers.
func (ml *MultiLogger) Log(level Level, ts time.Time, msg string) {
	for _, l := range ml.loggers {
		l.Log(level, ts, msg)
	}
}
