// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/logging/loggingtest"
)

func TestNoLogger(t *testing.T) {
	ctx := context.Background()
	// Must not panic.
	logging.Info(ctx, "dropped")
	logging.Debugf(ctx, "dropped %d", 1)
}

func TestAttachLoggerPropagates(t *testing.T) {
	parent := loggingtest.NewLogger(t, logging.LevelDebug)
	child := loggingtest.NewLogger(t, logging.LevelInfo)

	ctx := logging.AttachLogger(context.Background(), parent)
	logging.Info(ctx, "parent only")

	ctx = logging.AttachLogger(ctx, child)
	logging.Infof(ctx, "both %d", 2)
	logging.Debug(ctx, "debug")

	if diff := cmp.Diff(parent.Logs(), []string{"parent only", "both 2", "debug"}); diff != "" {
		t.Errorf("Parent logs mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(child.Logs(), []string{"both 2"}); diff != "" {
		t.Errorf("Child logs mismatch (-got +want):\n%s", diff)
	}
}

func TestSetLogPrefix(t *testing.T) {
	logger := loggingtest.NewLogger(t, logging.LevelDebug)
	ctx := logging.AttachLogger(context.Background(), logger)
	ctx = logging.SetLogPrefix(ctx, "[run 1] ")
	logging.Info(ctx, "installing")
	ctx = logging.SetLogPrefix(ctx, "[adb] ")
	logging.Debug(ctx, "devices -l")

	want := []string{"[run 1] installing", "[run 1] [adb] devices -l"}
	if diff := cmp.Diff(logger.Logs(), want); diff != "" {
		t.Errorf("Logs mismatch (-got +want):\n%s", diff)
	}
}

func TestInvalidUTF8Dropped(t *testing.T) {
	logger := loggingtest.NewLogger(t, logging.LevelDebug)
	ctx := logging.AttachLogger(context.Background(), logger)
	logging.Info(ctx, "ab\xffcd")
	if diff := cmp.Diff(logger.Logs(), []string{"abcd"}); diff != "" {
		t.Errorf("Logs mismatch (-got +want):\n%s", diff)
	}
}

func TestMultiLogger(t *testing.T) {
	a := loggingtest.NewLogger(t, logging.LevelDebug)
	b := loggingtest.NewLogger(t, logging.LevelInfo)
	ml := logging.NewMultiLogger(a, b)
	ml.Log(logging.LevelInfo, time.Time{}, "one")
	ml.Log(logging.LevelDebug, time.Time{}, "two")

	if diff := cmp.Diff(a.Logs(), []string{"one", "two"}); diff != "" {
		t.Errorf("a mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(b.Logs(), []string{"one"}); diff != "" {
		t.Errorf("b mismatch (-got +want):\n%s", diff)
	}
}
