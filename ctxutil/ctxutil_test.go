// Copyright 2018 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ctxutil

import (
	"context"
	"testing"
	"time"
)

// runAndGetDeadline passes ctx and d to f and returns the resulting context's
// deadline. A zero time is returned if no deadline is set.
func runAndGetDeadline(ctx context.Context, f func(context.Context, time.Duration) (context.Context, context.CancelFunc),
	d time.Duration) time.Time {
	ctx, cancel := f(ctx, d)
	defer cancel()

	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Time{}
}

func TestOptionalTimeoutPositive(t *testing.T) {
	const timeout = time.Minute
	start := time.Now()
	lower := start.Add(timeout)
	upper := start.Add(timeout + time.Minute)
	if dl := runAndGetDeadline(context.Background(), OptionalTimeout, timeout); dl.Before(lower) || dl.After(upper) {
		t.Errorf("OptionalTimeout returned deadline %v for %v timeout; want in range [%v, %v]", dl, timeout, lower, upper)
	}
}

func TestOptionalTimeoutZero(t *testing.T) {
	if dl := runAndGetDeadline(context.Background(), OptionalTimeout, 0); !dl.IsZero() {
		t.Errorf("OptionalTimeout returned deadline %v for 0 timeout; want none", dl)
	}
}

func TestShortenExistingDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const d = 5 * time.Second
	orig, _ := ctx.Deadline()
	want := orig.Add(-d)
	if dl := runAndGetDeadline(ctx, Shorten, d); !dl.Equal(want) {
		t.Errorf("Shorten returned deadline %v; want %v", dl, want)
	}
}

func TestShortenNoDeadline(t *testing.T) {
	if dl := runAndGetDeadline(context.Background(), Shorten, time.Second); !dl.IsZero() {
		t.Errorf("Shorten returned deadline %v for context without deadline; want none", dl)
	}
}

func TestDetachSurvivesCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	ctx, cancelDetached := Detach(parent, time.Minute)
	defer cancelDetached()
	if err := ctx.Err(); err != nil {
		t.Errorf("Detached context has error %v after parent cancel; want nil", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		t.Error("Detached context has no deadline")
	}
}

func TestDeadlineBefore(t *testing.T) {
	now := time.Now()
	ctx, cancel := context.WithDeadline(context.Background(), now.Add(time.Second))
	defer cancel()

	if !DeadlineBefore(ctx, now.Add(time.Minute)) {
		t.Error("DeadlineBefore(later) = false; want true")
	}
	if DeadlineBefore(ctx, now) {
		t.Error("DeadlineBefore(earlier) = true; want false")
	}
	if DeadlineBefore(context.Background(), now) {
		t.Error("DeadlineBefore without deadline = true; want false")
	}
}
