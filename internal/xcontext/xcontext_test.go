// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package xcontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
)

func isDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// waitDone waits up to 10 real seconds for ctx to be cancelled.
func waitDone(ctx context.Context) bool {
	tm := time.NewTimer(10 * time.Second)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-tm.C:
		return false
	}
}

func TestWithCancel(t *testing.T) {
	ctx, cancel := WithCancel(context.Background())
	defer cancel(context.Canceled)

	if isDone(ctx) {
		t.Error("On init: Done is already signaled")
	}
	if err := ctx.Err(); err != nil {
		t.Errorf("On init: Err = %v; want nil", err)
	}

	wantErr := errors.New("interrupted")
	cancel(wantErr)
	if !isDone(ctx) {
		t.Error("After cancel: Done is not signaled")
	}
	if err := ctx.Err(); err != wantErr {
		t.Errorf("After cancel: Err = %v; want %v", err, wantErr)
	}

	cancel(errors.New("ignored"))
	if err := ctx.Err(); err != wantErr {
		t.Errorf("After second cancel: Err = %v; want %v", err, wantErr)
	}
}

func TestWithCancel_CanceledOnInit(t *testing.T) {
	wantErr := errors.New("interrupted")
	ctx1, cancel1 := WithCancel(context.Background())
	cancel1(wantErr)

	ctx2, cancel2 := WithCancel(ctx1)
	defer cancel2(context.Canceled)
	if !isDone(ctx2) {
		t.Error("Done is not signaled on init")
	}
	if err := ctx2.Err(); err != wantErr {
		t.Errorf("Err = %v; want %v", err, wantErr)
	}
}

func TestWithCancel_Propagate(t *testing.T) {
	ctx1, cancel1 := WithCancel(context.Background())
	defer cancel1(context.Canceled)
	ctx2, cancel2 := WithCancel(ctx1)
	defer cancel2(context.Canceled)

	wantErr := errors.New("interrupted")
	cancel1(wantErr)
	if !waitDone(ctx2) {
		t.Fatal("Child was not cancelled")
	}
	if err := ctx2.Err(); err != wantErr {
		t.Errorf("Child Err = %v; want %v", err, wantErr)
	}
}

func TestWithCancel_PropagateToGenuineChild(t *testing.T) {
	ctx1, cancel1 := WithCancel(context.Background())
	defer cancel1(context.Canceled)
	ctx2, cancel2 := context.WithCancel(ctx1)
	defer cancel2()

	wantErr := errors.New("interrupted")
	cancel1(wantErr)
	if !waitDone(ctx2) {
		t.Fatal("Child was not cancelled")
	}
	if err := ctx2.Err(); err != wantErr {
		t.Errorf("Child Err = %v; want %v", err, wantErr)
	}
}

func TestWithCancel_PropagateNoReverse(t *testing.T) {
	ctx1, cancel1 := WithCancel(context.Background())
	defer cancel1(context.Canceled)
	ctx2, cancel2 := WithCancel(ctx1)

	cancel2(errors.New("child"))
	if err := ctx1.Err(); err != nil {
		t.Errorf("Parent Err = %v after child cancel; want nil", err)
	}
	_ = ctx2
}

func TestWithCancel_NilError(t *testing.T) {
	_, cancel := WithCancel(context.Background())
	defer cancel(context.Canceled)

	defer func() { recover() }()
	cancel(nil)
	t.Error("cancel(nil) did not panic")
}

func TestWithDeadline(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))

	wantErr := errors.New("run timed out")
	ctx, cancel := WithDeadline(context.Background(), clk, time.Unix(28, 0), wantErr)
	defer cancel(context.Canceled)

	if isDone(ctx) {
		t.Error("On init: Done is already signaled")
	}

	clk.WaitForNWatchersAndIncrement(28*time.Second, 1)
	if !waitDone(ctx) {
		t.Fatal("After deadline: Done is not signaled")
	}
	if err := ctx.Err(); err != wantErr {
		t.Errorf("Err = %v; want %v", err, wantErr)
	}

	cancel(errors.New("ignored"))
	if err := ctx.Err(); err != wantErr {
		t.Errorf("After cancel: Err = %v; want %v", err, wantErr)
	}
}

func TestWithDeadline_CancelFirst(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))

	ctx, cancel := WithDeadline(context.Background(), clk, time.Unix(28, 0), errors.New("run timed out"))
	wantErr := errors.New("interrupted")
	cancel(wantErr)

	clk.Increment(28 * time.Second)
	if err := ctx.Err(); err != wantErr {
		t.Errorf("Err = %v; want %v", err, wantErr)
	}
}

func TestWithDeadline_Past(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(100, 0))

	wantErr := errors.New("run timed out")
	ctx, cancel := WithDeadline(context.Background(), clk, time.Unix(50, 0), wantErr)
	defer cancel(context.Canceled)
	if !isDone(ctx) {
		t.Error("Context with past deadline is not done")
	}
	if err := ctx.Err(); err != wantErr {
		t.Errorf("Err = %v; want %v", err, wantErr)
	}
}

func TestWithDeadline_ParentEarlier(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))

	dl1 := time.Unix(28, 0)
	wantErr := errors.New("outer")
	ctx1, cancel1 := WithDeadline(context.Background(), clk, dl1, wantErr)
	defer cancel1(context.Canceled)
	ctx2, cancel2 := WithDeadline(ctx1, clk, time.Unix(100, 0), errors.New("inner"))
	defer cancel2(context.Canceled)

	if d, ok := ctx2.Deadline(); !ok || !d.Equal(dl1) {
		t.Errorf("Deadline = %v, %v; want %v, true", d, ok, dl1)
	}

	clk.WaitForNWatchersAndIncrement(1000*time.Second, 1)
	if !waitDone(ctx2) {
		t.Fatal("Child is not done")
	}
	if err := ctx2.Err(); err != wantErr {
		t.Errorf("Err = %v; want %v", err, wantErr)
	}
}

func TestWithTimeout(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))

	wantErr := errors.New("launch timed out")
	ctx, cancel := WithTimeout(context.Background(), clk, time.Minute, wantErr)
	defer cancel(context.Canceled)

	if d, ok := ctx.Deadline(); !ok || !d.Equal(time.Unix(60, 0)) {
		t.Errorf("Deadline = %v, %v; want %v, true", d, ok, time.Unix(60, 0))
	}
	clk.WaitForNWatchersAndIncrement(time.Minute, 1)
	if !waitDone(ctx) {
		t.Fatal("Not done after timeout")
	}
	if err := ctx.Err(); err != wantErr {
		t.Errorf("Err = %v; want %v", err, wantErr)
	}
}

func TestValue(t *testing.T) {
	type keyType string
	const key keyType = "device"

	ctx, cancel := WithCancel(context.WithValue(context.Background(), key, "emulator-5554"))
	defer cancel(context.Canceled)
	if v := ctx.Value(key); v != "emulator-5554" {
		t.Errorf("Value = %v; want emulator-5554", v)
	}
}
