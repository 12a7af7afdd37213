// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package xcontext provides contexts that are cancelled with custom errors.
//
// The orchestrator cancels a run with errors that name the reason (run
// timeout, launch timeout, interrupted) so that whichever step observes the
// cancellation can classify it without extra shared state.
package xcontext

import (
	"context"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
)

// CancelFunc cancels an associated context with err. If the context is
// already cancelled, calling it has no effect. It panics if err is nil.
// Upon return the context is guaranteed to be cancelled.
type CancelFunc func(err error)

type contextImpl struct {
	parent context.Context

	hasDeadline bool
	deadline    time.Time // valid only when hasDeadline

	done chan struct{}

	// req carries the cancellation error to the watcher goroutine.
	// Capacity 1 so the first send never blocks.
	req chan error

	errValue atomic.Value
}

// newContext returns a new context and starts its watcher goroutine.
//
// If deadlineErr is nil, the new context inherits the parent's deadline and
// reqDeadline is ignored. Otherwise the deadline is reqDeadline or the
// parent's, whichever is earlier.
func newContext(parent context.Context, clk clock.Clock, deadlineErr error, reqDeadline time.Time) (context.Context, CancelFunc) {
	if clk == nil {
		clk = clock.NewClock()
	}

	newDeadline := false
	deadline, hasDeadline := parent.Deadline()
	if deadlineErr != nil && (!hasDeadline || reqDeadline.Before(deadline)) {
		deadline = reqDeadline
		hasDeadline = true
		newDeadline = true
	}

	ctx := &contextImpl{
		parent:      parent,
		hasDeadline: hasDeadline,
		deadline:    deadline,
		done:        make(chan struct{}),
		req:         make(chan error, 1),
	}

	var initErr error
	if err := parent.Err(); err != nil {
		initErr = err
	} else if newDeadline && !deadline.After(clk.Now()) {
		initErr = deadlineErr
	}
	if initErr != nil {
		ctx.errValue.Store(initErr)
		close(ctx.done)
		return ctx, ctx.cancel
	}

	go func() {
		var dl <-chan time.Time
		if newDeadline {
			tm := clk.NewTimer(deadline.Sub(clk.Now()))
			defer tm.Stop()
			dl = tm.C()
		}

		var err error
		select {
		case <-parent.Done():
			err = parent.Err()
		case <-dl:
			err = deadlineErr
		case err = <-ctx.req:
		}
		ctx.errValue.Store(err)
		close(ctx.done)
	}()

	return ctx, ctx.cancel
}

func (c *contextImpl) Deadline() (deadline time.Time, ok bool) {
	return c.deadline, c.hasDeadline
}

func (c *contextImpl) Done() <-chan struct{} {
	return c.done
}

// Err returns the cancellation error. Unlike the context.Context contract it
// may return errors other than context.Canceled and context.DeadlineExceeded.
func (c *contextImpl) Err() error {
	if val := c.errValue.Load(); val != nil {
		return val.(error)
	}
	return nil
}

func (c *contextImpl) Value(key interface{}) interface{} {
	return c.parent.Value(key)
}

func (c *contextImpl) cancel(err error) {
	if err == nil {
		panic("xcontext: Cancel called with nil")
	}
	select {
	case c.req <- err:
	default:
	}
	<-c.done
}

// WithCancel returns a context that can be cancelled with arbitrary errors.
func WithCancel(parent context.Context) (context.Context, CancelFunc) {
	return newContext(parent, nil, nil, time.Time{})
}

// WithDeadline returns a context that is cancelled with err when clk reaches
// t. A nil clk means the wall clock. It panics if err is nil.
func WithDeadline(parent context.Context, clk clock.Clock, t time.Time, err error) (context.Context, CancelFunc) {
	if err == nil {
		panic("xcontext: WithDeadline called with nil err")
	}
	return newContext(parent, clk, err, t)
}

// WithTimeout returns a context that is cancelled with err after d elapses on
// clk. A nil clk means the wall clock. It panics if err is nil.
func WithTimeout(parent context.Context, clk clock.Clock, d time.Duration, err error) (context.Context, CancelFunc) {
	if err == nil {
		panic("xcontext: WithTimeout called with nil err")
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	return newContext(parent, clk, err, clk.Now().Add(d))
}
