// Copyright 2018 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package poll repeatedly calls a function until it succeeds, gives up or
// runs out of time. Device readiness checks and transient-offline backoff are
// built on it.
package poll

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/devrun/ctxutil"
	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/xcontext"
)

const defaultInterval = 100 * time.Millisecond

// Options controls Poll.
type Options struct {
	// Timeout is the maximum time to poll. Non-positive means no timeout,
	// though context deadlines are still honored.
	Timeout time.Duration
	// Interval is the sleep between calls. Non-positive means a default.
	Interval time.Duration
	// MaxAttempts bounds the number of calls. Non-positive means unbounded.
	MaxAttempts int
	// Clock drives the timeout and interval. Nil means the wall clock.
	Clock clock.Clock
}

type breakErr struct {
	err error
}

func (b *breakErr) Error() string {
	return b.err.Error()
}

// Break wraps err so that Poll returns it immediately.
func Break(err error) error {
	return &breakErr{err}
}

var errTimeout = errors.New("poll timed out")

// Poll calls f until it returns nil, returns an error wrapped by Break, the
// attempt bound is hit, or the timeout or ctx expires. On failure the last
// error returned by f is included in the returned error.
func Poll(ctx context.Context, f func(context.Context) error, opts *Options) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if opts == nil {
		opts = &Options{}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	timeout := ctxutil.MaxTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	interval := defaultInterval
	if opts.Interval > 0 {
		interval = opts.Interval
	}

	parent := ctx
	ctx, cancel := xcontext.WithTimeout(ctx, clk, timeout, errTimeout)
	defer cancel(context.Canceled)

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := f(ctx)
		// ctx learns of parent cancellation asynchronously, so f may not
		// have seen it yet.
		if perr := parent.Err(); perr != nil {
			if lastErr == nil {
				lastErr = err
			}
			if lastErr == nil {
				return perr
			}
			return errors.Wrapf(lastErr, "%s; last error follows", perr)
		}
		if err == nil {
			return nil
		}
		if b, ok := err.(*breakErr); ok {
			if ctx.Err() != nil && lastErr != nil {
				return errors.Wrapf(lastErr, "%s; last error follows", b.err)
			}
			return b.err
		}
		// Keep the error seen before the deadline; f may report the
		// deadline itself, which says nothing useful.
		if lastErr == nil || ctx.Err() == nil {
			lastErr = err
		}
		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return errors.Wrapf(lastErr, "gave up after %d attempts; last error follows", attempt)
		}
		if err := Sleep(ctx, clk, interval); err != nil {
			return errors.Wrapf(lastErr, "%s; last error follows", ctx.Err())
		}
	}
}

// Sleep waits for d on clk or until ctx is done.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if clk == nil {
		clk = clock.NewClock()
	}
	tm := clk.NewTimer(d)
	defer tm.Stop()

	select {
	case <-tm.C():
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "sleep interrupted")
	}
}
