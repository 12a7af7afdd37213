// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package recovery

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/poll"
)

type transientErr struct {
	err error
}

func (e *transientErr) Error() string { return e.err.Error() }
func (e *transientErr) Unwrap() error { return e.err }

// Transient marks err as worth retrying under a Backoff.
func Transient(err error) error {
	return &transientErr{err}
}

// IsTransient reports whether err was marked by Transient.
func IsTransient(err error) bool {
	var t *transientErr
	return errors.As(err, &t)
}

// Backoff retries transient failures at a fixed interval.
type Backoff struct {
	Attempts int
	Interval time.Duration
	// Clock is used for sleeping. Nil means the wall clock.
	Clock clock.Clock
}

// Retry calls f until it succeeds, returns an error not marked by Transient,
// or b.Attempts calls were made. A nil b calls f once.
func (b *Backoff) Retry(ctx context.Context, what string, f func(ctx context.Context) error) error {
	if b == nil {
		return f(ctx)
	}
	attempt := 0
	return poll.Poll(ctx, func(ctx context.Context) error {
		attempt++
		err := f(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return poll.Break(err)
		}
		if attempt < b.Attempts {
			logging.Debugf(ctx, "%s: %v; retrying in %v (%d/%d)", what, err, b.Interval, attempt, b.Attempts)
		}
		return err
	}, &poll.Options{Interval: b.Interval, MaxAttempts: b.Attempts, Clock: b.Clock})
}
