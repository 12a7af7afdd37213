// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/recovery"
)

// Lister produces an enumeration snapshot.
type Lister interface {
	List(ctx context.Context) ([]Device, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context) ([]Device, error)

// List implements Lister.
func (f ListerFunc) List(ctx context.Context) ([]Device, error) {
	return f(ctx)
}

// Enumerate lists devices passing f. An empty snapshot, or one in which
// nothing matches while some device is offline or still booting, is retried
// with backoff b, as is a Lister error marked with recovery.Transient.
// Devices that are present but do not match fail at once.
func Enumerate(ctx context.Context, l Lister, f *Filter, b *recovery.Backoff) ([]Device, error) {
	var matched []Device
	err := b.Retry(ctx, "enumerate devices", func(ctx context.Context) error {
		devs, err := l.List(ctx)
		if err != nil {
			return err
		}
		if len(devs) == 0 {
			return recovery.Transient(errors.New("no devices listed"))
		}
		matched = Apply(devs, f)
		if len(matched) > 0 {
			return nil
		}
		for _, d := range devs {
			if (d.State == Offline && d.Kind != Simulator) || d.State == Booting {
				return recovery.Transient(errors.Errorf("%s is %s", d.ID, d.State))
			}
		}
		return nil
	})
	if err != nil {
		return nil, exitcode.Wrap(err, exitcode.DeviceNotFound, "failed to enumerate devices")
	}
	logging.Debugf(ctx, "%d devices match", len(matched))
	return matched, nil
}

// Find enumerates devices passing f and selects one.
func Find(ctx context.Context, l Lister, f *Filter, b *recovery.Backoff) (Device, error) {
	devs, err := Enumerate(ctx, l, f, b)
	if err != nil {
		return Device{}, err
	}
	return SelectOne(ctx, devs)
}
