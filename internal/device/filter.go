// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"

	"golang.org/x/exp/slices"

	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
)

// Filter selects usable devices. Zero fields match anything.
type Filter struct {
	Platform Platform
	// Kinds lists acceptable kinds.
	Kinds []Kind
	// ID or Name pin a specific device.
	ID   string
	Name string
	// OSVersion requires a version prefix match, e.g. "17" matches "17.4".
	OSVersion string
	MinAPI    int
	// Archs lists acceptable architectures.
	Archs []string
	// AllowLocked accepts devices that are locked or not yet ready.
	AllowLocked bool
}

// Match reports whether d passes f.
func (f *Filter) Match(d *Device) bool {
	if f.Platform != "" && d.Platform != f.Platform {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, d.Kind) {
		return false
	}
	if f.ID != "" && d.ID != f.ID {
		return false
	}
	if f.Name != "" && d.Name != f.Name {
		return false
	}
	if f.OSVersion != "" && !versionHasPrefix(d.OSVersion, f.OSVersion) {
		return false
	}
	if f.MinAPI > 0 && d.APILevel < f.MinAPI {
		return false
	}
	if len(f.Archs) > 0 && !slices.Contains(f.Archs, d.Arch) {
		return false
	}
	if !f.AllowLocked && d.State != Ready {
		// Shut-down simulators are booted on demand.
		if !(d.Kind == Simulator && d.State == Offline) {
			return false
		}
	}
	return true
}

func versionHasPrefix(v, prefix string) bool {
	if v == prefix {
		return true
	}
	return len(v) > len(prefix) && v[:len(prefix)] == prefix && v[len(prefix)] == '.'
}

// Apply returns the devices in devs passing f, in their original order.
func Apply(devs []Device, f *Filter) []Device {
	var out []Device
	for _, d := range devs {
		if f.Match(&d) {
			out = append(out, d)
		}
	}
	return out
}

// SelectOne picks one device from candidates. It fails with DeviceNotFound
// when there are none. Otherwise hardware is preferred over virtual devices,
// hardware with the lowest OS version first (ties broken by ID), and virtual
// devices in listing order.
func SelectOne(ctx context.Context, candidates []Device) (Device, error) {
	switch len(candidates) {
	case 0:
		return Device{}, exitcode.New(exitcode.DeviceNotFound, "no device found")
	case 1:
		return candidates[0], nil
	}

	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b Device) int {
		ah, bh := a.Kind == Hardware, b.Kind == Hardware
		switch {
		case ah && !bh:
			return -1
		case !ah && bh:
			return 1
		case !ah && !bh:
			return 0
		}
		if c := CompareVersions(a.OSVersion, b.OSVersion); c != 0 {
			return c
		}
		if a.APILevel != b.APILevel {
			return a.APILevel - b.APILevel
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	logging.Infof(ctx, "%d devices match; using %s", len(sorted), &sorted[0])
	for _, d := range sorted[1:] {
		logging.Debugf(ctx, "Also considered %s", &d)
	}
	return sorted[0], nil
}
