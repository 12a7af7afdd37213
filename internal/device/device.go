// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package device describes devices a run can target and chooses one.
package device

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Kind says whether a device is real hardware or virtual.
type Kind int

const (
	Hardware Kind = iota
	Simulator
	Emulator
)

func (k Kind) String() string {
	switch k {
	case Hardware:
		return "hardware"
	case Simulator:
		return "simulator"
	case Emulator:
		return "emulator"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Virtual reports whether devices of kind k can be erased and recreated.
func (k Kind) Virtual() bool {
	return k == Simulator || k == Emulator
}

// State is the connection state of a device.
type State int

const (
	Unknown State = iota
	Offline
	Booting
	Ready
	Locked
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Offline:
		return "offline"
	case Booting:
		return "booting"
	case Ready:
		return "ready"
	case Locked:
		return "locked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Platform names an operating system family.
type Platform string

const (
	Android     Platform = "android"
	IOS         Platform = "ios"
	TVOS        Platform = "tvos"
	WatchOS     Platform = "watchos"
	MacCatalyst Platform = "maccatalyst"
)

// Apple reports whether p is one of Apple's platforms.
func (p Platform) Apple() bool {
	switch p {
	case IOS, TVOS, WatchOS, MacCatalyst:
		return true
	}
	return false
}

// Device is one entry of an enumeration snapshot. Values are never modified
// after enumeration; a later enumeration returns new values.
type Device struct {
	// ID is the adb serial or the UDID.
	ID        string
	Name      string
	Platform  Platform
	OSVersion string
	// APILevel is the Android SDK level, 0 elsewhere.
	APILevel int
	// Arch is the primary ABI or CPU architecture, e.g. "arm64-v8a".
	Arch  string
	Kind  Kind
	State State
	// Companion is the ID of the device a wearable is paired with.
	Companion string
}

func (d *Device) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s", d.ID, d.Kind)
	if d.Name != "" {
		fmt.Fprintf(&b, " %q", d.Name)
	}
	if d.OSVersion != "" {
		fmt.Fprintf(&b, " %s %s", d.Platform, d.OSVersion)
	}
	if d.APILevel > 0 {
		fmt.Fprintf(&b, " API %d", d.APILevel)
	}
	if d.Arch != "" {
		fmt.Fprintf(&b, " %s", d.Arch)
	}
	fmt.Fprintf(&b, ", %s)", d.State)
	return b.String()
}

// CompareVersions compares dotted OS versions like "17.4" and "17.10.1".
// Versions that do not parse sort before those that do.
func CompareVersions(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

func canonical(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, ".", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return semver.Canonical("v" + strings.Join(parts, "."))
}
