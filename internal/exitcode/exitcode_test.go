// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package exitcode

import (
	"testing"

	"go.chromium.org/devrun/errors"
)

func TestString(t *testing.T) {
	for _, tc := range []struct {
		c    Code
		want string
	}{
		{Success, "SUCCESS"},
		{DeviceNotFound, "DEVICE_NOT_FOUND"},
		{PackageInstallationFailure, "PACKAGE_INSTALLATION_FAILURE"},
		{Code(42), "EXIT_CODE_42"},
	} {
		if got := tc.c.String(); got != tc.want {
			t.Errorf("Code(%d).String() = %q; want %q", int(tc.c), got, tc.want)
		}
	}
}

func TestParse(t *testing.T) {
	if c, ok := Parse("TIMED_OUT"); !ok || c != TimedOut {
		t.Errorf("Parse(TIMED_OUT) = %v, %v; want %v, true", c, ok, TimedOut)
	}
	if _, ok := Parse("NOPE"); ok {
		t.Error("Parse(NOPE) succeeded")
	}
}

func TestOf(t *testing.T) {
	if c := Of(nil); c != Success {
		t.Errorf("Of(nil) = %v; want SUCCESS", c)
	}
	if c := Of(errors.New("boom")); c != GeneralFailure {
		t.Errorf("Of(plain) = %v; want GENERAL_FAILURE", c)
	}
	f := Wrap(errors.New("exit status 1"), PackageInstallationFailure, "install failed")
	if c := Of(errors.Wrap(f, "run")); c != PackageInstallationFailure {
		t.Errorf("Of(wrapped failure) = %v; want PACKAGE_INSTALLATION_FAILURE", c)
	}
}

func TestFailureError(t *testing.T) {
	f := New(DeviceNotFound, "no device matched %s", "iOS 17").WithLink("https://example.com/devices")
	const want = "DEVICE_NOT_FOUND: no device matched iOS 17"
	if got := f.Error(); got != want {
		t.Errorf("Error() = %q; want %q", got, want)
	}
	if f.Link != "https://example.com/devices" {
		t.Errorf("Link = %q", f.Link)
	}
}
