// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runstats

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.chromium.org/devrun/testutil"
)

func TestWriteFile(t *testing.T) {
	s := New()
	s.SetExitCode("run", "ios", "SUCCESS", 0)
	s.SetAppExitCode(0)
	s.SetStageDurations(map[string]time.Duration{"install": 1500 * time.Millisecond})
	ctx := NewContext(context.Background(), s)
	CountRecovery(ctx, "install", "broken pipe")
	CountRecovery(ctx, "install", "broken pipe")
	s.CountTransition("Done")

	path := filepath.Join(testutil.TempDir(t), "metrics.prom")
	if err := s.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	got := testutil.MustReadFile(t, path)
	for _, want := range []string{
		`devrun_exit_code{classification="SUCCESS",platform="ios",variant="run"} 0`,
		`devrun_app_exit_code 0`,
		`devrun_stage_duration_seconds{stage="install"} 1.5`,
		`devrun_recoveries_total{condition="broken pipe",op="install"} 2`,
		`devrun_state_transitions_total{to="Done"} 1`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Metrics do not contain %q:\n%s", want, got)
		}
	}
}

func TestNoAppExitCode(t *testing.T) {
	s := New()
	path := filepath.Join(testutil.TempDir(t), "metrics.prom")
	if err := s.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, path); strings.Contains(got, "devrun_app_exit_code") {
		t.Errorf("Metrics contain an app exit code that was never set:\n%s", got)
	}
}

func TestCountRecoveryWithoutStats(t *testing.T) {
	CountRecovery(context.Background(), "install", "broken pipe")
}
