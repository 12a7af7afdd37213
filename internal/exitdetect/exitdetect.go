// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package exitdetect finds the exit code of the app under test in free-form
// system log text.
package exitdetect

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go.chromium.org/devrun/errors"
)

// App identifies the app under test in log lines. Any non-empty field is a
// marker; a line must contain one of them.
type App struct {
	Name     string
	BundleID string
}

// Detector recognizes exit lines of one app on one kind of platform.
type Detector struct {
	markers []string
	// phrases capture the exit code as their first group, anchored at the
	// end of the line.
	phrases []*regexp.Regexp
}

var (
	abnormalExitRE = regexp.MustCompile(`Service exited with abnormal code: (-?\d+)\s*$`)
	catalystExitRE = regexp.MustCompile(`exited with exit code: (-?\d+)\s*$`)
	instrumentRE   = regexp.MustCompile(`^INSTRUMENTATION_CODE: (-?\d+)\s*$`)
)

func appMarkers(app App, bundlePrefix string) []string {
	var ms []string
	if app.BundleID != "" {
		ms = append(ms, bundlePrefix+app.BundleID)
	}
	if app.Name != "" {
		ms = append(ms, app.Name)
	}
	return ms
}

// ForApple returns a Detector for apps running on iOS, tvOS or watchOS
// simulators and devices.
func ForApple(app App) *Detector {
	return &Detector{markers: appMarkers(app, "UIKitApplication:"), phrases: []*regexp.Regexp{abnormalExitRE}}
}

// ForCatalyst returns a Detector for Mac Catalyst apps, whose exit lines are
// labelled with the application launchd job.
func ForCatalyst(app App) *Detector {
	return &Detector{
		markers: appMarkers(app, "application."),
		phrases: []*regexp.Regexp{abnormalExitRE, catalystExitRE},
	}
}

// ForInstrumentation returns a Detector for Android instrumentation output.
// Such output only concerns the instrumented app, so no marker is required.
func ForInstrumentation() *Detector {
	return &Detector{phrases: []*regexp.Regexp{instrumentRE}}
}

// Detect scans r and returns the exit code from the last matching line.
// found is false when no line matches.
func (d *Detector) Detect(r io.Reader) (code int, found bool, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if c, ok := d.match(sc.Text()); ok {
			code, found = c, true
		}
	}
	if err := sc.Err(); err != nil {
		return 0, false, errors.Wrap(err, "failed to scan log")
	}
	return code, found, nil
}

// DetectString is Detect over an in-memory log.
func (d *Detector) DetectString(log string) (code int, found bool) {
	code, found, _ = d.Detect(strings.NewReader(log))
	return code, found
}

func (d *Detector) match(line string) (int, bool) {
	if len(d.markers) > 0 && !containsAny(line, d.markers) {
		return 0, false
	}
	for _, re := range d.phrases {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		c, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return c, true
	}
	return 0, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
