// Copyright 2017 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package crash collects crash reports the host writes for apps under test.
package crash

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/devrun/errors"
)

const (
	// IPSExt is the extension of JSON crash reports.
	IPSExt = ".ips"
	// CrashExt is the extension of legacy text crash reports.
	CrashExt = ".crash"
)

// copyFile creates a new file at dst containing the contents of the file at src.
func copyFile(dst, src string) error {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sf.Close()

	df, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer df.Close()

	_, err = io.Copy(df, sf)
	return err
}

// GetCrashes returns the paths of all crash reports in dirs.
// Nonexistent directories are skipped.
func GetCrashes(dirs ...string) ([]string, error) {
	var crashFiles []string
	for _, dir := range dirs {
		df, err := os.Open(dir)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}
		files, err := df.Readdirnames(-1)
		df.Close()
		if err != nil {
			return nil, err
		}

		for _, fn := range files {
			if ext := filepath.Ext(fn); ext == IPSExt || ext == CrashExt {
				crashFiles = append(crashFiles, filepath.Join(dir, fn))
			}
		}
	}
	return crashFiles, nil
}

// Snapshot lists the crash reports present before a run so that Collect
// copies only those written during it.
type Snapshot struct {
	dirs []string
	old  map[string]struct{}
}

// NewSnapshot records the crash reports currently in dirs.
func NewSnapshot(dirs ...string) (*Snapshot, error) {
	paths, err := GetCrashes(dirs...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list crash reports")
	}
	s := &Snapshot{dirs: dirs, old: make(map[string]struct{})}
	for _, p := range paths {
		s.old[p] = struct{}{}
	}
	return s, nil
}

// Collect copies new reports whose file name starts with one of the
// process names into dstDir. At most maxPerProc reports are copied per
// process if maxPerProc is positive. The returned warnings map contains
// non-fatal errors keyed by report path.
func (s *Snapshot) Collect(dstDir string, procs []string, maxPerProc int) (copied []string, warnings map[string]error, err error) {
	paths, err := GetCrashes(s.dirs...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list crash reports")
	}
	warnings = make(map[string]error)
	count := make(map[string]int)
	for _, sp := range paths {
		if _, ok := s.old[sp]; ok {
			continue
		}
		proc, ok := owner(filepath.Base(sp), procs)
		if !ok {
			continue
		}
		if maxPerProc > 0 && count[proc] == maxPerProc {
			warnings[sp] = errors.New("skipping; too many files")
			continue
		}
		if err := os.MkdirAll(dstDir, 0755); err != nil {
			return copied, warnings, err
		}
		dst := filepath.Join(dstDir, filepath.Base(sp))
		if err := copyFile(dst, sp); err != nil {
			warnings[sp] = err
			continue
		}
		count[proc]++
		copied = append(copied, dst)
	}
	return copied, warnings, nil
}

// owner returns the process a report named fn belongs to. Reports are named
// like "MyApp-2024-05-01-101010.ips".
func owner(fn string, procs []string) (string, bool) {
	for _, p := range procs {
		if p != "" && (strings.HasPrefix(fn, p+"-") || strings.HasPrefix(fn, p+"_")) {
			return p, true
		}
	}
	return "", false
}
