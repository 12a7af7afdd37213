// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package knownfail maps log lines to known failure causes.
//
// A database holds entries per stage (install, run, test). Classification
// scans a log once from top to bottom and returns the entry matching the
// first matching line.
package knownfail

import (
	"bufio"
	_ "embed"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/exitcode"
)

// Stage selects which entries apply to a log.
type Stage string

const (
	StageInstall Stage = "install"
	StageRun     Stage = "run"
	StageTest    Stage = "test"
)

// Entry is a known failure.
type Entry struct {
	Message string
	Link    string
	// Code is the suggested classification, or zero if none.
	Code exitcode.Code

	substr string         // lowercased
	re     *regexp.Regexp // used when substr is empty
}

func (e *Entry) matches(line, lower string) bool {
	if e.re != nil {
		return e.re.MatchString(line)
	}
	return strings.Contains(lower, e.substr)
}

// Failure converts e into a Failure, falling back to code when e suggests
// none.
func (e *Entry) Failure(code exitcode.Code) *exitcode.Failure {
	if e.Code != 0 {
		code = e.Code
	}
	return exitcode.New(code, "%s", e.Message).WithLink(e.Link)
}

// DB is a known-failure database. It is read-only once built.
type DB struct {
	stages map[Stage][]*Entry
}

type yamlEntry struct {
	Pattern string `yaml:"pattern"`
	Regexp  string `yaml:"regexp"`
	Message string `yaml:"message"`
	Link    string `yaml:"link"`
	Code    string `yaml:"code"`
}

//go:embed known_failures.yaml
var defaultYAML []byte

// Default returns the built-in database.
func Default() *DB {
	db, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return db
}

// Parse parses a YAML database.
func Parse(b []byte) (*DB, error) {
	var raw map[Stage][]yamlEntry
	if err := yaml.UnmarshalStrict(b, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse known failures")
	}
	db := &DB{stages: make(map[Stage][]*Entry)}
	for stage, ys := range raw {
		switch stage {
		case StageInstall, StageRun, StageTest:
		default:
			return nil, errors.Errorf("unknown stage %q", stage)
		}
		for i, y := range ys {
			e, err := y.entry()
			if err != nil {
				return nil, errors.Wrapf(err, "%s entry %d", stage, i)
			}
			db.stages[stage] = append(db.stages[stage], e)
		}
	}
	return db, nil
}

func (y *yamlEntry) entry() (*Entry, error) {
	e := &Entry{Message: y.Message, Link: y.Link}
	switch {
	case y.Pattern != "" && y.Regexp != "":
		return nil, errors.New("both pattern and regexp set")
	case y.Pattern != "":
		e.substr = strings.ToLower(y.Pattern)
	case y.Regexp != "":
		re, err := regexp.Compile(y.Regexp)
		if err != nil {
			return nil, errors.Wrap(err, "bad regexp")
		}
		e.re = re
	default:
		return nil, errors.New("neither pattern nor regexp set")
	}
	if y.Message == "" {
		return nil, errors.New("empty message")
	}
	if y.Code != "" {
		c, ok := exitcode.Parse(y.Code)
		if !ok {
			return nil, errors.Errorf("unknown code %q", y.Code)
		}
		e.Code = c
	}
	return e, nil
}

// Load reads the database at path and puts its entries in front of base's.
// A missing or empty file yields base unchanged.
func Load(path string, base *DB) (*DB, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) || (err == nil && len(strings.TrimSpace(string(b))) == 0) {
		return base, nil
	}
	if err != nil {
		return nil, err
	}
	db, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", path)
	}
	if base != nil {
		for stage, es := range base.stages {
			db.stages[stage] = append(db.stages[stage], es...)
		}
	}
	return db, nil
}

// Classify scans r for the first line matching an entry of stage.
func (db *DB) Classify(r io.Reader, stage Stage) (*Entry, bool, error) {
	entries := db.stages[stage]
	if len(entries) == 0 {
		return nil, false, nil
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		lower := strings.ToLower(line)
		for _, e := range entries {
			if e.matches(line, lower) {
				return e, true, nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, false, errors.Wrap(err, "failed to scan log")
	}
	return nil, false, nil
}

// ClassifyString is Classify over an in-memory log.
func (db *DB) ClassifyString(log string, stage Stage) (*Entry, bool) {
	e, ok, _ := db.Classify(strings.NewReader(log), stage)
	return e, ok
}

// ClassifyFile is Classify over the file at path. A missing file does not
// match.
func (db *DB) ClassifyFile(path string, stage Stage) (*Entry, bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	defer f.Close()
	return db.Classify(f, stage)
}
