// Copyright 2017 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package timing records how long each stage of a device run takes.
package timing

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Log contains nested timing information.
type Log struct {
	// Root contains all stages as its descendants. Its timestamps are unused.
	Root *Stage
}

// NewLog returns a new Log whose stages read time from clk.
// A nil clk means the wall clock.
func NewLog(clk clock.Clock) *Log {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Log{Root: &Stage{clk: clk}}
}

// StartTop starts and returns a new top-level stage.
func (l *Log) StartTop(name string) *Stage {
	return l.Root.StartChild(name)
}

// Empty returns true if l doesn't contain any stages.
func (l *Log) Empty() bool {
	l.Root.mu.Lock()
	defer l.Root.mu.Unlock()
	return len(l.Root.Children) == 0
}

// TopDurations returns the elapsed time of every top-level stage keyed by
// name. Stages still running are measured up to now.
func (l *Log) TopDurations() map[string]time.Duration {
	l.Root.mu.Lock()
	children := append([]*Stage(nil), l.Root.Children...)
	l.Root.mu.Unlock()

	ds := make(map[string]time.Duration, len(children))
	for _, c := range children {
		ds[c.Name] += c.elapsed()
	}
	return ds
}

// WritePretty writes the log to w as a compact, human-readable JSON array.
// Each stage is an array of its duration in seconds, its name and an
// optional array of children:
//
//	[[4.000, "run", [
//	         [1.000, "select"],
//	         [3.000, "install"]]],
//	 [0.531, "cleanup"]]
func (l *Log) WritePretty(w io.Writer) error {
	l.Root.mu.Lock()
	defer l.Root.mu.Unlock()

	bw := bufio.NewWriter(w)
	io.WriteString(bw, "[")
	for i, s := range l.Root.Children {
		var indent string
		if i > 0 {
			indent = " "
		}
		if err := s.writePretty(bw, indent, " ", i == len(l.Root.Children)-1); err != nil {
			return err
		}
	}
	io.WriteString(bw, "]\n")
	return bw.Flush()
}

type jsonLog struct {
	Stages []*Stage `json:"stages"`
}

// MarshalJSON marshals Log as JSON.
func (l *Log) MarshalJSON() ([]byte, error) {
	l.Root.mu.Lock()
	defer l.Root.mu.Unlock()
	return json.Marshal(&jsonLog{Stages: l.Root.Children})
}

var _ json.Marshaler = (*Log)(nil)

// Stage is a discrete unit of work that is being timed.
type Stage struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Children  []*Stage  `json:"children,omitempty"`

	clk clock.Clock
	mu  sync.Mutex // protects EndTime and Children
}

// StartChild creates and returns a new named stage as a child of s.
// It returns nil if s has already ended.
func (s *Stage) StartChild(name string) *Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.EndTime.IsZero() {
		return nil
	}
	c := &Stage{Name: name, StartTime: s.clk.Now(), clk: s.clk}
	s.Children = append(s.Children, c)
	return c
}

// End ends the stage and any children still running. It is safe to call on
// a nil stage.
func (s *Stage) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.EndTime.IsZero() {
		return
	}
	for _, c := range s.Children {
		c.End()
	}
	s.EndTime = s.clk.Now()
}

func (s *Stage) elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Stage) elapsedLocked() time.Duration {
	if s.EndTime.IsZero() {
		return s.clk.Now().Sub(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// writePretty writes s and its children to w as a JSON array. The first line
// is indented by initialIndent and following lines by followIndent. Unless
// last is true a trailing comma and newline are appended.
func (s *Stage) writePretty(w *bufio.Writer, initialIndent, followIndent string, last bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mn, err := json.Marshal(&s.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s[%0.3f, %s", initialIndent, s.elapsedLocked().Seconds(), mn)

	if len(s.Children) > 0 {
		io.WriteString(w, ", [\n")
		ci := followIndent + strings.Repeat(" ", 8)
		for i, c := range s.Children {
			if err := c.writePretty(w, ci, ci, i == len(s.Children)-1); err != nil {
				return err
			}
		}
		io.WriteString(w, "]")
	}
	io.WriteString(w, "]")
	if !last {
		io.WriteString(w, ",\n")
	}
	return nil
}
