// Copyright 2017 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logcapture extracts the part of a growing log file written while
// the app under test ran.
package logcapture

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/logging"
)

// DefaultSlack is how many bytes past the size observed at Stop are copied,
// to keep lines that were being written while the window closed.
const DefaultSlack = 1024

// Capture copies the window of a source log between Start and Stop to a
// destination file. The source is only ever opened for reading.
type Capture struct {
	src, dst string
	entire   bool
	slack    int64

	mu      sync.Mutex
	started bool
	start   int64  // offset of the next byte to copy
	inode   uint64 // inode of src at start, 0 if unknown
	copied  bool   // a Stop found the source
}

// New returns a Capture of src into dst. If entire is true the whole source
// is copied on Stop regardless of Start.
func New(src, dst string, entire bool) *Capture {
	return &Capture{src: src, dst: dst, entire: entire, slack: DefaultSlack}
}

// SetSlack overrides DefaultSlack.
func (c *Capture) SetSlack(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slack = n
}

// Dest returns the destination path.
func (c *Capture) Dest() string {
	return c.dst
}

// Start records the current end of the source. A missing source starts at
// offset 0.
func (c *Capture) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.started = true
	if c.entire {
		return
	}
	c.start, c.inode = sizeOf(c.src)
	logging.Debugf(ctx, "Capturing %s from offset %d", c.src, c.start)
}

// Stop copies the window to the destination. Calling Stop again appends only
// what was written to the source since the previous Stop. Until the source
// exists the destination holds a note saying so, which the first copy
// replaces.
func (c *Capture) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return errors.New("capture was not started")
	}
	first := !c.copied

	f, err := os.Open(c.src)
	if os.IsNotExist(err) {
		if !first {
			return nil
		}
		return os.WriteFile(c.dst, []byte(fmt.Sprintf("No log was found at %s\n", c.src)), 0644)
	} else if err != nil {
		return errors.Wrapf(err, "failed to open %s", c.src)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	end := fi.Size()

	var from, limit int64
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch {
	case c.entire:
		from, limit = 0, -1
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	case end < c.start || (c.inode != 0 && inodeOf(fi) != c.inode):
		logging.Infof(ctx, "%s is shorter than at start (now %d, start %d), copying all instead of the window", c.src, end, c.start)
		from, limit = 0, -1
		if first {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
	default:
		from, limit = c.start, end-c.start+c.slack
		if first {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
	}

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return errors.Wrapf(err, "failed to seek %s", c.src)
	}
	df, err := os.OpenFile(c.dst, flags, 0644)
	if err != nil {
		return err
	}
	defer df.Close()

	var n int64
	if limit < 0 {
		n, err = io.Copy(df, f)
	} else {
		n, err = io.CopyN(df, f, limit)
		if err == io.EOF {
			err = nil
		}
	}
	if err != nil {
		return errors.Wrapf(err, "failed to copy %s", c.src)
	}
	c.start = from + n
	c.inode = inodeOf(fi)
	c.copied = true
	logging.Debugf(ctx, "Captured %d bytes of %s into %s", n, c.src, c.dst)
	return nil
}

func sizeOf(path string) (int64, uint64) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0
	}
	return fi.Size(), inodeOf(fi)
}

func inodeOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
