// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/poll"
)

const (
	logcatTag         = "devrun"
	markerWaitTimeout = 10 * time.Second
)

// Logcat streams the device log into a host file until stopped.
type Logcat struct {
	c    *Client
	path string
	f    *os.File
	proc cmdexec.Process
	done chan struct{} // closed when the stream ends on its own
}

// StartLogcat clears the device log buffer and starts streaming new lines
// to path.
func (c *Client) StartLogcat(ctx context.Context, path string) (*Logcat, error) {
	if _, err := c.run(ctx, c.Command("logcat", "-c")); err != nil {
		logging.Debugf(ctx, "Failed to clear logcat: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logcat file")
	}
	inv := c.Command("logcat", "-v", "threadtime").WithTimeout(0)
	inv.Stdout = f
	proc, err := c.runner.Start(ctx, inv)
	if err != nil {
		f.Close()
		return nil, err
	}
	logging.Debugf(ctx, "Streaming logcat of %s to %s", c.serial, path)
	l := &Logcat{c: c, path: path, f: f, proc: proc, done: make(chan struct{})}
	go func() {
		proc.Wait()
		close(l.done)
	}()
	return l, nil
}

// Path returns the host file receiving the log.
func (l *Logcat) Path() string {
	return l.path
}

// Stop writes an end marker to the device log, waits briefly for the
// marker to reach the host file so buffered lines are not lost, and stops
// streaming. It is safe to call more than once.
func (l *Logcat) Stop(ctx context.Context) error {
	if l.proc == nil {
		return nil
	}
	marker := "end-of-run-" + uuid.NewString()
	if _, err := l.c.run(ctx, l.c.Command("shell", "log", "-t", logcatTag, marker)); err != nil {
		logging.Debugf(ctx, "Failed to write logcat marker: %v", err)
	} else if err := poll.Poll(ctx, func(ctx context.Context) error {
		select {
		case <-l.done:
			return nil
		default:
		}
		b, err := os.ReadFile(l.path)
		if err != nil {
			return poll.Break(err)
		}
		if !bytes.Contains(b, []byte(marker)) {
			return errors.New("marker not seen yet")
		}
		return nil
	}, &poll.Options{Timeout: markerWaitTimeout, Clock: l.c.clk}); err != nil {
		logging.Debugf(ctx, "Logcat end marker not seen: %v", err)
	}

	l.proc.Stop()
	l.proc = nil
	return l.f.Close()
}
