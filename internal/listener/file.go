// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package listener

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/poll"
)

const filePollInterval = 500 * time.Millisecond

// File watches a result file the app writes somewhere the host can read,
// such as a simulator's data container, and copies it once the app exits.
type File struct {
	src, dst string

	connected chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// WatchFile starts watching src. Any stale copy of src is removed first.
func WatchFile(ctx context.Context, clk clock.Clock, src, dst string) (*File, error) {
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to remove stale results")
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &File{src: src, dst: dst, connected: make(chan struct{}), cancel: cancel, done: make(chan struct{})}
	logging.Debugf(ctx, "Watching %s for results", src)
	go func() {
		defer close(l.done)
		if err := poll.Poll(wctx, func(ctx context.Context) error {
			fi, err := os.Stat(src)
			if err != nil || fi.Size() == 0 {
				return errors.New("no results yet")
			}
			return nil
		}, &poll.Options{Interval: filePollInterval, Clock: clk}); err == nil {
			close(l.connected)
		}
	}()
	return l, nil
}

// Connected implements Listener.
func (l *File) Connected() <-chan struct{} {
	return l.connected
}

// Finish implements Listener.
func (l *File) Finish(ctx context.Context) (string, error) {
	l.Close()
	in, err := os.Open(l.src)
	if os.IsNotExist(err) {
		return "", ErrNotConnected
	} else if err != nil {
		return "", errors.Wrap(err, "failed to open results")
	}
	defer in.Close()
	out, err := os.Create(l.dst)
	if err != nil {
		return "", errors.Wrap(err, "failed to create results file")
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return "", errors.Wrap(err, "failed to copy results")
	}
	return l.dst, nil
}

// Close implements Listener.
func (l *File) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		<-l.done
	})
	return nil
}
