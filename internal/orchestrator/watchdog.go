// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package orchestrator

import (
	"bytes"
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/xcontext"
)

var (
	errLaunchTimeout = errors.New("app did not start before the launch timeout")
	errRunTimeout    = errors.New("run timed out")
	errFinished      = errors.New("execution finished")
)

// watchdog composes the run timeout with the launch timeout. The launch
// timeout cancels the run only while the app has not been seen running.
type watchdog struct {
	cancel  xcontext.CancelFunc
	started chan struct{}
	once    sync.Once
}

func startWatchdog(ctx context.Context, clk clock.Clock, launchTimeout, runTimeout time.Duration) (context.Context, *watchdog) {
	var wctx context.Context
	var cancel xcontext.CancelFunc
	if runTimeout > 0 {
		wctx, cancel = xcontext.WithTimeout(ctx, clk, runTimeout, errRunTimeout)
	} else {
		wctx, cancel = xcontext.WithCancel(ctx)
	}
	w := &watchdog{cancel: cancel, started: make(chan struct{})}

	if launchTimeout > 0 && (runTimeout <= 0 || launchTimeout < runTimeout) {
		tm := clk.NewTimer(launchTimeout)
		go func() {
			defer tm.Stop()
			select {
			case <-tm.C():
				if !w.hasStarted() {
					cancel(errLaunchTimeout)
				}
			case <-w.started:
			case <-wctx.Done():
			}
		}()
	}
	return wctx, w
}

// markStarted records that execution began.
func (w *watchdog) markStarted() {
	w.once.Do(func() { close(w.started) })
}

func (w *watchdog) hasStarted() bool {
	select {
	case <-w.started:
		return true
	default:
		return false
	}
}

func (w *watchdog) stop() {
	w.cancel(errFinished)
}

// markerWriter closes seen when marker appears in the written stream.
type markerWriter struct {
	marker []byte
	seen   chan struct{}

	mu   sync.Mutex
	tail []byte
	done bool
}

func newMarkerWriter(marker string) *markerWriter {
	return &markerWriter{marker: []byte(marker), seen: make(chan struct{})}
}

func (m *markerWriter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return len(p), nil
	}
	buf := append(m.tail, p...)
	if bytes.Contains(buf, m.marker) {
		m.done = true
		m.tail = nil
		close(m.seen)
		return len(p), nil
	}
	if keep := len(m.marker) - 1; len(buf) > keep {
		buf = buf[len(buf)-keep:]
	}
	m.tail = append([]byte(nil), buf...)
	return len(p), nil
}
