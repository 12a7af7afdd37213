// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package listener

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/logging"
)

// TCP accepts one connection and stores everything received on it.
type TCP struct {
	ln  net.Listener
	dst string

	connected chan struct{}
	once      sync.Once
	g         errgroup.Group

	mu   sync.Mutex
	conn net.Conn
}

// ListenTCP starts listening on port of all loopback interfaces, writing
// received bytes to dst. Port 0 picks a free port.
func ListenTCP(ctx context.Context, port int, dst string) (*TCP, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen for results")
	}
	f, err := os.Create(dst)
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "failed to create results file")
	}
	l := &TCP{ln: ln, dst: dst, connected: make(chan struct{})}
	logging.Debugf(ctx, "Listening for results on %v", ln.Addr())
	l.g.Go(func() error {
		defer f.Close()
		return l.serve(f)
	})
	return l, nil
}

// Port returns the port being listened on.
func (l *TCP) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *TCP) serve(f *os.File) error {
	conn, err := l.ln.Accept()
	if err != nil {
		return ErrNotConnected
	}
	l.ln.Close()
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer conn.Close()

	if _, err := io.Copy(f, &firstByte{r: conn, f: l.markConnected}); err != nil {
		return errors.Wrap(ErrConnectionLost, err.Error())
	}
	if !l.isConnected() {
		return ErrNotConnected
	}
	return nil
}

func (l *TCP) markConnected() {
	l.once.Do(func() { close(l.connected) })
}

func (l *TCP) isConnected() bool {
	select {
	case <-l.connected:
		return true
	default:
		return false
	}
}

// Connected implements Listener.
func (l *TCP) Connected() <-chan struct{} {
	return l.connected
}

// Finish implements Listener. An app that never connected fails at once;
// otherwise Finish waits for the app to close the connection.
func (l *TCP) Finish(ctx context.Context) (string, error) {
	if !l.isConnected() {
		l.Close()
	}
	done := make(chan error, 1)
	go func() { done <- l.g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
		return l.dst, nil
	case <-ctx.Done():
		l.Close()
		<-done
		return "", errors.Wrap(ErrConnectionLost, "results did not complete in time")
	}
}

// Close implements Listener.
func (l *TCP) Close() error {
	l.ln.Close()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
	}
	return nil
}

// firstByte calls f when the first byte is read.
type firstByte struct {
	r    io.Reader
	f    func()
	seen bool
}

func (fb *firstByte) Read(p []byte) (int, error) {
	n, err := fb.r.Read(p)
	if n > 0 && !fb.seen {
		fb.seen = true
		fb.f()
	}
	return n, err
}
