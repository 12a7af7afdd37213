// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package listener receives the result document a test app reports while it
// runs, either over TCP or through a file the host can read directly.
package listener

import (
	"context"

	"go.chromium.org/devrun/errors"
)

// Listener is an endpoint opened before an app is launched.
type Listener interface {
	// Connected is closed when the app is first heard from.
	Connected() <-chan struct{}
	// Finish waits for the complete result document after the app has
	// exited and returns the host path it was stored at.
	Finish(ctx context.Context) (string, error)
	// Close releases the endpoint. It may be called more than once.
	Close() error
}

var (
	// ErrNotConnected is returned by Finish when the app never connected.
	ErrNotConnected = errors.New("app never connected to the result listener")
	// ErrConnectionLost is returned by Finish when the app disconnected
	// before sending a complete document.
	ErrConnectionLost = errors.New("result connection lost")
)
