// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package timing

import "context"

type key int

const (
	logKey key = iota
	currentStageKey
)

// NewContext returns a context carrying l with its root as the current stage.
func NewContext(ctx context.Context, l *Log) context.Context {
	ctx = context.WithValue(ctx, logKey, l)
	return context.WithValue(ctx, currentStageKey, l.Root)
}

// FromContext returns the Log and current Stage stored in ctx, if any.
func FromContext(ctx context.Context) (*Log, *Stage, bool) {
	l, ok := ctx.Value(logKey).(*Log)
	if !ok {
		return nil, nil, false
	}
	s, ok := ctx.Value(currentStageKey).(*Stage)
	if !ok {
		return nil, nil, false
	}
	return l, s, true
}

// Start starts a stage named name under the current stage of ctx. Without a
// Log in ctx it returns ctx and a nil stage, whose End is a no-op.
//
//	ctx, st := timing.Start(ctx, "install")
//	defer st.End()
func Start(ctx context.Context, name string) (context.Context, *Stage) {
	_, s, ok := FromContext(ctx)
	if !ok {
		return ctx, nil
	}
	c := s.StartChild(name)
	if c == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, currentStageKey, c), c
}
