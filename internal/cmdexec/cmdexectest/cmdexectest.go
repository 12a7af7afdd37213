// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cmdexectest provides a scripted cmdexec.Runner for unit tests.
//
// Rules are matched in registration order against the tool name and its
// arguments; the first matching rule answers. Every invocation is recorded
// so tests can count how often a tool was asked to do something.
package cmdexectest

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.chromium.org/devrun/internal/cmdexec"
)

// Handler answers an invocation. ctx is cancelled when the invocation's
// timeout elapses or the caller gives up.
type Handler func(ctx context.Context, inv *cmdexec.Invocation) *cmdexec.Result

// Matcher selects invocations.
type Matcher func(inv *cmdexec.Invocation) bool

// Args matches invocations whose arguments contain words as a contiguous
// run, e.g. Args("shell", "getprop").
func Args(words ...string) Matcher {
	return func(inv *cmdexec.Invocation) bool {
		return containsRun(inv.Args, words)
	}
}

// Tool matches invocations of a tool whose path ends with name and whose
// arguments contain words as a contiguous run.
func Tool(name string, words ...string) Matcher {
	return func(inv *cmdexec.Invocation) bool {
		return strings.HasSuffix(inv.Name, name) && containsRun(inv.Args, words)
	}
}

func containsRun(args, words []string) bool {
	if len(words) == 0 {
		return true
	}
	for i := 0; i+len(words) <= len(args); i++ {
		ok := true
		for j, w := range words {
			if args[i+j] != w {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

type rule struct {
	match Matcher
	h     Handler
}

// Runner is a scripted cmdexec.Runner. Unmatched invocations succeed with
// empty output.
type Runner struct {
	mu    sync.Mutex
	rules []rule
	calls []*cmdexec.Invocation
}

var _ cmdexec.Runner = (*Runner)(nil)

// NewRunner returns an empty Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Handle registers h for invocations selected by m.
func (r *Runner) Handle(m Matcher, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{m, h})
}

// Respond registers a sequence of canned results for invocations selected
// by m. Each call consumes the next result; the last one repeats.
func (r *Runner) Respond(m Matcher, results ...*cmdexec.Result) {
	var mu sync.Mutex
	i := 0
	r.Handle(m, func(ctx context.Context, inv *cmdexec.Invocation) *cmdexec.Result {
		mu.Lock()
		defer mu.Unlock()
		res := *results[i]
		if i < len(results)-1 {
			i++
		}
		return &res
	})
}

// Hang registers a handler that blocks until the invocation is cancelled,
// like a tool that never returns.
func (r *Runner) Hang(m Matcher) {
	r.Handle(m, func(ctx context.Context, inv *cmdexec.Invocation) *cmdexec.Result {
		<-ctx.Done()
		return &cmdexec.Result{}
	})
}

// Calls returns every invocation received so far.
func (r *Runner) Calls() []*cmdexec.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*cmdexec.Invocation(nil), r.calls...)
}

// Count returns the number of invocations selected by m.
func (r *Runner) Count(m Matcher) int {
	n := 0
	for _, c := range r.Calls() {
		if m(c) {
			n++
		}
	}
	return n
}

// CommandLines returns every invocation as "name arg arg...", for diffs.
func (r *Runner) CommandLines() []string {
	var lines []string
	for _, c := range r.Calls() {
		lines = append(lines, strings.Join(append([]string{c.Name}, c.Args...), " "))
	}
	return lines
}

func (r *Runner) handler(inv *cmdexec.Invocation) Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, inv)
	for _, ru := range r.rules {
		if ru.match(inv) {
			return ru.h
		}
	}
	return func(context.Context, *cmdexec.Invocation) *cmdexec.Result { return &cmdexec.Result{} }
}

// Run implements cmdexec.Runner.
func (r *Runner) Run(ctx context.Context, inv *cmdexec.Invocation) (*cmdexec.Result, error) {
	p, err := r.Start(ctx, inv)
	if err != nil {
		return nil, err
	}
	return p.Wait(), nil
}

// Start implements cmdexec.Runner. The handler runs in the background;
// Stop cancels its context.
func (r *Runner) Start(ctx context.Context, inv *cmdexec.Invocation) (cmdexec.Process, error) {
	h := r.handler(inv)

	cctx, cancel := context.WithCancel(ctx)
	timedOut := make(chan struct{})
	var tm *time.Timer
	if inv.Timeout > 0 {
		tm = time.AfterFunc(inv.Timeout, func() {
			close(timedOut)
			cancel()
		})
	}
	p := &process{cancel: cancel, done: make(chan struct{})}
	go func() {
		start := time.Now()
		res := h(cctx, inv)
		if tm != nil {
			tm.Stop()
		}
		if res == nil {
			res = &cmdexec.Result{}
		}
		if inv.Stdout != nil && res.Stdout != "" {
			inv.Stdout.Write([]byte(res.Stdout))
		}
		select {
		case <-timedOut:
			res.TimedOut = true
			res.ExitCode = cmdexec.TimedOutExitCode
		default:
			if ctx.Err() != nil {
				res.Canceled = true
			}
		}
		if res.Elapsed == 0 {
			res.Elapsed = time.Since(start)
		}
		p.res = res
		close(p.done)
	}()
	return p, nil
}

type process struct {
	cancel context.CancelFunc
	res    *cmdexec.Result
	done   chan struct{}
}

func (p *process) Wait() *cmdexec.Result {
	<-p.done
	p.cancel()
	return p.res
}

func (p *process) Stop() *cmdexec.Result {
	p.cancel()
	return p.Wait()
}
