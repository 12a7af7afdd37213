// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cmdexec runs external device tools (adb, xcrun, the launch tool)
// with a timeout and reports how they ended.
//
// A non-zero exit status is data, not an error: Run returns an error only
// when the tool cannot be started. A tool that outlives its timeout is killed
// together with its process group and the output captured so far is kept.
package cmdexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/xcontext"
	"go.chromium.org/devrun/shutil"
)

// TimedOutExitCode is the exit code reported for a tool killed on timeout.
const TimedOutExitCode = -1

// ErrTimedOut is the cancellation cause of a tool that exceeded its timeout.
var ErrTimedOut = errors.New("command timed out")

var errStopped = errors.New("command stopped")

// Invocation describes one execution of an external tool.
type Invocation struct {
	// Name is the tool path or a name looked up in $PATH.
	Name string
	// Args are passed to the tool in order.
	Args []string
	// Timeout kills the tool after it elapses. Zero means no timeout.
	Timeout time.Duration
	// Env holds KEY=VALUE entries added to the inherited environment.
	Env []string
	// Stdout and Stderr, if set, receive a copy of the streams as they
	// are produced.
	Stdout io.Writer
	Stderr io.Writer
}

// Command returns an Invocation of name with args.
func Command(name string, args ...string) *Invocation {
	return &Invocation{Name: name, Args: args}
}

// WithTimeout returns a copy of inv with its timeout set to d.
func (inv *Invocation) WithTimeout(d time.Duration) *Invocation {
	c := *inv
	c.Timeout = d
	return &c
}

// String returns inv as a shell command line.
func (inv *Invocation) String() string {
	return shutil.CommandLine(inv.Env, inv.Name, inv.Args...)
}

// Result is the outcome of an Invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	// TimedOut is set when the tool was killed because its timeout elapsed.
	TimedOut bool
	// Canceled is set when the tool was killed because the caller's
	// context was done.
	Canceled bool
}

// Success reports whether the tool ran to completion with status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.Canceled
}

// Output returns stdout followed by stderr.
func (r *Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" || r.Stdout[len(r.Stdout)-1] == '\n' {
		return r.Stdout + r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes invocations.
type Runner interface {
	// Run executes inv and waits for it to finish.
	Run(ctx context.Context, inv *Invocation) (*Result, error)
	// Start starts inv in the background.
	Start(ctx context.Context, inv *Invocation) (Process, error)
}

// Process is a tool started by Runner.Start.
type Process interface {
	// Wait waits for the tool to exit.
	Wait() *Result
	// Stop kills the tool if it is still running and waits for it.
	Stop() *Result
}

// ExecRunner is a Runner backed by os/exec.
type ExecRunner struct {
	clk       clock.Clock
	waitDelay time.Duration
}

// NewExecRunner returns an ExecRunner measuring time with clk.
// A nil clk means the wall clock.
func NewExecRunner(clk clock.Clock) *ExecRunner {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &ExecRunner{clk: clk, waitDelay: 5 * time.Second}
}

// Run executes inv and waits for it to finish.
func (r *ExecRunner) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	p, err := r.Start(ctx, inv)
	if err != nil {
		return nil, err
	}
	res := p.Wait()
	switch {
	case res.TimedOut:
		logging.Debugf(ctx, "%s killed after timeout of %v", inv.Name, inv.Timeout)
	case res.Canceled:
		logging.Debugf(ctx, "%s killed on cancellation", inv.Name)
	default:
		logging.Debugf(ctx, "%s exited with %d after %v", inv.Name, res.ExitCode, res.Elapsed.Round(time.Millisecond))
	}
	return res, nil
}

// Start starts inv in the background.
func (r *ExecRunner) Start(ctx context.Context, inv *Invocation) (Process, error) {
	var cctx context.Context
	var cancel xcontext.CancelFunc
	if inv.Timeout > 0 {
		cctx, cancel = xcontext.WithTimeout(ctx, r.clk, inv.Timeout, ErrTimedOut)
	} else {
		cctx, cancel = xcontext.WithCancel(ctx)
	}

	p := &execProcess{cancel: cancel, done: make(chan struct{})}
	cmd := exec.CommandContext(cctx, inv.Name, inv.Args...)
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = teeTo(&p.stdout, inv.Stdout)
	cmd.Stderr = teeTo(&p.stderr, inv.Stderr)
	cmd.Cancel = func() error { return killTree(cmd.Process.Pid) }
	cmd.WaitDelay = r.waitDelay
	p.cmd = cmd

	logging.Debug(ctx, "Running ", inv)
	p.start = r.clk.Now()
	if err := cmd.Start(); err != nil {
		cancel(context.Canceled)
		return nil, errors.Wrapf(err, "failed to start %s", inv.Name)
	}
	go func() {
		p.waitErr = cmd.Wait()
		p.elapsed = r.clk.Since(p.start)
		p.cause = cctx.Err()
		close(p.done)
	}()
	return p, nil
}

func teeTo(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

type execProcess struct {
	cmd    *exec.Cmd
	cancel xcontext.CancelFunc
	start  time.Time

	// Written by the wait goroutine before done is closed.
	stdout, stderr bytes.Buffer
	waitErr        error
	elapsed        time.Duration
	cause          error
	done           chan struct{}
}

func (p *execProcess) Wait() *Result {
	<-p.done
	p.cancel(context.Canceled)

	res := &Result{
		ExitCode: p.cmd.ProcessState.ExitCode(),
		Stdout:   p.stdout.String(),
		Stderr:   p.stderr.String(),
		Elapsed:  p.elapsed,
	}
	// A tool that exited on its own just before the deadline is not
	// reported as killed.
	if killed := !p.cmd.ProcessState.Exited(); killed {
		switch p.cause {
		case nil, errStopped:
		case ErrTimedOut:
			res.TimedOut = true
			res.ExitCode = TimedOutExitCode
		default:
			res.Canceled = true
		}
	}
	if p.waitErr != nil && !isExitOrDelay(p.waitErr) {
		res.Stderr += fmt.Sprintf("\n[devrun: wait failed: %v]", p.waitErr)
	}
	return res
}

func (p *execProcess) Stop() *Result {
	select {
	case <-p.done:
	default:
		p.cancel(errStopped)
	}
	return p.Wait()
}

func isExitOrDelay(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee) || errors.Is(err, exec.ErrWaitDelay)
}
