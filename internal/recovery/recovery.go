// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package recovery retries device tool invocations, but only for failures
// recognized by a pattern and only after running a matching recovery action.
//
// A Policy holds an ordered list of Conditions. After a failed invocation the
// first Condition that matches and has not been used yet runs its Recover
// action, device readiness is re-checked, and the invocation is repeated.
// Each Condition fires at most once per call, so a call makes at most
// len(Conditions)+1 attempts.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/cmdexec"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/runstats"
)

// Condition is one recoverable failure class.
type Condition struct {
	// Name describes the class in logs, e.g. "broken pipe".
	Name string
	// Match reports whether res shows this failure.
	Match func(res *cmdexec.Result) bool
	// Recover repairs the device or tool before the retry. It may be nil.
	Recover func(ctx context.Context) error
	// Adjust returns the invocation to retry with. Nil repeats inv as is.
	Adjust func(inv *cmdexec.Invocation) *cmdexec.Invocation
}

// Policy runs invocations with pattern-triggered recovery.
type Policy struct {
	// Op names the guarded operation, e.g. "install".
	Op     string
	Runner cmdexec.Runner
	// Conditions are tried in order.
	Conditions []*Condition
	// Ready is called before every retry. It may be nil.
	Ready func(ctx context.Context) error
	// Succeeded reports success-equivalent results. Nil means
	// cmdexec.Result.Success.
	Succeeded func(res *cmdexec.Result) bool
}

// Error reports an invocation that still failed after recovery.
type Error struct {
	Op string
	// Last is the result of the final attempt.
	Last *cmdexec.Result
	// Attempts counts invocations made.
	Attempts int
	// Recovered lists the names of conditions that fired.
	Recovered []string
	cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed after %d attempt(s)", e.Op, e.Attempts)
	if len(e.Recovered) > 0 {
		fmt.Fprintf(&b, " (recovered from %s)", strings.Join(e.Recovered, ", "))
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	} else if e.Last != nil {
		switch {
		case e.Last.TimedOut:
			b.WriteString(": timed out")
		default:
			fmt.Fprintf(&b, ": exit code %d", e.Last.ExitCode)
		}
		if out := lastLine(e.Last.Output()); out != "" {
			fmt.Fprintf(&b, ": %s", out)
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Run executes inv, recovering as the policy allows. It returns the result
// of the last attempt; the error is non-nil unless that result succeeded.
func (p *Policy) Run(ctx context.Context, inv *cmdexec.Invocation) (*cmdexec.Result, error) {
	succeeded := p.Succeeded
	if succeeded == nil {
		succeeded = (*cmdexec.Result).Success
	}
	used := make([]bool, len(p.Conditions))
	fail := &Error{Op: p.Op}

	for {
		res, err := p.Runner.Run(ctx, inv)
		fail.Attempts++
		if err != nil {
			fail.cause = err
			return nil, fail
		}
		fail.Last = res
		if succeeded(res) {
			return res, nil
		}
		if ctx.Err() != nil {
			fail.cause = ctx.Err()
			return res, fail
		}

		i := p.next(res, used)
		if i < 0 {
			return res, fail
		}
		used[i] = true
		c := p.Conditions[i]
		fail.Recovered = append(fail.Recovered, c.Name)
		logging.Infof(ctx, "%s failed with %s; recovering", p.Op, c.Name)
		runstats.CountRecovery(ctx, p.Op, c.Name)

		if c.Recover != nil {
			if err := c.Recover(ctx); err != nil {
				fail.cause = errors.Wrapf(err, "recovery from %s failed", c.Name)
				return res, fail
			}
		}
		if p.Ready != nil {
			if err := p.Ready(ctx); err != nil {
				fail.cause = errors.Wrap(err, "device not ready after recovery")
				return res, fail
			}
		}
		if c.Adjust != nil {
			inv = c.Adjust(inv)
		}
	}
}

func (p *Policy) next(res *cmdexec.Result, used []bool) int {
	for i, c := range p.Conditions {
		if !used[i] && c.Match(res) {
			return i
		}
	}
	return -1
}

// OutputContains returns a matcher for results whose output contains any of
// subs, ignoring case.
func OutputContains(subs ...string) func(res *cmdexec.Result) bool {
	return func(res *cmdexec.Result) bool {
		out := strings.ToLower(res.Output())
		for _, s := range subs {
			if strings.Contains(out, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
}

// ScaleTimeout returns an Adjust function multiplying the timeout by f.
func ScaleTimeout(f float64) func(inv *cmdexec.Invocation) *cmdexec.Invocation {
	return func(inv *cmdexec.Invocation) *cmdexec.Invocation {
		return inv.WithTimeout(time.Duration(float64(inv.Timeout) * f))
	}
}
