// Copyright 2018 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"regexp"
	"testing"
)

func check(t *testing.T, err error, msg string, traceRegexp *regexp.Regexp) {
	t.Helper()
	if s := err.Error(); s != msg {
		t.Errorf("Error() = %q; want %q", s, msg)
	}
	if s := fmt.Sprintf("%v", err); s != msg {
		t.Errorf("%%v = %q; want %q", s, msg)
	}
	if tr := fmt.Sprintf("%+v", err); !traceRegexp.MatchString(tr) {
		t.Errorf("%%+v = %q; want match of %q", tr, traceRegexp)
	}
}

func TestNew(t *testing.T) {
	re := regexp.MustCompile(`^no device
	at go\.chromium\.org/devrun/errors\.TestNew \(errors_test.go:\d+\)`)
	check(t, New("no device"), "no device", re)
}

func TestErrorf(t *testing.T) {
	re := regexp.MustCompile(`^device abc offline
	at go\.chromium\.org/devrun/errors\.TestErrorf \(errors_test.go:\d+\)`)
	check(t, Errorf("device %s offline", "abc"), "device abc offline", re)
}

func TestWrap(t *testing.T) {
	re := regexp.MustCompile(`(?s)^install failed
	at go\.chromium\.org/devrun/errors\.TestWrap \(errors_test.go:\d+\)
.*
broken pipe
	at go\.chromium\.org/devrun/errors\.TestWrap \(errors_test.go:\d+\)`)
	check(t, Wrap(New("broken pipe"), "install failed"), "install failed: broken pipe", re)
}

func TestWrapForeignError(t *testing.T) {
	re := regexp.MustCompile(`(?s)^install failed
	at go\.chromium\.org/devrun/errors\.TestWrapForeignError \(errors_test.go:\d+\)
.*
broken pipe
	at \?\?\?$`)
	check(t, Wrap(stderrors.New("broken pipe"), "install failed"), "install failed: broken pipe", re)
}

func TestWrapNil(t *testing.T) {
	re := regexp.MustCompile(`^install failed
	at go\.chromium\.org/devrun/errors\.TestWrapNil \(errors_test.go:\d+\)`)
	check(t, Wrap(nil, "install failed"), "install failed", re)
}

func TestWrapf(t *testing.T) {
	err := Wrapf(os.ErrNotExist, "reading %s", "log")
	if s := err.Error(); s != "reading log: file does not exist" {
		t.Errorf("Error() = %q", s)
	}
}

type codeError struct{ code int }

func (e *codeError) Error() string { return fmt.Sprint("code ", e.code) }

func TestIsAs(t *testing.T) {
	err := Wrap(Wrap(os.ErrNotExist, "inner"), "outer")
	if !Is(err, os.ErrNotExist) {
		t.Error("Is did not find wrapped os.ErrNotExist")
	}

	err = Wrap(&codeError{78}, "install")
	var ce *codeError
	if !As(err, &ce) {
		t.Fatal("As did not find *codeError")
	}
	if ce.code != 78 {
		t.Errorf("code = %d; want 78", ce.code)
	}
}
