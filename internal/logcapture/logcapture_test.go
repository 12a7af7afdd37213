// Copyright 2017 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logcapture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.chromium.org/devrun/testutil"
)

func setUp(t *testing.T, initial string) (src, dst string) {
	t.Helper()
	dir := testutil.TempDir(t)
	src = filepath.Join(dir, "system.log")
	dst = filepath.Join(dir, "out", "window.log")
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		t.Fatal(err)
	}
	if initial != "" {
		if err := os.WriteFile(src, []byte(initial), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return src, dst
}

func TestWindowExact(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, "before launch\n")

	c := New(src, dst, false)
	c.Start(ctx)
	if err := testutil.AppendToFile(src, "during run 1\nduring run 2\n"); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal("Stop failed: ", err)
	}
	if got, want := testutil.MustReadFile(t, dst), "during run 1\nduring run 2\n"; got != want {
		t.Errorf("Window = %q; want %q", got, want)
	}
}

func TestWindowBoundedBySlack(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, "x\n")

	c := New(src, dst, false)
	c.Start(ctx)
	payload := strings.Repeat("y", 4000)
	if err := testutil.AppendToFile(src, payload); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	got := testutil.MustReadFile(t, dst)
	if int64(len(got)) > int64(len(payload))+DefaultSlack {
		t.Errorf("Window has %d bytes; want at most %d", len(got), len(payload)+DefaultSlack)
	}
	if got != payload {
		t.Errorf("Window has %d bytes; want exactly the %d appended", len(got), len(payload))
	}
}

func TestRestopAppendsOnlyNewBytes(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, "old\n")

	c := New(src, dst, false)
	c.Start(ctx)
	testutil.AppendToFile(src, "first\n")
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, dst); got != "first\n" {
		t.Errorf("After idle re-stop: %q; want %q", got, "first\n")
	}
	testutil.AppendToFile(src, "second\n")
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, dst); got != "first\nsecond\n" {
		t.Errorf("After third stop: %q; want %q", got, "first\nsecond\n")
	}
}

func TestShrunkSourceCopiesAll(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, strings.Repeat("old line\n", 100))

	c := New(src, dst, false)
	c.Start(ctx)
	if err := os.WriteFile(src, []byte("rotated\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, dst); got != "rotated\n" {
		t.Errorf("Window = %q; want whole shrunk file", got)
	}
}

func TestReplacedSourceCopiesAll(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, "a\n")

	c := New(src, dst, false)
	c.Start(ctx)
	// Same size, different file.
	tmp := src + ".new"
	if err := os.WriteFile(tmp, []byte("b\nnew content\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, src); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, dst); got != "b\nnew content\n" {
		t.Errorf("Window = %q; want whole replacement file", got)
	}
}

func TestMissingSource(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, "")

	c := New(src, dst, false)
	c.Start(ctx)
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, dst); !strings.Contains(got, "No log was found at "+src) {
		t.Errorf("Placeholder = %q", got)
	}
}

func TestSourceCreatedAfterFirstStop(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, "")

	c := New(src, dst, false)
	c.Start(ctx)
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("late\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, dst); got != "late\n" {
		t.Errorf("Window = %q; want %q", got, "late\n")
	}
}

func TestSourceCreatedAfterStart(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, "")

	c := New(src, dst, false)
	c.Start(ctx)
	if err := os.WriteFile(src, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, dst); got != "hello\n" {
		t.Errorf("Window = %q; want %q", got, "hello\n")
	}
}

func TestEntireFile(t *testing.T) {
	ctx := context.Background()
	src, dst := setUp(t, "before\n")

	c := New(src, dst, true)
	c.Start(ctx)
	testutil.AppendToFile(src, "after\n")
	for i := 0; i < 2; i++ {
		if err := c.Stop(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if got := testutil.MustReadFile(t, dst); got != "before\nafter\n" {
		t.Errorf("Copy = %q; want whole file once", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	src, dst := setUp(t, "x")
	if err := New(src, dst, false).Stop(context.Background()); err == nil {
		t.Error("Stop without Start succeeded")
	}
}
