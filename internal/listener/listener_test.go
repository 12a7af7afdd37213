// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package listener

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/testutil"
)

const doc = `<?xml version="1.0" encoding="utf-8"?>
<test-run total="5" passed="3" failed="1" skipped="1"></test-run>
`

func dial(t *testing.T, port int) net.Conn {
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal("Dial failed: ", err)
	}
	return conn
}

func TestTCP(t *testing.T) {
	dst := filepath.Join(testutil.TempDir(t), "results.xml")
	l, err := ListenTCP(context.Background(), 0, dst)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	conn := dial(t, l.Port())
	if _, err := conn.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-l.Connected():
	case <-time.After(10 * time.Second):
		t.Fatal("Connected not signaled")
	}
	conn.Close()

	path, err := l.Finish(context.Background())
	if err != nil {
		t.Fatal("Finish failed: ", err)
	}
	if got := testutil.MustReadFile(t, path); got != doc {
		t.Errorf("Results = %q; want %q", got, doc)
	}
}

func TestTCPNeverConnected(t *testing.T) {
	l, err := ListenTCP(context.Background(), 0, filepath.Join(testutil.TempDir(t), "results.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Finish(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Finish returned %v; want %v", err, ErrNotConnected)
	}
}

func TestTCPIncomplete(t *testing.T) {
	l, err := ListenTCP(context.Background(), 0, filepath.Join(testutil.TempDir(t), "results.xml"))
	if err != nil {
		t.Fatal(err)
	}
	conn := dial(t, l.Port())
	defer conn.Close()
	conn.Write([]byte("<test-run"))
	<-l.Connected()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Finish(ctx); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Finish returned %v; want %v", err, ErrConnectionLost)
	}
}

func TestFile(t *testing.T) {
	dir := testutil.TempDir(t)
	src := filepath.Join(dir, "container", "results.xml")
	if err := os.MkdirAll(filepath.Dir(src), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}
	l, err := WatchFile(context.Background(), nil, src, filepath.Join(dir, "results.xml"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Stale results were not removed")
	}

	if err := os.WriteFile(src, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-l.Connected():
	case <-time.After(10 * time.Second):
		t.Fatal("Connected not signaled")
	}
	path, err := l.Finish(context.Background())
	if err != nil {
		t.Fatal("Finish failed: ", err)
	}
	if got := testutil.MustReadFile(t, path); got != doc {
		t.Errorf("Results = %q; want %q", got, doc)
	}
}

func TestFileNeverWritten(t *testing.T) {
	dir := testutil.TempDir(t)
	l, err := WatchFile(context.Background(), nil, filepath.Join(dir, "results.xml"), filepath.Join(dir, "out.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Finish(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Finish returned %v; want %v", err, ErrNotConnected)
	}
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		want Summary
	}{
		{"nunit", doc, Summary{Total: 5, Passed: 3, Failed: 1, Skipped: 1}},
		{"xunit", `<assemblies>
  <assembly total="4" passed="3" failed="1" skipped="0"><collection/></assembly>
  <assembly total="2" passed="2" failed="0" skipped="0"/>
</assemblies>`, Summary{Total: 6, Passed: 5, Failed: 1}},
		{"junit", `<testsuites tests="3" failures="1" errors="1"><testsuite tests="3"/></testsuites>`,
			Summary{Total: 3, Passed: 1, Failed: 2}},
	} {
		got, err := Parse(strings.NewReader(tc.doc))
		if err != nil {
			t.Errorf("%s: Parse failed: %v", tc.name, err)
			continue
		}
		if diff := cmp.Diff(*got, tc.want); diff != "" {
			t.Errorf("%s: Parse mismatch (-got +want):\n%s", tc.name, diff)
		}
	}
}

func TestParseTruncated(t *testing.T) {
	if _, err := Parse(strings.NewReader(`<test-run total="1"><test-case>`)); err == nil {
		t.Error("Parse accepted a truncated document")
	}
}
