// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const signalChannelSize = 3 // capacity of channel used to intercept signals

var selfName = filepath.Base(os.Args[0])

// InstallSignalHandler installs a handler for SIGINT and SIGTERM. The first
// signal calls callback, which should cancel the work in progress so that
// cleanup can run. A second signal gives up: child processes are
// terminated, the terminal state is restored and the process exits with
// status. out is the output stream to write messages to (typically stderr).
func InstallSignalHandler(out io.Writer, status int, callback func(sig os.Signal)) {
	var st *term.State
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		var err error
		if st, err = term.GetState(fd); err != nil {
			fmt.Fprintf(out, "%s: Failed to get terminal state: %v\n", selfName, err)
		}
	}

	ch := make(chan os.Signal, signalChannelSize)
	go func() {
		sig := <-ch
		fmt.Fprintf(out, "\n%s: Caught %v signal; cleaning up (repeat to exit now)\n", selfName, sig)
		callback(sig)

		sig = <-ch
		fmt.Fprintf(out, "\n%s: Caught %v signal; exiting\n", selfName, sig)
		if sig == unix.SIGTERM {
			dumpGoroutines(out)
		}
		terminateChildren(out)
		if st != nil {
			term.Restore(fd, st)
		}
		os.Exit(status)
	}()
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
}

func dumpGoroutines(out io.Writer) {
	// SIGTERM is often sent by the parent process on timeout.
	fmt.Fprintf(out, "\n%s: Dumping all goroutines...\n\n", selfName)
	if p := pprof.Lookup("goroutine"); p != nil {
		p.WriteTo(out, 2)
	}
	fmt.Fprintf(out, "\n%s: Finished dumping goroutines\n", selfName)
}

// terminateChildren sends SIGTERM to direct children such as a launch tool
// or a log streamer that would otherwise outlive us.
func terminateChildren(out io.Writer) {
	procs, err := process.Processes()
	if err != nil {
		fmt.Fprintf(out, "Failed to terminate subprocesses: %v\n", err)
		return
	}

	selfPid := int32(os.Getpid())

	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		if ppid == selfPid {
			proc.Terminate()
		}
	}
}
