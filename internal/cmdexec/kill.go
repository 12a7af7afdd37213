// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmdexec

import (
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// killTree kills the process group led by pid, then any descendant that moved
// to another group (device tools like to daemonize helpers).
func killTree(pid int) error {
	desc := descendants(int32(pid))
	err := unix.Kill(-pid, unix.SIGKILL)
	if err == unix.ESRCH {
		err = unix.Kill(pid, unix.SIGKILL)
	}
	for _, d := range desc {
		d.Kill()
	}
	if err == unix.ESRCH {
		return nil
	}
	return err
}

func descendants(pid int32) []*process.Process {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	var all []*process.Process
	children, _ := p.Children()
	for _, c := range children {
		all = append(all, c)
		all = append(all, descendants(c.Pid)...)
	}
	return all
}
