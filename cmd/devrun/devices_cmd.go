// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
)

// devicesCmd implements subcommands.Command to list devices.
type devicesCmd struct {
	env    *cliEnv
	json   bool // marshal devices to JSON instead of one line each
	target targetFlags
}

var _ = subcommands.Command(&devicesCmd{})

func newDevicesCmd(e *cliEnv) *devicesCmd {
	return &devicesCmd{env: e}
}

func (*devicesCmd) Name() string     { return "devices" }
func (*devicesCmd) Synopsis() string { return "list devices" }
func (*devicesCmd) Usage() string {
	return `Usage: devices [flag]...

Description:
    Lists the devices of a platform that pass the target flags, in the order
    a run would prefer them.

Flag:
`
}

func (d *devicesCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.json, "json", false, "print full device details as JSON")
	d.target.SetFlags(f)
	// Listing shows everything unless asked not to.
	f.Lookup("allow-locked").DefValue = "true"
	d.target.filter.AllowLocked = true
}

func (d *devicesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := d.env.loadConfig(ctx)
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitStatus(exitcode.Of(err))
	}
	filter, err := d.target.Filter()
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitStatus(exitcode.Of(err))
	}
	l, err := d.env.newLister(cfg, filter.Platform)
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitStatus(exitcode.Of(err))
	}
	all, err := l.List(ctx)
	if err != nil {
		logging.Info(ctx, "Failed to list devices: ", err)
		return subcommands.ExitStatus(exitcode.Of(err))
	}
	devs := preferred(device.Apply(all, &filter))

	if d.json {
		enc := json.NewEncoder(d.env.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(devs); err != nil {
			logging.Info(ctx, "Failed to write devices: ", err)
			return subcommands.ExitFailure
		}
	} else {
		for i := range devs {
			fmt.Fprintln(d.env.stdout, &devs[i])
		}
	}
	if len(devs) == 0 {
		return subcommands.ExitStatus(exitcode.DeviceNotFound)
	}
	return subcommands.ExitSuccess
}

// preferred orders devs the way device.SelectOne ranks them.
func preferred(devs []device.Device) []device.Device {
	var out []device.Device
	rest := devs
	for len(rest) > 0 {
		best, err := device.SelectOne(context.Background(), rest)
		if err != nil {
			break
		}
		out = append(out, best)
		var next []device.Device
		removed := false
		for _, d := range rest {
			if !removed && d.ID == best.ID {
				removed = true
				continue
			}
			next = append(next, d)
		}
		rest = next
	}
	return out
}
