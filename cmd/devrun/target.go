// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"flag"

	"go.chromium.org/devrun/command"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
)

var platforms = []device.Platform{device.Android, device.IOS, device.TVOS, device.WatchOS, device.MacCatalyst}

var kindNames = map[string]device.Kind{
	"hardware":  device.Hardware,
	"simulator": device.Simulator,
	"emulator":  device.Emulator,
}

// targetFlags selects the device a command works on.
type targetFlags struct {
	platform device.Platform
	kinds    []string
	filter   device.Filter
}

func (t *targetFlags) SetFlags(f *flag.FlagSet) {
	valid := make(map[string]int)
	for i, p := range platforms {
		valid[string(p)] = i
	}
	pf := command.NewEnumFlag(valid, func(v int) { t.platform = platforms[v] }, string(device.Android))
	f.Var(pf, "platform", "target platform; one of "+pf.QuotedValues())
	f.StringVar(&t.filter.OSVersion, "os-version", "", "OS version prefix, e.g. 17 or 17.4")
	f.StringVar(&t.filter.ID, "device-id", "", "serial or UDID of the device")
	f.StringVar(&t.filter.Name, "device-name", "", "name of the device")
	f.Var(command.NewListFlag(",", func(v []string) { t.kinds = v }, nil), "kind",
		"comma-separated acceptable device kinds (hardware, simulator, emulator)")
	f.IntVar(&t.filter.MinAPI, "min-api", 0, "lowest acceptable Android API level")
	f.Var(command.NewListFlag(",", func(v []string) { t.filter.Archs = v }, nil), "arch",
		"comma-separated acceptable architectures")
	f.BoolVar(&t.filter.AllowLocked, "allow-locked", false, "accept devices that are locked or not ready")
}

// Filter returns the device filter the flags describe.
func (t *targetFlags) Filter() (device.Filter, error) {
	f := t.filter
	f.Platform = t.platform
	f.Kinds = nil
	for _, k := range t.kinds {
		if k == "" {
			continue
		}
		kind, ok := kindNames[k]
		if !ok {
			return device.Filter{}, exitcode.New(exitcode.InvalidArguments, "unknown device kind %q", k)
		}
		f.Kinds = append(f.Kinds, kind)
	}
	return f, nil
}
