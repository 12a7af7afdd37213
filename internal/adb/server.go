// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"context"

	"github.com/electricbubble/gadb"

	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/recovery"
)

// ServerLister lists devices by talking to the adb server socket directly
// instead of running adb. It is used when bridge.enumerate is "server".
type ServerLister struct {
	Host string
	Port int
}

// List implements device.Lister.
func (l *ServerLister) List(ctx context.Context) ([]device.Device, error) {
	cl, err := gadb.NewClientWith(l.Host, l.Port)
	if err != nil {
		// The server may be restarting.
		return nil, recovery.Transient(exitcode.Wrap(err, exitcode.ADBFailure, "failed to connect to adb server at %s:%d", l.Host, l.Port))
	}
	ds, err := cl.DeviceList()
	if err != nil {
		return nil, exitcode.Wrap(err, exitcode.ADBFailure, "failed to list devices")
	}

	var devs []device.Device
	for _, gd := range ds {
		d := device.Device{
			ID:       gd.Serial(),
			Name:     gd.DeviceInfo()["model"],
			Platform: device.Android,
			Kind:     device.Hardware,
			State:    device.Unknown,
		}
		st, err := gd.State()
		switch {
		case err != nil:
			logging.Debugf(ctx, "Failed to get state of %s: %v", d.ID, err)
		case st == gadb.StateOnline:
			d.State = device.Ready
		case st == gadb.StateOffline:
			d.State = device.Offline
		}
		if d.State == device.Ready {
			out, err := gd.RunShellCommand("getprop")
			if err != nil {
				logging.Debugf(ctx, "Failed to query %s: %v", d.ID, err)
				d.State = device.Offline
			} else {
				describe(&d, parseProps(out))
			}
		}
		devs = append(devs, d)
	}
	return devs, nil
}

// Lister returns the device.Lister selected by the configuration.
func (c *Client) Lister() device.Lister {
	if c.cfg.Bridge.Enumerate == "server" {
		return &ServerLister{Host: c.cfg.Bridge.ServerHost, Port: c.cfg.Bridge.ServerPort}
	}
	return c
}
