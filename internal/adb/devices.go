// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/recovery"
)

// entry is one line of "adb devices -l".
type entry struct {
	serial string
	state  string
	attrs  map[string]string
}

func parseDevices(out string) []entry {
	var ents []entry
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		e := entry{serial: fields[0], state: fields[1], attrs: make(map[string]string)}
		for _, f := range fields[2:] {
			if k, v, ok := strings.Cut(f, ":"); ok {
				e.attrs[k] = v
			}
		}
		ents = append(ents, e)
	}
	return ents
}

func stateOf(adbState string) device.State {
	switch adbState {
	case "device":
		return device.Ready
	case "offline":
		return device.Offline
	case "unauthorized":
		return device.Locked
	case "authorizing", "connecting", "bootloader", "recovery", "sideload":
		return device.Booting
	default:
		return device.Unknown
	}
}

// describe fills in the properties of a connected device.
func describe(d *device.Device, props map[string]string) {
	d.OSVersion = props["ro.build.version.release"]
	d.APILevel, _ = strconv.Atoi(props["ro.build.version.sdk"])
	d.Arch = props["ro.product.cpu.abi"]
	if d.Name == "" {
		d.Name = props["ro.product.model"]
	}
	if props["ro.kernel.qemu"] == "1" || props["ro.boot.qemu"] == "1" {
		d.Kind = device.Emulator
	}
	if d.State == device.Ready && props["sys.boot_completed"] != "1" {
		d.State = device.Booting
	}
}

// List implements device.Lister using "adb devices -l" and getprop.
func (c *Client) List(ctx context.Context) ([]device.Device, error) {
	res, err := c.run(ctx, c.ForDevice("").Command("devices", "-l"))
	if err != nil {
		return nil, err
	}
	var devs []device.Device
	for _, e := range parseDevices(res.Stdout) {
		d := device.Device{
			ID:       e.serial,
			Name:     e.attrs["model"],
			Platform: device.Android,
			Kind:     device.Hardware,
			State:    stateOf(e.state),
		}
		if strings.HasPrefix(e.serial, "emulator-") {
			d.Kind = device.Emulator
		}
		if d.State == device.Ready {
			props, err := c.ForDevice(e.serial).queryProps(ctx)
			if err != nil {
				logging.Debugf(ctx, "Failed to query %s: %v", e.serial, err)
				d.State = device.Offline
			} else {
				describe(&d, props)
			}
		}
		devs = append(devs, d)
	}
	return devs, nil
}

// queryProps reads properties once, without the offline backoff; the
// enumeration as a whole is retried instead.
func (c *Client) queryProps(ctx context.Context) (map[string]string, error) {
	res, err := c.run(ctx, c.Command("shell", "getprop"))
	if err != nil {
		return nil, err
	}
	return parseProps(res.Stdout), nil
}

// Backoff returns the transient-offline retry policy from the configuration.
func (c *Client) Backoff() *recovery.Backoff {
	return c.backoff()
}
