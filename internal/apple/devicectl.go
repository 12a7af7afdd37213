// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package apple

import (
	"context"
	"encoding/json"
	"os"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/device"
)

// devicectlList is the JSON written by "devicectl list devices --json-output".
type devicectlList struct {
	Result struct {
		Devices []devicectlDevice `json:"devices"`
	} `json:"result"`
}

type devicectlDevice struct {
	Identifier           string `json:"identifier"`
	ConnectionProperties struct {
		PairingState string `json:"pairingState"`
		TunnelState  string `json:"tunnelState"`
	} `json:"connectionProperties"`
	DeviceProperties struct {
		Name            string `json:"name"`
		OSVersionNumber string `json:"osVersionNumber"`
		BootState       string `json:"bootState"`
	} `json:"deviceProperties"`
	HardwareProperties struct {
		Platform string `json:"platform"`
		UDID     string `json:"udid"`
		Reality  string `json:"reality"`
		CPUType  struct {
			Name string `json:"name"`
		} `json:"cpuType"`
	} `json:"hardwareProperties"`
}

func (dd *devicectlDevice) state() device.State {
	switch {
	case dd.ConnectionProperties.PairingState != "paired":
		return device.Locked
	case dd.ConnectionProperties.TunnelState == "unavailable":
		return device.Offline
	case dd.DeviceProperties.BootState != "" && dd.DeviceProperties.BootState != "booted":
		return device.Booting
	default:
		return device.Ready
	}
}

func parseHardware(b []byte) ([]device.Device, error) {
	var l devicectlList
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, errors.Wrap(err, "failed to parse devicectl device list")
	}
	var devs []device.Device
	for _, dd := range l.Result.Devices {
		if dd.HardwareProperties.Reality == "virtual" {
			continue
		}
		var p device.Platform
		switch dd.HardwareProperties.Platform {
		case "iOS":
			p = device.IOS
		case "tvOS":
			p = device.TVOS
		case "watchOS":
			p = device.WatchOS
		default:
			continue
		}
		id := dd.HardwareProperties.UDID
		if id == "" {
			id = dd.Identifier
		}
		devs = append(devs, device.Device{
			ID:        id,
			Name:      dd.DeviceProperties.Name,
			Platform:  p,
			OSVersion: dd.DeviceProperties.OSVersionNumber,
			Arch:      dd.HardwareProperties.CPUType.Name,
			Kind:      device.Hardware,
			State:     dd.state(),
		})
	}
	return devs, nil
}

// ListHardware returns the devices devicectl knows about.
func (c *Client) ListHardware(ctx context.Context) ([]device.Device, error) {
	f, err := os.CreateTemp("", "devicectl.*.json")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if _, err := c.run(ctx, c.xcrun("devicectl", "list", "devices", "--quiet", "--json-output", path)); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read devicectl output")
	}
	return parseHardware(b)
}
