// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package apple

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/timing"
)

const runtimePrefix = "com.apple.CoreSimulator.SimRuntime."

// simDevice is a device in "simctl list devices --json".
type simDevice struct {
	UDID                 string `json:"udid"`
	Name                 string `json:"name"`
	State                string `json:"state"`
	IsAvailable          bool   `json:"isAvailable"`
	DeviceTypeIdentifier string `json:"deviceTypeIdentifier"`
	DataPath             string `json:"dataPath"`
	LogPath              string `json:"logPath"`
}

type simList struct {
	// Devices is keyed by runtime identifier.
	Devices map[string][]simDevice `json:"devices"`
}

// parseRuntime parses runtime identifiers like
// "com.apple.CoreSimulator.SimRuntime.iOS-17-4".
func parseRuntime(id string) (p device.Platform, version string, ok bool) {
	rest := strings.TrimPrefix(id, runtimePrefix)
	if rest == id {
		return "", "", false
	}
	osName, ver, ok := strings.Cut(rest, "-")
	if !ok {
		return "", "", false
	}
	switch osName {
	case "iOS":
		p = device.IOS
	case "tvOS":
		p = device.TVOS
	case "watchOS":
		p = device.WatchOS
	default:
		return "", "", false
	}
	return p, strings.ReplaceAll(ver, "-", "."), true
}

func simState(s string) device.State {
	switch s {
	case "Booted":
		return device.Ready
	case "Booting", "Shutting Down", "Creating":
		return device.Booting
	case "Shutdown":
		return device.Offline
	default:
		return device.Unknown
	}
}

func parseSimulators(b []byte) ([]device.Device, error) {
	var l simList
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, errors.Wrap(err, "failed to parse simctl device list")
	}
	runtimes := make([]string, 0, len(l.Devices))
	for rt := range l.Devices {
		runtimes = append(runtimes, rt)
	}
	sort.Strings(runtimes)

	var devs []device.Device
	for _, rt := range runtimes {
		p, ver, ok := parseRuntime(rt)
		if !ok {
			continue
		}
		for _, sd := range l.Devices[rt] {
			if !sd.IsAvailable {
				continue
			}
			devs = append(devs, device.Device{
				ID:        sd.UDID,
				Name:      sd.Name,
				Platform:  p,
				OSVersion: ver,
				Kind:      device.Simulator,
				State:     simState(sd.State),
			})
		}
	}
	return devs, nil
}

// phoneTemplate returns the device type and runtime of the newest available
// iOS simulator, the first listed among equals.
func phoneTemplate(b []byte) (deviceType, runtime string, err error) {
	var l simList
	if err := json.Unmarshal(b, &l); err != nil {
		return "", "", errors.Wrap(err, "failed to parse simctl device list")
	}
	runtimes := make([]string, 0, len(l.Devices))
	for rt := range l.Devices {
		runtimes = append(runtimes, rt)
	}
	sort.Strings(runtimes)

	var best string
	for _, rt := range runtimes {
		p, ver, ok := parseRuntime(rt)
		if !ok || p != device.IOS {
			continue
		}
		for _, sd := range l.Devices[rt] {
			if !sd.IsAvailable || sd.DeviceTypeIdentifier == "" {
				continue
			}
			if runtime == "" || device.CompareVersions(ver, best) > 0 {
				deviceType, runtime, best = sd.DeviceTypeIdentifier, rt, ver
			}
			break
		}
	}
	if runtime == "" {
		return "", "", errors.New("no iOS simulator runtime available")
	}
	return deviceType, runtime, nil
}

func (c *Client) listSimulators(ctx context.Context) ([]byte, error) {
	res, err := c.run(ctx, c.simctl("list", "devices", "--json"))
	if err != nil {
		return nil, exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to list simulators")
	}
	return []byte(res.Stdout), nil
}

// ListSimulators returns the available simulators.
func (c *Client) ListSimulators(ctx context.Context) ([]device.Device, error) {
	b, err := c.listSimulators(ctx)
	if err != nil {
		return nil, err
	}
	return parseSimulators(b)
}

// Create creates a simulator and returns its UDID.
func (c *Client) Create(ctx context.Context, name, deviceType, runtime string) (string, error) {
	logging.Infof(ctx, "Creating simulator %q (%s, %s)", name, deviceType, runtime)
	res, err := c.run(ctx, c.simctl("create", name, deviceType, runtime))
	if err != nil {
		return "", exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to create simulator %q", name)
	}
	udid := strings.TrimSpace(res.Stdout)
	if udid == "" {
		return "", exitcode.New(exitcode.SimulatorFailure, "simctl create printed no UDID")
	}
	return udid, nil
}

// List returns simulators and connected hardware. Hardware enumeration is
// best-effort since devicectl is missing on older Xcode versions.
func (c *Client) List(ctx context.Context) ([]device.Device, error) {
	sims, err := c.ListSimulators(ctx)
	if err != nil {
		return nil, err
	}
	if pairs, err := c.Pairs(ctx); err != nil {
		logging.Debugf(ctx, "Failed to list simulator pairs: %v", err)
	} else {
		for i := range sims {
			if phone, ok := pairs[sims[i].ID]; ok {
				sims[i].Companion = phone
			}
		}
	}
	hw, err := c.ListHardware(ctx)
	if err != nil {
		logging.Debugf(ctx, "Failed to list hardware devices: %v", err)
	}
	return append(hw, sims...), nil
}

// SystemLog returns the host path of a simulator's system log.
func (c *Client) SystemLog(udid string) string {
	return strings.ReplaceAll(c.cfg.Apple.SimulatorLogs, "{udid}", udid)
}

// Boot boots a simulator. A simulator that is already booted is fine.
func (c *Client) Boot(ctx context.Context, udid string) error {
	logging.Infof(ctx, "Booting simulator %s", udid)
	res, err := c.run(ctx, c.simctl("boot", udid))
	if err != nil && !strings.Contains(outputOf(res), "current state: Booted") {
		return exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to boot simulator %s", udid)
	}
	return nil
}

// WaitBooted waits until a booting simulator can run apps.
func (c *Client) WaitBooted(ctx context.Context, udid string) error {
	ctx, st := timing.Start(ctx, "wait_for_boot")
	defer st.End()

	if _, err := c.run(ctx, c.simctl("bootstatus", udid, "-b").WithTimeout(c.cfg.Retry.BootTimeout)); err != nil {
		return exitcode.Wrap(err, exitcode.SimulatorFailure, "simulator %s did not finish booting", udid)
	}
	return nil
}

// Shutdown shuts a simulator down. A simulator that is already shut down
// is fine.
func (c *Client) Shutdown(ctx context.Context, udid string) error {
	res, err := c.run(ctx, c.simctl("shutdown", udid))
	if err != nil && !strings.Contains(outputOf(res), "current state: Shutdown") {
		return exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to shut down simulator %s", udid)
	}
	return nil
}

// Erase wipes the contents and settings of a shut down simulator.
func (c *Client) Erase(ctx context.Context, udid string) error {
	if _, err := c.run(ctx, c.simctl("erase", udid)); err != nil {
		return exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to erase simulator %s", udid)
	}
	return nil
}

// AppContainer returns the host path of an installed app's data container.
func (c *Client) AppContainer(ctx context.Context, udid, bundleID string) (string, error) {
	res, err := c.run(ctx, c.simctl("get_app_container", udid, bundleID, "data"))
	if err != nil {
		return "", exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to find the data container of %s", bundleID)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Terminate stops an app running on a simulator.
func (c *Client) Terminate(ctx context.Context, udid, bundleID string) error {
	_, err := c.run(ctx, c.simctl("terminate", udid, bundleID))
	return err
}
