// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package apple

import (
	"context"
	"encoding/json"
	"strings"

	"go.chromium.org/devrun/errors"
	"go.chromium.org/devrun/internal/device"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
)

type pairMember struct {
	Name  string `json:"name"`
	UDID  string `json:"udid"`
	State string `json:"state"`
}

// simPairs is the output of "simctl list pairs --json".
type simPairs struct {
	Pairs map[string]struct {
		Watch pairMember `json:"watch"`
		Phone pairMember `json:"phone"`
		State string     `json:"state"`
	} `json:"pairs"`
}

// Pairs maps watch simulators to the phone simulators they are paired with.
func (c *Client) Pairs(ctx context.Context) (map[string]string, error) {
	res, err := c.run(ctx, c.simctl("list", "pairs", "--json"))
	if err != nil {
		return nil, err
	}
	var sp simPairs
	if err := json.Unmarshal([]byte(res.Stdout), &sp); err != nil {
		return nil, errors.Wrap(err, "failed to parse simctl pair list")
	}
	m := make(map[string]string)
	for _, p := range sp.Pairs {
		if p.Watch.UDID != "" && p.Phone.UDID != "" {
			m[p.Watch.UDID] = p.Phone.UDID
		}
	}
	return m, nil
}

// companionName names phone simulators created for unpaired watches.
const companionName = "devrun companion"

// createCompanion creates a phone simulator modeled on the newest available
// iOS simulator.
func (c *Client) createCompanion(ctx context.Context) (string, error) {
	b, err := c.listSimulators(ctx)
	if err != nil {
		return "", err
	}
	deviceType, runtime, err := phoneTemplate(b)
	if err != nil {
		return "", exitcode.Wrap(err, exitcode.SimulatorFailure, "cannot create a companion phone")
	}
	return c.Create(ctx, companionName, deviceType, runtime)
}

func (c *Client) pair(ctx context.Context, watch, phone string) (alreadyPaired bool, err error) {
	logging.Infof(ctx, "Pairing %s with %s", watch, phone)
	res, err := c.run(ctx, c.simctl("pair", watch, phone))
	if err == nil {
		return false, nil
	}
	if strings.Contains(strings.ToLower(outputOf(res)), "already paired") {
		return true, err
	}
	return false, exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to pair %s with %s", watch, phone)
}

// EnsurePaired returns the phone simulator watch is paired with. A watch
// with no pair is paired with a newly created phone when the configuration
// allows it. A phone that turns out to be paired already is replaced by
// another new one.
func (c *Client) EnsurePaired(ctx context.Context, watch *device.Device) (string, error) {
	if watch.Companion != "" {
		return watch.Companion, nil
	}
	pairs, err := c.Pairs(ctx)
	if err != nil {
		return "", exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to list simulator pairs")
	}
	if p, ok := pairs[watch.ID]; ok {
		return p, nil
	}
	if !c.cfg.Apple.CreateCompanions {
		return "", exitcode.New(exitcode.SimulatorFailure, "%s is not paired with a phone simulator and creating one is disabled", watch.ID)
	}

	phone, err := c.createCompanion(ctx)
	if err != nil {
		return "", err
	}
	already, err := c.pair(ctx, watch.ID, phone)
	if err == nil {
		return phone, nil
	}
	if !already {
		return "", err
	}
	logging.Infof(ctx, "%s is already paired; creating another phone", phone)
	if phone, err = c.createCompanion(ctx); err != nil {
		return "", err
	}
	if _, err := c.pair(ctx, watch.ID, phone); err != nil {
		return "", exitcode.Wrap(err, exitcode.SimulatorFailure, "failed to pair %s with %s", watch.ID, phone)
	}
	return phone, nil
}
