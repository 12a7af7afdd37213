// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package orchestrator

import (
	"sort"
)

// Variant selects which steps of the state machine do work. Steps switched
// off become no-ops; the state machine itself is the same for all variants.
type Variant struct {
	Name    string
	Install bool
	Mode    Mode
	// Remove uninstalls the app as the main work of the run, so that a
	// failure decides the outcome.
	Remove bool
	// Uninstall removes the app during cleanup.
	Uninstall bool
	// Cleanup restores the device after the run.
	Cleanup bool
	// ForceReset resets virtual devices even if the run did not ask to.
	ForceReset bool
}

var variants = []*Variant{
	{Name: "install", Install: true},
	{Name: "uninstall", Remove: true},
	{Name: "run", Install: true, Mode: ModeRun, Uninstall: true, Cleanup: true},
	{Name: "just-run", Mode: ModeRun},
	{Name: "test", Install: true, Mode: ModeTest, Uninstall: true, Cleanup: true},
	{Name: "just-test", Mode: ModeTest},
	{Name: "reset-simulator", ForceReset: true},
}

// VariantByName returns the variant called name.
func VariantByName(name string) (*Variant, bool) {
	for _, v := range variants {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// VariantNames returns the names of all variants, sorted.
func VariantNames() []string {
	var names []string
	for _, v := range variants {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}
