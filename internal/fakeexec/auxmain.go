// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fakeexec lets unit tests run fake external tools as subprocesses.
//
// A test binary registers auxiliary main functions at package initialization.
// Re-executing the test binary with the right environment runs one of them
// instead of the tests, which gives a real process with a real exit code,
// real output streams and real signals.
package fakeexec

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	auxMainNameEnv  = "AUX_MAIN_NAME"  // selects the auxiliary main to run
	auxMainValueEnv = "AUX_MAIN_VALUE" // JSON parameter for it
)

// AuxMain is a registered auxiliary main function taking a T.
type AuxMain[T any] struct {
	name string
}

var knownNames = map[string]struct{}{}

// NewAuxMain registers an auxiliary main function.
//
// name must be unique within the executable. NewAuxMain must be called in a
// top-level variable initialization:
//
//	type toolParams struct{ ... }
//
//	var toolMain = fakeexec.NewAuxMain("adb", func(p toolParams) {
//		// Behave like adb.
//	})
//
// If the process was started for this auxiliary main, f runs and the process
// exits with status 0 when f returns. f may call os.Exit itself to report a
// different status.
func NewAuxMain[T any](name string, f func(T)) *AuxMain[T] {
	if _, found := knownNames[name]; found {
		panic(fmt.Sprintf("fakeexec.NewAuxMain: multiple registrations for %q", name))
	}
	knownNames[name] = struct{}{}

	if os.Getenv(auxMainNameEnv) != name {
		return &AuxMain[T]{name: name}
	}

	var v T
	if err := json.Unmarshal([]byte(os.Getenv(auxMainValueEnv)), &v); err != nil {
		panic(fmt.Sprintf("fakeexec.AuxMain: %s: failed to unmarshal parameter: %v", name, err))
	}
	f(v)
	os.Exit(0)
	panic("unreachable")
}

// Params returns what is needed to run the auxiliary main with parameter v.
func (a *AuxMain[T]) Params(v T) (*Params, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	p, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Params{executable: exe, name: a.name, param: string(p)}, nil
}

// Params identifies one invocation of an auxiliary main function.
type Params struct {
	executable string
	name       string
	param      string
}

// Executable returns the path of the current executable.
func (p *Params) Executable() string {
	return p.executable
}

// Envs returns "key=value" environment entries selecting the auxiliary main.
func (p *Params) Envs() []string {
	return []string{
		fmt.Sprintf("%s=%s", auxMainNameEnv, p.name),
		fmt.Sprintf("%s=%s", auxMainValueEnv, p.param),
	}
}

// SetEnvs sets the selecting variables in the current process environment so
// that children inherit them. It returns a function restoring the old state
// and panics if the variables are already set.
func (p *Params) SetEnvs() (restore func()) {
	if val := os.Getenv(auxMainNameEnv); val != "" {
		panic(fmt.Sprintf("fakeexec.Params.SetEnvs: %s already set to %q", auxMainNameEnv, val))
	}
	os.Setenv(auxMainNameEnv, p.name)
	os.Setenv(auxMainValueEnv, p.param)
	return func() {
		os.Unsetenv(auxMainNameEnv)
		os.Unsetenv(auxMainValueEnv)
	}
}
