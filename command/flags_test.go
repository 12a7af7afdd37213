// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command_test

import (
	"flag"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/devrun/command"
)

func TestDurationFlag(t *testing.T) {
	for _, tc := range []struct {
		units  time.Duration // units for flag
		args   []string      // args to parse
		def    time.Duration // default value for flag
		exp    time.Duration // expected value
		expErr bool          // if true, error is expected
	}{
		{time.Second, []string{}, 0, 0, false},
		{time.Second, []string{}, 10 * time.Second, 10 * time.Second, false},
		{time.Second, []string{"-flag=5"}, 0, 5 * time.Second, false},
		{time.Minute, []string{"-flag=2"}, 0, 2 * time.Minute, false},
		{time.Millisecond, []string{"-flag=200"}, 0, 200 * time.Millisecond, false},
		{time.Second, []string{"-flag=1m30s"}, 0, 90 * time.Second, false},
		{time.Second, []string{"-flag=-1"}, 0, 0, true},
		{time.Second, []string{"-flag=soon"}, 0, 0, true},
	} {
		var d time.Duration
		fs := flag.NewFlagSet("", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.Var(command.NewDurationFlag(tc.units, &d, tc.def), "flag", "usage")

		if err := fs.Parse(tc.args); err != nil && !tc.expErr {
			t.Errorf("%v produced error: %v", tc.args, err)
		} else if err == nil && tc.expErr {
			t.Errorf("%v didn't produce expected error", tc.args)
		} else if d != tc.exp {
			t.Errorf("%v resulted in %v; want %v", tc.args, d, tc.exp)
		}
	}
}

func ExampleDurationFlag() {
	var dest time.Duration
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.Var(command.NewDurationFlag(time.Second, &dest, 5*time.Second), "flag", "usage")

	// When the flag isn't supplied, the default is used.
	flags.Parse([]string{})
	fmt.Println("no flag:", dest)

	// When the flag is supplied, it's interpreted as an integer duration using the supplied units.
	flags.Parse([]string{"-flag=10"})
	fmt.Println("flag:", dest)

	// Output:
	// no flag: 5s
	// flag: 10s
}

func TestEnumFlag(t *testing.T) {
	type testEnum int
	const (
		testVal0 testEnum = iota
		testVal1
		testVal2
	)

	for _, tc := range []struct {
		args   []string // args to parse
		def    string   // default value for flag
		exp    testEnum // expected value
		expErr bool     // if true, error is expected
	}{
		{[]string{}, "val0", testVal0, false},
		{[]string{"-flag=val0"}, "val0", testVal0, false},
		{[]string{"-flag=val1"}, "val0", testVal1, false},
		{[]string{"-flag=val2"}, "val0", testVal2, false},
		{[]string{"-flag=bogus"}, "val0", testVal0, true},
		{[]string{"-flag"}, "val0", testVal0, true},
	} {
		valid := map[string]int{"val0": int(testVal0), "val1": int(testVal1), "val2": int(testVal2)}
		val := testEnum(-1)
		f := func(v int) { val = testEnum(v) }
		fs := flag.NewFlagSet("", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.Var(command.NewEnumFlag(valid, f, tc.def), "flag", "usage")

		if err := fs.Parse(tc.args); err != nil && !tc.expErr {
			t.Errorf("%v produced error: %v", tc.args, err)
		} else if err == nil && tc.expErr {
			t.Errorf("%v didn't produce expected error", tc.args)
		} else if val != tc.exp {
			t.Errorf("%v resulted in %v; want %v", tc.args, val, tc.exp)
		}
	}
}

func TestListFlag(t *testing.T) {
	for _, tc := range []struct {
		sep  string   // separator to use
		args []string // args to parse
		def  []string // default value for flag
		exp  []string // expected values
	}{
		{",", []string{}, nil, nil},
		{",", []string{}, []string{"foo", "bar"}, []string{"foo", "bar"}},
		{",", []string{"-flag=foo"}, nil, []string{"foo"}},
		{",", []string{"-flag=foo,bar"}, nil, []string{"foo", "bar"}},
		{",", []string{"-flag=foo,bar"}, []string{"default"}, []string{"foo", "bar"}},
		{" ", []string{"-flag=foo bar"}, []string{"default"}, []string{"foo", "bar"}},
	} {
		var vals []string
		f := func(v []string) { vals = v }
		fs := flag.NewFlagSet("", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.Var(command.NewListFlag(tc.sep, f, tc.def), "flag", "usage")

		if err := fs.Parse(tc.args); err != nil {
			t.Errorf("%v produced error: %v", tc.args, err)
		} else if diff := cmp.Diff(vals, tc.exp); diff != "" {
			t.Errorf("%v mismatch (-got +want):\n%s", tc.args, diff)
		}
	}
}

func TestRepeatedFlag(t *testing.T) {
	var vals []string
	rf := command.RepeatedFlag(func(v string) error {
		vals = append(vals, v)
		return nil
	})
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(&rf, "arg", "usage")

	if err := fs.Parse([]string{"-arg=--verbose", "-arg", "x y"}); err != nil {
		t.Fatal("Parse failed: ", err)
	}
	if diff := cmp.Diff(vals, []string{"--verbose", "x y"}); diff != "" {
		t.Errorf("Values mismatch (-got +want):\n%s", diff)
	}
}

func TestKeyValueFlag(t *testing.T) {
	env := make(map[string]string)
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(command.NewKeyValueFlag(env), "env", "usage")

	if err := fs.Parse([]string{"-env=A=1", "-env=B=x=y", "-env=A=2"}); err != nil {
		t.Fatal("Parse failed: ", err)
	}
	if diff := cmp.Diff(env, map[string]string{"A": "2", "B": "x=y"}); diff != "" {
		t.Errorf("Env mismatch (-got +want):\n%s", diff)
	}

	fs = flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(command.NewKeyValueFlag(env), "env", "usage")
	if err := fs.Parse([]string{"-env=NOVALUE"}); err == nil {
		t.Error("Parse accepted a value without '='")
	}
}
