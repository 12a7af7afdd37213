// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package shutil formats command lines for logs so they can be pasted into a
// shell.
package shutil

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// \w is [0-9A-Za-z_]. A leading '=' is unsafe in zsh.
	leadingSafeChars  = `-\w@%+:,./`
	trailingSafeChars = leadingSafeChars + "="
)

var safeRE = regexp.MustCompile(fmt.Sprintf("^[%s][%s]*$", leadingSafeChars, trailingSafeChars))

// Escape quotes s for a shell command line unless it is already safe.
func Escape(s string) string {
	if safeRE.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// EscapeSlice escapes each element of args and joins them with spaces.
func EscapeSlice(args []string) string {
	escaped := make([]string, len(args))
	for i, arg := range args {
		escaped[i] = Escape(arg)
	}
	return strings.Join(escaped, " ")
}

// CommandLine renders an invocation of name with args, preceded by env
// assignments in KEY=VALUE form.
func CommandLine(env []string, name string, args ...string) string {
	parts := make([]string, 0, len(env)+1+len(args))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		parts = append(parts, k+"="+Escape(v))
	}
	parts = append(parts, Escape(name))
	for _, a := range args {
		parts = append(parts, Escape(a))
	}
	return strings.Join(parts, " ")
}
