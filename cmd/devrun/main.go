// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the devrun executable, used to install, run and
// test apps on Android and Apple devices.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"go.chromium.org/devrun/command"
	"go.chromium.org/devrun/internal/exitcode"
	"go.chromium.org/devrun/internal/logging"
	"go.chromium.org/devrun/internal/orchestrator"
)

// configEnv names the configuration file if -config is not given.
const configEnv = "DEVRUN_CONFIG"

const defaultConfigPath = "~/.devrun/config.yaml"

// Version is the version info of this command. It is filled in at build time.
var Version = "<unknown>"

// newLogger creates a logging.Logger writing to stdout.
func newLogger(verbose, logTime bool) logging.Logger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.NewSinkLogger(level, logTime, logging.NewWriterSink(os.Stdout))
}

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions will run before os.Exit makes the program exit
// immediately.
func doMain() int {
	defCfg := os.Getenv(configEnv)
	if defCfg == "" {
		defCfg = defaultConfigPath
	}
	cfgPath := flag.String("config", defCfg, "configuration file (default from $"+configEnv+")")
	version := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "use verbose logging")
	logTime := flag.Bool("logtime", true, "include date/time headers in logs")

	e := newCLIEnv(cfgPath, os.Stdout)
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	for _, name := range orchestrator.VariantNames() {
		v, _ := orchestrator.VariantByName(name)
		subcommands.Register(newRunCmd(v, e), "run")
	}
	subcommands.Register(newDevicesCmd(e), "")
	flag.Parse()

	if *version {
		fmt.Printf("devrun version %s\n", Version)
		return 0
	}

	ctx := logging.AttachLogger(context.Background(), newLogger(*verbose, *logTime))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	command.InstallSignalHandler(os.Stderr, int(exitcode.GeneralFailure), func(os.Signal) { cancel() })

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
