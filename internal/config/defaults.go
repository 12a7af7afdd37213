// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"tools.adb":     "adb",
		"tools.xcrun":   "xcrun",
		"tools.mlaunch": "mlaunch",

		"bridge.lock_path":   "~/.devrun/adb-server.lock",
		"bridge.enumerate":   "cli",
		"bridge.server_host": "localhost",
		"bridge.server_port": 5037,

		"retry.boot_timeout":       "5m",
		"retry.boot_poll_interval": "10s",
		"retry.offline_attempts":   30,
		"retry.offline_interval":   "10s",
		"retry.hung_timeout_scale": 2.0,

		"timeouts.run":     "15m",
		"timeouts.launch":  "3m",
		"timeouts.install": "5m",
		"timeouts.command": "1m",
		"timeouts.cleanup": "2m",

		"capture.slack": 1024,

		"listener.direct_copy_min_os": "18.0",
		"listener.port":               0,

		"apple.simulator_logs":     "~/Library/Logs/CoreSimulator/{udid}/system.log",
		"apple.diagnostic_reports": "~/Library/Logs/DiagnosticReports",
		"apple.debugger_flag_file": "~/.devrun/attach-native-debugger",
		"apple.create_companions":  true,

		"known_failures": "~/.devrun/known_failures.yaml",
		"log_dir":        "~/.devrun/runs",
	}
}

func defaultProvider() *confmap.Confmap {
	return confmap.Provider(defaults(), ".")
}
