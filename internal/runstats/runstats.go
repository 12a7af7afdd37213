// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package runstats records metrics of a single run and writes them in the
// Prometheus text format, for pickup by a node exporter textfile collector.
package runstats

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.chromium.org/devrun/errors"
)

// Stats holds the metrics of one run. Each Stats has its own registry.
type Stats struct {
	reg *prometheus.Registry

	exitCode    *prometheus.GaugeVec
	appExitCode prometheus.Gauge
	stageSecs   *prometheus.GaugeVec
	recoveries  *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// New returns empty Stats.
func New() *Stats {
	s := &Stats{
		reg: prometheus.NewRegistry(),
		exitCode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devrun_exit_code",
				Help: "Exit code the run finished with",
			},
			[]string{"variant", "platform", "classification"},
		),
		appExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devrun_app_exit_code",
			Help: "Exit code of the app under test, if it was detected",
		}),
		stageSecs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devrun_stage_duration_seconds",
				Help: "Time spent in each top-level stage of the run",
			},
			[]string{"stage"},
		),
		recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrun_recoveries_total",
				Help: "Recovery actions taken for failed device tool invocations",
			},
			[]string{"op", "condition"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrun_state_transitions_total",
				Help: "Orchestrator state transitions",
			},
			[]string{"to"},
		),
	}
	s.reg.MustRegister(s.exitCode, s.stageSecs, s.recoveries, s.transitions)
	return s
}

// SetExitCode records how the run ended.
func (s *Stats) SetExitCode(variant, platform, classification string, code int) {
	s.exitCode.WithLabelValues(variant, platform, classification).Set(float64(code))
}

// SetAppExitCode records the detected exit code of the app.
func (s *Stats) SetAppExitCode(code int) {
	if err := s.reg.Register(s.appExitCode); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return
		}
	}
	s.appExitCode.Set(float64(code))
}

// SetStageDurations records stage durations.
func (s *Stats) SetStageDurations(ds map[string]time.Duration) {
	for name, d := range ds {
		s.stageSecs.WithLabelValues(name).Set(d.Seconds())
	}
}

// CountRecovery records a recovery action.
func (s *Stats) CountRecovery(op, condition string) {
	s.recoveries.WithLabelValues(op, condition).Inc()
}

// CountTransition records a state transition.
func (s *Stats) CountTransition(to string) {
	s.transitions.WithLabelValues(to).Inc()
}

// Gatherer exposes the registry, mainly for tests.
func (s *Stats) Gatherer() prometheus.Gatherer {
	return s.reg
}

// WriteFile writes the metrics to path atomically.
func (s *Stats) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, s.reg); err != nil {
		return errors.Wrap(err, "failed to write metrics")
	}
	return nil
}

type key struct{}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Stats) context.Context {
	return context.WithValue(ctx, key{}, s)
}

// FromContext returns the Stats in ctx. A nil Stats is returned if there is
// none; its methods must not be called.
func FromContext(ctx context.Context) *Stats {
	s, _ := ctx.Value(key{}).(*Stats)
	return s
}

// CountRecovery records a recovery action on the Stats in ctx, if any.
func CountRecovery(ctx context.Context, op, condition string) {
	if s := FromContext(ctx); s != nil {
		s.CountRecovery(op, condition)
	}
}
