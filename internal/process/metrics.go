// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process execution metrics
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nyschooldata_process_runs_total",
		Help: "External process runs by executable and outcome",
	}, []string{"executable", "outcome"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nyschooldata_process_run_duration_seconds",
		Help:    "Wall time of external process runs",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"executable"})

	outputBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nyschooldata_process_stdout_bytes",
		Help:    "Captured stdout size of external process runs",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	}, []string{"executable"})
)

// observeRun records one completed (or failed-to-start) run.
func observeRun(name string, res *Result, err error) {
	exe := filepath.Base(name)
	outcome := "ok"
	switch {
	case err != nil && res.ExitCode != 0:
		outcome = "exit_nonzero"
	case err != nil:
		outcome = "error"
	}
	runsTotal.WithLabelValues(exe, outcome).Inc()
	runDuration.WithLabelValues(exe).Observe(res.Duration.Seconds())
	outputBytes.WithLabelValues(exe).Observe(float64(len(res.Stdout)))
}
