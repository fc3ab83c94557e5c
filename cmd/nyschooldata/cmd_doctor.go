// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/nyschooldata"
	"github.com/AleutianAI/nyschooldata/internal/telemetry"
)

// doctorReport is the json form of the doctor output.
type doctorReport struct {
	OK             bool     `json:"ok"`
	Rscript        string   `json:"rscript,omitempty"`
	RVersion       string   `json:"r_version,omitempty"`
	Package        string   `json:"package,omitempty"`
	PackageVersion string   `json:"package_version,omitempty"`
	LibPaths       []string `json:"lib_paths,omitempty"`
	Years          []int    `json:"years,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// runDoctor starts R, loads the package and asks it for the available
// years. It fails with the first error so the exit code reflects it. With
// --serve-metrics a healthy check keeps running as a metrics endpoint.
func (c *cli) runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	report := doctorReport{}

	err := c.client.Initialize(ctx)
	if err == nil {
		info := c.client.Info()
		report.Rscript = info.Rscript
		report.RVersion = info.RVersion
		report.Package = info.Package
		report.PackageVersion = info.PackageVersion
		report.LibPaths = info.LibPaths
		report.Years, err = c.client.GetAvailableYears(ctx)
	}
	report.OK = err == nil
	if err != nil {
		report.Error = err.Error()
	}

	if strings.ToLower(c.format) == formatJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	} else {
		printDoctor(c.stdout, report)
	}
	if err != nil || c.metricsAddr == "" {
		return err
	}
	return c.serveMetrics(ctx)
}

// serveMetrics exposes /metrics on --serve-metrics until ctx ends.
func (c *cli) serveMetrics(ctx context.Context) error {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		return errors.New("--serve-metrics needs --metric-exporter prometheus")
	}
	ln, err := net.Listen("tcp", c.metricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.metricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	c.logger.Info("serving metrics", "addr", ln.Addr().String(), "path", "/metrics")

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printDoctor(w io.Writer, r doctorReport) {
	line := func(ok bool, label, value string) {
		mark := styles.OK.String()
		if !ok {
			mark = styles.Fail.String()
		}
		fmt.Fprintf(w, "%s %-8s %s\n", mark, label, value)
	}

	fmt.Fprintln(w, styles.Title.Render("nyschooldata doctor"))
	if r.Rscript != "" {
		line(true, "Rscript", r.Rscript)
		line(true, "R", r.RVersion)
		line(true, "package", r.Package+" "+r.PackageVersion)
		for _, p := range r.LibPaths {
			fmt.Fprintf(w, "  %-8s %s\n", "", styles.Muted.Render(p))
		}
	}
	if len(r.Years) > 0 {
		line(true, "years", fmt.Sprintf("%d-%d (%d)", r.Years[0], r.Years[len(r.Years)-1], len(r.Years)))
	}
	if !r.OK {
		line(false, "error", r.Error)
	}
}

func (c *cli) runVersion(_ *cobra.Command, _ []string) error {
	_, err := fmt.Fprintf(c.stdout, "nyschooldata %s (%s %s/%s)\n",
		nyschooldata.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return err
}
