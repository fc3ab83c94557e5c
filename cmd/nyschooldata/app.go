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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/nyschooldata"
	"github.com/AleutianAI/nyschooldata/internal/config"
	"github.com/AleutianAI/nyschooldata/internal/telemetry"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
)

// Exit codes.
const (
	exitOK        = 0
	exitDataError = 1 // R call failed or returned unusable data
	exitUsage     = 2 // bad flags, arguments, or config
	exitInitError = 3 // Rscript or the R package is unavailable
)

// shutdownTimeout bounds the telemetry flush on exit.
const shutdownTimeout = 5 * time.Second

func exitCode(err error) int {
	var (
		ie *nyschooldata.InteropInitializationError
		fe *nyschooldata.DataFetchError
		te *nyschooldata.TidyError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ie):
		return exitInitError
	case errors.As(err, &fe), errors.As(err, &te):
		return exitDataError
	default:
		return exitUsage
	}
}

func (c *cli) setupIO(cmd *cobra.Command, _ []string) error {
	c.stdout = cmd.OutOrStdout()
	c.stderr = cmd.ErrOrStderr()
	return nil
}

// setup loads config, applies flag overrides, then builds the logger,
// telemetry providers and the client. R is not started until a command
// makes its first call.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if err := c.setupIO(cmd, args); err != nil {
		return err
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	c.cfg = cfg

	lc := cfg.Logging.LoggerConfig()
	lc.Writer = c.stderr
	c.logger = logging.New(lc)

	c.shutdown, err = telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    logging.DefaultService,
		ServiceVersion: nyschooldata.Version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Writer:         c.stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	rt := c.newRuntime(cfg, c.logger)
	c.client = nyschooldata.NewClient(rt, nyschooldata.WithLogger(c.logger))
	c.logger.Debug("cli ready", "command", cmd.CommandPath(), "rscript", cfg.Bridge.RscriptPath)
	return nil
}

// loadConfig reads --config (which must exist) or the default path (which
// may not), then layers the persistent flags on top.
func (c *cli) loadConfig() (config.Config, error) {
	path, optional := c.configPath, false
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path, optional = p, true
	}
	cfg, err := config.LoadFile(path, optional)
	if err != nil {
		return config.Config{}, err
	}

	if c.rscriptPath != "" {
		cfg.Bridge.RscriptPath = c.rscriptPath
	}
	if c.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(c.logLevel)
	}
	if c.logJSON {
		cfg.Logging.JSON = true
	}
	if c.traceExporter != "" {
		cfg.Telemetry.TraceExporter = c.traceExporter
	}
	if c.metricExporter != "" {
		cfg.Telemetry.MetricExporter = c.metricExporter
	}
	if c.metricsAddr != "" && c.metricExporter == "" {
		cfg.Telemetry.MetricExporter = telemetry.ExporterPrometheus
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// close flushes telemetry and the logger. Safe to call when setup never ran.
func (c *cli) close() error {
	var errs []error
	if c.metricsDump && c.stderr != nil {
		errs = append(errs, telemetry.WriteMetrics(c.stderr))
	}
	if c.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, c.shutdown(ctx))
		cancel()
		c.shutdown = nil
	}
	if c.logger != nil {
		errs = append(errs, c.logger.Close())
		c.logger = nil
	}
	c.client = nil
	return errors.Join(errs...)
}
