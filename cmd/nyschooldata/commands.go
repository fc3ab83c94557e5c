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
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/nyschooldata"
	"github.com/AleutianAI/nyschooldata/internal/config"
	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
)

// cli holds flag values and the state built for one invocation.
type cli struct {
	// Persistent flags
	configPath     string
	rscriptPath    string
	logLevel       string
	logJSON        bool
	traceExporter  string
	metricExporter string
	format         string
	outputPath     string
	metricsDump    bool

	// fetch flags
	tidy     bool
	useCache bool
	rawArgs  []string

	// config init flags
	force bool

	// doctor flags
	metricsAddr string

	// newRuntime builds the bridge runtime; tests swap in a fake.
	newRuntime func(cfg config.Config, logger *logging.Logger) bridge.Runtime

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg      config.Config
	logger   *logging.Logger
	client   *nyschooldata.Client
	shutdown func(context.Context) error
}

func newCLI() *cli {
	return &cli{
		newRuntime: func(cfg config.Config, logger *logging.Logger) bridge.Runtime {
			return bridge.NewRscriptRuntime(cfg.Bridge.RuntimeOptions(logger))
		},
	}
}

// newRootCmd assembles the command tree bound to c.
func (c *cli) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nyschooldata",
		Short: "Fetch New York State school enrollment data through R",
		Long: `nyschooldata drives the nyschooldata R package from the command line.

Every data command starts a fresh Rscript process, loads the package and
prints the resulting data frame. Output is an aligned table on a terminal
and CSV otherwise; use --format to choose json or arrow instead.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup, // Defined in app.go
	}

	// --- Data Commands ---
	yearsCmd := &cobra.Command{
		Use:   "years",
		Short: "List the school years with enrollment data",
		Args:  cobra.NoArgs,
		RunE:  c.runYears, // Defined in cmd_data.go
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch <end-year>",
		Short: "Fetch enrollment data for one school year",
		Long: `Fetch enrollment data for one school year, named by the calendar year in
which it ends: 2024 is the 2023-24 school year.`,
		Example: `  nyschooldata fetch 2024
  nyschooldata fetch 2024 --tidy --format csv -o enr_2024.csv
  nyschooldata fetch 2024 --arg level=district`,
		Args: cobra.ExactArgs(1),
		RunE: c.runFetch, // Defined in cmd_data.go
	}

	fetchMultiCmd := &cobra.Command{
		Use:   "fetch-multi <end-year>...",
		Short: "Fetch several school years and stack them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.runFetchMulti, // Defined in cmd_data.go
	}

	tidyCmd := &cobra.Command{
		Use:   "tidy <file.json|->",
		Short: "Convert wide enrollment JSON to long format",
		Long: `Read a table in the JSON layout written by --format json, pass it through
the R package's tidy_enr and print the long-format result.`,
		Args: cobra.ExactArgs(1),
		RunE: c.runTidy, // Defined in cmd_data.go
	}

	// --- Environment Commands ---
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that Rscript and the R package can be loaded",
		Args:  cobra.NoArgs,
		RunE:  c.runDoctor, // Defined in cmd_doctor.go
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Needs no config or R.
		PersistentPreRunE: c.setupIO,
		RunE:              c.runVersion, // Defined in cmd_doctor.go
	}

	// --- Config Management ---
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		// Overrides the root hook: these commands must work with a broken file.
		PersistentPreRunE: c.setupIO,
	}

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE:  c.runConfigInit, // Defined in cmd_config.go
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  c.runConfigShow, // Defined in cmd_config.go
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "Config file (default $NYSCHOOLDATA_CONFIG or ~/.nyschooldata/config.yaml)")
	pf.StringVar(&c.rscriptPath, "rscript", "", "Path to the Rscript executable")
	pf.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, or error")
	pf.BoolVar(&c.logJSON, "log-json", false, "Write logs as JSON")
	pf.StringVar(&c.traceExporter, "trace-exporter", "", "Trace exporter: none, stdout, or otlp")
	pf.StringVar(&c.metricExporter, "metric-exporter", "", "Metric exporter: none, stdout, or prometheus")
	pf.StringVarP(&c.format, "format", "f", formatAuto, "Output format: auto, table, csv, json, or arrow")
	pf.StringVarP(&c.outputPath, "output", "o", "", "Write output to a file instead of stdout")
	pf.BoolVar(&c.metricsDump, "metrics-dump", false, "Print Prometheus metrics to stderr on exit")

	for _, cmd := range []*cobra.Command{fetchCmd, fetchMultiCmd} {
		cmd.Flags().BoolVar(&c.tidy, "tidy", false, "Return long (tidy) format")
		cmd.Flags().BoolVar(&c.useCache, "use-cache", true, "Use the R package's download cache")
	}
	for _, cmd := range []*cobra.Command{fetchCmd, fetchMultiCmd, tidyCmd} {
		cmd.Flags().StringArrayVar(&c.rawArgs, "arg", nil, "Extra R argument as name=value (repeatable)")
	}
	doctorCmd.Flags().StringVar(&c.metricsAddr, "serve-metrics", "", "After a healthy check, serve Prometheus /metrics on this address until interrupted")
	configInitCmd.Flags().BoolVar(&c.force, "force", false, "Overwrite an existing file")

	rootCmd.AddCommand(yearsCmd, fetchCmd, fetchMultiCmd, tidyCmd, doctorCmd, versionCmd, configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	return rootCmd
}

// execute runs one invocation and releases what setup acquired.
func (c *cli) execute(ctx context.Context, args []string) error {
	root := c.newRootCmd()
	root.SetArgs(args)
	if c.stdin != nil {
		root.SetIn(c.stdin)
	}
	if c.stdout != nil {
		root.SetOut(c.stdout)
	}
	if c.stderr != nil {
		root.SetErr(c.stderr)
	}
	err := root.ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	return err
}
