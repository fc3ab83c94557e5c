// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
)

// DefaultPackage is the R package the bridge loads.
const DefaultPackage = "nyschooldata"

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Config is the on-disk configuration for the nyschooldata bridge and CLI.
type Config struct {
	// Bridge: how to locate and drive the R runtime
	Bridge BridgeConfig `yaml:"bridge"`

	// Logging: level and destinations
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry: OpenTelemetry exporters (CLI only)
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type BridgeConfig struct {
	// RscriptPath pins the interpreter, e.g. /usr/local/bin/Rscript
	RscriptPath string `yaml:"rscript_path,omitempty"`

	// RHome is an R installation root; bin/Rscript under it is used
	RHome string `yaml:"r_home,omitempty"`

	// Package is the R package to load
	Package string `yaml:"package" validate:"required"`

	// MinVersion rejects older installed package versions, e.g. 0.1.0
	MinVersion string `yaml:"min_package_version,omitempty"`

	// Timeout bounds each call. 0 means no limit.
	Timeout time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`

	// LibPaths are prepended to R_LIBS
	LibPaths []string `yaml:"lib_paths,omitempty" validate:"dive,required"`

	// Env is extra environment for the Rscript process
	Env map[string]string `yaml:"env,omitempty" validate:"dive,keys,required,endkeys"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" validate:"omitempty,hostname_port"`
	OTLPInsecure   bool   `yaml:"otlp_insecure,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Bridge: BridgeConfig{
			Package: DefaultPackage,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
	}
}

// Validate checks struct tags on the whole configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RuntimeOptions maps the bridge section onto bridge.Options.
func (b BridgeConfig) RuntimeOptions(logger *logging.Logger) bridge.Options {
	return bridge.Options{
		RscriptPath: b.RscriptPath,
		RHome:       b.RHome,
		Package:     b.Package,
		MinVersion:  b.MinVersion,
		Timeout:     b.Timeout,
		LibPaths:    b.LibPaths,
		Env:         b.Env,
		Logger:      logger,
	}
}

// LoggerConfig maps the logging section onto logging.Config. An unknown
// level falls back to warn; Validate rejects it earlier for loaded files.
func (l LoggingConfig) LoggerConfig() logging.Config {
	level, err := logging.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		level = logging.LevelWarn
	}
	return logging.Config{
		Level:   level,
		LogDir:  l.Dir,
		Service: logging.DefaultService,
		JSON:    l.JSON,
	}
}
