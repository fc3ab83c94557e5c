// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the YAML configuration shared by the library's
// default session and the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvConfigPath = "NYSCHOOLDATA_CONFIG"
	EnvRscript    = "NYSCHOOLDATA_RSCRIPT"
	EnvRHome      = "R_HOME"
	EnvLogLevel   = "NYSCHOOLDATA_LOG_LEVEL"
)

// Load reads the default config file.
//
// A missing file is not an error: the result falls back to Default() plus
// environment overrides. Nothing is cached, so an edited file is picked up
// by the next call. Unlike the CLI's "config init" command, Load never
// writes to disk.
func Load() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path, true)
}

// DefaultPath returns $NYSCHOOLDATA_CONFIG or ~/.nyschooldata/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".nyschooldata", "config.yaml"), nil
}

// LoadFile reads, applies env overrides to, and validates one config file.
//
// When optional is true a missing file yields Default() with overrides.
func LoadFile(path string, optional bool) (Config, error) {
	cfg := Default()

	data, readErr := os.ReadFile(path)
	switch {
	case readErr == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	case errors.Is(readErr, os.ErrNotExist) && optional:
	default:
		return Config{}, fmt.Errorf("failed to read the config file: %w", readErr)
	}

	applyEnv(&cfg)
	if cfg.Bridge.Package == "" {
		cfg.Bridge.Package = DefaultPackage
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes Default() to path, creating parent directories.
// An existing file is left untouched and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvRscript); v != "" {
		cfg.Bridge.RscriptPath = v
	}
	if v := os.Getenv(EnvRHome); v != "" && cfg.Bridge.RHome == "" {
		cfg.Bridge.RHome = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
