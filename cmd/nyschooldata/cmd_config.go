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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/nyschooldata/internal/config"
)

func (c *cli) configFilePath() (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}
	return config.DefaultPath()
}

// runConfigInit writes the default configuration. With --force an
// existing file is replaced.
func (c *cli) runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := c.configFilePath()
	if err != nil {
		return err
	}
	if c.force {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove the existing config: %w", err)
		}
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s wrote %s\n", styles.OK.String(), path)
	return nil
}

// runConfigShow prints the configuration after file, environment and flag
// overrides, as YAML.
func (c *cli) runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = c.stdout.Write(data)
	return err
}
