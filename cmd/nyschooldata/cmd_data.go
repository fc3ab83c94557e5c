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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/nyschooldata"
	"github.com/AleutianAI/nyschooldata/pkg/table"
	"github.com/AleutianAI/nyschooldata/pkg/validation"
)

func (c *cli) runYears(cmd *cobra.Command, _ []string) error {
	years, err := c.client.GetAvailableYears(cmd.Context())
	if err != nil {
		return err
	}
	out, err := c.openOutput()
	if err != nil {
		return err
	}
	defer out.close()
	return out.writeYears(years)
}

func (c *cli) runFetch(cmd *cobra.Command, args []string) error {
	year, err := parseYear(args[0])
	if err != nil {
		return err
	}
	opts, err := c.fetchOptions(cmd)
	if err != nil {
		return err
	}
	t, err := c.client.FetchEnr(cmd.Context(), year, opts...)
	if err != nil {
		return err
	}
	return c.emit(t)
}

func (c *cli) runFetchMulti(cmd *cobra.Command, args []string) error {
	years := make([]int, len(args))
	for i, a := range args {
		y, err := parseYear(a)
		if err != nil {
			return err
		}
		years[i] = y
	}
	opts, err := c.fetchOptions(cmd)
	if err != nil {
		return err
	}
	t, err := c.client.FetchEnrMulti(cmd.Context(), years, opts...)
	if err != nil {
		return err
	}
	return c.emit(t)
}

func (c *cli) runTidy(cmd *cobra.Command, args []string) error {
	in, err := readTable(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	opts, err := c.fetchOptions(cmd)
	if err != nil {
		return err
	}
	t, err := c.client.TidyEnr(cmd.Context(), in, opts...)
	if err != nil {
		return err
	}
	return c.emit(t)
}

func (c *cli) emit(t *table.Table) error {
	out, err := c.openOutput()
	if err != nil {
		return err
	}
	if err := out.writeTable(t); err != nil {
		_ = out.close()
		return err
	}
	return out.close()
}

// fetchOptions forwards only the flags the user set, so the R function's
// own defaults apply otherwise.
func (c *cli) fetchOptions(cmd *cobra.Command) ([]nyschooldata.FetchOption, error) {
	var opts []nyschooldata.FetchOption
	if cmd.Flags().Changed("tidy") {
		opts = append(opts, nyschooldata.WithTidy(c.tidy))
	}
	if cmd.Flags().Changed("use-cache") {
		opts = append(opts, nyschooldata.WithCache(c.useCache))
	}
	for _, raw := range c.rawArgs {
		name, value, err := parseArg(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nyschooldata.WithArg(name, value))
	}
	return opts, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid year %q: expected an end year such as 2024", s)
	}
	return y, nil
}

// parseArg splits name=value and types the value the way R would read the
// literal: NULL, TRUE/FALSE, integer, double, or a string. Quotes force a
// string.
func parseArg(raw string) (string, any, error) {
	name, value, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid --arg %q: expected name=value", raw)
	}
	if err := validation.ValidateRName(name); err != nil {
		return "", nil, fmt.Errorf("invalid --arg %q: %w", raw, err)
	}

	value = strings.TrimSpace(value)
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		return name, value[1 : len(value)-1], nil
	}
	switch value {
	case "NULL":
		return name, nil, nil
	case "TRUE", "true", "T":
		return name, true, nil
	case "FALSE", "false", "F":
		return name, false, nil
	}
	if i, err := strconv.Atoi(value); err == nil {
		return name, i, nil
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return name, f, nil
	}
	return name, value, nil
}

// readTable decodes a table in the bridge JSON layout from a file or, for
// "-", from stdin.
func readTable(path string, stdin io.Reader) (*table.Table, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}

	var t table.Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode table from %s: %w", path, err)
	}
	return &t, nil
}
