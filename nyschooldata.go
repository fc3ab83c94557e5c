// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nyschooldata

import (
	"context"

	"github.com/AleutianAI/nyschooldata/pkg/table"
)

// Version is the version of this Go module.
const Version = "0.1.0"

// Initialize sets up the process-wide session.
//
// Calling it is optional; the first package-level call initializes with
// defaults. After a success, later calls return nil at once and their
// options are ignored. A failure is not remembered.
//
// Outputs:
//
//	error - *InteropInitializationError on failure.
func Initialize(ctx context.Context, opts ...Option) error {
	_, err := defaultSession.init(ctx, opts)
	return err
}

// IsInitialized reports whether the process-wide session is ready.
func IsInitialized() bool {
	return defaultSession.get() != nil
}

// Reset drops the process-wide session so the next call initializes again.
// Intended for tests.
func Reset() {
	defaultSession.reset()
}

// FetchEnr fetches enrollment data for one school year, identified by its
// end year (2024 for 2023-24). See Client.FetchEnr.
func FetchEnr(ctx context.Context, year int, opts ...FetchOption) (*table.Table, error) {
	c, err := defaultSession.init(ctx, nil)
	if err != nil {
		return nil, err
	}
	return c.FetchEnr(ctx, year, opts...)
}

// FetchEnrMulti fetches several years and binds them row-wise in the order
// given. See Client.FetchEnrMulti.
func FetchEnrMulti(ctx context.Context, years []int, opts ...FetchOption) (*table.Table, error) {
	c, err := defaultSession.init(ctx, nil)
	if err != nil {
		return nil, err
	}
	return c.FetchEnrMulti(ctx, years, opts...)
}

// TidyEnr converts wide enrollment data to long format in R.
// See Client.TidyEnr.
func TidyEnr(ctx context.Context, data *table.Table, opts ...FetchOption) (*table.Table, error) {
	c, err := defaultSession.init(ctx, nil)
	if err != nil {
		return nil, err
	}
	return c.TidyEnr(ctx, data, opts...)
}

// GetAvailableYears lists the end years with data, ascending.
// See Client.GetAvailableYears.
func GetAvailableYears(ctx context.Context) ([]int, error) {
	c, err := defaultSession.init(ctx, nil)
	if err != nil {
		return nil, err
	}
	return c.GetAvailableYears(ctx)
}
