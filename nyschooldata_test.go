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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/mod/semver"

	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/bridge/bridgetest"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
	"github.com/AleutianAI/nyschooldata/pkg/table"
)

// The public surface: four functions and a version string.
var (
	_ func(context.Context, int, ...FetchOption) (*table.Table, error)          = FetchEnr
	_ func(context.Context, []int, ...FetchOption) (*table.Table, error)        = FetchEnrMulti
	_ func(context.Context, *table.Table, ...FetchOption) (*table.Table, error) = TidyEnr
	_ func(context.Context) ([]int, error)                                      = GetAvailableYears
	_ string                                                                    = Version
)

func TestVersion(t *testing.T) {
	assert.True(t, semver.IsValid("v"+Version), "Version %q is not semver", Version)
}

func useFakeSession(t *testing.T) *bridgetest.FakeRuntime {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	fake := bridgetest.NewFakeRuntime()
	fake.Handle(fnFetchEnr, fetchHandler(t, map[int]int{2023: 2, 2024: 4}))
	fake.Handle(fnTidyEnr, tidyHandler)
	fake.Handle(fnYears, bridgetest.Years(firstYear, lastYear))
	require.NoError(t, Initialize(context.Background(), WithRuntime(fake), WithLogger(logging.Discard())))
	return fake
}

func TestPackageFunctions(t *testing.T) {
	fake := useFakeSession(t)
	ctx := context.Background()
	assert.True(t, IsInitialized())

	years, err := GetAvailableYears(ctx)
	require.NoError(t, err)
	assert.Len(t, years, lastYear-firstYear+1)

	one, err := FetchEnr(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, 4, one.NumRows())

	multi, err := FetchEnrMulti(ctx, []int{2023, 2024})
	require.NoError(t, err)
	assert.Equal(t, 6, multi.NumRows())

	long, err := TidyEnr(ctx, one)
	require.NoError(t, err)
	again, err := TidyEnr(ctx, long)
	require.NoError(t, err)
	assert.True(t, long.Equal(again))

	_, err = FetchEnr(ctx, 2031)
	var fe *DataFetchError
	assert.True(t, errors.As(err, &fe))

	assert.Equal(t, 1, fake.InitCalls())
}

func TestInitialize_IdempotentIgnoresLaterOptions(t *testing.T) {
	first := useFakeSession(t)

	second := bridgetest.NewFakeRuntime()
	require.NoError(t, Initialize(context.Background(), WithRuntime(second)))
	assert.Equal(t, 0, second.InitCalls())

	_, err := GetAvailableYears(context.Background())
	require.NoError(t, err)
	assert.Len(t, first.Calls(), 1)
	assert.Empty(t, second.Calls())
}

func TestReset(t *testing.T) {
	useFakeSession(t)
	require.True(t, IsInitialized())
	Reset()
	assert.False(t, IsInitialized())
}

func TestInitialize_RuntimeFailure(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	fake := bridgetest.NewFakeRuntime()
	fake.InitErr = &bridge.CallError{Function: bridge.InfoCall, Message: "R package 'nyschooldata' is not installed"}

	err := Initialize(context.Background(), WithRuntime(fake), WithLogger(logging.Discard()))
	var ie *InteropInitializationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, StepLoadPackage, ie.Step)
	assert.False(t, IsInitialized())

	fake.InitErr = nil
	require.NoError(t, Initialize(context.Background(), WithRuntime(fake), WithLogger(logging.Discard())))
	assert.True(t, IsInitialized())
}

func TestInitialize_MissingConfigFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	err := Initialize(context.Background(), WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	var ie *InteropInitializationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, StepConfig, ie.Step)
	assert.False(t, IsInitialized())
}

func TestInitialize_ConfigFixedAfterFailure(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("NYSCHOOLDATA_RSCRIPT", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [\n"), 0o644))
	t.Setenv("NYSCHOOLDATA_CONFIG", path)
	missing := filepath.Join(t.TempDir(), "no-such-Rscript")

	err := Initialize(context.Background(), WithRscript(missing))
	var ie *InteropInitializationError
	require.True(t, errors.As(err, &ie), "got %T: %v", err, err)
	assert.Equal(t, StepConfig, ie.Step)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o644))
	err = Initialize(context.Background(), WithRscript(missing))
	require.True(t, errors.As(err, &ie), "got %T: %v", err, err)
	assert.Equal(t, StepLocate, ie.Step, "the corrected file must be read again")
}

func TestInitialize_RscriptNotFound(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("NYSCHOOLDATA_RSCRIPT", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o644))

	missing := filepath.Join(t.TempDir(), "no-such-Rscript")
	err := Initialize(context.Background(), WithConfigFile(path), WithRscript(missing))

	var ie *InteropInitializationError
	require.True(t, errors.As(err, &ie), "got %T: %v", err, err)
	assert.Equal(t, StepLocate, ie.Step)
	assert.ErrorIs(t, err, bridge.ErrRscriptNotFound)
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("boom")

	fe := &DataFetchError{Function: "fetch_enr", Year: 2024, Args: map[string]any{"end_year": 2024, "tidy": true}, Err: cause}
	assert.Equal(t, "nyschooldata: fetch_enr(end_year = 2024, tidy = TRUE) failed for year 2024: boom", fe.Error())
	assert.ErrorIs(t, fe, cause)

	multi := &DataFetchError{Function: "fetch_enr_multi", Err: ErrNoYears}
	assert.Equal(t, "nyschooldata: fetch_enr_multi() failed: no years requested", multi.Error())

	te := &TidyError{Function: "tidy_enr", Err: cause}
	assert.Equal(t, "nyschooldata: tidy_enr failed: boom", te.Error())
	assert.ErrorIs(t, te, cause)

	ie := &InteropInitializationError{Step: StepLocate, Err: cause}
	assert.Equal(t, "nyschooldata: initialize R bridge (locate_rscript): boom", ie.Error())
	assert.ErrorIs(t, ie, cause)
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "", formatArgs(nil))
	assert.Equal(t,
		`district_id = "010100", end_years = c(2023, 2024), use_cache = FALSE, weight = 0.5, x = NULL`,
		formatArgs(map[string]any{
			"end_years":   []int{2023, 2024},
			"district_id": "010100",
			"use_cache":   false,
			"weight":      0.5,
			"x":           nil,
		}))
}
