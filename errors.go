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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/table"
)

var (
	// ErrNoYears is wrapped by FetchEnrMulti when called without years.
	ErrNoYears = errors.New("no years requested")

	// ErrNilTable is wrapped by TidyEnr when called without data.
	ErrNilTable = errors.New("nil input table")

	// ErrUnexpectedResult is wrapped when R returns a value of the wrong shape.
	ErrUnexpectedResult = errors.New("unexpected result from R")
)

// InitStep names the initialization phase that failed.
type InitStep string

const (
	StepConfig      InitStep = "config"
	StepLocate      InitStep = "locate_rscript"
	StepStart       InitStep = "start_r"
	StepLoadPackage InitStep = "load_package"
	StepVersion     InitStep = "check_version"
)

// InteropInitializationError reports that the R runtime or the package could
// not be brought up.
//
// # Example
//
//	var ie *nyschooldata.InteropInitializationError
//	if errors.As(err, &ie) && ie.Step == nyschooldata.StepLocate {
//	    fmt.Println("install R or set NYSCHOOLDATA_RSCRIPT")
//	}
type InteropInitializationError struct {
	// Step is the phase that failed.
	Step InitStep

	// Err is the underlying cause.
	Err error
}

func (e *InteropInitializationError) Error() string {
	return fmt.Sprintf("nyschooldata: initialize R bridge (%s): %v", e.Step, e.Err)
}

func (e *InteropInitializationError) Unwrap() error {
	return e.Err
}

// DataFetchError reports a failed fetch. The R condition, if any, is
// reachable with errors.As(err, *bridge.CallError).
type DataFetchError struct {
	// Function is the R function that failed, e.g. "fetch_enr".
	Function string

	// Year is the end year being fetched. Zero when not applicable.
	Year int

	// Args are the named arguments that were sent.
	Args map[string]any

	// Err is the underlying cause.
	Err error
}

func (e *DataFetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "nyschooldata: %s(%s) failed", e.Function, formatArgs(e.Args))
	if e.Year != 0 {
		fmt.Fprintf(&b, " for year %d", e.Year)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DataFetchError) Unwrap() error {
	return e.Err
}

// TidyError reports a failed tidy_enr call.
type TidyError struct {
	// Function is the R function that failed.
	Function string

	// Err is the underlying cause.
	Err error
}

func (e *TidyError) Error() string {
	return fmt.Sprintf("nyschooldata: %s failed: %v", e.Function, e.Err)
}

func (e *TidyError) Unwrap() error {
	return e.Err
}

// initError classifies a runtime initialization failure.
func initError(err error) *InteropInitializationError {
	var ie *InteropInitializationError
	if errors.As(err, &ie) {
		return ie
	}

	var ce *bridge.CallError
	step := StepStart
	switch {
	case errors.Is(err, bridge.ErrRscriptNotFound):
		step = StepLocate
	case errors.Is(err, bridge.ErrPackageTooOld):
		step = StepVersion
	case errors.Is(err, bridge.ErrInvalidRequest):
		step = StepConfig
	case errors.As(err, &ce):
		step = StepLoadPackage
	}
	return &InteropInitializationError{Step: step, Err: err}
}

// isContextErr reports whether err is a caller cancellation or deadline.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// formatArgs renders named arguments in R call syntax, sorted by name.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + " = " + formatArg(args[k])
	}
	return strings.Join(parts, ", ")
}

func formatArg(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return fmt.Sprintf("%q", x)
	case bool, float64, int64:
		return table.FormatValue(x)
	case []int:
		s := make([]string, len(x))
		for i, n := range x {
			s[i] = fmt.Sprint(n)
		}
		return "c(" + strings.Join(s, ", ") + ")"
	default:
		return fmt.Sprint(v)
	}
}
