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
	"math"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/nyschooldata/internal/telemetry"
	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
	"github.com/AleutianAI/nyschooldata/pkg/table"
)

// R function names.
const (
	fnFetchEnr      = "fetch_enr"
	fnFetchEnrMulti = "fetch_enr_multi"
	fnTidyEnr       = "tidy_enr"
	fnYears         = "get_available_years"
)

var tracer = otel.Tracer("nyschooldata")

// Client calls the nyschooldata R package through a bridge.Runtime.
//
// The package-level functions use a shared Client; build your own to use a
// specific runtime or to keep several configurations apart.
//
// # Thread Safety
//
// Client is safe for concurrent use.
type Client struct {
	rt     bridge.Runtime
	logger *logging.Logger

	mu    sync.Mutex
	info  *bridge.Info
	group singleflight.Group
}

// NewClient creates a Client over rt. The runtime is initialized lazily by
// the first call, or explicitly with Initialize. Of the options only
// WithLogger applies.
func NewClient(rt bridge.Runtime, opts ...Option) *Client {
	o := applyOptions(opts)
	logger := o.logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{rt: rt, logger: logger}
}

// Initialize brings up the runtime once. Concurrent first calls share one
// attempt; a failed attempt is not remembered, so the next call tries again.
//
// The shared attempt does not inherit cancellation from the caller that
// started it. A caller whose ctx ends stops waiting and gets an error
// wrapping ctx.Err(); the attempt itself is bounded by the runtime's own
// timeout.
//
// Outputs:
//
//	error - *InteropInitializationError on failure.
func (c *Client) Initialize(ctx context.Context) error {
	if c.IsInitialized() {
		return nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("init", func() (any, error) {
		if c.IsInitialized() {
			return nil, nil
		}
		info, err := c.rt.Initialize(shared)
		if err != nil {
			return nil, initError(err)
		}
		c.mu.Lock()
		c.info = info
		c.mu.Unlock()
		c.logger.Debug("nyschooldata client ready",
			"r_version", info.RVersion,
			"package_version", info.PackageVersion,
		)
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return initError(ctx.Err())
	}
}

// IsInitialized reports whether Initialize has succeeded.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info != nil
}

// Info returns the runtime details captured at initialization, or nil.
func (c *Client) Info() *bridge.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return nil
	}
	info := *c.info
	return &info
}

// FetchEnr calls fetch_enr(end_year = year, ...) and returns its data frame.
//
// The year is not range-checked here; the R package rejects years it has
// no data for, which surfaces as a *DataFetchError wrapping a
// *bridge.CallError.
//
// Outputs:
//
//	*table.Table - The enrollment data, owned by the caller.
//	error - *InteropInitializationError or *DataFetchError.
func (c *Client) FetchEnr(ctx context.Context, year int, opts ...FetchOption) (*table.Table, error) {
	args := buildArgs(map[string]any{"end_year": year}, opts)
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "nyschooldata.FetchEnr", attribute.Int("nyschooldata.year", year))
	defer span.End()

	t, err := c.callTable(ctx, bridge.Request{Function: fnFetchEnr, Args: args})
	if err != nil {
		err = &DataFetchError{Function: fnFetchEnr, Year: year, Args: args, Err: err}
	}
	endSpan(span, t, err)
	return t, err
}

// FetchEnrMulti fetches each year in order and binds the results row-wise.
//
// Description:
//
//	Years are fetched sequentially with FetchEnr. The first failure stops
//	the loop and is reported against fetch_enr_multi with Year set to the
//	failing year; no partial table is returned. Rows of years[0] come first. Columns are the
//	union across years, with NA where a year lacks a column.
//
// Outputs:
//
//	*table.Table - The bound table.
//	error - *InteropInitializationError or *DataFetchError.
func (c *Client) FetchEnrMulti(ctx context.Context, years []int, opts ...FetchOption) (*table.Table, error) {
	if len(years) == 0 {
		return nil, &DataFetchError{Function: fnFetchEnrMulti, Err: ErrNoYears}
	}

	ctx, span := startSpan(ctx, "nyschooldata.FetchEnrMulti", attribute.IntSlice("nyschooldata.years", years))
	defer span.End()

	args := buildArgs(map[string]any{"end_years": years}, opts)
	parts := make([]*table.Table, 0, len(years))
	for _, year := range years {
		t, err := c.FetchEnr(ctx, year, opts...)
		if err != nil {
			var fe *DataFetchError
			if errors.As(err, &fe) {
				err = &DataFetchError{Function: fnFetchEnrMulti, Year: year, Args: args, Err: fe.Err}
			}
			endSpan(span, nil, err)
			return nil, err
		}
		parts = append(parts, t)
	}

	out, err := table.Bind(parts...)
	if err != nil {
		err = &DataFetchError{Function: fnFetchEnrMulti, Args: args, Err: err}
		out = nil
	}
	endSpan(span, out, err)
	return out, err
}

// TidyEnr passes data to tidy_enr and returns the result.
//
// Outputs:
//
//	*table.Table - The tidied table.
//	error - *InteropInitializationError or *TidyError.
func (c *Client) TidyEnr(ctx context.Context, data *table.Table, opts ...FetchOption) (*table.Table, error) {
	if data == nil {
		return nil, &TidyError{Function: fnTidyEnr, Err: ErrNilTable}
	}
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "nyschooldata.TidyEnr", attribute.Int("nyschooldata.input_rows", data.NumRows()))
	defer span.End()

	t, err := c.callTable(ctx, bridge.Request{Function: fnTidyEnr, Args: buildArgs(nil, opts), Data: data})
	if err != nil {
		err = &TidyError{Function: fnTidyEnr, Err: err}
	}
	endSpan(span, t, err)
	return t, err
}

// GetAvailableYears returns the end years the R package has data for,
// ascending and without duplicates. An empty result is an error.
//
// Description:
//
//	Accepted R return shapes:
//	  - an integer or double vector of years
//	  - a list with min_year and max_year, expanded to the inclusive range
//	  - a list with a years element
//	  - a data frame with a year, end_year or years column
//
// Outputs:
//
//	[]int - Years, ascending.
//	error - *InteropInitializationError or *DataFetchError.
func (c *Client) GetAvailableYears(ctx context.Context) ([]int, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "nyschooldata.GetAvailableYears")
	defer span.End()

	years, err := c.availableYears(ctx)
	if err == nil && len(years) == 0 {
		err = fmt.Errorf("%w: no years available", ErrUnexpectedResult)
	}
	if err != nil {
		err = &DataFetchError{Function: fnYears, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("nyschooldata.years", len(years)))
	span.SetStatus(codes.Ok, "")
	return years, nil
}

func (c *Client) availableYears(ctx context.Context) ([]int, error) {
	h, err := c.rt.Call(ctx, bridge.Request{Function: fnYears})
	if err != nil {
		return nil, err
	}

	switch h.Kind {
	case bridge.KindVector:
		col, err := h.Vector()
		if err != nil {
			return nil, err
		}
		return yearsFrom(col)

	case bridge.KindList:
		entries, err := h.Entries()
		if err != nil {
			return nil, err
		}
		if col, ok := entries["years"]; ok {
			return yearsFrom(col)
		}
		lo, okLo := entries["min_year"]
		hi, okHi := entries["max_year"]
		if okLo && okHi {
			return yearRange(lo, hi)
		}
		return nil, fmt.Errorf("%w: list without years or min_year/max_year", ErrUnexpectedResult)

	case bridge.KindTable:
		t, err := c.rt.ToTable(h)
		if err != nil {
			return nil, err
		}
		for _, name := range []string{"end_year", "year", "years"} {
			if col, ok := t.Column(name); ok {
				return yearsFrom(col)
			}
		}
		return nil, fmt.Errorf("%w: data frame without a year column", ErrUnexpectedResult)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnexpectedResult, h.Kind)
}

// callTable runs req and converts a table-kind result.
func (c *Client) callTable(ctx context.Context, req bridge.Request) (*table.Table, error) {
	log := telemetry.WithTrace(ctx, c.logger).With("function", req.Function)
	start := time.Now()

	h, err := c.rt.Call(ctx, req)
	if err != nil {
		if !isContextErr(err) {
			log.Debug("R call failed", "error", err)
		}
		return nil, err
	}
	t, err := c.rt.ToTable(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedResult, err)
	}
	log.Debug("R call returned table",
		"rows", t.NumRows(),
		"cols", t.NumCols(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return t, nil
}

// yearsFrom converts a numeric column to sorted, de-duplicated years.
// NA entries are dropped.
func yearsFrom(col *table.Column) ([]int, error) {
	years := make([]int, 0, col.Len())
	for _, v := range col.Values {
		switch x := v.(type) {
		case nil:
		case int64:
			years = append(years, int(x))
		case float64:
			if x != math.Trunc(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: year %v is not a whole number", ErrUnexpectedResult, x)
			}
			years = append(years, int(x))
		default:
			return nil, fmt.Errorf("%w: year column has type %s", ErrUnexpectedResult, col.Type)
		}
	}
	slices.Sort(years)
	return slices.Compact(years), nil
}

func yearRange(lo, hi *table.Column) ([]int, error) {
	first, err := yearsFrom(lo)
	if err != nil {
		return nil, err
	}
	last, err := yearsFrom(hi)
	if err != nil {
		return nil, err
	}
	if len(first) != 1 || len(last) != 1 {
		return nil, fmt.Errorf("%w: min_year and max_year must be single values", ErrUnexpectedResult)
	}
	if first[0] > last[0] {
		return nil, fmt.Errorf("%w: min_year %d after max_year %d", ErrUnexpectedResult, first[0], last[0])
	}
	years := make([]int, 0, last[0]-first[0]+1)
	for y := first[0]; y <= last[0]; y++ {
		years = append(years, y)
	}
	return years, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, t *table.Table, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("nyschooldata.rows", t.NumRows()),
		attribute.Int("nyschooldata.cols", t.NumCols()),
	)
	span.SetStatus(codes.Ok, "")
}
