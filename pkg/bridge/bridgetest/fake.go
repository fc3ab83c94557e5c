// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridgetest provides an in-memory bridge.Runtime for tests.
package bridgetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/table"
)

// HandlerFunc answers one request.
type HandlerFunc func(ctx context.Context, req bridge.Request) (*bridge.Handle, error)

// FakeRuntime is a bridge.Runtime that dispatches calls to registered
// handlers and records every request.
//
// # Examples
//
//	fake := bridgetest.NewFakeRuntime()
//	fake.Handle("get_available_years", bridgetest.Years(2012, 2024))
type FakeRuntime struct {
	// InitErr, when set, is returned by every Initialize call.
	InitErr error

	// RuntimeInfo is returned by a successful Initialize.
	RuntimeInfo bridge.Info

	// InitHook, when set, runs at the start of Initialize. A non-nil
	// error is returned as the Initialize result.
	InitHook func(ctx context.Context) error

	mu        sync.Mutex
	handlers  map[string]HandlerFunc
	calls     []bridge.Request
	initCalls int
	ready     bool
}

// NewFakeRuntime creates a fake reporting nyschooldata 0.1.0 on R 4.4.1.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		RuntimeInfo: bridge.Info{
			RVersion:       "4.4.1",
			Package:        "nyschooldata",
			PackageVersion: "0.1.0",
			Rscript:        "/usr/bin/Rscript",
		},
		handlers: map[string]HandlerFunc{},
	}
}

// Handle registers fn for calls to function.
func (f *FakeRuntime) Handle(function string, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[function] = fn
}

// Initialize runs InitHook, counts the call and returns InitErr or
// RuntimeInfo.
func (f *FakeRuntime) Initialize(ctx context.Context) (*bridge.Info, error) {
	if f.InitHook != nil {
		if err := f.InitHook(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.InitErr != nil {
		return nil, f.InitErr
	}
	f.ready = true
	info := f.RuntimeInfo
	return &info, nil
}

// Call records req and dispatches it.
func (f *FakeRuntime) Call(ctx context.Context, req bridge.Request) (*bridge.Handle, error) {
	f.mu.Lock()
	if req.Data != nil {
		req.Data = req.Data.Clone()
	}
	f.calls = append(f.calls, req)
	fn, ok := f.handlers[req.Function]
	ready := f.ready
	f.mu.Unlock()

	if !ready {
		return nil, bridge.ErrNotInitialized
	}
	if !ok {
		return nil, &bridge.CallError{
			Function: req.Function,
			Message:  fmt.Sprintf("'%s' is not an exported object from 'namespace:nyschooldata'", req.Function),
			Class:    []string{"simpleError", "error", "condition"},
		}
	}
	return fn(ctx, req)
}

// ToTable decodes a table handle.
func (f *FakeRuntime) ToTable(h *bridge.Handle) (*table.Table, error) {
	return h.Table()
}

// Calls returns a copy of the recorded requests.
func (f *FakeRuntime) Calls() []bridge.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.Request(nil), f.calls...)
}

// InitCalls returns how many times Initialize ran.
func (f *FakeRuntime) InitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

var _ bridge.Runtime = (*FakeRuntime)(nil)

// =============================================================================
// Canned handlers
// =============================================================================

// Years answers get_available_years with an integer vector from first to last.
func Years(first, last int) HandlerFunc {
	return func(ctx context.Context, req bridge.Request) (*bridge.Handle, error) {
		values := make([]any, 0, last-first+1)
		for y := first; y <= last; y++ {
			values = append(values, int64(y))
		}
		return bridge.NewVectorHandle(req.Function, &table.Column{Type: table.TypeInt, Values: values})
	}
}

// Table answers every call with a clone of t.
func Table(t *table.Table, warnings ...string) HandlerFunc {
	return func(ctx context.Context, req bridge.Request) (*bridge.Handle, error) {
		return bridge.NewTableHandle(req.Function, t.Clone(), warnings...)
	}
}

// Error answers every call with an R error carrying message.
func Error(message string) HandlerFunc {
	return func(ctx context.Context, req bridge.Request) (*bridge.Handle, error) {
		return nil, &bridge.CallError{
			Function: req.Function,
			Message:  message,
			Call:     req.Function + "(...)",
			Class:    []string{"simpleError", "error", "condition"},
		}
	}
}
