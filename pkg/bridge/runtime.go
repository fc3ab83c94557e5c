// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package bridge calls exported functions of an R package from Go.

The production Runtime, RscriptRuntime, starts one Rscript process per call.
A small bootstrap script (bridge.R, embedded in the binary) reads a JSON
request from stdin, resolves the function with getExportedValue, invokes it
with do.call and prints one framed JSON response to stdout:

	Go ──stdin──▶ {"package":"nyschooldata","call":"fetch_enr","args":{"end_year":2024}}
	Go ◀─stdout── <<<NYSCHOOLDATA-BRIDGE-BEGIN>>>
	              {"ok":true,"kind":"table","table":{...},"warnings":[]}
	              <<<NYSCHOOLDATA-BRIDGE-END>>>

Anything else the package prints to stdout (progress messages, cat output)
is ignored; only the last framed block counts.

The bridge never interprets the data it moves. Retry, caching and schema
checks belong to the R package.
*/
package bridge

import (
	"context"

	"github.com/AleutianAI/nyschooldata/pkg/table"
)

// InfoCall is the reserved bootstrap call that reports runtime information
// and fails when the package cannot be loaded.
const InfoCall = "__bridge_info__"

// Runtime is the adapter between Go and the foreign runtime.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use once Initialize has
// returned successfully.
type Runtime interface {
	// Initialize locates the runtime and loads the package. Calling it again
	// after success returns the cached Info without restarting anything.
	Initialize(ctx context.Context) (*Info, error)

	// Call invokes an exported function and returns its decoded result.
	Call(ctx context.Context, req Request) (*Handle, error)

	// ToTable converts a table-kind handle into a native table.
	ToTable(h *Handle) (*table.Table, error)
}

// Request names a function and its arguments.
type Request struct {
	// Function is the exported R function name, e.g. "fetch_enr".
	Function string

	// Args are passed by name. Values must be scalars or slices of scalars.
	Args map[string]any

	// Data, when set, is converted to a data.frame and passed as the first
	// positional argument.
	Data *table.Table
}

// Info describes an initialized runtime.
type Info struct {
	RVersion       string   `json:"r_version"`
	Package        string   `json:"package"`
	PackageVersion string   `json:"package_version"`
	LibPaths       []string `json:"lib_paths"`

	// Rscript is the resolved interpreter path. Set on the Go side.
	Rscript string `json:"-"`
}
