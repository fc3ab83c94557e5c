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
	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
)

// =============================================================================
// Call options
// =============================================================================

// FetchOption sets a named argument of the underlying R call.
type FetchOption func(args map[string]any)

// WithTidy sets tidy: TRUE returns long format, FALSE the wide format.
func WithTidy(tidy bool) FetchOption {
	return WithArg("tidy", tidy)
}

// WithCache sets use_cache: FALSE forces a fresh download in R.
func WithCache(useCache bool) FetchOption {
	return WithArg("use_cache", useCache)
}

// WithArg passes any other named argument. The name must be a syntactic R
// name and the value a scalar or slice of scalars; the bridge rejects
// anything else before starting R.
func WithArg(name string, value any) FetchOption {
	return func(args map[string]any) {
		args[name] = value
	}
}

// buildArgs applies opts, then base. Positional parameters such as
// end_year always win over a WithArg of the same name.
func buildArgs(base map[string]any, opts []FetchOption) map[string]any {
	args := make(map[string]any, len(base)+len(opts))
	for _, opt := range opts {
		if opt != nil {
			opt(args)
		}
	}
	for k, v := range base {
		args[k] = v
	}
	return args
}

// =============================================================================
// Session options
// =============================================================================

// Option configures Initialize and NewClient.
type Option func(*options)

type options struct {
	runtime    bridge.Runtime
	logger     *logging.Logger
	configPath string
	rscript    string
}

// WithRuntime replaces the Rscript bridge, e.g. with bridgetest.FakeRuntime.
// Ignored by NewClient, which takes the runtime as an argument.
func WithRuntime(rt bridge.Runtime) Option {
	return func(o *options) { o.runtime = rt }
}

// WithLogger sets the logger. Default: built from the config file's
// logging section, Warn level to stderr.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConfigFile reads bridge and logging settings from path instead of
// ~/.nyschooldata/config.yaml. The file must exist.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithRscript pins the Rscript executable, overriding config and environment.
func WithRscript(path string) Option {
	return func(o *options) { o.rscript = path }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
