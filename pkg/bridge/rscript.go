// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/AleutianAI/nyschooldata/internal/process"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
	"github.com/AleutianAI/nyschooldata/pkg/table"
	"github.com/AleutianAI/nyschooldata/pkg/validation"
)

//go:embed bridge.R
var bootstrapScript string

// Environment variables consulted when locating Rscript.
const (
	EnvRscript = "NYSCHOOLDATA_RSCRIPT"
	EnvRHome   = "R_HOME"
)

// DefaultPackage is the R package called when Options.Package is empty.
const DefaultPackage = "nyschooldata"

// maxStderr bounds the stderr excerpt carried by RuntimeError.
const maxStderr = 4096

// Options configures an RscriptRuntime. The zero value is usable.
type Options struct {
	// RscriptPath pins the interpreter. Bare names are resolved on PATH.
	RscriptPath string

	// RHome selects $RHome/bin/Rscript when RscriptPath is empty.
	RHome string

	// Package is the R package to call. Default: "nyschooldata".
	Package string

	// MinVersion rejects older installed package versions ("0.1.0").
	MinVersion string

	// Timeout bounds each Rscript run. Zero means no limit beyond ctx.
	Timeout time.Duration

	// LibPaths are prepended to R_LIBS for every run.
	LibPaths []string

	// Env is extra KEY=VALUE environment for every run.
	Env map[string]string

	// Logger receives call logs and R warnings. Default: logging.Default().
	Logger *logging.Logger

	// Process runs Rscript. Default: process.NewDefaultManager().
	Process process.Manager
}

// RscriptRuntime is a Runtime backed by one Rscript process per call.
type RscriptRuntime struct {
	opts   Options
	pm     process.Manager
	logger *logging.Logger

	mu      sync.Mutex
	rscript string
	info    *Info
}

// NewRscriptRuntime creates a runtime. No process is started until
// Initialize.
func NewRscriptRuntime(opts Options) *RscriptRuntime {
	if opts.Package == "" {
		opts.Package = DefaultPackage
	}
	r := &RscriptRuntime{opts: opts, pm: opts.Process, logger: opts.Logger}
	if r.pm == nil {
		r.pm = process.NewDefaultManager()
	}
	if r.logger == nil {
		r.logger = logging.Default()
	}
	return r
}

// Initialize locates Rscript, starts R once to confirm the package loads,
// and checks its version.
//
// Description:
//
//	Resolution order for the interpreter:
//	  1. Options.RscriptPath
//	  2. $NYSCHOOLDATA_RSCRIPT
//	  3. Options.RHome or $R_HOME, as <home>/bin/Rscript
//	  4. Rscript on PATH
//
//	After success the Info is cached and later calls return it without
//	starting R. A failure is not cached.
//
// Outputs:
//
//	*Info - Runtime details including the resolved Rscript path.
//	error - ErrRscriptNotFound, ErrPackageTooOld, *CallError (package
//	        missing), or *RuntimeError (R failed to start).
func (r *RscriptRuntime) Initialize(ctx context.Context) (*Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.info != nil {
		info := *r.info
		return &info, nil
	}

	if err := validation.ValidatePackageName(r.opts.Package); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	rscript, err := r.locate()
	if err != nil {
		return nil, err
	}

	h, err := r.run(ctx, rscript, Request{Function: InfoCall})
	if err != nil {
		return nil, err
	}
	info, err := h.Info()
	if err != nil {
		return nil, err
	}
	info.Rscript = rscript

	if err := checkVersion(info.PackageVersion, r.opts.MinVersion); err != nil {
		return nil, err
	}

	r.rscript = rscript
	r.info = info
	r.logger.Info("R bridge initialized",
		"rscript", rscript,
		"r_version", info.RVersion,
		"package", info.Package,
		"package_version", info.PackageVersion,
	)
	out := *info
	return &out, nil
}

// Info returns the cached runtime info, or nil before Initialize.
func (r *RscriptRuntime) Info() *Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.info == nil {
		return nil
	}
	info := *r.info
	return &info
}

// Call invokes an exported function of the package.
func (r *RscriptRuntime) Call(ctx context.Context, req Request) (*Handle, error) {
	r.mu.Lock()
	rscript := r.rscript
	r.mu.Unlock()
	if rscript == "" {
		return nil, ErrNotInitialized
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return r.run(ctx, rscript, req)
}

// ToTable converts a table-kind handle.
func (r *RscriptRuntime) ToTable(h *Handle) (*table.Table, error) {
	return h.Table()
}

// run executes one request against rscript.
func (r *RscriptRuntime) run(ctx context.Context, rscript string, req Request) (*Handle, error) {
	callID := uuid.NewString()
	log := r.logger.With("call_id", callID, "function", req.Function)

	payload, err := encodeRequest(r.opts.Package, callID, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	ctx, span := startCallSpan(ctx, r.opts.Package, req.Function, callID)
	defer span.End()

	spec := process.Spec{
		Name:  rscript,
		Args:  []string{"--no-save", "--no-restore", "--no-init-file", "-e", bootstrapScript},
		Stdin: payload,
		Env:   r.env(),
	}

	log.Debug("calling R", "args", argNames(req.Args), "has_data", req.Data != nil)
	start := time.Now()
	res, runErr := r.pm.Run(ctx, spec)
	elapsed := time.Since(start)

	h, err := r.decode(req.Function, res, runErr)
	recordCall(ctx, span, req.Function, elapsed, h, err)
	if err != nil {
		log.Debug("R call failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return nil, err
	}

	h.Duration = elapsed
	if h.CallID == "" {
		h.CallID = callID
	}
	for _, w := range h.Warnings {
		log.Warn("R warning", "warning", w)
	}
	log.Debug("R call finished", "kind", h.Kind, "duration_ms", elapsed.Milliseconds())
	return h, nil
}

// decode turns a process outcome into a Handle or a typed error.
func (r *RscriptRuntime) decode(function string, res *process.Result, runErr error) (*Handle, error) {
	if res == nil {
		// Process never started.
		return nil, &RuntimeError{Function: function, ExitCode: -1, Err: runErr}
	}

	payload, frameErr := extractFrame(res.Stdout)
	if frameErr == nil {
		h, err := parseResponse(function, payload)
		if err == nil || !errors.Is(err, ErrMalformedFrame) {
			return h, err
		}
		frameErr = err
	}

	cause := frameErr
	if runErr != nil {
		cause = runErr
	}
	return nil, &RuntimeError{
		Function: function,
		ExitCode: res.ExitCode,
		Stderr:   stderrTail(res.Stderr, maxStderr),
		Err:      cause,
	}
}

// env builds the extra environment for Rscript.
func (r *RscriptRuntime) env() []string {
	var env []string
	if len(r.opts.LibPaths) > 0 {
		libs := strings.Join(r.opts.LibPaths, string(os.PathListSeparator))
		if existing := os.Getenv("R_LIBS"); existing != "" {
			libs += string(os.PathListSeparator) + existing
		}
		env = append(env, "R_LIBS="+libs)
	}
	keys := make([]string, 0, len(r.opts.Env))
	for k := range r.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.opts.Env[k])
	}
	return env
}

// locate resolves the Rscript executable.
func (r *RscriptRuntime) locate() (string, error) {
	candidates := []string{r.opts.RscriptPath, os.Getenv(EnvRscript)}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if path, err := r.pm.LookPath(c); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrRscriptNotFound, c)
	}

	home := r.opts.RHome
	if home == "" {
		home = os.Getenv(EnvRHome)
	}
	if home != "" {
		if path, err := r.pm.LookPath(filepath.Join(home, "bin", rscriptName())); err == nil {
			return path, nil
		}
	}

	path, err := r.pm.LookPath(rscriptName())
	if err != nil {
		return "", fmt.Errorf("%w on PATH (set %s or R_HOME)", ErrRscriptNotFound, EnvRscript)
	}
	return path, nil
}

func rscriptName() string {
	if runtime.GOOS == "windows" {
		return "Rscript.exe"
	}
	return "Rscript"
}

// validateRequest guards everything that is interpreted by R as a name.
func validateRequest(req Request) error {
	if err := validation.ValidateRName(req.Function); err != nil {
		return fmt.Errorf("%w: function: %v", ErrInvalidRequest, err)
	}
	if err := validation.ValidateArgNames(req.Args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for name, v := range req.Args {
		if err := validation.ValidateArgValue(v); err != nil {
			return fmt.Errorf("%w: argument %s: %v", ErrInvalidRequest, name, err)
		}
	}
	return nil
}

// checkVersion compares R package versions ("0.1.0.9000", "1.2-3") with
// semver after truncating to three components.
func checkVersion(installed, minimum string) error {
	if minimum == "" {
		return nil
	}
	have, want := normalizeVersion(installed), normalizeVersion(minimum)
	if !semver.IsValid(want) {
		return fmt.Errorf("invalid minimum version %q", minimum)
	}
	if !semver.IsValid(have) {
		return fmt.Errorf("%w: cannot parse installed version %q", ErrPackageTooOld, installed)
	}
	if semver.Compare(have, want) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrPackageTooOld, installed, minimum)
	}
	return nil
}

func normalizeVersion(v string) string {
	parts := strings.FieldsFunc(strings.TrimPrefix(strings.TrimSpace(v), "v"), func(r rune) bool {
		return r == '.' || r == '-'
	})
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	for i, p := range parts[:3] {
		// semver rejects leading zeros; R allows "01".
		p = strings.TrimLeft(p, "0")
		if p == "" {
			p = "0"
		}
		parts[i] = p
	}
	return "v" + strings.Join(parts[:3], ".")
}

func argNames(args map[string]any) []string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var _ Runtime = (*RscriptRuntime)(nil)
