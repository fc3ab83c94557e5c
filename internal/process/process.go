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
Package process abstracts external process execution for the R bridge.

Every Rscript invocation goes through the Manager interface so the bridge
can be unit tested with MockManager instead of a real R installation.
*/
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultMaxOutput caps captured stdout and stderr per stream.
const DefaultMaxOutput = 256 << 20

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Spec describes one process invocation.
type Spec struct {
	// Name is the executable name or path.
	Name string

	// Args are the command arguments.
	Args []string

	// Stdin is written to the process's standard input. nil means no input.
	Stdin []byte

	// Env is appended to the current environment as KEY=VALUE entries.
	Env []string

	// Dir is the working directory. Empty means the current directory.
	Dir string
}

// Command renders the process invocation as a shell-like string for logs and errors.
func (s Spec) Command() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	// Inline scripts make for unreadable logs; keep only the flags.
	parts := []string{s.Name}
	for _, a := range s.Args {
		if strings.ContainsRune(a, '\n') {
			a = "<script>"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a completed process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError reports a process that ran but exited non-zero.
//
// The Result is still returned alongside it so callers can inspect output.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// ErrOutputTooLarge is returned when a stream exceeds the capture limit.
var ErrOutputTooLarge = errors.New("process output exceeded capture limit")

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager runs external processes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Manager interface {
	// Run executes the process and waits for it to finish.
	//
	// # Outputs
	//
	//   - *Result: Captured output. Non-nil whenever the process started.
	//   - error: *ExitError for a non-zero exit, the context error when
	//     cancelled, or a start failure (executable missing, permission).
	//
	// # Examples
	//
	//   res, err := pm.Run(ctx, process.Spec{Name: "Rscript", Args: []string{"--version"}})
	Run(ctx context.Context, spec Spec) (*Result, error)

	// LookPath resolves an executable the way exec.LookPath does.
	LookPath(file string) (string, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
type DefaultManager struct {
	// MaxOutput caps captured bytes per stream. Zero uses DefaultMaxOutput.
	MaxOutput int
}

// NewDefaultManager creates a Manager that executes real processes.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes the process described by spec.
func (pm *DefaultManager) Run(ctx context.Context, spec Spec) (*Result, error) {
	limit := pm.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	// Grandchildren (R spawns helpers) can hold the pipes open after a kill.
	cmd.WaitDelay = 2 * time.Second
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: 0,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	observeRun(spec.Name, res, err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", spec.Command(), ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, &ExitError{
				Command:  spec.Command(),
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(string(res.Stderr)),
			}
		}
		if cmd.ProcessState == nil {
			return nil, fmt.Errorf("start %s: %w", spec.Name, err)
		}
		return res, fmt.Errorf("%s: %w", spec.Command(), err)
	}
	if stdout.truncated || stderr.truncated {
		return res, fmt.Errorf("%s: %w (%d bytes)", spec.Command(), ErrOutputTooLarge, limit)
	}
	return res, nil
}

// LookPath resolves an executable on PATH.
func (pm *DefaultManager) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// cappedBuffer stops storing bytes past limit but keeps draining the pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting function fields before use. A nil RunFunc
// panics when Run is called; a nil LookPathFunc returns the file unchanged.
//
// # Examples
//
//	mock := &process.MockManager{
//	    RunFunc: func(ctx context.Context, spec process.Spec) (*process.Result, error) {
//	        return &process.Result{Stdout: []byte("ok")}, nil
//	    },
//	}
type MockManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, spec Spec) (*Result, error)

	// LookPathFunc is called when LookPath is invoked
	LookPathFunc func(file string) (string, error)

	// Calls records every Run invocation for verification
	Calls []Spec

	mu sync.Mutex
}

// Run records the call and delegates to RunFunc.
func (m *MockManager) Run(ctx context.Context, spec Spec) (*Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, spec)
	fn := m.RunFunc
	m.mu.Unlock()
	if fn == nil {
		panic("MockManager.RunFunc not set")
	}
	return fn(ctx, spec)
}

// LookPath delegates to LookPathFunc.
func (m *MockManager) LookPath(file string) (string, error) {
	if m.LookPathFunc == nil {
		return file, nil
	}
	return m.LookPathFunc(file)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []Spec {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Spec, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Reset clears all recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Compile-time interface compliance check.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
