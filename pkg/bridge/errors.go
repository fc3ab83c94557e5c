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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRscriptNotFound is returned when no Rscript executable can be located.
	ErrRscriptNotFound = errors.New("Rscript executable not found")

	// ErrPackageTooOld is returned when the installed package is older than required.
	ErrPackageTooOld = errors.New("installed R package is older than required")

	// ErrNotInitialized is returned by Call before Initialize has succeeded.
	ErrNotInitialized = errors.New("bridge not initialized")

	// ErrNoFrame is returned when stdout contains no complete response frame.
	ErrNoFrame = errors.New("no response frame in R output")

	// ErrMalformedFrame is returned when a frame cannot be decoded.
	ErrMalformedFrame = errors.New("malformed response frame")

	// ErrUnexpectedKind is returned when a result has a different shape than requested.
	ErrUnexpectedKind = errors.New("unexpected result kind")

	// ErrInvalidRequest is returned when a request fails boundary validation.
	ErrInvalidRequest = errors.New("invalid bridge request")
)

// CallError is an R condition raised by the called function.
//
// # Example
//
//	var ce *bridge.CallError
//	if errors.As(err, &ce) {
//	    fmt.Println(ce.Message) // "end_year must be between 2012 and 2024"
//	}
type CallError struct {
	// Function is the R function that was called.
	Function string

	// Message is conditionMessage(e).
	Message string

	// Call is the deparsed conditionCall(e), empty when R had none.
	Call string

	// Class is class(e), e.g. ["simpleError", "error", "condition"].
	Class []string

	// Warnings raised before the error.
	Warnings []string
}

func (e *CallError) Error() string {
	if e.Call != "" {
		return fmt.Sprintf("R error in %s: %s", e.Call, e.Message)
	}
	return fmt.Sprintf("R error in %s(): %s", e.Function, e.Message)
}

// HasClass reports whether the condition inherits from class.
func (e *CallError) HasClass(class string) bool {
	for _, c := range e.Class {
		if c == class {
			return true
		}
	}
	return false
}

// RuntimeError is a process-level failure: Rscript crashed, was killed,
// or produced no usable frame.
type RuntimeError struct {
	// Function is the R function being called.
	Function string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr is the trimmed tail of standard error.
	Stderr string

	// Err is the underlying cause.
	Err error
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rscript %s", e.Function)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", e.Stderr)
	}
	return b.String()
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// stderrTail keeps the last n bytes of stderr, trimmed.
func stderrTail(stderr []byte, n int) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
