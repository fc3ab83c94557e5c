// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation guards values that cross into the R bridge.
//
// Function names, argument names and package names end up inside an R
// session (resolved with getExportedValue and passed to do.call). These
// validators reject anything that is not a plain syntactic R name so a
// caller cannot smuggle expressions across the boundary. They do not
// validate data: year ranges and the like are the R package's business.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// maxNameLength bounds names well below R's 10000-byte symbol limit.
const maxNameLength = 256

// rNamePattern matches syntactic R names:
// a letter, or a dot not followed by a digit, then letters, digits, dots, underscores.
var rNamePattern = regexp.MustCompile(`^(?:[A-Za-z]|\.(?:[A-Za-z._]|$))[A-Za-z0-9._]*$`)

// packagePattern matches CRAN package names.
// Allows: ASCII letters, digits, dots. Must start with a letter, not end with a dot.
var packagePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9.]*[A-Za-z0-9]$`)

// reserved are R's reserved words, which are not valid names.
var reserved = map[string]bool{
	"if": true, "else": true, "repeat": true, "while": true, "function": true,
	"for": true, "in": true, "next": true, "break": true,
	"TRUE": true, "FALSE": true, "NULL": true, "Inf": true, "NaN": true,
	"NA": true, "NA_integer_": true, "NA_real_": true, "NA_character_": true,
	"NA_complex_": true, "...": true,
}

// ValidateRName validates a function or argument name.
//
// Valid names:
//   - Start with a letter, or a dot not followed by a digit
//   - Contain only ASCII letters, digits, dots, underscores
//   - Are not reserved words (if, TRUE, NA, ...)
//   - Are at most 256 characters
//
// Example:
//
//	if err := validation.ValidateRName("end_year"); err != nil {
//	    return fmt.Errorf("invalid argument: %w", err)
//	}
func ValidateRName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name too long: %d characters (max %d)", len(name), maxNameLength)
	}
	if reserved[name] {
		return fmt.Errorf("%q is a reserved word in R", name)
	}
	if !rNamePattern.MatchString(name) {
		return fmt.Errorf("invalid R name: %q (must be letters, digits, dots or underscores, starting with a letter or dot)", name)
	}
	return nil
}

// ValidatePackageName validates an R package name.
func ValidatePackageName(name string) error {
	if !packagePattern.MatchString(name) {
		return fmt.Errorf("invalid R package name: %q", name)
	}
	return nil
}

// ValidateArgNames validates every key of an argument map.
// Returns an error listing all invalid names, sorted.
func ValidateArgNames(args map[string]any) error {
	var invalid []string
	for name := range args {
		if err := ValidateRName(name); err != nil {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("invalid argument names: %q", invalid)
	}
	return nil
}

// SanitizeRName trims surrounding whitespace and validates the result.
func SanitizeRName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateRName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateArgValue checks that v can be sent to R as an argument.
//
// Accepted: nil, bool, string, any integer or float kind, and slices or
// arrays of those. Maps, structs, pointers, channels and functions are
// rejected because they have no unambiguous R representation.
func ValidateArgValue(v any) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
			return fmt.Errorf("unsupported argument type %T (raw bytes)", v)
		}
		for i := 0; i < rv.Len(); i++ {
			if !isScalarKind(rv.Index(i)) {
				return fmt.Errorf("unsupported element type %s at index %d", rv.Index(i).Type(), i)
			}
		}
		return nil
	default:
		if !isScalarKind(rv) {
			return fmt.Errorf("unsupported argument type %T", v)
		}
		return nil
	}
}

func isScalarKind(rv reflect.Value) bool {
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
