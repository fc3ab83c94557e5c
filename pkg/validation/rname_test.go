// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateRName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Valid names
		{"simple", "tidy", false},
		{"underscore", "end_year", false},
		{"dotted", "use.cache", false},
		{"leading dot", ".hidden", false},
		{"single dot", ".", false},
		{"digits after letter", "x2024", false},
		{"mixed case", "fetchEnr", false},

		// Invalid names - injection attempts
		{"empty", "", true},
		{"call injection", `fetch_enr); system("rm -rf /")`, true},
		{"assignment", "x <- 1", true},
		{"newline", "tidy\nq()", true},
		{"namespace operator", "base::system", true},
		{"backticks", "`tidy`", true},
		{"leading digit", "2024", true},
		{"dot digit", ".2x", true},
		{"leading underscore", "_x", true},
		{"reserved if", "if", true},
		{"reserved TRUE", "TRUE", true},
		{"reserved NA", "NA_integer_", true},
		{"dots", "...", true},
		{"unicode", "jahr€", true},
		{"too long", "a" + strings.Repeat("b", maxNameLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"nyschooldata", false},
		{"data.table", false},
		{"R6", false},
		{"a", true},
		{"1pkg", true},
		{"pkg.", true},
		{"my_pkg", true},
		{"pkg;system", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidatePackageName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePackageName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateArgNames(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"all valid", map[string]any{"end_year": 2024, "tidy": true, "use_cache": false}, false},
		{"one invalid", map[string]any{"end_year": 2024, "bad name": 1}, true},
		{"empty map", map[string]any{}, false},
		{"nil map", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgNames(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgNames(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestValidateArgNames_ListsInvalidSorted(t *testing.T) {
	err := ValidateArgNames(map[string]any{"z z": 1, "a-b": 2, "ok": 3})
	if err == nil {
		t.Fatal("expected error")
	}
	want := `invalid argument names: ["a-b" "z z"]`
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestSanitizeRName(t *testing.T) {
	got, err := SanitizeRName("  tidy\t")
	if err != nil {
		t.Fatalf("SanitizeRName() error = %v", err)
	}
	if got != "tidy" {
		t.Errorf("SanitizeRName() = %q, want %q", got, "tidy")
	}

	if _, err := SanitizeRName(" 9lives "); err == nil {
		t.Error("SanitizeRName(\" 9lives \") expected error")
	}
}

func TestValidateArgValue(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"nil", nil, false},
		{"int", 2024, false},
		{"int64", int64(2024), false},
		{"float", 1.5, false},
		{"bool", true, false},
		{"string", "district", false},
		{"int slice", []int{2022, 2023}, false},
		{"string array", [2]string{"a", "b"}, false},
		{"any slice of scalars", []any{1, "x", nil}, false},

		{"map", map[string]int{"a": 1}, true},
		{"struct", struct{ X int }{1}, true},
		{"pointer", new(int), true},
		{"bytes", []byte("raw"), true},
		{"nested slice", [][]int{{1}}, true},
		{"func", func() {}, true},
		{"any slice with map", []any{map[string]int{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgValue(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgValue(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}
