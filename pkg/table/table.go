// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package table provides the native tabular type returned by the
// nyschooldata wrapper.
//
// A Table is an ordered set of named, typed columns of equal length. It
// mirrors an R data.frame closely enough that a result from the bridge can
// be converted column for column without loss:
//
//	R class     ColumnType    Go value
//	---------   -----------   -------------------------
//	double      TypeFloat     float64
//	integer     TypeInt       int64
//	logical     TypeBool      bool
//	character   TypeString    string
//	factor      TypeCategorical string (+ Column.Levels)
//	Date        TypeDate      time.Time (UTC midnight)
//	POSIXct     TypeTimestamp time.Time (UTC)
//
// Missing values (R NA) are stored as nil in Column.Values.
//
// The package owns no schema. Column names and order are whatever the
// producer supplied.
package table

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrRaggedColumns is returned when columns have different lengths.
	ErrRaggedColumns = errors.New("columns have different lengths")

	// ErrDuplicateColumn is returned when two columns share a name.
	ErrDuplicateColumn = errors.New("duplicate column name")

	// ErrTypeMismatch is returned when a value does not match its column type.
	ErrTypeMismatch = errors.New("value does not match column type")

	// ErrUnknownType is returned for a wire type name with no ColumnType.
	ErrUnknownType = errors.New("unknown column type")
)

// =============================================================================
// Column Types
// =============================================================================

// ColumnType identifies the Go representation of a column's values.
type ColumnType int

const (
	// TypeString holds string values (R character and anything unrecognised).
	TypeString ColumnType = iota

	// TypeFloat holds float64 values (R double).
	TypeFloat

	// TypeInt holds int64 values (R integer).
	TypeInt

	// TypeBool holds bool values (R logical).
	TypeBool

	// TypeCategorical holds string labels plus an ordered level set (R factor).
	TypeCategorical

	// TypeDate holds calendar dates as UTC-midnight time.Time (R Date).
	TypeDate

	// TypeTimestamp holds instants as UTC time.Time (R POSIXct).
	TypeTimestamp
)

// wireNames maps ColumnType to the R class name used on the bridge wire.
var wireNames = map[ColumnType]string{
	TypeString:      "character",
	TypeFloat:       "double",
	TypeInt:         "integer",
	TypeBool:        "logical",
	TypeCategorical: "factor",
	TypeDate:        "Date",
	TypeTimestamp:   "POSIXct",
}

// String returns the R class name for the type.
func (t ColumnType) String() string {
	if name, ok := wireNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// ParseColumnType converts an R class name into a ColumnType.
//
// "numeric" is accepted as an alias for "double".
func ParseColumnType(name string) (ColumnType, error) {
	if name == "numeric" {
		return TypeFloat, nil
	}
	for t, n := range wireNames {
		if n == name {
			return t, nil
		}
	}
	return TypeString, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// =============================================================================
// Column
// =============================================================================

// Column is a single named vector.
type Column struct {
	// Name is the column header as produced by R.
	Name string

	// Type determines the Go type of every non-nil entry in Values.
	Type ColumnType

	// Levels is the ordered factor level set. Only used by TypeCategorical.
	Levels []string

	// Values holds one entry per row. nil marks a missing value.
	Values []any
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	return len(c.Values)
}

// IsNA reports whether row i is missing.
func (c *Column) IsNA(i int) bool {
	return c.Values[i] == nil
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := &Column{
		Name:   c.Name,
		Type:   c.Type,
		Values: make([]any, len(c.Values)),
	}
	copy(out.Values, c.Values)
	if c.Levels != nil {
		out.Levels = append([]string(nil), c.Levels...)
	}
	return out
}

// validate checks every non-nil value against the column type.
func (c *Column) validate() error {
	for i, v := range c.Values {
		if v == nil {
			continue
		}
		ok := false
		switch c.Type {
		case TypeFloat:
			_, ok = v.(float64)
		case TypeInt:
			_, ok = v.(int64)
		case TypeBool:
			_, ok = v.(bool)
		case TypeString, TypeCategorical:
			_, ok = v.(string)
		case TypeDate, TypeTimestamp:
			_, ok = v.(time.Time)
		}
		if !ok {
			return fmt.Errorf("%w: column %q row %d has %T, want %s", ErrTypeMismatch, c.Name, i, v, c.Type)
		}
	}
	return nil
}

// =============================================================================
// Table
// =============================================================================

// Table is an ordered collection of equal-length columns.
//
// Tables are values owned by the caller. Nothing in this module retains or
// mutates a Table after returning it.
type Table struct {
	columns []*Column
	index   map[string]int
	nrow    int
}

// New builds a Table from columns.
//
// The columns are used as given (not copied). All columns must have the
// same length, unique names, and values matching their declared type.
func New(columns ...*Column) (*Table, error) {
	nrow := 0
	if len(columns) > 0 {
		nrow = columns[0].Len()
	}
	return newTable(nrow, columns)
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{index: map[string]int{}}
}

func newTable(nrow int, columns []*Column) (*Table, error) {
	t := &Table{
		columns: columns,
		index:   make(map[string]int, len(columns)),
		nrow:    nrow,
	}
	for i, c := range columns {
		if c == nil {
			return nil, fmt.Errorf("column %d is nil", i)
		}
		if c.Len() != nrow {
			return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrRaggedColumns, c.Name, c.Len(), nrow)
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		t.index[c.Name] = i
	}
	return t, nil
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return t.nrow
}

// NumCols returns the column count.
func (t *Table) NumCols() int {
	if t == nil {
		return 0
	}
	return len(t.columns)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. The slice is a copy; the columns are not.
func (t *Table) Columns() []*Column {
	if t == nil {
		return nil
	}
	return append([]*Column(nil), t.columns...)
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Row returns row i as a name -> value map. Missing values map to nil.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.columns))
	for _, c := range t.columns {
		row[c.Name] = c.Values[i]
	}
	return row
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	cols := make([]*Column, len(t.columns))
	index := make(map[string]int, len(t.columns))
	for i, c := range t.columns {
		cols[i] = c.Clone()
		index[c.Name] = i
	}
	return &Table{columns: cols, index: index, nrow: t.nrow}
}

// Equal reports whether two tables have the same shape, column order,
// types, levels and values.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.nrow != other.nrow || len(t.columns) != len(other.columns) {
		return false
	}
	for i, a := range t.columns {
		b := other.columns[i]
		if a.Name != b.Name || a.Type != b.Type || !equalStrings(a.Levels, b.Levels) {
			return false
		}
		for r := range a.Values {
			if !equalValue(a.Values[r], b.Values[r]) {
				return false
			}
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}
