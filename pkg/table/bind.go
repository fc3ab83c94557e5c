// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package table

import (
	"math"
	"strconv"
	"time"
)

// Bind concatenates tables row-wise.
//
// Description:
//
//	Rows keep their input order: every row of tables[0] precedes every row
//	of tables[1], and so on. The result holds the union of all column names
//	in first-seen order; a table lacking a column contributes nil (NA) cells
//	for it. This follows dplyr::bind_rows.
//
//	When the same column has different types across inputs the type is
//	promoted:
//	  - Bool + Int           -> Int
//	  - Bool/Int + Float     -> Float
//	  - Date + Timestamp     -> Timestamp
//	  - Categorical + Categorical -> Categorical, levels unioned in order
//	  - any other mix        -> String (values formatted as R prints them)
//
// Inputs:
//
//	tables - Tables to bind. nil entries are skipped.
//
// Outputs:
//
//	*Table - A new table. Inputs are not modified.
//	error - Non-nil only if the inputs are internally inconsistent.
func Bind(tables ...*Table) (*Table, error) {
	var order []string
	types := map[string]ColumnType{}
	levels := map[string][]string{}
	total := 0

	for _, t := range tables {
		if t == nil {
			continue
		}
		total += t.nrow
		for _, c := range t.columns {
			prev, seen := types[c.Name]
			if !seen {
				order = append(order, c.Name)
				types[c.Name] = c.Type
			} else {
				types[c.Name] = promote(prev, c.Type)
			}
			if c.Type == TypeCategorical {
				levels[c.Name] = unionLevels(levels[c.Name], c.Levels)
			}
		}
	}

	columns := make([]*Column, len(order))
	for i, name := range order {
		col := &Column{
			Name:   name,
			Type:   types[name],
			Values: make([]any, 0, total),
		}
		if col.Type == TypeCategorical {
			col.Levels = levels[name]
		}
		for _, t := range tables {
			if t == nil {
				continue
			}
			src, ok := t.Column(name)
			if !ok {
				for r := 0; r < t.nrow; r++ {
					col.Values = append(col.Values, nil)
				}
				continue
			}
			for _, v := range src.Values {
				col.Values = append(col.Values, convert(v, src.Type, col.Type))
			}
		}
		columns[i] = col
	}

	return newTable(total, columns)
}

// promote returns the common type of a and b.
func promote(a, b ColumnType) ColumnType {
	if a == b {
		return a
	}
	rank := func(t ColumnType) int {
		switch t {
		case TypeBool:
			return 1
		case TypeInt:
			return 2
		case TypeFloat:
			return 3
		}
		return 0
	}
	if ra, rb := rank(a), rank(b); ra > 0 && rb > 0 {
		if ra > rb {
			return a
		}
		return b
	}
	if (a == TypeDate && b == TypeTimestamp) || (a == TypeTimestamp && b == TypeDate) {
		return TypeTimestamp
	}
	return TypeString
}

func unionLevels(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, l := range have {
		seen[l] = true
	}
	for _, l := range add {
		if !seen[l] {
			have = append(have, l)
			seen[l] = true
		}
	}
	return have
}

// convert maps a value from one column type to a promoted one.
func convert(v any, from, to ColumnType) any {
	if v == nil || from == to {
		return v
	}
	switch to {
	case TypeFloat:
		switch x := v.(type) {
		case int64:
			return float64(x)
		case bool:
			if x {
				return 1.0
			}
			return 0.0
		}
	case TypeInt:
		if x, ok := v.(bool); ok {
			if x {
				return int64(1)
			}
			return int64(0)
		}
	case TypeTimestamp:
		if x, ok := v.(time.Time); ok {
			return x.UTC()
		}
	case TypeString:
		return FormatValue(v)
	}
	return v
}

// FormatValue renders a cell the way R prints it. nil renders as "NA".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NA"
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return "NaN"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		x = x.UTC()
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(dateLayout)
		}
		return x.Format(timestampLayout)
	}
	return ""
}
