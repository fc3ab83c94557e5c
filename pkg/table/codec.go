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
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339
)

// wireTable is the JSON shape exchanged with the R bridge.
//
//	{"nrow": 2, "columns": [{"name": "x", "type": "integer", "values": [1, null]}]}
type wireTable struct {
	NRow    int          `json:"nrow"`
	Columns []wireColumn `json:"columns"`
}

type wireColumn struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Levels flexStrings       `json:"levels,omitempty"`
	Values []json.RawMessage `json:"values"`
}

// MarshalJSON encodes the table in the bridge wire format.
func (t *Table) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	out := wireTable{NRow: t.nrow, Columns: make([]wireColumn, len(t.columns))}
	for i, c := range t.columns {
		wc := wireColumn{
			Name:   c.Name,
			Type:   c.Type.String(),
			Values: make([]json.RawMessage, len(c.Values)),
		}
		if c.Type == TypeCategorical {
			wc.Levels = wireLevels(c)
		}
		for r, v := range c.Values {
			raw, err := encodeValue(v, c.Type)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", c.Name, r, err)
			}
			wc.Values[r] = raw
		}
		out.Columns[i] = wc
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a table from the bridge wire format.
//
// A single column value that arrives as a JSON scalar rather than an array
// (R's auto_unbox of a length-one vector) is accepted as one row.
func (t *Table) UnmarshalJSON(data []byte) error {
	var w struct {
		NRow    int `json:"nrow"`
		Columns []struct {
			Name   string          `json:"name"`
			Type   string          `json:"type"`
			Levels flexStrings     `json:"levels"`
			Values json.RawMessage `json:"values"`
		} `json:"columns"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode table: %w", err)
	}

	columns := make([]*Column, len(w.Columns))
	for i, wc := range w.Columns {
		typ, err := ParseColumnType(wc.Type)
		if err != nil {
			return fmt.Errorf("column %q: %w", wc.Name, err)
		}
		raws, err := rawArray(wc.Values)
		if err != nil {
			return fmt.Errorf("column %q: %w", wc.Name, err)
		}
		col := &Column{Name: wc.Name, Type: typ, Values: make([]any, len(raws))}
		if typ == TypeCategorical {
			col.Levels = []string(wc.Levels)
			if col.Levels == nil {
				col.Levels = []string{}
			}
		}
		for r, raw := range raws {
			v, err := decodeValue(raw, typ)
			if err != nil {
				return fmt.Errorf("column %q row %d: %w", wc.Name, r, err)
			}
			col.Values[r] = v
		}
		columns[i] = col
	}

	nrow := w.NRow
	if len(columns) > 0 {
		nrow = columns[0].Len()
	}
	decoded, err := newTable(nrow, columns)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}

// wireLevels returns the declared levels followed by any value missing from
// them, in order of first appearance. R maps values outside the level set to
// NA, so every value must be listed.
func wireLevels(c *Column) flexStrings {
	levels := make(flexStrings, 0, len(c.Levels))
	seen := make(map[string]bool, len(c.Levels))
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			levels = append(levels, s)
		}
	}
	for _, l := range c.Levels {
		add(l)
	}
	for _, v := range c.Values {
		if s, ok := v.(string); ok {
			add(s)
		}
	}
	return levels
}

func encodeValue(v any, typ ColumnType) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case time.Time:
		layout := timestampLayout
		if typ == TypeDate {
			layout = dateLayout
		}
		return json.Marshal(x.UTC().Format(layout))
	}
	return json.Marshal(v)
}

func decodeValue(raw json.RawMessage, typ ColumnType) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch typ {
	case TypeFloat:
		var s string
		if json.Unmarshal(raw, &s) == nil {
			switch s {
			case "NA", "NaN", "Inf", "-Inf":
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, s)
		}
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, raw)
		}
		return f, nil

	case TypeInt:
		if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s is not an integer", ErrTypeMismatch, raw)
		}
		return int64(f), nil

	case TypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: %s is not logical", ErrTypeMismatch, raw)
		}
		return b, nil

	case TypeDate, TypeTimestamp:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s is not a date string", ErrTypeMismatch, raw)
		}
		return parseTime(s, typ)

	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// Character columns may carry numbers when R coerced a list.
			return string(raw), nil
		}
		return s, nil
	}
}

func parseTime(s string, typ ColumnType) (time.Time, error) {
	layouts := []string{timestampLayout, "2006-01-02 15:04:05", dateLayout}
	if typ == TypeDate {
		layouts = []string{dateLayout, timestampLayout}
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q as %s", ErrTypeMismatch, s, typ)
}

// rawArray splits a JSON array into elements; a scalar becomes one element.
func rawArray(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] != '[' {
		return []json.RawMessage{raw}, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// flexStrings decodes either a JSON string array or a single string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexStrings{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = list
	return nil
}
