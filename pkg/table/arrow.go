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
	"encoding/json"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Arrow field metadata keys carrying R-specific column information.
const (
	MetaRClass  = "r.class"
	MetaRLevels = "r.levels"
)

// ArrowSchema returns the Arrow schema equivalent of the table's columns.
//
// Every field is nullable. Categorical columns become utf8 fields with the
// level set stored as a JSON array under MetaRLevels.
func (t *Table) ArrowSchema() (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(t.columns))
	for i, c := range t.columns {
		keys := []string{MetaRClass}
		vals := []string{c.Type.String()}
		if c.Type == TypeCategorical {
			levels, err := json.Marshal(c.Levels)
			if err != nil {
				return nil, fmt.Errorf("encode levels of %q: %w", c.Name, err)
			}
			keys = append(keys, MetaRLevels)
			vals = append(vals, string(levels))
		}
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     arrowType(c.Type),
			Nullable: true,
			Metadata: arrow.NewMetadata(keys, vals),
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

// ToArrow converts the table into an Arrow record.
//
// Inputs:
//
//	mem - Allocator for the record buffers. nil uses memory.DefaultAllocator.
//
// Outputs:
//
//	arrow.Record - The caller must call Release when done.
//	error - Non-nil if a value does not fit its column type.
func (t *Table) ToArrow(mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema, err := t.ArrowSchema()
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i, c := range t.columns {
		if err := appendColumn(b.Field(i), c); err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
	}
	return b.NewRecord(), nil
}

func arrowType(t ColumnType) arrow.DataType {
	switch t {
	case TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case TypeInt:
		return arrow.PrimitiveTypes.Int64
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case TypeDate:
		return arrow.FixedWidthTypes.Date32
	case TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Second, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

func appendColumn(fb array.Builder, c *Column) error {
	fb.Reserve(c.Len())
	for _, v := range c.Values {
		if v == nil {
			fb.AppendNull()
			continue
		}
		switch b := fb.(type) {
		case *array.Float64Builder:
			b.Append(v.(float64))
		case *array.Int64Builder:
			b.Append(v.(int64))
		case *array.BooleanBuilder:
			b.Append(v.(bool))
		case *array.StringBuilder:
			b.Append(v.(string))
		case *array.Date32Builder:
			b.Append(arrow.Date32FromTime(v.(time.Time)))
		case *array.TimestampBuilder:
			b.Append(arrow.Timestamp(v.(time.Time).Unix()))
		default:
			return fmt.Errorf("%w: no arrow builder for %T", ErrTypeMismatch, fb)
		}
	}
	return nil
}
