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
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/nyschooldata/pkg/table"
)

// Kind is the shape of an R return value.
type Kind string

const (
	KindTable  Kind = "table"
	KindVector Kind = "vector"
	KindList   Kind = "list"
	KindNull   Kind = "null"
	KindInfo   Kind = "info"
)

// Handle is an opaque reference to one decoded R result.
//
// The payload stays in wire form until a typed accessor (Table, Vector,
// Entries) asks for it.
type Handle struct {
	CallID   string
	Function string
	Kind     Kind
	Warnings []string
	Duration time.Duration

	vector  json.RawMessage
	table   json.RawMessage
	entries json.RawMessage
	info    *Info
}

// wireResponse is the JSON object inside a frame.
type wireResponse struct {
	OK       bool            `json:"ok"`
	CallID   string          `json:"call_id,omitempty"`
	Kind     Kind            `json:"kind,omitempty"`
	Type     string          `json:"type,omitempty"`
	Levels   json.RawMessage `json:"levels,omitempty"`
	Values   json.RawMessage `json:"values,omitempty"`
	Table    json.RawMessage `json:"table,omitempty"`
	Entries  json.RawMessage `json:"entries,omitempty"`
	Info     *Info           `json:"info,omitempty"`
	Warnings stringList      `json:"warnings,omitempty"`
	Error    *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Message string     `json:"message"`
	Call    string     `json:"call"`
	Class   stringList `json:"class"`
}

// wireVector is a typed atomic vector: the table column shape minus the name.
type wireVector struct {
	Type   string          `json:"type"`
	Levels json.RawMessage `json:"levels,omitempty"`
	Values json.RawMessage `json:"values"`
}

// parseResponse turns frame JSON into a Handle or a *CallError.
func parseResponse(function string, payload []byte) (*Handle, error) {
	var resp wireResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !resp.OK {
		ce := &CallError{Function: function, Warnings: resp.Warnings}
		if resp.Error != nil {
			ce.Message = resp.Error.Message
			ce.Call = resp.Error.Call
			ce.Class = resp.Error.Class
		}
		if ce.Message == "" {
			ce.Message = "unknown R error"
		}
		return nil, ce
	}

	h := &Handle{
		CallID:   resp.CallID,
		Function: function,
		Kind:     resp.Kind,
		Warnings: resp.Warnings,
		table:    resp.Table,
		entries:  resp.Entries,
		info:     resp.Info,
	}
	switch resp.Kind {
	case KindTable:
		if len(resp.Table) == 0 {
			return nil, fmt.Errorf("%w: table result without table", ErrMalformedFrame)
		}
	case KindVector:
		raw, err := json.Marshal(wireVector{Type: resp.Type, Levels: resp.Levels, Values: orNull(resp.Values)})
		if err != nil {
			return nil, err
		}
		h.vector = raw
	case KindInfo:
		if resp.Info == nil {
			return nil, fmt.Errorf("%w: info result without info", ErrMalformedFrame)
		}
	case KindList, KindNull:
	default:
		return nil, fmt.Errorf("%w: unknown result kind %q", ErrMalformedFrame, resp.Kind)
	}
	return h, nil
}

// Table decodes a table-kind handle.
func (h *Handle) Table() (*table.Table, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil handle", ErrUnexpectedKind)
	}
	if h.Kind != KindTable {
		return nil, fmt.Errorf("%w: %s returned %s, want table", ErrUnexpectedKind, h.Function, h.Kind)
	}
	var t table.Table
	if err := json.Unmarshal(h.table, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &t, nil
}

// Vector decodes a vector-kind handle into a column named "value".
func (h *Handle) Vector() (*table.Column, error) {
	if h == nil || h.Kind != KindVector {
		kind := Kind("nil")
		if h != nil {
			kind = h.Kind
		}
		return nil, fmt.Errorf("%w: got %s, want vector", ErrUnexpectedKind, kind)
	}
	return decodeVector("value", h.vector)
}

// Entries decodes the atomic elements of a list-kind handle by name.
// Elements that are not atomic vectors (nested lists, data frames) are omitted.
func (h *Handle) Entries() (map[string]*table.Column, error) {
	if h == nil || h.Kind != KindList {
		return nil, fmt.Errorf("%w: want list", ErrUnexpectedKind)
	}
	out := map[string]*table.Column{}
	raw := bytes.TrimSpace(h.entries)
	// jsonlite writes an empty named list as [].
	if len(raw) == 0 || raw[0] != '{' {
		return out, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	for name, entry := range entries {
		col, err := decodeVector(name, entry)
		if err != nil {
			continue
		}
		out[name] = col
	}
	return out, nil
}

// Info returns the runtime info carried by an info-kind handle.
func (h *Handle) Info() (*Info, error) {
	if h == nil || h.Kind != KindInfo || h.info == nil {
		return nil, fmt.Errorf("%w: want info", ErrUnexpectedKind)
	}
	info := *h.info
	return &info, nil
}

// decodeVector reuses the table codec by wrapping the vector as a column.
func decodeVector(name string, raw json.RawMessage) (*table.Column, error) {
	var v wireVector
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	wrapped, err := json.Marshal(map[string]any{
		"nrow": 0,
		"columns": []map[string]any{{
			"name":   name,
			"type":   v.Type,
			"levels": orNull(v.Levels),
			"values": orNull(v.Values),
		}},
	})
	if err != nil {
		return nil, err
	}
	var t table.Table
	if err := json.Unmarshal(wrapped, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	col, _ := t.Column(name)
	return col, nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// =============================================================================
// Handle constructors for alternative runtimes and tests
// =============================================================================

// NewTableHandle wraps a table as a result of function.
func NewTableHandle(function string, t *table.Table, warnings ...string) (*Handle, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Handle{Function: function, Kind: KindTable, table: raw, Warnings: warnings}, nil
}

// NewVectorHandle wraps a column's values as a vector result of function.
func NewVectorHandle(function string, col *table.Column) (*Handle, error) {
	raw, err := encodeVector(col)
	if err != nil {
		return nil, err
	}
	return &Handle{Function: function, Kind: KindVector, vector: raw}, nil
}

// NewListHandle wraps named columns as a list result of function.
func NewListHandle(function string, entries map[string]*table.Column) (*Handle, error) {
	m := make(map[string]json.RawMessage, len(entries))
	for name, col := range entries {
		raw, err := encodeVector(col)
		if err != nil {
			return nil, err
		}
		m[name] = raw
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return &Handle{Function: function, Kind: KindList, entries: raw}, nil
}

// NewInfoHandle wraps runtime info as the result of InfoCall.
func NewInfoHandle(info Info) *Handle {
	return &Handle{Function: InfoCall, Kind: KindInfo, info: &info}
}

// encodeVector goes through the table codec so values are written exactly
// as the R side writes them.
func encodeVector(col *table.Column) (json.RawMessage, error) {
	t, err := table.New(&table.Column{Name: "v", Type: col.Type, Levels: col.Levels, Values: col.Values})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var w struct {
		Columns []json.RawMessage `json:"columns"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return w.Columns[0], nil
}
