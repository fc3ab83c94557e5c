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
)

// Frame markers. Each sits on its own line in the bridge output.
const (
	FrameBegin = "<<<NYSCHOOLDATA-BRIDGE-BEGIN>>>"
	FrameEnd   = "<<<NYSCHOOLDATA-BRIDGE-END>>>"
)

// extractFrame returns the payload of the last complete frame in out.
func extractFrame(out []byte) ([]byte, error) {
	begin := bytes.LastIndex(out, []byte(FrameBegin))
	if begin < 0 {
		return nil, ErrNoFrame
	}
	rest := out[begin+len(FrameBegin):]
	end := bytes.Index(rest, []byte(FrameEnd))
	if end < 0 {
		return nil, ErrNoFrame
	}
	payload := bytes.TrimSpace(rest[:end])
	if len(payload) == 0 {
		return nil, ErrMalformedFrame
	}
	return payload, nil
}

// Frame wraps a response payload in markers, as bridge.R prints it.
// Alternative runtimes and tests use it to produce valid output.
func Frame(payload []byte) []byte {
	var b bytes.Buffer
	b.WriteString("\n" + FrameBegin + "\n")
	b.Write(payload)
	b.WriteString("\n" + FrameEnd + "\n")
	return b.Bytes()
}

// wireRequest is the JSON document written to the bootstrap's stdin.
type wireRequest struct {
	Package string         `json:"package"`
	Call    string         `json:"call"`
	CallID  string         `json:"call_id"`
	Args    map[string]any `json:"args"`
	Data    any            `json:"data,omitempty"`
}

func encodeRequest(pkg, callID string, req Request) ([]byte, error) {
	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	w := wireRequest{Package: pkg, Call: req.Function, CallID: callID, Args: args}
	if req.Data != nil {
		w.Data = req.Data
	}
	return json.Marshal(w)
}

// stringList decodes a JSON string array, a single string, or null.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = stringList{one}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}
