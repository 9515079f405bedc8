// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MarshalJSON encodes the metric as a bare JSON number. Integers render
// exactly even above 2^53.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.isFloat {
		return strconv.AppendUint(nil, m.ival, 10), nil
	}
	return json.Marshal(m.fval)
}

// UnmarshalJSON decodes a JSON number with the ParseMetric preference:
// the exact integer reading wins, anything else becomes a float.
func (m *Metric) UnmarshalJSON(data []byte) error {
	v, err := ParseMetric(string(bytes.TrimSpace(data)))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalJSON encodes the collection as a JSON object whose keys appear in
// insertion order.
func (m *Metrics) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.kinds {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := k.MarshalText()
		if err != nil {
			return nil, err
		}
		key, err := json.Marshal(string(name))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := m.values[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object into the collection, keeping the keys in
// document order. A plain json.Unmarshal through a map would lose it.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed decoding metrics: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("failed decoding metrics: expected an object, got %v", tok)
	}

	var out Metrics
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed decoding metrics: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("failed decoding metrics: expected a key, got %v", tok)
		}
		var k Kind
		if err := k.UnmarshalText([]byte(key)); err != nil {
			return fmt.Errorf("failed decoding metrics: %w", err)
		}
		var v Metric
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("failed decoding metric '%s': %w", key, err)
		}
		out.Insert(k, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed decoding metrics: %w", err)
	}

	*m = out
	return nil
}
