// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package summary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/either"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// Float64 is a float that encodes as a JSON string, so the infinities a
// percentage or factor can reach survive the round trip instead of
// decaying to null. Finite values render in plain decimal notation, the
// infinities as "inf" and "-inf".
type Float64 float64

func (f Float64) String() string {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "NaN"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// MarshalJSON encodes the value as a string.
func (f Float64) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes the string form. Bare JSON numbers are rejected,
// the documented shape is a string.
func (f *Float64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("a float field encodes as a string, got %s", data)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("failed decoding float field '%s': %w", s, err)
	}
	*f = Float64(v)
	return nil
}

// Diffs carries the percentage and factor of one compared metric pair.
type Diffs struct {
	Pct    Float64 `json:"diff_pct"`
	Factor Float64 `json:"factor"`
}

// MetricDiff is one kind's cell in a MetricsSummary: the raw side
// value(s), and the computed diffs when both sides are present.
type MetricDiff struct {
	Metrics either.OrBoth[metrics.Metric] `json:"metrics"`
	Diffs   *Diffs                        `json:"diffs,omitempty"`
}

// MetricsSummary is the document form of a metrics comparison: the
// compared kinds in report order, each with its MetricDiff cell. It
// serializes as a JSON object keyed by kind, keys in report order, the
// same convention the metric mappings themselves use.
type MetricsSummary struct {
	kinds []metrics.Kind
	cells []MetricDiff
}

// NewMetricsSummary captures a comparison for serialization.
func NewMetricsSummary(c *compare.Summary) *MetricsSummary {
	s := &MetricsSummary{}
	for i := 0; i < c.Len(); i++ {
		k, d, _ := c.ByIndex(i)
		cell := MetricDiff{Metrics: d.Metrics}
		if d.Diffs != nil {
			cell.Diffs = &Diffs{Pct: Float64(d.Diffs.Pct), Factor: Float64(d.Diffs.Factor)}
		}
		s.append(k, cell)
	}
	return s
}

func (s *MetricsSummary) append(k metrics.Kind, cell MetricDiff) {
	s.kinds = append(s.kinds, k)
	s.cells = append(s.cells, cell)
}

// Len returns the number of compared kinds.
func (s *MetricsSummary) Len() int {
	return len(s.kinds)
}

// IsEmpty reports whether the summary holds no kinds at all. Tools
// without extractable metrics produce empty summaries.
func (s *MetricsSummary) IsEmpty() bool {
	return len(s.kinds) == 0
}

// Kinds returns the compared kinds in report order. The caller owns the
// returned slice.
func (s *MetricsSummary) Kinds() []metrics.Kind {
	out := make([]metrics.Kind, len(s.kinds))
	copy(out, s.kinds)
	return out
}

// Diff returns the cell for a kind if the summary compares it.
func (s *MetricsSummary) Diff(k metrics.Kind) (MetricDiff, bool) {
	for i, kind := range s.kinds {
		if kind == k {
			return s.cells[i], true
		}
	}
	return MetricDiff{}, false
}

// ByIndex returns the cell at a report-order position.
func (s *MetricsSummary) ByIndex(i int) (metrics.Kind, MetricDiff, bool) {
	if i < 0 || i >= len(s.kinds) {
		return 0, MetricDiff{}, false
	}
	return s.kinds[i], s.cells[i], true
}

// Compare rebuilds the computational comparison from the stored raw
// values. The percentage and factor are recomputed rather than read
// back, so a hand-edited document cannot carry diffs its values do not
// produce.
func (s *MetricsSummary) Compare() *compare.Summary {
	newSide, oldSide := metrics.New(), metrics.New()
	for i, k := range s.kinds {
		if v, ok := s.cells[i].Metrics.Left(); ok {
			newSide.Insert(k, v)
		}
		if v, ok := s.cells[i].Metrics.Right(); ok {
			oldSide.Insert(k, v)
		}
	}
	runs, err := either.FromOptions(newSide, !newSide.IsEmpty(), oldSide, !oldSide.IsEmpty())
	if err != nil {
		return &compare.Summary{}
	}
	return compare.NewSummary(runs)
}

// MarshalJSON encodes the summary as a JSON object whose keys appear in
// report order.
func (s *MetricsSummary) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.kinds {
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
		cell, err := json.Marshal(s.cells[i])
		if err != nil {
			return nil, err
		}
		buf.Write(cell)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object into the summary, keeping the keys in
// document order.
func (s *MetricsSummary) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed decoding metrics summary: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("failed decoding metrics summary: expected an object, got %v", tok)
	}

	var out MetricsSummary
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed decoding metrics summary: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("failed decoding metrics summary: expected a key, got %v", tok)
		}
		var k metrics.Kind
		if err := k.UnmarshalText([]byte(key)); err != nil {
			return fmt.Errorf("failed decoding metrics summary: %w", err)
		}
		var cell MetricDiff
		if err := dec.Decode(&cell); err != nil {
			return fmt.Errorf("failed decoding metrics summary cell '%s': %w", key, err)
		}
		out.append(k, cell)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed decoding metrics summary: %w", err)
	}

	*s = out
	return nil
}
