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
	"fmt"
	"slices"
	"strconv"
)

// Metrics is an insertion-ordered collection of Kind to Metric mappings.
//
// Order matters everywhere this type is used: the positions assigned by the
// header of a profile file bind cost line columns to kinds, and reports
// render metrics in insertion order. Lookups stay O(n) on purpose, the
// collections never exceed a few dozen entries.
//
// Description: ordered metric map for one parse unit (a segment, a function
// record or a whole run).
// Thread Safety: not safe for concurrent mutation.
type Metrics struct {
	kinds  []Kind
	values []Metric
}

// New returns an empty collection.
func New() *Metrics {
	return &Metrics{}
}

// WithKinds returns a collection holding the given kinds in order, each with
// a zero metric. Duplicate kinds keep their first position.
func WithKinds(kinds ...Kind) *Metrics {
	m := New()
	for _, k := range kinds {
		m.Insert(k, Int(0))
	}
	return m
}

// Len returns the number of entries.
func (m *Metrics) Len() int {
	return len(m.kinds)
}

// IsEmpty reports whether no metrics are present.
func (m *Metrics) IsEmpty() bool {
	return len(m.kinds) == 0
}

// Clone returns a deep copy.
func (m *Metrics) Clone() *Metrics {
	return &Metrics{
		kinds:  slices.Clone(m.kinds),
		values: slices.Clone(m.values),
	}
}

func (m *Metrics) index(k Kind) int {
	return slices.Index(m.kinds, k)
}

// Insert sets the metric for a kind. An existing kind keeps its position and
// returns its previous value with replaced=true; a new kind is appended.
func (m *Metrics) Insert(k Kind, v Metric) (prev Metric, replaced bool) {
	if i := m.index(k); i >= 0 {
		prev, replaced = m.values[i], true
		m.values[i] = v
		return prev, replaced
	}
	m.kinds = append(m.kinds, k)
	m.values = append(m.values, v)
	return Metric{}, false
}

// Get returns the metric for a kind if present.
func (m *Metrics) Get(k Kind) (Metric, bool) {
	if i := m.index(k); i >= 0 {
		return m.values[i], true
	}
	return Metric{}, false
}

// Metric returns the metric for a kind or an error naming the missing kind.
func (m *Metrics) Metric(k Kind) (Metric, error) {
	if v, ok := m.Get(k); ok {
		return v, nil
	}
	return Metric{}, fmt.Errorf("missing event type '%s'", k)
}

// ByIndex returns the metric at an insertion-order position.
func (m *Metrics) ByIndex(i int) (Metric, bool) {
	if i < 0 || i >= len(m.values) {
		return Metric{}, false
	}
	return m.values[i], true
}

// Kinds returns the kinds in insertion order. The caller owns the slice.
func (m *Metrics) Kinds() []Kind {
	return slices.Clone(m.kinds)
}

// KindsUnion returns the ordered union of this collection's kinds with
// another's: this collection's kinds first, then the other's new kinds in
// their own order.
func (m *Metrics) KindsUnion(other *Metrics) []Kind {
	out := slices.Clone(m.kinds)
	for _, k := range other.kinds {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// AddStrings adds a cost line's values to the collection positionally: the
// first value to the first kind and so on. Addition stops at the shorter of
// the two sides, trailing kinds keep their current value. The profile file
// formats specify that omitted trailing counts are zero.
func (m *Metrics) AddStrings(values []string) error {
	n := min(len(m.values), len(values))
	for i := 0; i < n; i++ {
		v, err := strconv.ParseUint(values[i], 10, 64)
		if err != nil {
			return fmt.Errorf("metric must be an integer type: %q", values[i])
		}
		m.values[i] = m.values[i].Add(Int(v))
	}
	return nil
}

// Add sums another collection into this one positionally. Both collections
// must share the same kind order; the aggregator only calls this on
// collections built from the same prototype.
func (m *Metrics) Add(other *Metrics) {
	n := min(len(m.values), len(other.values))
	for i := 0; i < n; i++ {
		m.values[i] = m.values[i].Add(other.values[i])
	}
}
