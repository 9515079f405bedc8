// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compare turns the metrics of two runs into per-kind differences.
//
// Every difference keeps the raw new/old values alongside the computed
// percentage and factor, so downstream consumers can pick the view they
// need: the regression evaluator reads the raw values and the percentage,
// the terminal renderer reads all of them, and the summary document
// serializes the lot. One-sided comparisons (a metric or a whole run
// present on only one side) carry no percentage or factor at all rather
// than a sentinel value.
package compare

import (
	"math"

	"github.com/AleutianAI/benchgrind/pkg/either"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// DefaultTolerance is the percentage magnitude below which terminal output
// reports a change as within tolerance. It is the largest float strictly
// below 1e-5, so exactly the changes that would render as +0.00000% are
// suppressed. Tolerance never feeds into regression evaluation.
var DefaultTolerance = math.Nextafter(0.00001, 0)

// Percentage returns the relative change from old to new in percent.
//
// Equal values give 0 even when both are zero. A growth from zero is plus
// infinity; a drop to zero is -100, not infinity. The result is computed in
// float arithmetic, so extreme counter values lose precision but never
// overflow.
func Percentage(newValue, oldValue metrics.Metric) float64 {
	if newValue.Equal(oldValue) {
		return 0
	}
	n, o := newValue.Float64(), oldValue.Float64()
	return (n - o) / o * 100
}

// Factor returns the multiplicative change from old to new, signed so the
// direction always matches the percentage: a regression is positive, an
// improvement negative.
//
// Equal values give 1. For growth the factor is new/old (infinity when old
// is zero); for a drop it is -(old/new), or negative infinity when new is
// zero. There is no factor between -1 and 1 exclusive.
func Factor(newValue, oldValue metrics.Metric) float64 {
	if newValue.Equal(oldValue) {
		return 1
	}
	n, o := newValue.Float64(), oldValue.Float64()
	if newValue.Cmp(oldValue) > 0 {
		if o == 0 {
			return math.Inf(1)
		}
		return n / o
	}
	if n == 0 {
		return math.Inf(-1)
	}
	return -(o / n)
}

// Diffs holds the percentage and factor between a new and an old metric.
type Diffs struct {
	Pct    float64
	Factor float64
}

// NewDiffs computes both difference figures for a pair of metrics.
func NewDiffs(newValue, oldValue metrics.Metric) Diffs {
	return Diffs{
		Pct:    Percentage(newValue, oldValue),
		Factor: Factor(newValue, oldValue),
	}
}

// WithinTolerance reports whether the percentage is small enough for the
// renderer to suppress it. The comparison uses absolute values on both
// sides, so a negative tolerance behaves like its magnitude.
func (d Diffs) WithinTolerance(tolerance float64) bool {
	return math.Abs(d.Pct) <= math.Abs(tolerance)
}

// Diff is the comparison of one metric kind across two runs: the raw
// value(s) and, only when both sides are present, the computed Diffs.
//
// Description: per-kind cell of a Summary.
// Invariants: Diffs is non-nil exactly when Metrics holds both sides.
type Diff struct {
	Metrics either.OrBoth[metrics.Metric]
	Diffs   *Diffs
}

// NewDiff builds a Diff from the raw value(s), computing the percentage
// and factor when both sides are present.
func NewDiff(m either.OrBoth[metrics.Metric]) Diff {
	d := Diff{Metrics: m}
	if newValue, oldValue, ok := m.Pair(); ok {
		diffs := NewDiffs(newValue, oldValue)
		d.Diffs = &diffs
	}
	return d
}

// Summary is the ordered per-kind comparison of two metric collections.
//
// The order is the union of both sides' kinds with the new run's kinds
// first, then kinds only the old run produced, each side in its own
// insertion order. That keeps report layout stable when a tool gains or
// loses metrics between runs.
//
// Description: comparison of one segment pair or one pair of run totals.
// Thread Safety: immutable after construction.
type Summary struct {
	kinds []metrics.Kind
	diffs []Diff
}

// NewSummary compares the metric collections of two runs. One-sided input
// produces a summary of one-sided diffs; for two-sided input every kind in
// either collection gets a cell, one-sided when the other run never
// produced that kind.
func NewSummary(runs either.OrBoth[*metrics.Metrics]) *Summary {
	s := &Summary{}
	newRun, oldRun, both := runs.Pair()
	switch {
	case both:
		for _, k := range newRun.KindsUnion(oldRun) {
			n, newOK := newRun.Get(k)
			o, oldOK := oldRun.Get(k)
			pair, err := either.FromOptions(n, newOK, o, oldOK)
			if err != nil {
				// Union members exist on at least one side.
				continue
			}
			s.append(k, NewDiff(pair))
		}
	case runs.IsLeft():
		for _, k := range newRun.Kinds() {
			v, _ := newRun.Get(k)
			s.append(k, NewDiff(either.Left(v)))
		}
	default:
		for _, k := range oldRun.Kinds() {
			v, _ := oldRun.Get(k)
			s.append(k, NewDiff(either.Right(v)))
		}
	}
	return s
}

func (s *Summary) append(k metrics.Kind, d Diff) {
	s.kinds = append(s.kinds, k)
	s.diffs = append(s.diffs, d)
}

// Len returns the number of compared kinds.
func (s *Summary) Len() int {
	return len(s.kinds)
}

// IsEmpty reports whether the summary holds no kinds at all.
func (s *Summary) IsEmpty() bool {
	return len(s.kinds) == 0
}

// Kinds returns the compared kinds in report order. The caller owns the
// returned slice.
func (s *Summary) Kinds() []metrics.Kind {
	out := make([]metrics.Kind, len(s.kinds))
	copy(out, s.kinds)
	return out
}

// Get returns the diff for a kind if the summary compares it.
func (s *Summary) Get(k metrics.Kind) (Diff, bool) {
	for i, kind := range s.kinds {
		if kind == k {
			return s.diffs[i], true
		}
	}
	return Diff{}, false
}

// ByIndex returns the diff at a report-order position.
func (s *Summary) ByIndex(i int) (metrics.Kind, Diff, bool) {
	if i < 0 || i >= len(s.kinds) {
		return 0, Diff{}, false
	}
	return s.kinds[i], s.diffs[i], true
}

// ExtractMetrics rebuilds the per-side metric collections the summary was
// computed from, preserving each side's kind order. The second return is
// false for an empty summary.
func (s *Summary) ExtractMetrics() (either.OrBoth[*metrics.Metrics], bool) {
	newRun, oldRun := metrics.New(), metrics.New()
	for i, k := range s.kinds {
		if v, ok := s.diffs[i].Metrics.Left(); ok {
			newRun.Insert(k, v)
		}
		if v, ok := s.diffs[i].Metrics.Right(); ok {
			oldRun.Insert(k, v)
		}
	}
	out, err := either.FromOptions(newRun, !newRun.IsEmpty(), oldRun, !oldRun.IsEmpty())
	if err != nil {
		return either.OrBoth[*metrics.Metrics]{}, false
	}
	return out, true
}
