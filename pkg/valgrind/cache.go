// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package valgrind

import (
	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// CacheSummary holds the metrics derived from the cache simulation counters
// of callgrind and cachegrind.
//
// Description: hit counts come from the miss counters by subtraction, the
// estimated cycles use Itamar Turner-Trauring's formula from
// https://pythonspeed.com/articles/consistent-benchmarking-in-ci/ and the
// rates are percentages of the respective access totals.
//
// Inputs: the nine cache simulation primitives (Ir, Dr, Dw, I1mr, D1mr,
// D1mw, ILmr, DLmr, DLmw).
// Outputs: five derived counters and eight derived rates.
//
// The subtractions saturate at zero, so inconsistent counter sets (which
// valgrind can produce on some targets) never underflow. Rate divisions
// define x/0 as 0 so an empty run reports 0% everywhere.
type CacheSummary struct {
	L1Hits      metrics.Metric
	LLHits      metrics.Metric
	RamHits     metrics.Metric
	TotalRW     metrics.Metric
	Cycles      metrics.Metric
	I1MissRate  metrics.Metric
	D1MissRate  metrics.Metric
	LLMissRate  metrics.Metric
	LLiMissRate metrics.Metric
	LLdMissRate metrics.Metric
	L1HitRate   metrics.Metric
	LLHitRate   metrics.Metric
	RamHitRate  metrics.Metric
}

// ComputeCacheSummary derives the cache metrics from a collection holding
// the nine cache simulation primitives. It fails with the missing kind if
// the run did not enable the cache simulation.
func ComputeCacheSummary(m *metrics.Metrics) (CacheSummary, error) {
	var vals [9]metrics.Metric
	for i, k := range [9]metrics.Kind{
		metrics.Ir, metrics.Dr, metrics.Dw,
		metrics.I1mr, metrics.D1mr, metrics.D1mw,
		metrics.ILmr, metrics.DLmr, metrics.DLmw,
	} {
		v, err := m.Metric(k)
		if err != nil {
			return CacheSummary{}, err
		}
		vals[i] = v
	}

	ir, dr, dw := vals[0], vals[1], vals[2]
	i1mr, d1mr, d1mw := vals[3], vals[4], vals[5]
	ilmr, dlmr, dlmw := vals[6], vals[7], vals[8]

	ramHits := ilmr.Add(dlmr).Add(dlmw)
	l1DataMisses := d1mr.Add(d1mw)
	l1Misses := i1mr.Add(l1DataMisses)
	llHits := l1Misses.Sub(ramHits)

	dRefs := dr.Add(dw)
	totalRW := ir.Add(dRefs)
	l1Hits := totalRW.Sub(ramHits).Sub(llHits)

	cycles := l1Hits.Add(llHits.Mul(5)).Add(ramHits.Mul(35))

	return CacheSummary{
		L1Hits:      l1Hits,
		LLHits:      llHits,
		RamHits:     ramHits,
		TotalRW:     totalRW,
		Cycles:      cycles,
		I1MissRate:  i1mr.Div0(ir).Mul(100),
		D1MissRate:  l1DataMisses.Div0(dRefs).Mul(100),
		LLMissRate:  ramHits.Div0(totalRW).Mul(100),
		LLiMissRate: ilmr.Div0(ir).Mul(100),
		LLdMissRate: dlmr.Add(dlmw).Div0(dRefs).Mul(100),
		L1HitRate:   l1Hits.Div0(totalRW).Mul(100),
		LLHitRate:   llHits.Div0(totalRW).Mul(100),
		RamHitRate:  ramHits.Div0(totalRW).Mul(100),
	}, nil
}

// CanSummarize reports whether the collection carries the cache simulation
// counters. I1mr is only present when valgrind ran with --cache-sim=yes.
func CanSummarize(m *metrics.Metrics) bool {
	_, ok := m.Get(metrics.I1mr)
	return ok
}

// IsSummarized probes for EstimatedCycles to detect an already enriched
// collection.
func IsSummarized(m *metrics.Metrics) bool {
	_, ok := m.Get(metrics.EstimatedCycles)
	return ok
}

// EnrichCacheMetrics computes the cache summary and inserts the derived
// kinds into the collection in the canonical report order. Calling it again
// overwrites the derived entries in place.
func EnrichCacheMetrics(m *metrics.Metrics) error {
	s, err := ComputeCacheSummary(m)
	if err != nil {
		return err
	}

	m.Insert(metrics.L1hits, s.L1Hits)
	m.Insert(metrics.LLhits, s.LLHits)
	m.Insert(metrics.RamHits, s.RamHits)
	m.Insert(metrics.TotalRW, s.TotalRW)
	m.Insert(metrics.EstimatedCycles, s.Cycles)
	m.Insert(metrics.I1MissRate, s.I1MissRate)
	m.Insert(metrics.D1MissRate, s.D1MissRate)
	m.Insert(metrics.LLiMissRate, s.LLiMissRate)
	m.Insert(metrics.LLdMissRate, s.LLdMissRate)
	m.Insert(metrics.LLMissRate, s.LLMissRate)
	m.Insert(metrics.L1HitRate, s.L1HitRate)
	m.Insert(metrics.LLHitRate, s.LLHitRate)
	m.Insert(metrics.RamHitRate, s.RamHitRate)
	return nil
}
