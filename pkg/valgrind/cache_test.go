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
	"slices"
	"testing"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// cacheSimMetrics builds a collection holding the nine cache simulation
// primitives in parse order.
func cacheSimMetrics(data [9]uint64) *metrics.Metrics {
	kinds := []metrics.Kind{
		metrics.Ir, metrics.Dr, metrics.Dw,
		metrics.I1mr, metrics.D1mr, metrics.D1mw,
		metrics.ILmr, metrics.DLmr, metrics.DLmw,
	}
	m := metrics.New()
	for i, k := range kinds {
		m.Insert(k, metrics.Int(data[i]))
	}
	return m
}

func TestComputeCacheSummary(t *testing.T) {
	tests := []struct {
		name string
		// Ir, Dr, Dw, I1mr, D1mr, D1mw, ILmr, DLmr, DLmw
		data [9]uint64
		// L1Hits, LLHits, RamHits, TotalRW, Cycles
		counts [5]uint64
		// I1, D1, LL, LLi, LLd miss rates then L1, LL, RAM hit rates
		rates [8]float64
	}{
		{
			name:   "all zero",
			data:   [9]uint64{0, 0, 0, 0, 0, 0, 0, 0, 0},
			counts: [5]uint64{0, 0, 0, 0, 0},
			rates:  [8]float64{0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			// Numbers that don't add up must saturate instead of
			// underflowing or dividing by zero.
			name:   "artificial",
			data:   [9]uint64{1, 2, 3, 4, 5, 6, 7, 8, 9},
			counts: [5]uint64{0, 0, 24, 6, 840},
			rates:  [8]float64{400, 220.00000000000003, 400, 700, 340, 0, 0, 400},
		},
		{
			name:   "real world",
			data:   [9]uint64{1353, 255, 233, 51, 12, 0, 50, 3, 0},
			counts: [5]uint64{1778, 10, 53, 1841, 3683},
			rates: [8]float64{
				3.7694013303769403,
				2.459016393442623,
				2.8788701792504074,
				3.6954915003695494,
				0.6147540983606558,
				96.57794676806084,
				0.5431830526887561,
				2.8788701792504074,
			},
		},
		{
			name:   "round rates",
			data:   [9]uint64{10, 20, 30, 1, 2, 3, 4, 2, 0},
			counts: [5]uint64{54, 0, 6, 60, 264},
			rates:  [8]float64{10, 10, 10, 40, 4, 90, 0, 10},
		},
		{
			name:   "consistent counters",
			data:   [9]uint64{96, 24, 18, 6, 0, 2, 6, 0, 2},
			counts: [5]uint64{130, 0, 8, 138, 410},
			rates: [8]float64{
				6.25,
				4.761904761904762,
				5.797101449275362,
				6.25,
				4.761904761904762,
				94.20289855072464,
				0,
				5.797101449275362,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeCacheSummary(cacheSimMetrics(tc.data))
			if err != nil {
				t.Fatalf("ComputeCacheSummary returned error: %v", err)
			}

			counts := []struct {
				name string
				m    metrics.Metric
				want uint64
			}{
				{"L1Hits", got.L1Hits, tc.counts[0]},
				{"LLHits", got.LLHits, tc.counts[1]},
				{"RamHits", got.RamHits, tc.counts[2]},
				{"TotalRW", got.TotalRW, tc.counts[3]},
				{"Cycles", got.Cycles, tc.counts[4]},
			}
			for _, c := range counts {
				v, isInt := c.m.Uint64()
				if !isInt || v != c.want {
					t.Errorf("%s = %v, expected %d", c.name, c.m, c.want)
				}
			}

			rates := []struct {
				name string
				m    metrics.Metric
				want float64
			}{
				{"I1MissRate", got.I1MissRate, tc.rates[0]},
				{"D1MissRate", got.D1MissRate, tc.rates[1]},
				{"LLMissRate", got.LLMissRate, tc.rates[2]},
				{"LLiMissRate", got.LLiMissRate, tc.rates[3]},
				{"LLdMissRate", got.LLdMissRate, tc.rates[4]},
				{"L1HitRate", got.L1HitRate, tc.rates[5]},
				{"LLHitRate", got.LLHitRate, tc.rates[6]},
				{"RamHitRate", got.RamHitRate, tc.rates[7]},
			}
			for _, r := range rates {
				if !r.m.IsFloat() || r.m.Float64() != r.want {
					t.Errorf("%s = %v, expected %v", r.name, r.m, r.want)
				}
			}
		})
	}
}

func TestComputeCacheSummary_MissingKind(t *testing.T) {
	m := metrics.New()
	m.Insert(metrics.Ir, metrics.Int(100))
	if _, err := ComputeCacheSummary(m); err == nil {
		t.Error("ComputeCacheSummary should fail without the cache simulation counters")
	}
}

func TestEnrichCacheMetrics(t *testing.T) {
	m := cacheSimMetrics([9]uint64{1, 2, 3, 4, 5, 6, 7, 8, 9})

	if IsSummarized(m) {
		t.Fatal("fresh metrics should not be summarized")
	}
	if !CanSummarize(m) {
		t.Fatal("cache sim metrics should be summarizable")
	}
	if err := EnrichCacheMetrics(m); err != nil {
		t.Fatalf("EnrichCacheMetrics returned error: %v", err)
	}
	if !IsSummarized(m) {
		t.Fatal("metrics should be summarized after enrichment")
	}

	expected := []metrics.Kind{
		metrics.Ir, metrics.Dr, metrics.Dw,
		metrics.I1mr, metrics.D1mr, metrics.D1mw,
		metrics.ILmr, metrics.DLmr, metrics.DLmw,
		metrics.L1hits, metrics.LLhits, metrics.RamHits,
		metrics.TotalRW, metrics.EstimatedCycles,
		metrics.I1MissRate, metrics.D1MissRate,
		metrics.LLiMissRate, metrics.LLdMissRate, metrics.LLMissRate,
		metrics.L1HitRate, metrics.LLHitRate, metrics.RamHitRate,
	}
	if got := m.Kinds(); !slices.Equal(got, expected) {
		t.Errorf("kind order after enrichment:\n got %v\nwant %v", got, expected)
	}

	if v, _ := m.Get(metrics.EstimatedCycles); !v.Equal(metrics.Int(840)) {
		t.Errorf("EstimatedCycles = %v, expected 840", v)
	}

	// Enriching twice overwrites in place without changing the order.
	if err := EnrichCacheMetrics(m); err != nil {
		t.Fatalf("second EnrichCacheMetrics returned error: %v", err)
	}
	if got := m.Kinds(); !slices.Equal(got, expected) {
		t.Errorf("kind order changed on second enrichment: %v", got)
	}
}
