// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/either"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

func irMetrics(ir uint64) *metrics.Metrics {
	m := metrics.New()
	m.Insert(metrics.Ir, metrics.Int(ir))
	return m
}

func bothSummary(t *testing.T, newIr, oldIr uint64) *compare.Summary {
	t.Helper()
	return compare.NewSummary(either.Both(irMetrics(newIr), irMetrics(oldIr)))
}

func TestCheckSoftLimits(t *testing.T) {
	tests := []struct {
		name   string
		limit  float64
		newIr  uint64
		oldIr  uint64
		fired  bool
		pct    float64
	}{
		{"zero limit all zero", 0, 0, 0, false, 0},
		{"zero limit regression", 0, 2, 1, true, 100},
		{"zero limit improved", 0, 1, 2, false, 0},
		{"negative limit improvement", -49, 1, 2, true, -50},
		{"negative limit not reached", -60, 1, 2, false, 0},
		{"limit reached exactly", 10, 1100, 1000, true, 10},
		{"limit exceeded", 10, 1200, 1000, true, 20},
		{"below limit", 10, 1050, 1000, false, 0},
		{"infinite regression", 10, 5, 0, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{SoftLimits: []SoftLimit{{Kind: metrics.Ir, Pct: tt.limit}}}
			incidents, err := cfg.Check(bothSummary(t, tt.newIr, tt.oldIr))
			require.NoError(t, err)
			if !tt.fired {
				assert.Empty(t, incidents)
				return
			}
			require.Len(t, incidents, 1)
			got := incidents[0]
			assert.Equal(t, SoftIncident, got.Rule)
			assert.Equal(t, metrics.Ir, got.Kind)
			assert.Equal(t, metrics.Int(tt.newIr), got.New)
			assert.Equal(t, metrics.Int(tt.oldIr), got.Old)
			assert.Equal(t, tt.limit, got.Limit)
			if tt.oldIr != 0 {
				assert.InDelta(t, tt.pct, got.Pct, 1e-9)
			}
		})
	}
}

func TestCheckSoftLimitNeedsBothSides(t *testing.T) {
	cfg := Default(metrics.NamespaceCallgrind)

	left := compare.NewSummary(either.Left(irMetrics(1200)))
	incidents, err := cfg.Check(left)
	require.NoError(t, err)
	assert.Empty(t, incidents)

	right := compare.NewSummary(either.Right(irMetrics(1200)))
	incidents, err = cfg.Check(right)
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestCheckHardLimits(t *testing.T) {
	cfg := Config{HardLimits: []HardLimit{{Kind: metrics.Ir, Value: metrics.Int(1000)}}}

	t.Run("exceeded", func(t *testing.T) {
		incidents, err := cfg.Check(compare.NewSummary(either.Left(irMetrics(1250))))
		require.NoError(t, err)
		require.Len(t, incidents, 1)
		got := incidents[0]
		assert.Equal(t, HardIncident, got.Rule)
		assert.Equal(t, metrics.Int(1250), got.New)
		assert.Equal(t, metrics.Int(1000), got.HardLimit)
		assert.Equal(t, metrics.Int(250), got.Diff)
	})

	t.Run("reached exactly is no incident", func(t *testing.T) {
		incidents, err := cfg.Check(compare.NewSummary(either.Left(irMetrics(1000))))
		require.NoError(t, err)
		assert.Empty(t, incidents)
	})

	t.Run("old side only never fires", func(t *testing.T) {
		incidents, err := cfg.Check(compare.NewSummary(either.Right(irMetrics(5000))))
		require.NoError(t, err)
		assert.Empty(t, incidents)
	})
}

// A run compared against itself passes every soft rule, but a hard rule
// below the actual value still fires.
func TestCheckSelfComparison(t *testing.T) {
	summary := bothSummary(t, 1437, 1437)

	soft := Config{SoftLimits: []SoftLimit{
		{Kind: metrics.Ir, Pct: 0},
		{Kind: metrics.Ir, Pct: 10},
	}}
	incidents, err := soft.Check(summary)
	require.NoError(t, err)
	assert.Empty(t, incidents)

	hard := Config{HardLimits: []HardLimit{{Kind: metrics.Ir, Value: metrics.Int(1000)}}}
	incidents, err = hard.Check(summary)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, metrics.Int(437), incidents[0].Diff)
}

func TestCheckUnknownMetric(t *testing.T) {
	cfg := Config{SoftLimits: []SoftLimit{{Kind: metrics.TotalBytes, Pct: 10}}}
	incidents, err := cfg.Check(bothSummary(t, 1, 1))
	assert.Nil(t, incidents)
	var unknownErr *UnknownMetricError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, metrics.TotalBytes, unknownErr.Kind)
	assert.Contains(t, err.Error(), "TotalBytes")
}

func TestCheckFailFastStopsEvaluation(t *testing.T) {
	var evaluated []metrics.Kind
	cfg := Config{
		SoftLimits: []SoftLimit{
			{Kind: metrics.Ir, Pct: 10},
			{Kind: metrics.Dr, Pct: 10},
		},
		HardLimits: []HardLimit{{Kind: metrics.Ir, Value: metrics.Int(1)}},
		FailFast:   true,
		probe:      func(k metrics.Kind) { evaluated = append(evaluated, k) },
	}

	newRun := metrics.New()
	newRun.Insert(metrics.Ir, metrics.Int(1200))
	newRun.Insert(metrics.Dr, metrics.Int(600))
	oldRun := metrics.New()
	oldRun.Insert(metrics.Ir, metrics.Int(1000))
	oldRun.Insert(metrics.Dr, metrics.Int(300))

	incidents, err := cfg.Check(compare.NewSummary(either.Both(newRun, oldRun)))
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, metrics.Ir, incidents[0].Kind)

	// Only the first rule ran; the Dr soft rule and the hard rule were
	// never evaluated.
	assert.Equal(t, []metrics.Kind{metrics.Ir}, evaluated)
}

func TestCheckEvaluationOrder(t *testing.T) {
	var evaluated []metrics.Kind
	cfg := Config{
		SoftLimits: []SoftLimit{
			{Kind: metrics.Dr, Pct: 99999},
			{Kind: metrics.Ir, Pct: 99999},
		},
		HardLimits: []HardLimit{{Kind: metrics.Ir, Value: metrics.Int(999999)}},
		probe:      func(k metrics.Kind) { evaluated = append(evaluated, k) },
	}

	newRun := metrics.New()
	newRun.Insert(metrics.Ir, metrics.Int(1200))
	newRun.Insert(metrics.Dr, metrics.Int(600))

	incidents, err := cfg.Check(compare.NewSummary(either.Both(newRun, newRun.Clone())))
	require.NoError(t, err)
	assert.Empty(t, incidents)
	assert.Equal(t, []metrics.Kind{metrics.Dr, metrics.Ir, metrics.Ir}, evaluated)
}

func TestDefault(t *testing.T) {
	callgrind := Default(metrics.NamespaceCallgrind)
	require.Len(t, callgrind.SoftLimits, 1)
	assert.Equal(t, SoftLimit{Kind: metrics.Ir, Pct: 10}, callgrind.SoftLimits[0])
	assert.Empty(t, callgrind.HardLimits)
	assert.False(t, callgrind.FailFast)

	dhat := Default(metrics.NamespaceDhat)
	require.Len(t, dhat.SoftLimits, 1)
	assert.Equal(t, SoftLimit{Kind: metrics.TotalBytes, Pct: 10}, dhat.SoftLimits[0])

	assert.True(t, Default(metrics.NamespaceError).IsEmpty())
}

// The 20% regression scenario from the user guide: Ir rises from 1000 to
// 1200 against a 10% soft limit.
func TestCheckEndToEndScenario(t *testing.T) {
	cfg := Default(metrics.NamespaceCallgrind)
	incidents, err := cfg.Check(bothSummary(t, 1200, 1000))
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	got := incidents[0]
	assert.Equal(t, SoftIncident, got.Rule)
	assert.Equal(t, metrics.Ir, got.Kind)
	assert.Equal(t, metrics.Int(1200), got.New)
	assert.Equal(t, metrics.Int(1000), got.Old)
	assert.InDelta(t, 20.0, got.Pct, 1e-9)
	assert.Equal(t, 10.0, got.Limit)
}

// A metric present only in the new run (the old run carried no DHAT data)
// has no percentage to compute, yet a hard rule on it still evaluates
// against the new value alone.
func TestCheckHardLimitNewSideOnly(t *testing.T) {
	m := metrics.WithKinds(metrics.TotalBytes)
	m.Insert(metrics.TotalBytes, metrics.Int(4096))
	summary := compare.NewSummary(either.Left(m))

	diff, ok := summary.Get(metrics.TotalBytes)
	require.True(t, ok)
	assert.True(t, diff.Metrics.IsLeft())
	assert.Nil(t, diff.Diffs)

	cfg := Config{HardLimits: []HardLimit{{Kind: metrics.TotalBytes, Value: metrics.Int(1024)}}}
	incidents, err := cfg.Check(summary)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	got := incidents[0]
	assert.Equal(t, HardIncident, got.Rule)
	assert.Equal(t, metrics.TotalBytes, got.Kind)
	assert.Equal(t, metrics.Int(4096), got.New)
	assert.Equal(t, metrics.Int(3072), got.Diff)
	assert.Equal(t, metrics.Int(1024), got.HardLimit)
}
