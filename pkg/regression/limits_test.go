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

	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

func TestParseLimits(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantSoft []SoftLimit
		wantHard []HardLimit
	}{
		{
			name:     "single soft",
			input:    "Ir=10%",
			wantSoft: []SoftLimit{{Kind: metrics.Ir, Pct: 10}},
		},
		{
			name:     "single hard",
			input:    "Ir=20",
			wantHard: []HardLimit{{Kind: metrics.Ir, Value: metrics.Int(20)}},
		},
		{
			name:     "soft and hard combined",
			input:    "Ir=20|10%",
			wantSoft: []SoftLimit{{Kind: metrics.Ir, Pct: 10}},
			wantHard: []HardLimit{{Kind: metrics.Ir, Value: metrics.Int(20)}},
		},
		{
			name:     "soft and hard separated",
			input:    "Ir=20, Ir=10%",
			wantSoft: []SoftLimit{{Kind: metrics.Ir, Pct: 10}},
			wantHard: []HardLimit{{Kind: metrics.Ir, Value: metrics.Int(20)}},
		},
		{
			name:     "soft overwrite",
			input:    "Ir=20%, Ir=10%",
			wantSoft: []SoftLimit{{Kind: metrics.Ir, Pct: 10}},
		},
		{
			name:     "hard overwrite",
			input:    "Ir=20, Ir=10",
			wantHard: []HardLimit{{Kind: metrics.Ir, Value: metrics.Int(10)}},
		},
		{
			name:  "write back group soft",
			input: "@wb=10%",
			wantSoft: []SoftLimit{
				{Kind: metrics.ILdmr, Pct: 10},
				{Kind: metrics.DLdmr, Pct: 10},
				{Kind: metrics.DLdmw, Pct: 10},
			},
		},
		{
			name:  "group member overwrite keeps order",
			input: "@wb=10%, DLdmr=20%",
			wantSoft: []SoftLimit{
				{Kind: metrics.ILdmr, Pct: 10},
				{Kind: metrics.DLdmr, Pct: 20},
				{Kind: metrics.DLdmw, Pct: 10},
			},
		},
		{
			name:  "hit rate group promotes int hard limit",
			input: "@hr=10",
			wantHard: []HardLimit{
				{Kind: metrics.L1HitRate, Value: metrics.Float(10)},
				{Kind: metrics.LLHitRate, Value: metrics.Float(10)},
				{Kind: metrics.RamHitRate, Value: metrics.Float(10)},
			},
		},
		{
			name:  "hit rate group float hard limit",
			input: "@hr=10.0",
			wantHard: []HardLimit{
				{Kind: metrics.L1HitRate, Value: metrics.Float(10)},
				{Kind: metrics.LLHitRate, Value: metrics.Float(10)},
				{Kind: metrics.RamHitRate, Value: metrics.Float(10)},
			},
		},
		{
			name:     "case insensitive name",
			input:    "EstIMATedCycles=10%",
			wantSoft: []SoftLimit{{Kind: metrics.EstimatedCycles, Pct: 10}},
		},
		{
			name:  "multiple soft",
			input: "Ir=10%,EstimatedCycles=5%",
			wantSoft: []SoftLimit{
				{Kind: metrics.Ir, Pct: 10},
				{Kind: metrics.EstimatedCycles, Pct: 5},
			},
		},
		{
			name:  "multiple hard",
			input: "Ir=20,EstimatedCycles=50",
			wantHard: []HardLimit{
				{Kind: metrics.Ir, Value: metrics.Int(20)},
				{Kind: metrics.EstimatedCycles, Value: metrics.Int(50)},
			},
		},
		{
			name:  "whitespace tolerated",
			input: "Ir= 10% , EstimatedCycles = 5%",
			wantSoft: []SoftLimit{
				{Kind: metrics.Ir, Pct: 10},
				{Kind: metrics.EstimatedCycles, Pct: 5},
			},
		},
		{
			name:     "negative soft limit keeps sign",
			input:    "Ir=-5%",
			wantSoft: []SoftLimit{{Kind: metrics.Ir, Pct: -5}},
		},
		{
			name:     "alias resolves",
			input:    "instructions=10%",
			wantSoft: []SoftLimit{{Kind: metrics.Ir, Pct: 10}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseLimits(metrics.NamespaceCallgrind, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSoft, cfg.SoftLimits)
			assert.Equal(t, tt.wantHard, cfg.HardLimits)
			assert.False(t, cfg.FailFast)
		})
	}
}

func TestParseLimitsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "missing separator",
			input: "Ir:10",
			want:  "Invalid format of key=value pair: 'Ir:10'",
		},
		{
			name:  "unknown event kind",
			input: "WRONG=10",
			want:  "unknown event kind: 'WRONG'",
		},
		{
			name:  "float hard limit on integer metric",
			input: "Ir=10.0",
			want: "Invalid hard limit for 'Instructions': Expected an integer (e.g. '10'). " +
				"If you wanted this value to be a soft limit use the '%' suffix (e.g. '4.0%' or '4%')",
		},
		{
			name:  "unparseable hard limit",
			input: "Ir=10.0.0",
			want:  "Invalid hard limit for 'Ir'",
		},
		{
			name:  "unparseable soft limit",
			input: "Ir=abc%",
			want:  "Invalid soft limit for 'Ir'",
		},
		{
			name:  "empty input",
			input: "",
			want:  "No limits found: At least one limit must be present",
		},
		{
			name:  "blank input",
			input: "   ",
			want:  "No limits found: At least one limit must be present",
		},
		{
			name:  "unknown group",
			input: "@nope=10%",
			want:  "invalid event group: '@nope'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLimits(metrics.NamespaceCallgrind, tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLimitsOtherNamespaces(t *testing.T) {
	dhat, err := ParseLimits(metrics.NamespaceDhat, "tb=5%,@default=10")
	require.NoError(t, err)
	require.Len(t, dhat.SoftLimits, 1)
	assert.Equal(t, SoftLimit{Kind: metrics.TotalBytes, Pct: 5}, dhat.SoftLimits[0])
	assert.Len(t, dhat.HardLimits, 10)
	assert.Equal(t, metrics.TotalUnits, dhat.HardLimits[0].Kind)

	errs, err := ParseLimits(metrics.NamespaceError, "@all=0")
	require.NoError(t, err)
	require.Len(t, errs.HardLimits, 4)
	assert.Equal(t, metrics.Errors, errs.HardLimits[0].Kind)

	// Callgrind-only kinds stay out of the cachegrind namespace.
	_, err = ParseLimits(metrics.NamespaceCachegrind, "SysCount=10%")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cachegrind metric: 'SysCount'")
}
