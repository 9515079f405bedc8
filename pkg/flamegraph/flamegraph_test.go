// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flamegraph

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/profile"
)

var (
	frameMain   = profile.Frame{File: "src/main.rs", Function: "main"}
	frameAlpha  = profile.Frame{File: "src/lib.rs", Function: "alpha"}
	frameBeta   = profile.Frame{File: "src/lib.rs", Function: "beta"}
	frameMemcpy = profile.Frame{Object: "/usr/lib/libc.so", Function: "memcpy"}
)

func irCost(v uint64) *metrics.Metrics {
	m := metrics.New()
	m.Insert(metrics.Ir, metrics.Int(v))
	return m
}

// chainGraph builds main -> alpha -> memcpy with the costs the callgrind
// fixture in the profile package produces.
func chainGraph(ir ...uint64) *profile.CallMap {
	m := profile.NewCallMap(metrics.WithKinds(metrics.Ir))

	main := m.Entry(frameMain)
	main.Inclusive.Insert(metrics.Ir, metrics.Int(ir[0]))
	main.AddEdge(frameAlpha, 2, irCost(ir[1]))

	alpha := m.Entry(frameAlpha)
	alpha.Inclusive.Insert(metrics.Ir, metrics.Int(ir[1]))
	alpha.AddEdge(frameMemcpy, 4, irCost(ir[2]))

	memcpy := m.Entry(frameMemcpy)
	memcpy.Inclusive.Insert(metrics.Ir, metrics.Int(ir[2]))

	m.SetEntryPoint(frameMain)
	return m
}

func TestFold(t *testing.T) {
	set, err := Fold(chainGraph(750, 600, 280), metrics.Ir)
	require.NoError(t, err)

	assert.Equal(t, []Stack{
		{Path: "src/main.rs:main", Count: 750},
		{Path: "src/main.rs:main;src/lib.rs:alpha", Count: 600},
		{Path: "src/main.rs:main;src/lib.rs:alpha;memcpy [/usr/lib/libc.so]", Count: 280},
	}, set.Stacks())
}

func TestFold_EmptyMap(t *testing.T) {
	set, err := Fold(profile.NewCallMap(metrics.WithKinds(metrics.Ir)), metrics.Ir)
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
}

func TestFold_RejectsRateKinds(t *testing.T) {
	_, err := Fold(chainGraph(750, 600, 280), metrics.L1HitRate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot fold rate metric 'L1HitRate'")
}

func TestFold_MissingKind(t *testing.T) {
	_, err := Fold(chainGraph(750, 600, 280), metrics.Dr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed creating flamegraph stack")
	assert.Contains(t, err.Error(), "missing event type 'Dr'")
}

func TestFold_RecursionCollapses(t *testing.T) {
	// main -> alpha, alpha -> main (cycle), alpha -> beta. The back edge
	// to main must be skipped or the walk never terminates.
	m := profile.NewCallMap(metrics.WithKinds(metrics.Ir))

	main := m.Entry(frameMain)
	main.Inclusive.Insert(metrics.Ir, metrics.Int(1000))
	main.AddEdge(frameAlpha, 1, irCost(800))

	alpha := m.Entry(frameAlpha)
	alpha.Inclusive.Insert(metrics.Ir, metrics.Int(800))
	alpha.AddEdge(frameMain, 3, irCost(500))
	alpha.AddEdge(frameBeta, 1, irCost(200))

	m.Entry(frameBeta).Inclusive.Insert(metrics.Ir, metrics.Int(200))
	m.SetEntryPoint(frameMain)

	set, err := Fold(m, metrics.Ir)
	require.NoError(t, err)

	assert.Equal(t, []Stack{
		{Path: "src/main.rs:main", Count: 1000},
		{Path: "src/main.rs:main;src/lib.rs:alpha", Count: 800},
		{Path: "src/main.rs:main;src/lib.rs:alpha;src/lib.rs:beta", Count: 200},
	}, set.Stacks(), "the alpha -> main back edge produces no stack")
}

func TestFold_SiblingOrderDoesNotMatter(t *testing.T) {
	build := func(reversed bool) *profile.CallMap {
		m := profile.NewCallMap(metrics.WithKinds(metrics.Ir))
		main := m.Entry(frameMain)
		main.Inclusive.Insert(metrics.Ir, metrics.Int(500))
		if reversed {
			main.AddEdge(frameBeta, 1, irCost(300))
			main.AddEdge(frameAlpha, 1, irCost(200))
		} else {
			main.AddEdge(frameAlpha, 1, irCost(200))
			main.AddEdge(frameBeta, 1, irCost(300))
		}
		m.Entry(frameAlpha).Inclusive.Insert(metrics.Ir, metrics.Int(200))
		m.Entry(frameBeta).Inclusive.Insert(metrics.Ir, metrics.Int(300))
		m.SetEntryPoint(frameMain)
		return m
	}

	a, err := Fold(build(false), metrics.Ir)
	require.NoError(t, err)
	b, err := Fold(build(true), metrics.Ir)
	require.NoError(t, err)

	assert.Equal(t, a.Stacks(), b.Stacks(),
		"structurally identical graphs fold to identical sets")
}

func TestDiff(t *testing.T) {
	newSet := NewStackSet()
	newSet.Add("main", 1200)
	newSet.Add("main;alpha", 700)
	newSet.Add("main;gamma", 100)

	oldSet := NewStackSet()
	oldSet.Add("main", 1000)
	oldSet.Add("main;alpha", 800)
	oldSet.Add("main;beta", 50)

	diff := Diff(newSet, oldSet)
	assert.Equal(t, []Stack{
		{Path: "main", Count: 200},
		{Path: "main;alpha", Count: -100},
		{Path: "main;beta", Count: -50},
		{Path: "main;gamma", Count: 100},
	}, diff.Stacks())
}

func TestDiff_Self(t *testing.T) {
	set, err := Fold(chainGraph(750, 600, 280), metrics.Ir)
	require.NoError(t, err)

	diff := Diff(set, set)
	require.Equal(t, set.Len(), diff.Len(), "matched paths stay at zero")
	for _, st := range diff.Stacks() {
		assert.Zero(t, st.Count, st.Path)
	}
}

func TestDiff_AgainstEmpty(t *testing.T) {
	set, err := Fold(chainGraph(750, 600, 280), metrics.Ir)
	require.NoError(t, err)

	assert.Equal(t, set.Stacks(), Diff(set, NewStackSet()).Stacks())

	inverted := Diff(NewStackSet(), set)
	require.Equal(t, set.Len(), inverted.Len())
	for i, st := range inverted.Stacks() {
		assert.Equal(t, -set.Stacks()[i].Count, st.Count, st.Path)
	}
}

func TestStackSet_AddAccumulates(t *testing.T) {
	set := NewStackSet()
	set.Add("main;alpha", 100)
	set.Add("main;alpha", 50)
	set.Add("main", 10)

	count, ok := set.Get("main;alpha")
	require.True(t, ok)
	assert.Equal(t, int64(150), count)

	_, ok = set.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []Stack{
		{Path: "main", Count: 10},
		{Path: "main;alpha", Count: 150},
	}, set.Stacks())
}

func TestWriteReadFolded(t *testing.T) {
	set, err := Fold(chainGraph(750, 600, 280), metrics.Ir)
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, set.WriteFolded(&buf))
	assert.Equal(t,
		"src/main.rs:main 750\n"+
			"src/main.rs:main;src/lib.rs:alpha 600\n"+
			"src/main.rs:main;src/lib.rs:alpha;memcpy [/usr/lib/libc.so] 280\n",
		buf.String())

	back, err := ReadFolded(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, set.Stacks(), back.Stacks(),
		"paths containing spaces survive the round trip")
}

func TestReadFolded_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		reason string
	}{
		{"no count", "main\n", "invalid folded stack on line 1"},
		{"bad count", "main;alpha twelve\n", "invalid stack count on line 1"},
		{"second line", "main 10\nbroken\n", "line 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadFolded(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.reason)
		})
	}
}

func TestReadFolded_NegativeAndBlank(t *testing.T) {
	set, err := ReadFolded(strings.NewReader("main 10\n\nmain;alpha -25\n"))
	require.NoError(t, err)
	assert.Equal(t, []Stack{
		{Path: "main", Count: 10},
		{Path: "main;alpha", Count: -25},
	}, set.Stacks())
}

func TestSaturation(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), satAdd(math.MaxInt64, 1))
	assert.Equal(t, int64(math.MinInt64), satAdd(math.MinInt64, -1))
	assert.Equal(t, int64(math.MinInt64), satSub(math.MinInt64, 1))
	assert.Equal(t, int64(math.MaxInt64), satSub(math.MaxInt64, -1))
	assert.Equal(t, int64(math.MaxInt64), satNeg(math.MinInt64))
	assert.Equal(t, int64(math.MaxInt64), toCount(metrics.Int(math.MaxUint64)))
	assert.Equal(t, int64(42), toCount(metrics.Float(42.9)))
}
