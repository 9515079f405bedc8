// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/either"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/summary"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

func TestCLI_Show_RendersDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeSummaryDoc(t, dir, "summary.json", 1000)

	out, err := execCLI(t, "show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "fib")
	assert.Contains(t, out, "CALLGRIND")
	assert.Contains(t, out, metrics.Ir.DisplayName())
	assert.Contains(t, out, "callgrind.fib.log")
}

func TestCLI_Show_Raw(t *testing.T) {
	dir := t.TempDir()
	path := writeSummaryDoc(t, dir, "summary.json", 1000)

	out, err := execCLI(t, "show", path, "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
	assert.Contains(t, out, `"profiles"`)

	// The raw dump must round-trip through the decoder.
	_, err = summary.Decode([]byte(out))
	require.NoError(t, err)
}

func TestCLI_Show_RendersRecordedRegressions(t *testing.T) {
	dir := t.TempDir()

	total := metrics.New()
	total.Insert(metrics.Ir, metrics.Int(1200))
	old := metrics.New()
	old.Insert(metrics.Ir, metrics.Int(1000))
	cmp := compare.NewSummary(either.Both(total, old))

	doc := summary.New(summary.Benchmark{
		Kind:     summary.BinaryBenchmark,
		Exe:      "target/fib",
		Function: "fib",
	}, summary.Baselines{})
	doc.AddProfile(summary.Profile{
		Tool: valgrind.Callgrind,
		Data: summary.ProfileData{
			Total: summary.ProfileTotal{
				Summary: summary.NewMetricsSummary(cmp),
				Regressions: []summary.Regression{{
					Soft: &summary.SoftRegression{
						Metric: metrics.Ir,
						New:    metrics.Int(1200),
						Old:    metrics.Int(1000),
						Pct:    summary.Float64(20),
						Limit:  summary.Float64(10),
					},
				}},
			},
		},
	})
	data, err := doc.Encode(false)
	require.NoError(t, err)
	path := filepath.Join(dir, "summary.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := execCLI(t, "show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "regressed")
	assert.Contains(t, out, "+20")
}

func TestCLI_Show_IncompatibleSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"1"}`), 0o644))

	_, err := execCLI(t, "show", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, summary.ErrIncompatibleSchemaVersion)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestCLI_Show_MissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := execCLI(t, "show", filepath.Join(dir, "absent.json"))
	require.Error(t, err)
}
