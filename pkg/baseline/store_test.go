// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/profile"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

func sampleRun(t *testing.T, tool valgrind.Tool, ir uint64) profile.Run {
	t.Helper()
	thread := 1
	m := metrics.New()
	m.Insert(metrics.Ir, metrics.Int(ir))
	run, err := profile.NewRun(tool, []profile.Segment{{
		Path:    "/tmp/bench/callgrind.fibonacci.out",
		Command: "target/release/bench --iter 30",
		Pid:     633549,
		Thread:  &thread,
		Metrics: m,
	}})
	require.NoError(t, err)
	return run
}

func sampleRecord(t *testing.T, benchmark, name string, ir uint64) *Record {
	t.Helper()
	rec, err := NewRecord(benchmark, name, []profile.Run{sampleRun(t, valgrind.Callgrind, ir)})
	require.NoError(t, err)
	return rec
}

// runStoreSuite exercises the Store contract shared by every backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing returns ErrBaselineNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "fibonacci", "main")
		assert.ErrorIs(t, err, ErrBaselineNotFound)
	})

	t.Run("set then get round-trips", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, sampleRecord(t, "fibonacci", "main", 1000)))

		rec, err := store.Get(ctx, "fibonacci", "main")
		require.NoError(t, err)
		assert.Equal(t, "fibonacci", rec.Benchmark)
		assert.Equal(t, "main", rec.Name)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.False(t, rec.UpdatedAt.IsZero())

		run, ok := rec.Run(valgrind.Callgrind)
		require.True(t, ok)
		require.Len(t, run.Segments, 1)
		assert.Equal(t, int32(633549), run.Segments[0].Pid)
		require.NotNil(t, run.Segments[0].Thread)
		assert.Equal(t, 1, *run.Segments[0].Thread)
		v, err := run.Total.Metric(metrics.Ir)
		require.NoError(t, err)
		assert.True(t, v.Equal(metrics.Int(1000)))

		_, ok = rec.Run(valgrind.DHAT)
		assert.False(t, ok, "no dhat run was stored")
	})

	t.Run("overwrite replaces the snapshot and keeps created_at", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, sampleRecord(t, "fibonacci", "main", 1000)))
		first, err := store.Get(ctx, "fibonacci", "main")
		require.NoError(t, err)

		require.NoError(t, store.Set(ctx, sampleRecord(t, "fibonacci", "main", 2500)))
		second, err := store.Get(ctx, "fibonacci", "main")
		require.NoError(t, err)

		run, ok := second.Run(valgrind.Callgrind)
		require.True(t, ok)
		v, err := run.Total.Metric(metrics.Ir)
		require.NoError(t, err)
		assert.True(t, v.Equal(metrics.Int(2500)))
		assert.True(t, second.CreatedAt.Equal(first.CreatedAt),
			"overwriting must not reset the creation time")
	})

	t.Run("list is sorted and scoped to the benchmark", func(t *testing.T) {
		store := newStore(t)
		for _, name := range []string{"main", "feature_2", "alpha"} {
			require.NoError(t, store.Set(ctx, sampleRecord(t, "fibonacci", name, 100)))
		}
		require.NoError(t, store.Set(ctx, sampleRecord(t, "other_bench", "main", 100)))

		names, err := store.List(ctx, "fibonacci")
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "feature_2", "main"}, names)
	})

	t.Run("list of an unknown benchmark is empty", func(t *testing.T) {
		store := newStore(t)
		names, err := store.List(ctx, "never_ran")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("delete removes exactly one baseline", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, sampleRecord(t, "fibonacci", "main", 100)))
		require.NoError(t, store.Set(ctx, sampleRecord(t, "fibonacci", "keep", 100)))

		require.NoError(t, store.Delete(ctx, "fibonacci", "main"))
		_, err := store.Get(ctx, "fibonacci", "main")
		assert.ErrorIs(t, err, ErrBaselineNotFound)
		_, err = store.Get(ctx, "fibonacci", "keep")
		assert.NoError(t, err)

		assert.ErrorIs(t, store.Delete(ctx, "fibonacci", "main"), ErrBaselineNotFound)
	})

	t.Run("invalid names are rejected", func(t *testing.T) {
		store := newStore(t)
		rec := sampleRecord(t, "fibonacci", "main", 100)
		rec.Name = "with-dash"
		assert.Error(t, store.Set(ctx, rec))

		_, err := store.Get(ctx, "fibonacci", "with space")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrBaselineNotFound)

		assert.Error(t, store.Delete(ctx, "fibonacci", "../../etc"))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

// TestFileStore_Layout verifies the on-disk naming contract other tooling
// may rely on: {dir}/{benchmark}/{name}.json.
func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), sampleRecord(t, "group::fib", "main", 42)))

	path := filepath.Join(dir, "group::fib", "main.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"benchmark": "group::fib"`)
}

// TestFileStore_Corrupt verifies a damaged file surfaces as
// ErrInvalidBaseline rather than a JSON error.
func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fibonacci"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fibonacci", "main.json"), []byte("{broken"), 0644))

	_, err = store.Get(context.Background(), "fibonacci", "main")
	assert.ErrorIs(t, err, ErrInvalidBaseline)
}

func TestNewRecord_Validation(t *testing.T) {
	_, err := NewRecord("", "main", nil)
	assert.Error(t, err)

	_, err = NewRecord("fibonacci", "no spaces", nil)
	assert.Error(t, err)

	rec, err := NewRecord("fibonacci", "feature_123", nil)
	require.NoError(t, err)
	assert.Empty(t, rec.Tools())
}

func TestBenchmarkDir(t *testing.T) {
	assert.Equal(t, "group::fib", benchmarkDir("group::fib"))
	assert.Equal(t, "a_b", benchmarkDir("a/b"))
	assert.Equal(t, "_..", benchmarkDir(".."), "a dot component must not escape the store root")
}

// TestRecord_CloneIsolation verifies a stored record cannot be mutated
// through the caller's copy.
func TestRecord_CloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := sampleRecord(t, "fibonacci", "main", 1000)
	require.NoError(t, store.Set(ctx, rec))
	rec.Runs[0].Total.Insert(metrics.Ir, metrics.Int(9999))

	got, err := store.Get(ctx, "fibonacci", "main")
	require.NoError(t, err)
	v, err := got.Runs[0].Total.Metric(metrics.Ir)
	require.NoError(t, err)
	assert.True(t, v.Equal(metrics.Int(1000)), "the store must hold its own copy")
}
