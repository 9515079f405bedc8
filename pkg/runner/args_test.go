// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

func TestToolArgs_CallgrindDefaults(t *testing.T) {
	a, err := newToolArgs(valgrind.Callgrind, "", nil)
	require.NoError(t, err)

	args := a.toSlice()
	assert.Equal(t, "--tool=callgrind", args[0])
	assert.Contains(t, args, "--error-exitcode=0")
	assert.Contains(t, args, "--trace-children=yes")
	assert.Contains(t, args, "--fair-sched=try")
	assert.Contains(t, args, "--I1=32768,8,64")
	assert.Contains(t, args, "--D1=32768,8,64")
	assert.Contains(t, args, "--LL=8388608,16,64")
	assert.Contains(t, args, "--cache-sim=yes")
	assert.Contains(t, args, "--compress-strings=no")
	assert.Contains(t, args, "--compress-pos=no")
	assert.Contains(t, args, "--combine-dumps=no")
	assert.Contains(t, args, "--dump-line=yes")
	assert.Contains(t, args, "--separate-threads=yes")
	assert.NotContains(t, args, "--verbose")
}

func TestToolArgs_EntryPointBecomesCollectToggle(t *testing.T) {
	a, err := newToolArgs(valgrind.Callgrind, "my_bench::*", []string{"--toggle-collect=extra"})
	require.NoError(t, err)

	args := a.toSlice()
	first := indexOf(t, args, "--toggle-collect=my_bench::*")
	second := indexOf(t, args, "--toggle-collect=extra")
	assert.Less(t, first, second, "the entry point toggles first")
}

func TestToolArgs_ErrorToolsGetReservedExitcode(t *testing.T) {
	for _, tool := range []valgrind.Tool{valgrind.Memcheck, valgrind.Helgrind, valgrind.DRD} {
		a, err := newToolArgs(tool, "", nil)
		require.NoError(t, err)
		assert.Contains(t, a.toSlice(), "--error-exitcode=201", tool.ID())
	}
}

func TestToolArgs_UserOverrides(t *testing.T) {
	a, err := newToolArgs(valgrind.Callgrind, "", []string{
		"--trace-children=no",
		"--I1=65536,8,64",
		"--dump-instr=yes",
		"-v",
		"--branch-sim=yes",
	})
	require.NoError(t, err)

	args := a.toSlice()
	assert.Contains(t, args, "--trace-children=no")
	assert.Contains(t, args, "--I1=65536,8,64")
	assert.Contains(t, args, "--dump-instr=yes")
	assert.Contains(t, args, "--verbose")
	assert.Contains(t, args, "--branch-sim=yes", "unknown options pass through")
}

func TestToolArgs_InvalidYesNoFails(t *testing.T) {
	_, err := newToolArgs(valgrind.Callgrind, "", []string{"--trace-children=maybe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--trace-children")
}

func TestToolArgs_HarnessOwnedArgumentsAreDropped(t *testing.T) {
	a, err := newToolArgs(valgrind.Callgrind, "", []string{
		"--callgrind-out-file=/tmp/mine.out",
		"--log-file=/tmp/mine.log",
		"--compress-strings=yes",
	})
	require.NoError(t, err)

	out := valgrind.NewOutputPath(valgrind.Callgrind, valgrind.CompareToOld(), "/tmp/bench", "bench")
	a.setOutputArg(out)
	a.setLogArg(out)

	args := a.toSlice()
	assert.NotContains(t, args, "--callgrind-out-file=/tmp/mine.out")
	assert.NotContains(t, args, "--log-file=/tmp/mine.log")
	assert.Contains(t, args, "--compress-strings=no")
}

func TestToolArgs_OutputArgsCarryPidModifier(t *testing.T) {
	out := valgrind.NewOutputPath(valgrind.Callgrind, valgrind.CompareToOld(), "/tmp/bench", "bench")

	a, err := newToolArgs(valgrind.Callgrind, "", nil)
	require.NoError(t, err)
	a.setOutputArg(out)
	a.setLogArg(out)

	args := a.toSlice()
	assert.Contains(t, args, "--callgrind-out-file=/tmp/bench/callgrind.bench.out.#%p")
	assert.Contains(t, args, "--log-file=/tmp/bench/callgrind.bench.log.#%p")
}

func TestToolArgs_NoPidModifierWithoutChildTracing(t *testing.T) {
	out := valgrind.NewOutputPath(valgrind.Callgrind, valgrind.CompareToOld(), "/tmp/bench", "bench")

	a, err := newToolArgs(valgrind.Callgrind, "", []string{"--trace-children=no"})
	require.NoError(t, err)
	a.setOutputArg(out)
	a.setLogArg(out)

	args := a.toSlice()
	assert.Contains(t, args, "--callgrind-out-file=/tmp/bench/callgrind.bench.out")
	assert.Contains(t, args, "--log-file=/tmp/bench/callgrind.bench.log")
}

func TestToolArgs_BBVWritesTwoOutputFiles(t *testing.T) {
	out := valgrind.NewOutputPath(valgrind.BBV, valgrind.CompareToOld(), "/tmp/bench", "bench")

	a, err := newToolArgs(valgrind.BBV, "", nil)
	require.NoError(t, err)
	a.setOutputArg(out)

	args := a.toSlice()
	assert.Contains(t, args, "--bb-out-file=/tmp/bench/exp-bbv.bench.out.bb.#%p")
	assert.Contains(t, args, "--pc-out-file=/tmp/bench/exp-bbv.bench.out.pc.#%p")
}

func TestToolArgs_MassifHasNoCacheFlags(t *testing.T) {
	a, err := newToolArgs(valgrind.Massif, "", nil)
	require.NoError(t, err)

	for _, arg := range a.toSlice() {
		assert.NotContains(t, arg, "--I1=")
		assert.NotContains(t, arg, "--cache-sim=")
		assert.NotContains(t, arg, "--dump-line=")
	}
}

func indexOf(t *testing.T, args []string, want string) int {
	t.Helper()
	for i, arg := range args {
		if arg == want {
			return i
		}
	}
	t.Fatalf("argument %q not found in %v", want, args)
	return -1
}
