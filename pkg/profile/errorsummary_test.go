// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

func TestErrorSummaryRe(t *testing.T) {
	maxStr := strconv.FormatUint(math.MaxUint64, 10)
	cases := []struct {
		name     string
		value    string
		expected [4]string
	}{
		{
			name:     "all zero",
			value:    "0 errors from 0 contexts (suppressed: 0 from 0)",
			expected: [4]string{"0", "0", "0", "0"},
		},
		{
			name:     "different numbers",
			value:    "1 errors from 2 contexts (suppressed: 3 from 4)",
			expected: [4]string{"1", "2", "3", "4"},
		},
		{
			name:     "multiple digits",
			value:    "11 errors from 123 contexts (suppressed: 1345 from 14567)",
			expected: [4]string{"11", "123", "1345", "14567"},
		},
		{
			name:     "u64 max",
			value:    maxStr + " errors from " + maxStr + " contexts (suppressed: " + maxStr + " from " + maxStr + ")",
			expected: [4]string{maxStr, maxStr, maxStr, maxStr},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := errorSummaryRe.FindStringSubmatch(tc.value)
			require.NotNil(t, m)
			assert.Equal(t, tc.expected[:], m[1:5])
		})
	}

	assert.Nil(t, errorSummaryRe.FindStringSubmatch("no numbers in here"))
}

const memcheckLog = `==1234== Memcheck, a memory error detector
==1234== Copyright (C) 2002-2022, and GNU GPL'd, by Julian Seward et al.
==1234== Using Valgrind-3.22.0 and LibVEX; rerun with -h for copyright info
==1234== Command: target/release/bench
==1234==
==1234== Conditional jump or move depends on uninitialised value(s)
==1234==    at 0x4848203: memmove (vg_replace_strmem.c:1382)
==1234==
==1234== HEAP SUMMARY:
==1234==     in use at exit: 0 bytes in 0 blocks
==1234==   total heap usage: 47 allocs, 47 frees, 8,365 bytes allocated
==1234==
==1234== ERROR SUMMARY: 8 errors from 6 contexts (suppressed: 2 from 1)
`

func TestErrorSummaryParser(t *testing.T) {
	path := writeFile(t, t.TempDir(), "memcheck.bench.1234.log", memcheckLog)

	segment, err := ParserFor(valgrind.Memcheck).ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, int32(1234), segment.Pid)
	assert.Nil(t, segment.ParentPid)
	assert.Equal(t, "target/release/bench", segment.Command)

	assert.Equal(t, []metrics.Kind{
		metrics.Errors, metrics.Contexts,
		metrics.SuppressedErrors, metrics.SuppressedContexts,
	}, segment.Metrics.Kinds())
	for kind, expected := range map[metrics.Kind]uint64{
		metrics.Errors:             8,
		metrics.Contexts:           6,
		metrics.SuppressedErrors:   2,
		metrics.SuppressedContexts: 1,
	} {
		v, ok := segment.Metrics.Get(kind)
		require.True(t, ok)
		got, _ := v.Uint64()
		assert.Equal(t, expected, got, "%s", kind)
	}

	assert.Contains(t, segment.Details, "Conditional jump or move depends on uninitialised value(s)")
	assert.Contains(t, segment.Details, "HEAP SUMMARY:")
	assert.NotContains(t, segment.Details, "ERROR SUMMARY: 8 errors from 6 contexts (suppressed: 2 from 1)",
		"the summary line is a metric, not a detail")
}

func TestErrorSummaryParser_LastSummaryWins(t *testing.T) {
	content := `==55== Helgrind, a thread error detector
==55== Command: bench
==55==
==55== ERROR SUMMARY: 1 errors from 1 contexts (suppressed: 0 from 0)
==55== some more output
==55== ERROR SUMMARY: 7 errors from 3 contexts (suppressed: 2 from 2)
`
	path := writeFile(t, t.TempDir(), "helgrind.bench.55.log", content)

	segment, err := ParserFor(valgrind.Helgrind).ParseFile(path)
	require.NoError(t, err)

	v, _ := segment.Metrics.Get(metrics.Errors)
	assert.True(t, v.Equal(metrics.Int(7)), "valgrind reprints the summary, only the last counts")
	v, _ = segment.Metrics.Get(metrics.Contexts)
	assert.True(t, v.Equal(metrics.Int(3)))
}

func TestErrorSummaryParser_MissingSummary(t *testing.T) {
	content := `==55== DRD, a thread error detector
==55== Command: bench
==55==
==55== body without a summary
`
	path := writeFile(t, t.TempDir(), "drd.bench.55.log", content)

	_, err := ParserFor(valgrind.DRD).ParseFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "an error summary line should be present")
}
