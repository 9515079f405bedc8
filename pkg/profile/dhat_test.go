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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

const dhatLog = `==2402== DHAT, a dynamic heap analysis tool
==2402== NOTE: This is an Experimental-Class Valgrind Tool
==2402== Copyright (C) 2010-2018, and GNU GPL'd, by Mozilla Foundation
==2402== Using Valgrind-3.22.0 and LibVEX; rerun with -h for copyright info
==2402== Command: /home/foo/target/release/bench
==2402== Parent PID: 2401
==2402==
==2402==
==2402== Total:     1,311 bytes in 12 blocks
==2402== At t-gmax: 1,134 bytes in 2 blocks
==2402== At t-end:  0 bytes in 0 blocks
==2402== Reads:     5,022 bytes
==2402== Writes:    1,149 bytes
==2402==
==2402== To display the profile, run: dh_view.html dhat.out.2402
`

func TestDhatParser(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dhat.bench.2402.log", dhatLog)

	segment, err := ParserFor(valgrind.DHAT).ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, int32(2402), segment.Pid)
	require.NotNil(t, segment.ParentPid)
	assert.Equal(t, int32(2401), *segment.ParentPid)
	assert.Equal(t, "/home/foo/target/release/bench", segment.Command)
	assert.Empty(t, segment.Details, "nothing between the header and the fields")

	assert.Equal(t, []metrics.Kind{
		metrics.TotalBytes, metrics.TotalBlocks,
		metrics.AtTGmaxBytes, metrics.AtTGmaxBlocks,
		metrics.AtTEndBytes, metrics.AtTEndBlocks,
		metrics.ReadsBytes, metrics.WritesBytes,
	}, segment.Metrics.Kinds(), "field order is insertion order")

	for kind, expected := range map[metrics.Kind]uint64{
		metrics.TotalBytes:    1311,
		metrics.TotalBlocks:   12,
		metrics.AtTGmaxBytes:  1134,
		metrics.AtTGmaxBlocks: 2,
		metrics.AtTEndBytes:   0,
		metrics.AtTEndBlocks:  0,
		metrics.ReadsBytes:    5022,
		metrics.WritesBytes:   1149,
	} {
		v, ok := segment.Metrics.Get(kind)
		require.True(t, ok, "missing %s", kind)
		got, _ := v.Uint64()
		assert.Equal(t, expected, got, "%s (thousands separators removed)", kind)
	}
}

func TestDhatParser_AdHocMode(t *testing.T) {
	content := `==99== DHAT, a dynamic heap analysis tool
==99== Command: bench
==99==
==99== Total:     1,000,000 units in 1,000 events
==99==
==99== footer
`
	path := writeFile(t, t.TempDir(), "dhat.bench.99.log", content)

	segment, err := ParserFor(valgrind.DHAT).ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, []metrics.Kind{metrics.TotalUnits, metrics.TotalEvents}, segment.Metrics.Kinds())
	v, _ := segment.Metrics.Get(metrics.TotalUnits)
	assert.True(t, v.Equal(metrics.Int(1000000)))
	v, _ = segment.Metrics.Get(metrics.TotalEvents)
	assert.True(t, v.Equal(metrics.Int(1000)))
}

func TestDhatParser_BodyDetails(t *testing.T) {
	content := `==99== DHAT, a dynamic heap analysis tool
==99== Command: bench
==99==
==99== warning: some warning line
==99== Total:     10 bytes in 1 blocks
==99== At t-gmax: 10 bytes in 1 blocks
==99== this line ends the fields and is dropped with the footer
==99== At t-end: 99 bytes in 99 blocks
`
	path := writeFile(t, t.TempDir(), "dhat.bench.99.log", content)

	segment, err := ParserFor(valgrind.DHAT).ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"warning: some warning line"}, segment.Details)
	assert.Equal(t, []metrics.Kind{
		metrics.TotalBytes, metrics.TotalBlocks,
		metrics.AtTGmaxBytes, metrics.AtTGmaxBlocks,
	}, segment.Metrics.Kinds(), "fields after the footer start are ignored")
}
