// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile parses the output and log files written by the valgrind
// tools into a normalized segment model.
//
// Every tool dialect funnels into the same two types: a Segment per
// executed process/thread/part and a Run collecting one tool's segments
// with a computed total. The dialects themselves differ heavily - the
// callgrind body format declares its metrics positionally in a header,
// the log file formats carry "==pid==" banners with key/value fields, and
// DHAT interleaves its counters with free text - so each dialect is a row
// in a small table configuring the shared engine rather than a separate
// code path.
//
// Side Effects:
//
//	Parsing is a pure function from file bytes to segments. The only I/O
//	is reading the input files; files are closed on all paths including
//	parse failure.
package profile

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// ParseError reports an output file the engine could not interpret. Line is
// 1-based and zero when the failure is not tied to a single line.
type ParseError struct {
	Path   string
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("error parsing file '%s': line %d: %s: '%s'", e.Path, e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("error parsing file '%s': %s", e.Path, e.Reason)
}

// parseErr builds a file-scoped ParseError.
func parseErr(path, reason string) *ParseError {
	return &ParseError{Path: path, Reason: reason}
}

// Segment is the result of parsing one output or log file: the metrics of
// one execution unit plus the identity attributes that pair it against
// another run's segments. ParentPid, Thread and Part stay nil when the file
// does not report them.
//
// Segments are immutable once parsed. The identity tuple (Pid, Thread,
// Part) is unique within one Run.
type Segment struct {
	// Path is the file this segment was parsed from.
	Path string
	// Command is the executed command with its arguments.
	Command string

	Pid       int32
	ParentPid *int32
	Thread    *int
	Part      *uint64

	// Details holds the free-text body lines of a log file, banner prefixes
	// stripped. Empty for output files.
	Details []string
	// Desc holds the "desc:" header fields of a body format file.
	Desc []string

	// Metrics is the segment's metric mapping, including the derived cache
	// metrics when the primitives for them were present.
	Metrics *metrics.Metrics
}

// compareIdentity orders segments by pid, then thread, then part, all
// ascending with absent values first. This is the callgrind file grammar
// order and every consumer relies on it.
func compareIdentity(a, b Segment) int {
	if c := cmp.Compare(a.Pid, b.Pid); c != 0 {
		return c
	}
	if c := comparePtr(a.Thread, b.Thread); c != 0 {
		return c
	}
	return comparePtr(a.Part, b.Part)
}

func comparePtr[T cmp.Ordered](a, b *T) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return cmp.Compare(*a, *b)
	}
}

// Run is one tool's complete parse result for one benchmark execution:
// the segments ordered by identity and the total over them.
type Run struct {
	Tool     valgrind.Tool
	Segments []Segment

	// Total is the element-wise sum of the segments' metrics. The derived
	// cache metrics are recomputed from the summed primitives, never summed
	// themselves. A single-segment run's total is exactly that segment's
	// metrics.
	Total *metrics.Metrics
}

// NewRun orders the segments by identity and computes the total.
func NewRun(tool valgrind.Tool, segments []Segment) (Run, error) {
	run := Run{Tool: tool, Segments: slices.Clone(segments)}
	slices.SortStableFunc(run.Segments, compareIdentity)

	switch len(run.Segments) {
	case 0:
		run.Total = metrics.New()
	case 1:
		run.Total = run.Segments[0].Metrics.Clone()
	default:
		total := metrics.New()
		for _, segment := range run.Segments {
			sumInto(total, segment.Metrics)
		}
		if valgrind.CanSummarize(total) {
			if err := valgrind.EnrichCacheMetrics(total); err != nil {
				return Run{}, fmt.Errorf("failed computing the run total: %w", err)
			}
		}
		run.Total = total
	}
	return run, nil
}

// IsMulti reports whether the run has more than one segment.
func (r Run) IsMulti() bool {
	return len(r.Segments) > 1
}

// sumInto adds the primitive metrics of src into dst, keyed by kind. The
// derived kinds are skipped, they are recomputed over the summed primitives
// by the caller.
func sumInto(dst, src *metrics.Metrics) {
	for _, k := range src.Kinds() {
		if k.IsDerived() {
			continue
		}
		v, _ := src.Get(k)
		if prev, ok := dst.Get(k); ok {
			dst.Insert(k, prev.Add(v))
		} else {
			dst.Insert(k, v)
		}
	}
}
