// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flamegraph folds a parsed call graph into the textual folded
// stack format flamegraph renderers consume.
//
// A folded stack is a ';'-joined call path from the program entry point
// down to one function, followed by the inclusive cost observed at that
// path's deepest frame. The folder walks the call graph depth first and
// collapses recursion by frame identity, so cyclic graphs terminate
// without an arbitrary depth limit. Differential folding merges two
// folded sets into signed per-stack differences for diff flamegraphs.
//
// Counts are signed 64-bit and all arithmetic saturates, matching the
// metric model's overflow handling.
package flamegraph

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/profile"
)

// Stack is one folded call path with its count. The count is negative
// only in differential sets.
type Stack struct {
	Path  string
	Count int64
}

// StackSet is a set of folded stacks kept sorted by path string.
//
// Sorting by path rather than discovery order keeps the output stable
// across runs whose call graphs are structurally identical but were
// written in a different order.
//
// Thread Safety: not safe for concurrent mutation.
type StackSet struct {
	stacks []Stack
}

// NewStackSet returns an empty set.
func NewStackSet() *StackSet {
	return &StackSet{}
}

// Len returns the number of distinct paths.
func (s *StackSet) Len() int {
	return len(s.stacks)
}

// IsEmpty reports whether the set holds no stacks.
func (s *StackSet) IsEmpty() bool {
	return len(s.stacks) == 0
}

// Stacks returns the folded stacks in path order. The caller owns the
// returned slice.
func (s *StackSet) Stacks() []Stack {
	out := make([]Stack, len(s.stacks))
	copy(out, s.stacks)
	return out
}

// Get returns the count recorded for a path.
func (s *StackSet) Get(path string) (int64, bool) {
	if i, ok := s.search(path); ok {
		return s.stacks[i].Count, true
	}
	return 0, false
}

// Add accumulates a count into a path, inserting the path when new.
func (s *StackSet) Add(path string, count int64) {
	i, ok := s.search(path)
	if ok {
		s.stacks[i].Count = satAdd(s.stacks[i].Count, count)
		return
	}
	s.stacks = slices.Insert(s.stacks, i, Stack{Path: path, Count: count})
}

// set overwrites a path's count, inserting the path when new.
func (s *StackSet) set(path string, count int64) {
	i, ok := s.search(path)
	if ok {
		s.stacks[i].Count = count
		return
	}
	s.stacks = slices.Insert(s.stacks, i, Stack{Path: path, Count: count})
}

func (s *StackSet) search(path string) (int, bool) {
	return slices.BinarySearchFunc(s.stacks, path, func(st Stack, p string) int {
		return strings.Compare(st.Path, p)
	})
}

// Fold walks the call graph from its entry point and folds one metric
// kind into a stack set.
//
// The entry point's path carries its full inclusive cost; every deeper
// path carries the cost of the call edge reaching its deepest frame. A
// callee already on the current path is skipped, which collapses direct
// and indirect recursion into the first occurrence.
//
// Outputs:
//
//	*StackSet - empty for an empty call graph.
//	error - rate kinds cannot be folded; a kind missing from the graph's
//	        cost collections fails with the missing kind named.
func Fold(m *profile.CallMap, kind metrics.Kind) (*StackSet, error) {
	if kind.IsRate() {
		return nil, fmt.Errorf("cannot fold rate metric '%s': stack counts must be additive", kind)
	}
	set := NewStackSet()
	root, ok := m.EntryPoint()
	if !ok {
		return set, nil
	}
	entry, ok := m.Get(root)
	if !ok {
		return set, nil
	}

	cost, err := entry.Inclusive.Metric(kind)
	if err != nil {
		return nil, fmt.Errorf("failed creating flamegraph stack: %v", err)
	}
	path := root.Label()
	set.Add(path, toCount(cost))

	onPath := map[profile.Frame]bool{root: true}
	if err := foldWalk(m, entry, path, onPath, kind, set); err != nil {
		return nil, err
	}
	return set, nil
}

func foldWalk(
	m *profile.CallMap,
	entry *profile.CallEntry,
	path string,
	onPath map[profile.Frame]bool,
	kind metrics.Kind,
	set *StackSet,
) error {
	for i := range entry.Edges {
		edge := &entry.Edges[i]
		if onPath[edge.Callee] {
			continue
		}
		cost, err := edge.Cost.Metric(kind)
		if err != nil {
			return fmt.Errorf("failed creating flamegraph stack: %v", err)
		}
		childPath := path + ";" + edge.Callee.Label()
		set.Add(childPath, toCount(cost))

		callee, ok := m.Get(edge.Callee)
		if !ok || len(callee.Edges) == 0 {
			continue
		}
		onPath[edge.Callee] = true
		err = foldWalk(m, callee, childPath, onPath, kind, set)
		delete(onPath, edge.Callee)
		if err != nil {
			return err
		}
	}
	return nil
}

// Diff merges two folded sets into one differential set. Paths present in
// both carry the signed difference new minus old; paths present on one
// side keep their count, negated for old-only paths. Matched paths stay
// in the result even at zero so a self difference is visibly all zero.
func Diff(newSet, oldSet *StackSet) *StackSet {
	out := NewStackSet()
	for _, st := range newSet.stacks {
		if oldCount, ok := oldSet.Get(st.Path); ok {
			out.set(st.Path, satSub(st.Count, oldCount))
		} else {
			out.set(st.Path, st.Count)
		}
	}
	for _, st := range oldSet.stacks {
		if _, ok := newSet.Get(st.Path); !ok {
			out.set(st.Path, satNeg(st.Count))
		}
	}
	return out
}

// WriteFolded writes the set in folded stack format, one "path count"
// line per stack in path order.
func (s *StackSet) WriteFolded(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, st := range s.stacks {
		if _, err := fmt.Fprintf(bw, "%s %d\n", st.Path, st.Count); err != nil {
			return fmt.Errorf("failed writing folded stacks: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed writing folded stacks: %w", err)
	}
	return nil
}

// ReadFolded parses folded stack format back into a set. The count is the
// text after the last space; everything before it is the path, which may
// itself contain spaces. Repeated paths accumulate. Blank lines are
// skipped.
func ReadFolded(r io.Reader) (*StackSet, error) {
	set := NewStackSet()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cut := strings.LastIndexByte(line, ' ')
		if cut < 0 {
			return nil, fmt.Errorf("invalid folded stack on line %d: '%s'", lineNo, line)
		}
		count, err := strconv.ParseInt(line[cut+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stack count on line %d: '%s'", lineNo, line)
		}
		set.Add(strings.TrimRight(line[:cut], " "), count)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed reading folded stacks: %w", err)
	}
	return set, nil
}

// toCount clamps a metric into the signed count range. Float metrics
// truncate towards zero.
func toCount(m metrics.Metric) int64 {
	if u, ok := m.Uint64(); ok {
		if u > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(u)
	}
	f := m.Float64()
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}

func satAdd(a, b int64) int64 {
	sum := a + b
	if b > 0 && sum < a {
		return math.MaxInt64
	}
	if b < 0 && sum > a {
		return math.MinInt64
	}
	return sum
}

func satSub(a, b int64) int64 {
	diff := a - b
	if b < 0 && diff < a {
		return math.MaxInt64
	}
	if b > 0 && diff > a {
		return math.MinInt64
	}
	return diff
}

func satNeg(a int64) int64 {
	if a == math.MinInt64 {
		return math.MaxInt64
	}
	return -a
}
