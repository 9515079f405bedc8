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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// Frame identifies one function in a parsed call graph. File and Object are
// empty when the profile reported them as unknown ("???").
type Frame struct {
	Object   string
	File     string
	Function string
}

// Label renders the frame for folded stacks and reports: "file:function",
// with the object appended in brackets when it is known.
func (f Frame) Label() string {
	var b strings.Builder
	if f.File != "" {
		b.WriteString(f.File)
		b.WriteByte(':')
	}
	b.WriteString(f.Function)
	if f.Object != "" {
		b.WriteString(" [")
		b.WriteString(f.Object)
		b.WriteByte(']')
	}
	return b.String()
}

// CallEdge aggregates every call from one caller to one callee: how often
// the calls happened and the inclusive cost attributed to them.
type CallEdge struct {
	Callee Frame
	Calls  uint64
	Cost   *metrics.Metrics
}

// CallEntry carries one frame's aggregated costs and its outgoing calls.
// Inclusive covers the frame and everything it called, Self only the
// frame's own cost lines. Edges keep first-appearance order.
type CallEntry struct {
	Frame     Frame
	Inclusive *metrics.Metrics
	Self      *metrics.Metrics
	Edges     []CallEdge
}

// AddEdge accumulates a call into the edge towards callee, creating the
// edge on first use.
func (e *CallEntry) AddEdge(callee Frame, calls uint64, cost *metrics.Metrics) {
	for i := range e.Edges {
		if e.Edges[i].Callee == callee {
			e.Edges[i].Calls += calls
			e.Edges[i].Cost.Add(cost)
			return
		}
	}
	e.Edges = append(e.Edges, CallEdge{Callee: callee, Calls: calls, Cost: cost.Clone()})
}

// Edge returns the edge towards callee if one exists.
func (e *CallEntry) Edge(callee Frame) (*CallEdge, bool) {
	for i := range e.Edges {
		if e.Edges[i].Callee == callee {
			return &e.Edges[i], true
		}
	}
	return nil, false
}

// CallMap indexes every frame of a full body parse in first-appearance
// order, together with the entry point the parser detected.
//
// Description: the per-function call graph of one or more callgrind data
// files, the input to the flamegraph folder.
// Thread Safety: not safe for concurrent mutation.
type CallMap struct {
	prototype *metrics.Metrics
	entries   map[Frame]*CallEntry
	order     []Frame
	entry     Frame
	hasEntry  bool
}

// NewCallMap returns an empty map whose entries start from clones of the
// given prototype.
func NewCallMap(prototype *metrics.Metrics) *CallMap {
	return &CallMap{
		prototype: prototype.Clone(),
		entries:   make(map[Frame]*CallEntry),
	}
}

// Len returns the number of frames.
func (m *CallMap) Len() int {
	return len(m.order)
}

// IsEmpty reports whether the map holds no frames.
func (m *CallMap) IsEmpty() bool {
	return len(m.order) == 0
}

// Frames returns the frames in first-appearance order. The caller owns the
// slice.
func (m *CallMap) Frames() []Frame {
	out := make([]Frame, len(m.order))
	copy(out, m.order)
	return out
}

// Get returns the entry for a frame if present.
func (m *CallMap) Get(f Frame) (*CallEntry, bool) {
	e, ok := m.entries[f]
	return e, ok
}

// Entry returns the entry for a frame, inserting a zeroed one if missing.
func (m *CallMap) Entry(f Frame) *CallEntry {
	if e, ok := m.entries[f]; ok {
		return e
	}
	e := &CallEntry{
		Frame:     f,
		Inclusive: m.prototype.Clone(),
		Self:      m.prototype.Clone(),
	}
	m.entries[f] = e
	m.order = append(m.order, f)
	return e
}

// SetEntryPoint marks a frame as the call graph entry. The parser calls
// this for frames matching the entry point pattern; later matches replace
// earlier ones so a map holds the last match of the parse.
func (m *CallMap) SetEntryPoint(f Frame) {
	m.entry = f
	m.hasEntry = true
}

// EntryPoint returns the call graph root. When no frame matched the entry
// point pattern during parsing the root-most frame serves instead: a frame
// no other frame calls, preferring the largest inclusive first-event cost
// and breaking ties on the label. False is returned only for an empty map.
func (m *CallMap) EntryPoint() (Frame, bool) {
	if m.hasEntry {
		return m.entry, true
	}
	if len(m.order) == 0 {
		return Frame{}, false
	}

	called := make(map[Frame]bool)
	for _, f := range m.order {
		for _, e := range m.entries[f].Edges {
			called[e.Callee] = true
		}
	}

	var best Frame
	var bestCost metrics.Metric
	found := false
	pick := func(f Frame) {
		cost, _ := m.entries[f].Inclusive.ByIndex(0)
		switch {
		case !found:
		case cost.Cmp(bestCost) < 0:
			return
		case cost.Cmp(bestCost) == 0 && f.Label() >= best.Label():
			return
		}
		best, bestCost, found = f, cost, true
	}
	for _, f := range m.order {
		if !called[f] {
			pick(f)
		}
	}
	if !found {
		// Fully cyclic graph, fall back to the costliest frame.
		for _, f := range m.order {
			pick(f)
		}
	}
	return best, true
}

// Merge folds another map into this one. Entries merge positionally, which
// requires both maps to come from files with the same event order; parts of
// one benchmark run always do. The entry point is taken from the other map
// when this one has none.
func (m *CallMap) Merge(other *CallMap) {
	if m.prototype.IsEmpty() {
		m.prototype = other.prototype.Clone()
	}
	for _, f := range other.order {
		o := other.entries[f]
		e := m.Entry(f)
		e.Inclusive.Add(o.Inclusive)
		e.Self.Add(o.Self)
		for i := range o.Edges {
			e.AddEdge(o.Edges[i].Callee, o.Edges[i].Calls, o.Edges[i].Cost)
		}
	}
	if !m.hasEntry && other.hasEntry {
		m.SetEntryPoint(other.entry)
	}
}

// EnrichCacheMetrics computes the derived cache metrics for every entry
// that carries the cache simulation primitives. Maps from runs without
// --cache-sim are left untouched.
func (m *CallMap) EnrichCacheMetrics() error {
	for _, f := range m.order {
		e := m.entries[f]
		for _, costs := range []*metrics.Metrics{e.Inclusive, e.Self} {
			if !valgrind.CanSummarize(costs) {
				continue
			}
			if err := valgrind.EnrichCacheMetrics(costs); err != nil {
				return fmt.Errorf("failed deriving cache metrics for '%s': %w", f.Label(), err)
			}
		}
	}
	return nil
}

// callRecord tracks the callee context lines preceding a call cost line.
// Object and file fall back to the caller's when "cfn" arrives without
// them.
type callRecord struct {
	object    string
	file      string
	hasObject bool
	hasFile   bool
	callee    Frame
	hasCallee bool
	calls     uint64
}

// CallMapParser walks the full body of callgrind data files and builds the
// per-function call graph, unlike BodyParser which only reads the summary
// line. Requires the files to be written without string and position
// compression.
type CallMapParser struct {
	// ProjectRoot strips this prefix from source paths so frames carry
	// project-relative files.
	ProjectRoot string
	// EntryPoint is a glob matched against function names; '*' matches any
	// sequence and '?' one character. The last matching frame becomes the
	// call graph entry.
	EntryPoint string
}

// NewCallMapParser returns a parser rooting frames at projectRoot and
// marking functions matching entryPoint as the call graph entry.
func NewCallMapParser(projectRoot, entryPoint string) *CallMapParser {
	return &CallMapParser{ProjectRoot: projectRoot, EntryPoint: entryPoint}
}

// Parse parses every real file of the output path and merges the maps into
// one call graph covering all parts and threads of the run.
func (p *CallMapParser) Parse(out valgrind.OutputPath) (*CallMap, error) {
	paths, err := out.RealPaths()
	if err != nil {
		return nil, err
	}
	total := NewCallMap(metrics.New())
	for _, path := range paths {
		m, err := p.ParseFile(path)
		if err != nil {
			return nil, err
		}
		total.Merge(m)
	}
	return total, nil
}

// ParseFile parses one callgrind data file.
func (p *CallMapParser) ParseFile(path string) (*CallMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed opening output file '%s': %w", path, err)
	}
	defer f.Close()

	sc := newLineScanner(f)
	props, err := parseBodyHeader(sc, path, DialectFor(valgrind.Callgrind))
	if err != nil {
		return nil, err
	}

	m := NewCallMap(props.prototype)
	var (
		cur     Frame
		hasFn   bool
		pending *callRecord
	)
	calleeTotals := make(map[Frame]*metrics.Metrics)
	record := func() *callRecord {
		if pending == nil {
			pending = &callRecord{}
		}
		return pending
	}

	inHeader := true
	for {
		raw, ok := sc.Next()
		if !ok {
			break
		}
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, hasEq := strings.Cut(line, "=")
		if inHeader {
			// Header leftovers after the events line carry no '='.
			if !hasEq {
				continue
			}
			inHeader = false
		}

		if hasEq {
			switch key {
			case "ob":
				cur.Object = p.sourcePath(value)
			case "fl", "fi", "fe":
				cur.File = p.sourcePath(value)
			case "fn":
				cur.Function = value
				hasFn = true
				if p.matchesEntry(value) {
					m.SetEntryPoint(cur)
				}
			case "cob":
				rec := record()
				rec.object = p.sourcePath(value)
				rec.hasObject = true
			case "cfi", "cfl":
				rec := record()
				rec.file = p.sourcePath(value)
				rec.hasFile = true
			case "cfn":
				rec := record()
				callee := Frame{Object: cur.Object, File: cur.File, Function: value}
				if rec.hasObject {
					callee.Object = rec.object
					rec.hasObject = false
				}
				if rec.hasFile {
					callee.File = rec.file
					rec.hasFile = false
				}
				rec.callee = callee
				rec.hasCallee = true
			case "calls":
				if pending == nil {
					return nil, &ParseError{Path: path, Line: sc.line, Text: raw,
						Reason: "'calls' line without a callee context"}
				}
				fields := strings.Fields(value)
				if len(fields) == 0 {
					return nil, &ParseError{Path: path, Line: sc.line, Text: raw,
						Reason: "invalid calls line"}
				}
				calls, err := strconv.ParseUint(fields[0], 10, 64)
				if err != nil {
					return nil, &ParseError{Path: path, Line: sc.line, Text: raw,
						Reason: "invalid call count"}
				}
				pending.calls = calls
			case "jump", "jcnd", "jfi", "jfn":
				// Jumps do not contribute to the call graph.
			default:
				return nil, &ParseError{Path: path, Line: sc.line, Text: raw,
					Reason: "malformed line"}
			}
			continue
		}

		switch {
		case line[0] >= '0' && line[0] <= '9':
			if !hasFn {
				return nil, &ParseError{Path: path, Line: sc.line, Text: raw,
					Reason: "cost line without a function context"}
			}
			fields := strings.Fields(line)
			if len(fields) > props.positions {
				fields = fields[props.positions:]
			} else {
				fields = nil
			}
			costs := props.prototype.Clone()
			if err := costs.AddStrings(fields); err != nil {
				return nil, &ParseError{Path: path, Line: sc.line, Text: raw, Reason: err.Error()}
			}

			entry := m.Entry(cur)
			entry.Inclusive.Add(costs)
			if pending == nil {
				entry.Self.Add(costs)
				break
			}
			if !pending.hasCallee {
				return nil, &ParseError{Path: path, Line: sc.line, Text: raw,
					Reason: "call cost line without a 'cfn' line"}
			}
			m.Entry(pending.callee)
			entry.AddEdge(pending.callee, pending.calls, costs)
			if acc, ok := calleeTotals[pending.callee]; ok {
				acc.Add(costs)
			} else {
				calleeTotals[pending.callee] = costs.Clone()
			}
			pending = nil
		case strings.HasPrefix(line, "totals:"), strings.HasPrefix(line, "summary:"):
			// The aggregate lines repeat what the cost lines already said.
		default:
			return nil, &ParseError{Path: path, Line: sc.line, Text: raw,
				Reason: "malformed line"}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed reading output file '%s': %w", path, err)
	}

	// A function called from anywhere gets its inclusive cost from the call
	// sites: the callers see the full cost of the call where the callee's
	// own cost lines only cover its exclusive part.
	for frame, total := range calleeTotals {
		m.entries[frame].Inclusive = total
	}
	return m, nil
}

// sourcePath normalizes a reported source or object path: unknown markers
// become empty, paths under the project root become relative.
func (p *CallMapParser) sourcePath(s string) string {
	if s == "???" {
		return ""
	}
	if p.ProjectRoot != "" {
		if rest, ok := strings.CutPrefix(s, p.ProjectRoot); ok && rest != "" {
			return strings.TrimPrefix(rest, "/")
		}
	}
	return s
}

// matchesEntry matches a function name against the entry point pattern.
func (p *CallMapParser) matchesEntry(name string) bool {
	if p.EntryPoint == "" {
		return false
	}
	return matchGlob(p.EntryPoint, name)
}

// matchGlob performs simple glob matching on function names: '*' matches
// any sequence, '?' a single character. Function names are not paths, so
// '*' crosses every separator.
func matchGlob(pattern, name string) bool {
	if pattern == name || pattern == "*" {
		return true
	}
	if len(pattern) > 0 && pattern[0] == '*' {
		rest := pattern[1:]
		for i := 0; i <= len(name); i++ {
			if matchGlob(rest, name[i:]) {
				return true
			}
		}
		return false
	}
	if len(pattern) == 0 || len(name) == 0 {
		return len(pattern) == 0 && len(name) == 0
	}
	if pattern[0] == '?' || pattern[0] == name[0] {
		return matchGlob(pattern[1:], name[1:])
	}
	return false
}
