// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package summary

import (
	"cmp"
	"slices"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/either"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/profile"
	"github.com/AleutianAI/benchgrind/pkg/regression"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// Profile is one tool's section of the document: the files the tool
// wrote and the compared metrics of its run.
type Profile struct {
	Tool        valgrind.Tool `json:"tool"`
	LogPaths    []string      `json:"log_paths"`
	OutPaths    []string      `json:"out_paths,omitempty"`
	Flamegraphs []Flamegraph  `json:"flamegraphs,omitempty"`
	Data        ProfileData   `json:"summaries"`
}

// IsRegressed reports whether this tool's total recorded fired limits.
func (p Profile) IsRegressed() bool {
	return p.Data.IsRegressed()
}

// Flamegraph records the files written for one metric kind's flamegraph.
// At least one of the paths is set.
type Flamegraph struct {
	Kind     metrics.Kind `json:"kind"`
	Path     string       `json:"path,omitempty"`
	BasePath string       `json:"base_path,omitempty"`
	DiffPath string       `json:"diff_path,omitempty"`
}

// ProfileInfo is the process identity of one segment as recorded in the
// document. Details joins the free-text lines of the segment's log.
type ProfileInfo struct {
	Command   string  `json:"command"`
	Pid       int32   `json:"pid"`
	ParentPid *int32  `json:"parent_pid,omitempty"`
	Part      *uint64 `json:"part,omitempty"`
	Thread    *int    `json:"thread,omitempty"`
	Path      string  `json:"path"`
	Details   string  `json:"details,omitempty"`
}

func newProfileInfo(s profile.Segment) ProfileInfo {
	return ProfileInfo{
		Command:   s.Command,
		Pid:       s.Pid,
		ParentPid: clonePtr(s.ParentPid),
		Part:      clonePtr(s.Part),
		Thread:    clonePtr(s.Thread),
		Path:      s.Path,
		Details:   strings.Join(s.Details, "\n"),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ProfilePart is one paired segment: the per-side process identity and
// the metrics comparison. The sides of Details always match the sides
// of the comparison.
type ProfilePart struct {
	Details either.OrBoth[ProfileInfo] `json:"details"`
	Summary *MetricsSummary            `json:"metrics_summary"`
}

func newProfilePart(pair either.OrBoth[profile.Segment]) ProfilePart {
	sides := either.Map(pair, func(s profile.Segment) *metrics.Metrics { return s.Metrics })
	return ProfilePart{
		Details: either.Map(pair, newProfileInfo),
		Summary: NewMetricsSummary(compare.NewSummary(sides)),
	}
}

// HasNewErrors reports whether the new side of an error checking tool's
// part recorded at least one error.
func (p ProfilePart) HasNewErrors() bool {
	if p.Summary == nil {
		return false
	}
	cell, ok := p.Summary.Diff(metrics.Errors)
	if !ok {
		return false
	}
	v, ok := cell.Metrics.Left()
	return ok && v.Cmp(metrics.Int(0)) > 0
}

// ProfileTotal is the comparison of the run totals plus the regression
// limits that fired against it.
type ProfileTotal struct {
	Summary     *MetricsSummary `json:"summary"`
	Regressions []Regression    `json:"regressions"`
}

// ProfileData holds one tool's paired segments and the total over them.
//
// The per-part comparisons can mislead when the two runs differ in
// structure, a forked child pairing against the wrong sibling for
// example. The total compares the whole runs and is therefore always
// meaningful; regression limits evaluate against it.
type ProfileData struct {
	Parts []ProfilePart `json:"parts"`
	Total ProfileTotal  `json:"total"`
}

// NewProfileData pairs the segments of a new run against an old run and
// compares each pair.
//
// Segments with an identical identity tuple (pid, thread, part) pair
// first. The remainder is grouped by command, clustered pid then part
// then thread on each side, and the clusters zip positionally at every
// level. A re-run with renumbered pids therefore still pairs parent
// with parent and thread with thread, while a segment with no plausible
// counterpart becomes a one-sided part. The parts list follows the new
// run's identity order with old-only parts appended.
//
// The total compares the runs' totals directly: its derived metrics
// come from the summed primitives, never from summing per-part results.
func NewProfileData(newRun profile.Run, oldRun *profile.Run) ProfileData {
	var oldSegs []profile.Segment
	if oldRun != nil {
		oldSegs = oldRun.Segments
	}

	pairs := pairSegments(newRun.Segments, oldSegs)
	parts := make([]ProfilePart, 0, len(pairs))
	for _, pair := range pairs {
		parts = append(parts, newProfilePart(pair))
	}

	totals := either.Left(newRun.Total)
	if oldRun != nil {
		totals = either.Both(newRun.Total, oldRun.Total)
	}
	return ProfileData{
		Parts: parts,
		Total: ProfileTotal{
			Summary:     NewMetricsSummary(compare.NewSummary(totals)),
			Regressions: []Regression{},
		},
	}
}

// IsEmpty reports whether the data holds no parts.
func (d ProfileData) IsEmpty() bool {
	return len(d.Parts) == 0
}

// IsMulti reports whether there are multiple parts.
func (d ProfileData) IsMulti() bool {
	return len(d.Parts) > 1
}

// IsRegressed reports whether any limit fired against the total.
func (d ProfileData) IsRegressed() bool {
	return len(d.Total.Regressions) > 0
}

// RecordRegressions appends fired limits to the total in evaluation
// order.
func (d *ProfileData) RecordRegressions(incidents []regression.Incident) {
	d.Total.Regressions = append(d.Total.Regressions, NewRegressions(incidents)...)
}

// pairSegments matches the new run's segments against the old run's,
// returning one entry per part in document order.
func pairSegments(newSegs, oldSegs []profile.Segment) []either.OrBoth[profile.Segment] {
	newOrder := sortedByPairing(newSegs)
	oldOrder := sortedByPairing(oldSegs)

	matchedOld := make([]int, len(newOrder))
	for i := range matchedOld {
		matchedOld[i] = -1
	}
	oldTaken := make([]bool, len(oldOrder))

	// Exact pass. Identity tuples are unique within a run, the queue per
	// key is robustness against malformed input, not a real case.
	byIdent := make(map[identKey][]int, len(oldOrder))
	for j, s := range oldOrder {
		k := identOf(s)
		byIdent[k] = append(byIdent[k], j)
	}
	var newRest []int
	for i, s := range newOrder {
		k := identOf(s)
		if q := byIdent[k]; len(q) > 0 {
			matchedOld[i] = q[0]
			oldTaken[q[0]] = true
			byIdent[k] = q[1:]
			continue
		}
		newRest = append(newRest, i)
	}
	var oldRest []int
	for j := range oldOrder {
		if !oldTaken[j] {
			oldRest = append(oldRest, j)
		}
	}

	// Positional pass, restricted to segments sharing a command.
	oldByCmd := make(map[string][]int)
	for _, j := range oldRest {
		cmd := oldOrder[j].Command
		oldByCmd[cmd] = append(oldByCmd[cmd], j)
	}
	for _, g := range groupByCommand(newOrder, newRest) {
		zipClusters(
			cluster(newOrder, g.idx),
			cluster(oldOrder, oldByCmd[g.cmd]),
			func(newIdx, oldIdx int) {
				matchedOld[newIdx] = oldIdx
				oldTaken[oldIdx] = true
			},
		)
	}

	parts := make([]either.OrBoth[profile.Segment], 0, len(newOrder)+len(oldOrder))
	for i, s := range newOrder {
		if j := matchedOld[i]; j >= 0 {
			parts = append(parts, either.Both(s, oldOrder[j]))
		} else {
			parts = append(parts, either.Left(s))
		}
	}
	for j, s := range oldOrder {
		if !oldTaken[j] {
			parts = append(parts, either.Right(s))
		}
	}
	return parts
}

// sortedByPairing orders segments by pid, then part, then thread, all
// ascending with absent values first. Positional pairing relies on both
// sides arriving in the same canonical order.
func sortedByPairing(segs []profile.Segment) []profile.Segment {
	out := slices.Clone(segs)
	slices.SortStableFunc(out, func(a, b profile.Segment) int {
		if c := cmp.Compare(a.Pid, b.Pid); c != 0 {
			return c
		}
		if c := comparePtr(a.Part, b.Part); c != 0 {
			return c
		}
		return comparePtr(a.Thread, b.Thread)
	})
	return out
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

// identKey is the comparable form of a segment's identity tuple.
type identKey struct {
	pid       int32
	thread    int
	hasThread bool
	part      uint64
	hasPart   bool
}

func identOf(s profile.Segment) identKey {
	k := identKey{pid: s.Pid}
	if s.Thread != nil {
		k.thread, k.hasThread = *s.Thread, true
	}
	if s.Part != nil {
		k.part, k.hasPart = *s.Part, true
	}
	return k
}

type cmdGroup struct {
	cmd string
	idx []int
}

// groupByCommand splits the indexed segments into per-command groups in
// first-appearance order.
func groupByCommand(segs []profile.Segment, idx []int) []cmdGroup {
	byCmd := make(map[string]int)
	var out []cmdGroup
	for _, i := range idx {
		c := segs[i].Command
		gi, ok := byCmd[c]
		if !ok {
			gi = len(out)
			byCmd[c] = gi
			out = append(out, cmdGroup{cmd: c})
		}
		out[gi].idx = append(out[gi].idx, i)
	}
	return out
}

// cluster splits identity-ordered segments into the nesting the
// positional pass zips: pid groups holding part groups holding the
// threads of one part. An absent part number counts as part zero.
func cluster(segs []profile.Segment, idx []int) [][][]int {
	var out [][][]int
	var curPid int32
	var curPart uint64
	for _, i := range idx {
		s := segs[i]
		var part uint64
		if s.Part != nil {
			part = *s.Part
		}
		switch {
		case len(out) == 0 || s.Pid != curPid:
			out = append(out, [][]int{{i}})
			curPid, curPart = s.Pid, part
		case part != curPart:
			pid := &out[len(out)-1]
			*pid = append(*pid, []int{i})
			curPart = part
		default:
			parts := out[len(out)-1]
			parts[len(parts)-1] = append(parts[len(parts)-1], i)
		}
	}
	return out
}

// zipClusters pairs two cluster trees positionally level by level and
// reports each matched leaf. Leaves under a branch present on one side
// only stay unmatched, which leaves them one-sided.
func zipClusters(newPids, oldPids [][][]int, match func(newIdx, oldIdx int)) {
	for gi := 0; gi < len(newPids) && gi < len(oldPids); gi++ {
		newParts, oldParts := newPids[gi], oldPids[gi]
		for pi := 0; pi < len(newParts) && pi < len(oldParts); pi++ {
			newThreads, oldThreads := newParts[pi], oldParts[pi]
			for ti := 0; ti < len(newThreads) && ti < len(oldThreads); ti++ {
				match(newThreads[ti], oldThreads[ti])
			}
		}
	}
}

// Regression is one fired limit in its document form, exactly one of
// Soft and Hard set.
type Regression struct {
	Soft *SoftRegression `json:"soft,omitempty"`
	Hard *HardRegression `json:"hard,omitempty"`
}

// SoftRegression is a fired percentage limit with its evidence.
type SoftRegression struct {
	Metric metrics.Kind   `json:"metric"`
	New    metrics.Metric `json:"new"`
	Old    metrics.Metric `json:"old"`
	Pct    Float64        `json:"diff_pct"`
	Limit  Float64        `json:"limit"`
}

// HardRegression is a fired absolute limit: the new value, the limit,
// and the saturating amount by which it was exceeded.
type HardRegression struct {
	Metric metrics.Kind   `json:"metric"`
	New    metrics.Metric `json:"new"`
	Diff   metrics.Metric `json:"diff"`
	Limit  metrics.Metric `json:"limit"`
}

// NewRegressions converts fired limits into their document form,
// preserving evaluation order.
func NewRegressions(incidents []regression.Incident) []Regression {
	out := make([]Regression, 0, len(incidents))
	for _, in := range incidents {
		out = append(out, newRegression(in))
	}
	return out
}

func newRegression(in regression.Incident) Regression {
	if in.Rule == regression.SoftIncident {
		return Regression{Soft: &SoftRegression{
			Metric: in.Kind,
			New:    in.New,
			Old:    in.Old,
			Pct:    Float64(in.Pct),
			Limit:  Float64(in.Limit),
		}}
	}
	return Regression{Hard: &HardRegression{
		Metric: in.Kind,
		New:    in.New,
		Diff:   in.Diff,
		Limit:  in.HardLimit,
	}}
}
