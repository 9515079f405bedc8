// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file renders metric comparisons as the two-column diff table:
//
//	Instructions:                1888|1734            (+8.88120%) [+1.08881x]
//	L1 Hits:                     2513|2359            (+6.52820%) [+1.06528x]
//
// The layout is fixed-width so consecutive benchmarks line up; styling is
// applied after padding so the columns stay aligned with colors enabled.

package ux

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/regression"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// Tokens filling the difference column when there is nothing to compute.
const (
	notAvailable = "N/A"
	unknownDiff  = "*********"
	noChange     = "No change"
	withinMargin = "Tolerance"
)

// verticalKinds selects and orders the rows for the cache simulating
// tools: the instruction counter and the derived cache model outputs
// first, then the optional collect counters. The raw cache primitives
// stay out of the table; the summary document still carries them.
var verticalKinds = []metrics.Kind{
	metrics.Ir,
	metrics.L1hits,
	metrics.LLhits,
	metrics.RamHits,
	metrics.TotalRW,
	metrics.EstimatedCycles,
	metrics.SysCount,
	metrics.SysTime,
	metrics.SysCpuTime,
	metrics.Ge,
	metrics.Bc,
	metrics.Bcm,
	metrics.Bi,
	metrics.Bim,
	metrics.ILdmr,
	metrics.DLdmr,
	metrics.DLdmw,
	metrics.AcCost1,
	metrics.AcCost2,
	metrics.SpLoss1,
	metrics.SpLoss2,
}

// Headline renders the benchmark headline: the function path, then the
// optional id and description.
func Headline(path, id, details string) string {
	var b strings.Builder
	b.WriteString(paint(Styles.Title, path))
	switch {
	case id != "" && details != "":
		b.WriteString(" " + paint(Styles.Subtitle, id+":") + paint(Styles.Highlight, details))
	case id != "":
		b.WriteString(" " + paint(Styles.Subtitle, id))
	case details != "":
		b.WriteString(" " + paint(Styles.Highlight, details))
	}
	return b.String()
}

// ToolHeadline renders the separator line announcing a tool's section.
func ToolHeadline(tool valgrind.Tool) string {
	id := tool.ID()
	return fmt.Sprintf("  %s %s %s",
		paint(Styles.Muted, "======="),
		strings.ToUpper(id),
		paint(Styles.Muted, strings.Repeat("=", 64-len(id))))
}

// Baselines renders the row naming the compared baselines. A nil name is
// the unnamed previous-run side; with both sides unnamed the row is empty.
func Baselines(newName, oldName *string) string {
	switch {
	case newName == nil && oldName == nil:
		return ""
	case newName == nil:
		return fmt.Sprintf("  %-33s|%s\n", "Baselines:", *oldName)
	case oldName == nil:
		return fmt.Sprintf("  %-18s%s\n", "Baselines:",
			paint(Styles.Bold, fmt.Sprintf("%15s", *newName)))
	default:
		return fmt.Sprintf("  %-18s%s|%s\n", "Baselines:",
			paint(Styles.Bold, fmt.Sprintf("%15s", *newName)), *oldName)
	}
}

// Comparison renders one metrics comparison as the vertical diff table,
// one row per displayed kind.
//
// The tolerance decides only how a two-sided row is annotated: exactly
// equal values read "No change", a non-zero change within the margin
// reads "Tolerance", anything else shows the computed percentage and
// factor. The regression evaluator never sees the tolerance.
func Comparison(tool valgrind.Tool, s *compare.Summary, tolerance float64) string {
	var b strings.Builder
	for _, k := range displayKinds(tool, s) {
		d, ok := s.Get(k)
		if !ok {
			continue
		}
		writeRow(&b, k, d, tolerance)
	}
	return b.String()
}

// displayKinds returns the kinds to render for a tool: the curated list
// for the cache simulating tools, every compared kind in report order
// for the rest.
func displayKinds(tool valgrind.Tool, s *compare.Summary) []metrics.Kind {
	if tool != valgrind.Callgrind && tool != valgrind.Cachegrind {
		return s.Kinds()
	}
	var out []metrics.Kind
	for _, k := range verticalKinds {
		if _, ok := s.Get(k); ok {
			out = append(out, k)
		}
	}
	return out
}

func writeRow(b *strings.Builder, k metrics.Kind, d compare.Diff, tolerance float64) {
	desc := k.DisplayName() + ":"
	newValue, hasNew := d.Metrics.Left()
	oldValue, hasOld := d.Metrics.Right()

	switch {
	case !hasNew:
		fmt.Fprintf(b, "  %-18s%s|%-15s (%s)\n", desc,
			paint(Styles.Bold, fmt.Sprintf("%15s", notAvailable)),
			oldValue.String(),
			paint(Styles.Muted, center(unknownDiff, 9)))
	case !hasOld:
		fmt.Fprintf(b, "  %-18s%s|%-15s (%s)\n", desc,
			paint(Styles.Bold, fmt.Sprintf("%15s", newValue.String())),
			notAvailable,
			paint(Styles.Muted, center(unknownDiff, 9)))
	case newValue.Equal(oldValue):
		fmt.Fprintf(b, "  %-18s%s|%-15s (%s)\n", desc,
			paint(Styles.Bold, fmt.Sprintf("%15s", newValue.String())),
			oldValue.String(),
			paint(Styles.Muted, center(noChange, 9)))
	case d.Diffs.WithinTolerance(tolerance):
		fmt.Fprintf(b, "  %-18s%s|%-15s (%s)\n", desc,
			paint(Styles.Bold, fmt.Sprintf("%15s", newValue.String())),
			oldValue.String(),
			paint(Styles.Muted, center(withinMargin, 9)))
	default:
		fmt.Fprintf(b, "  %-18s%s|%-15s (%s) [%s]\n", desc,
			paint(Styles.Bold, fmt.Sprintf("%15s", newValue.String())),
			oldValue.String(),
			diffCell(d.Diffs.Pct, "%"),
			diffCell(d.Diffs.Factor, "x"))
	}
}

// diffCell renders a percentage or factor nine columns wide, red for a
// regression and teal for an improvement. The infinities pad with their
// sign character so they stand out in a column of numbers.
func diffCell(v float64, unit string) string {
	switch {
	case math.IsInf(v, 1):
		return paint(Styles.Error, centerWith('+', "+inf", 9))
	case math.IsInf(v, -1):
		return paint(Styles.Success, centerWith('-', "-inf", 9))
	case math.Signbit(v):
		return paint(Styles.Success, center(metrics.FormatSignedFloat(v), 8)+unit)
	default:
		return paint(Styles.Error, center(metrics.FormatSignedFloat(v), 8)+unit)
	}
}

// Regressions renders fired limits one line each, in evaluation order.
func Regressions(incidents []regression.Incident) string {
	var b strings.Builder
	for _, in := range incidents {
		b.WriteString(regressionLine(in) + "\n")
	}
	return b.String()
}

func regressionLine(in regression.Incident) string {
	verb := paint(Styles.Error.Bold(true), "regressed")
	if in.Rule == regression.SoftIncident {
		// Negative limits watch improvements, so the bound reads "<".
		bound := ">"
		if math.Signbit(in.Limit) {
			bound = "<"
		}
		return fmt.Sprintf("Performance has %s: %s (%s -> %s) regressed by %s (%s%s)",
			verb, in.Kind.DisplayName(),
			in.Old.String(),
			paint(Styles.Bold, in.New.String()),
			paint(Styles.Error, metrics.FormatSignedFloat(in.Pct)+"%"),
			bound,
			paint(Styles.Muted, metrics.FormatSignedFloat(in.Limit)+"%"))
	}
	return fmt.Sprintf("Performance has %s: %s (%s) exceeds limit by %s (>%s)",
		verb, in.Kind.DisplayName(),
		paint(Styles.Bold, in.New.String()),
		paint(Styles.Error, in.Diff.String()),
		paint(Styles.Muted, in.HardLimit.String()))
}

// paint applies a style unless the machine personality is active, which
// keeps the output free of escape sequences for scripted consumers.
func paint(style lipgloss.Style, s string) string {
	if GetPersonality().Level == PersonalityMachine {
		return s
	}
	return style.Render(s)
}

// center pads s with spaces to width, the extra column going right.
func center(s string, width int) string {
	return centerWith(' ', s, width)
}

func centerWith(fill byte, s string, width int) string {
	gap := width - len(s)
	if gap <= 0 {
		return s
	}
	left := gap / 2
	return strings.Repeat(string(fill), left) + s + strings.Repeat(string(fill), gap-left)
}
