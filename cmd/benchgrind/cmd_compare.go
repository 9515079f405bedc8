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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/config"
	"github.com/AleutianAI/benchgrind/pkg/either"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/regression"
	"github.com/AleutianAI/benchgrind/pkg/runner"
	"github.com/AleutianAI/benchgrind/pkg/summary"
	"github.com/AleutianAI/benchgrind/pkg/ux"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	compareCallgrindLimits  string  // Callgrind limits to evaluate on the diff
	compareCachegrindLimits string  // Cachegrind limits to evaluate on the diff
	compareDhatLimits       string  // DHAT limits to evaluate on the diff
	compareTolerance        float64 // Hide diffs below this percentage
	compareFailFast         bool    // Stop at the first fired limit
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// compareCmd diffs two saved summary documents offline.
//
// # Description
//
// Loads two summary JSON files, pairs their tool sections, and renders
// the comparison of the run totals the same way a live run does. Limit
// flags evaluate regression rules against the diff, so two historic
// runs can gate a pipeline without re-executing valgrind.
//
// # Examples
//
//	benchgrind compare new/summary.json old/summary.json
//	benchgrind compare new.json old.json --callgrind-limits 'ir=5%'
//
// # Limitations
//
//   - Compares run totals only; per-process parts stay in the documents.
var compareCmd = &cobra.Command{
	Use:   "compare <new-summary.json> <old-summary.json>",
	Short: "Compare two saved summary documents",
	Long: `Compares the run totals of two summary JSON files written by
'benchgrind run' and renders the metric diffs per tool.

The left file is the new side, the right file the old side. Limit flags
evaluate regression rules against the computed diffs and exit 3 when one
fires.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompareCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	f := compareCmd.Flags()
	f.StringVar(&compareCallgrindLimits, "callgrind-limits", "",
		"Callgrind regression limits to evaluate, e.g. 'ir=5%'")
	f.StringVar(&compareCachegrindLimits, "cachegrind-limits", "",
		"Cachegrind regression limits to evaluate")
	f.StringVar(&compareDhatLimits, "dhat-limits", "",
		"DHAT regression limits to evaluate")
	f.Float64Var(&compareTolerance, "tolerance", 0,
		"Hide diffs smaller than this percentage from the report")
	f.BoolVar(&compareFailFast, "fail-fast", false,
		"Stop evaluating limits after the first fired rule")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runCompareCommand loads both documents, renders the per-tool diff and
// evaluates the limit flags.
//
// # Outputs
//
// Returns errRegressions when a limit fired, an ErrInvalidConfig wrap on
// malformed limit expressions or rules naming absent metrics.
func runCompareCommand(cmd *cobra.Command, args []string) error {
	newDoc, err := summary.Load(args[0])
	if err != nil {
		return fmt.Errorf("load summary '%s': %w", args[0], err)
	}
	oldDoc, err := summary.Load(args[1])
	if err != nil {
		return fmt.Errorf("load summary '%s': %w", args[1], err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, ux.Headline(benchmarkLabel(newDoc), newDoc.ID, newDoc.Details))
	fmt.Fprint(w, ux.Baselines(&args[0], &args[1]))

	regressed := false
	for _, prof := range newDoc.Profiles {
		newTotal, ok := documentTotal(prof)
		if !ok {
			continue
		}

		sides := either.Left(newTotal)
		if oldProf, found := oldDoc.Profile(prof.Tool); found {
			if oldTotal, ok := documentTotal(*oldProf); ok {
				sides = either.Both(newTotal, oldTotal)
			}
		}
		cmpSummary := compare.NewSummary(sides)

		fmt.Fprintln(w, ux.ToolHeadline(prof.Tool))
		fmt.Fprint(w, ux.Comparison(prof.Tool, cmpSummary, compareTolerance))

		incidents, err := evaluateLimits(prof.Tool, cmpSummary)
		if err != nil {
			return err
		}
		if len(incidents) > 0 {
			regressed = true
			fmt.Fprint(w, ux.Regressions(incidents))
		}
	}

	if regressed {
		return errRegressions
	}
	return nil
}

// documentTotal rebuilds the new-side total metrics a document recorded
// for one tool. The bool is false when the tool produced no summary,
// massif and bbv sections for example.
func documentTotal(prof summary.Profile) (*metrics.Metrics, bool) {
	if prof.Data.Total.Summary == nil {
		return nil, false
	}
	sides, ok := prof.Data.Total.Summary.Compare().ExtractMetrics()
	if !ok {
		return nil, false
	}
	return sides.Left()
}

// evaluateLimits checks the limit flag for one tool against a computed
// comparison. An empty flag means no rules and no incidents.
func evaluateLimits(tool valgrind.Tool, s *compare.Summary) ([]regression.Incident, error) {
	limits := limitsFlagFor(tool)
	if limits == "" {
		return nil, nil
	}

	tc := config.Tool{Name: tool.ID(), Limits: limits}
	regCfg, err := tc.Regression()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
	}
	regCfg.FailFast = compareFailFast

	incidents, err := regCfg.Check(s)
	if err != nil {
		var unknown *regression.UnknownMetricError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
		}
		return nil, err
	}
	return incidents, nil
}

// limitsFlagFor returns the limit expression flag matching a tool.
func limitsFlagFor(tool valgrind.Tool) string {
	switch tool {
	case valgrind.Callgrind:
		return compareCallgrindLimits
	case valgrind.Cachegrind:
		return compareCachegrindLimits
	case valgrind.DHAT:
		return compareDhatLimits
	default:
		return ""
	}
}
