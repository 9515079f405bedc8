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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/benchgrind/pkg/regression"
	"github.com/AleutianAI/benchgrind/pkg/summary"
	"github.com/AleutianAI/benchgrind/pkg/ux"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	showTolerance float64 // Hide diffs below this percentage
	showRaw       bool    // Dump the document JSON instead of rendering
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// showCmd renders a saved summary document the way the live run did.
//
// # Description
//
// Loads a summary JSON file and prints the benchmark headline, each
// tool's metric comparison, the fired limits and the file paths the run
// recorded. --raw dumps the pretty-printed document instead, for
// piping into jq.
//
// # Examples
//
//	benchgrind show target/benchgrind/fibonacci/summary.json
//	benchgrind show summary.json --raw | jq '.profiles[].tool'
var showCmd = &cobra.Command{
	Use:   "show <summary.json>",
	Short: "Pretty-print a saved summary document",
	Long: `Renders a summary JSON file written by 'benchgrind run': the benchmark
headline, per-tool metric comparisons, fired regression limits and the
recorded output files.`,
	Args: cobra.ExactArgs(1),
	RunE: runShowCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	f := showCmd.Flags()
	f.Float64Var(&showTolerance, "tolerance", 0,
		"Hide diffs smaller than this percentage from the report")
	f.BoolVar(&showRaw, "raw", false,
		"Print the document JSON instead of the rendered report")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runShowCommand loads and renders one document.
func runShowCommand(cmd *cobra.Command, args []string) error {
	doc, err := summary.Load(args[0])
	if err != nil {
		return fmt.Errorf("load summary '%s': %w", args[0], err)
	}

	w := cmd.OutOrStdout()
	if showRaw {
		data, err := doc.Encode(true)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", data)
		return nil
	}

	fmt.Fprintln(w, ux.Headline(benchmarkLabel(doc), doc.ID, doc.Details))
	fmt.Fprint(w, ux.Baselines(doc.Baselines.New, doc.Baselines.Old))

	for _, prof := range doc.Profiles {
		fmt.Fprintln(w, ux.ToolHeadline(prof.Tool))
		if total := prof.Data.Total.Summary; total != nil {
			fmt.Fprint(w, ux.Comparison(prof.Tool, total.Compare(), showTolerance))
		}
		if incidents := documentIncidents(prof.Data.Total.Regressions); len(incidents) > 0 {
			fmt.Fprint(w, ux.Regressions(incidents))
		}
		for _, path := range prof.LogPaths {
			fmt.Fprintf(w, "  log: %s\n", path)
		}
		for _, path := range prof.OutPaths {
			fmt.Fprintf(w, "  out: %s\n", path)
		}
		for _, fg := range prof.Flamegraphs {
			for _, path := range []string{fg.Path, fg.BasePath, fg.DiffPath} {
				if path != "" {
					fmt.Fprintf(w, "  flamegraph: %s\n", path)
				}
			}
		}
	}
	return nil
}

// documentIncidents rebuilds the fired rules a document recorded so the
// report renderer can lay them out exactly like the live run.
func documentIncidents(regs []summary.Regression) []regression.Incident {
	incidents := make([]regression.Incident, 0, len(regs))
	for _, r := range regs {
		switch {
		case r.Soft != nil:
			incidents = append(incidents, regression.Incident{
				Rule:  regression.SoftIncident,
				Kind:  r.Soft.Metric,
				New:   r.Soft.New,
				Old:   r.Soft.Old,
				Pct:   float64(r.Soft.Pct),
				Limit: float64(r.Soft.Limit),
			})
		case r.Hard != nil:
			incidents = append(incidents, regression.Incident{
				Rule:      regression.HardIncident,
				Kind:      r.Hard.Metric,
				New:       r.Hard.New,
				Diff:      r.Hard.Diff,
				HardLimit: r.Hard.Limit,
			})
		}
	}
	return incidents
}
