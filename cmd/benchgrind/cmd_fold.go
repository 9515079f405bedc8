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
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/benchgrind/pkg/flamegraph"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/profile"
	"github.com/AleutianAI/benchgrind/pkg/runner"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	foldMetric      string // Metric kind to fold, callgrind namespace
	foldDiff        string // Old callgrind file for a differential fold
	foldOutput      string // Folded output path; default derives from input
	foldEntryPoint  string // Glob selecting the call graph entry function
	foldProjectRoot string // Prefix stripped from source paths
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// foldCmd turns a callgrind output file into folded flamegraph stacks.
//
// # Description
//
// Parses a callgrind data file into a call graph and folds it into the
// collapsed stack format that flamegraph renderers (inferno, Brendan
// Gregg's flamegraph.pl) consume. With --diff a second, older file is
// folded too and a differential stack file records the per-stack change.
//
// # Examples
//
//	benchgrind fold callgrind.bench.out
//	benchgrind fold callgrind.bench.out --metric estimatedcycles
//	benchgrind fold new.out --diff old.out
//	benchgrind fold callgrind.out -o stacks.folded --entry-point 'main'
//
// # Limitations
//
//   - The input must be written without string or position compression
//     ('run' always configures callgrind that way).
//   - Rate metrics cannot be folded; stack counts must be additive.
var foldCmd = &cobra.Command{
	Use:   "fold <callgrind-out-file>",
	Short: "Fold a callgrind output file into flamegraph stacks",
	Long: `Folds a callgrind data file into the collapsed stack format consumed by
flamegraph renderers: one line per stack, frames joined by ';', followed
by the metric count.

With --diff the old file is folded as well and a '.diff.folded' file
records the per-stack delta, negative counts preserved for differential
flamegraphs.`,
	Args: cobra.ExactArgs(1),
	RunE: runFoldCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	f := foldCmd.Flags()
	f.StringVar(&foldMetric, "metric", "ir",
		"Metric kind to fold (callgrind namespace, e.g. ir, estimatedcycles)")
	f.StringVar(&foldDiff, "diff", "",
		"Old callgrind output file for a differential fold")
	f.StringVarP(&foldOutput, "output", "o", "",
		"Folded output path (default: <input>.folded)")
	f.StringVar(&foldEntryPoint, "entry-point", "",
		"Glob selecting the call graph entry function (default: the program entry)")
	f.StringVar(&foldProjectRoot, "project-root", "",
		"Prefix stripped from source paths in frame labels (default: working directory)")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runFoldCommand parses, folds and writes the stack files, printing one
// written path per line.
//
// # Outputs
//
// Returns an ErrInvalidConfig wrap when --metric does not name a
// foldable callgrind metric.
func runFoldCommand(cmd *cobra.Command, args []string) error {
	kind, err := metrics.NamespaceCallgrind.ParseKind(foldMetric)
	if err != nil {
		return fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
	}

	root := foldProjectRoot
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	parser := profile.NewCallMapParser(root, foldEntryPoint)

	newSet, err := foldFile(parser, args[0], kind)
	if err != nil {
		return err
	}

	outPath := foldOutput
	if outPath == "" {
		outPath = args[0] + ".folded"
	}
	if err := writeStacks(newSet, outPath); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, outPath)

	if foldDiff == "" {
		return nil
	}

	oldSet, err := foldFile(parser, foldDiff, kind)
	if err != nil {
		return err
	}
	diffPath := strings.TrimSuffix(outPath, ".folded") + ".diff.folded"
	if err := writeStacks(flamegraph.Diff(newSet, oldSet), diffPath); err != nil {
		return err
	}
	fmt.Fprintln(w, diffPath)
	return nil
}

// foldFile parses one callgrind file and folds it for the kind. Derived
// kinds need the cache metrics computed over the raw simulator counters
// first.
func foldFile(parser *profile.CallMapParser, path string, kind metrics.Kind) (*flamegraph.StackSet, error) {
	callMap, err := parser.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse '%s': %w", path, err)
	}
	if kind.IsDerived() {
		if err := callMap.EnrichCacheMetrics(); err != nil {
			return nil, fmt.Errorf("derive cache metrics of '%s': %w", path, err)
		}
	}
	set, err := flamegraph.Fold(callMap, kind)
	if err != nil {
		return nil, fmt.Errorf("fold '%s': %w", path, err)
	}
	return set, nil
}

// writeStacks writes one folded stack file.
func writeStacks(set *flamegraph.StackSet, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create '%s': %w", path, err)
	}
	if err := set.WriteFolded(file); err != nil {
		file.Close()
		return fmt.Errorf("write '%s': %w", path, err)
	}
	return file.Close()
}
