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

	"github.com/AleutianAI/benchgrind/pkg/ux"
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// baselineCmd groups the named-baseline management commands.
//
// # Description
//
// Named baselines live in the store under the configured output
// directory. 'run --save-baseline' writes them; these commands inspect
// and prune them.
//
// # Examples
//
//	benchgrind baseline list                 # All baselines of all benchmarks
//	benchgrind baseline list fibonacci       # Baselines of one benchmark
//	benchgrind baseline delete fibonacci main
var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage named baselines in the store",
	Long: `Lists and deletes the named baselines recorded by 'run --save-baseline'.

Baselines are keyed by benchmark name and baseline name and live in the
store under the configured output directory.`,
}

var baselineListCmd = &cobra.Command{
	Use:   "list [benchmark]",
	Short: "List saved baselines, optionally for one benchmark",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBaselineListCommand,
}

var baselineDeleteCmd = &cobra.Command{
	Use:   "delete <benchmark> <name>",
	Short: "Delete one named baseline of a benchmark",
	Args:  cobra.ExactArgs(2),
	RunE:  runBaselineDeleteCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	baselineCmd.AddCommand(baselineListCmd)
	baselineCmd.AddCommand(baselineDeleteCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runBaselineListCommand prints one "benchmark<TAB>baseline" line per
// saved record, in benchmark order then name order.
func runBaselineListCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	benchmarks := make([]string, 0, len(cfg.Benchmarks))
	if len(args) == 1 {
		benchmarks = append(benchmarks, args[0])
	} else {
		for _, b := range cfg.Benchmarks {
			benchmarks = append(benchmarks, b.Name)
		}
	}

	w := cmd.OutOrStdout()
	found := 0
	for _, bench := range benchmarks {
		names, err := store.List(cmd.Context(), bench)
		if err != nil {
			return fmt.Errorf("list baselines of '%s': %w", bench, err)
		}
		for _, name := range names {
			found++
			fmt.Fprintf(w, "%s\t%s\n", bench, name)
		}
	}
	if found == 0 {
		ux.Muted("no saved baselines")
	}
	return nil
}

// runBaselineDeleteCommand removes one named baseline. Deleting a name
// that was never saved is an error so typos surface.
func runBaselineDeleteCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	bench, name := args[0], args[1]
	if err := store.Delete(cmd.Context(), bench, name); err != nil {
		return fmt.Errorf("delete baseline '%s' of '%s': %w", name, bench, err)
	}
	ux.Success(fmt.Sprintf("deleted baseline '%s' of benchmark '%s'", name, bench))
	return nil
}
