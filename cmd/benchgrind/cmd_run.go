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
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/benchgrind/pkg/baseline"
	"github.com/AleutianAI/benchgrind/pkg/config"
	"github.com/AleutianAI/benchgrind/pkg/runner"
	"github.com/AleutianAI/benchgrind/pkg/summary"
	"github.com/AleutianAI/benchgrind/pkg/ux"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runTools            []string // Tools to run, overriding the config
	runCallgrindLimits  string   // Callgrind regression limit expression
	runCachegrindLimits string   // Cachegrind regression limit expression
	runDhatLimits       string   // DHAT regression limit expression
	runBaseline         string   // Compare against this named baseline
	runSaveBaseline     string   // Record this run under this baseline name
	runOutputDir        string   // Override the configured output directory
	runTolerance        float64  // Hide diffs below this percentage
	runFailFast         bool     // Stop at the first fired limit
	runWatch            bool     // Re-run whenever a benchmark binary changes
	runValgrind         string   // Path to the valgrind executable
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// runCmd executes the configured benchmarks under the Valgrind tools.
//
// # Description
//
// Loads the YAML configuration, runs every benchmark (or only the named
// ones) through the tool pipeline, renders per-tool comparisons against
// the previous run or a named baseline, and evaluates the configured
// regression limits.
//
// # Examples
//
//	benchgrind run                                  # All configured benchmarks
//	benchgrind run fibonacci                        # One benchmark by name
//	benchgrind run --tool callgrind --tool dhat     # Restrict the tool set
//	benchgrind run --callgrind-limits 'ir=5%'       # Override limits
//	benchgrind run --save-baseline=main             # Record baseline "main"
//	benchgrind run --baseline=main                  # Compare against "main"
//	benchgrind run --watch                          # Re-run on binary change
//
// # Limitations
//
//   - Requires valgrind on PATH unless --valgrind points elsewhere.
//   - Exits 3 when any regression limit fires, 2 on configuration errors.
var runCmd = &cobra.Command{
	Use:   "run [benchmark...]",
	Short: "Run benchmarks under Valgrind and evaluate regression limits",
	Long: `Runs the benchmarks from the configuration file under their configured
Valgrind tools, parses the tool output into metrics, compares against the
previous run (or a named baseline) and fails when regression limits fire.

Without arguments every configured benchmark runs; naming benchmarks
restricts the run to those.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRunCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runTools, "tool", nil,
		"Tool to run (callgrind, cachegrind, dhat, memcheck, helgrind, drd, massif, exp-bbv); repeatable, overrides the config")
	f.StringVar(&runCallgrindLimits, "callgrind-limits", "",
		"Callgrind regression limits, e.g. 'ir=5%,estimatedcycles=10%|2000000'")
	f.StringVar(&runCachegrindLimits, "cachegrind-limits", "",
		"Cachegrind regression limits, e.g. '@writebackbehaviour=10%'")
	f.StringVar(&runDhatLimits, "dhat-limits", "",
		"DHAT regression limits, e.g. 'totalbytes=0%,totalblocks=0%'")
	f.StringVar(&runBaseline, "baseline", "",
		"Compare against the named baseline instead of the previous run")
	f.StringVar(&runSaveBaseline, "save-baseline", "",
		"Record this run as the named baseline and compare against its previous save")
	f.StringVar(&runOutputDir, "output-dir", "",
		"Directory for tool output and summaries; overrides the config")
	f.Float64Var(&runTolerance, "tolerance", 0,
		"Hide diffs smaller than this percentage from the report")
	f.BoolVar(&runFailFast, "fail-fast", false,
		"Stop at the first benchmark with a fired limit")
	f.BoolVar(&runWatch, "watch", false,
		"Watch the benchmark binaries and re-run on every change")
	f.StringVar(&runValgrind, "valgrind", "",
		"Path to the valgrind executable (default: found on PATH)")

	// Bare --baseline / --save-baseline select the conventional name.
	f.Lookup("baseline").NoOptDefVal = "default"
	f.Lookup("save-baseline").NoOptDefVal = "default"
	runCmd.MarkFlagsMutuallyExclusive("baseline", "save-baseline")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runRunCommand wires the configuration, baseline store and runner
// together and executes the requested benchmarks.
//
// # Inputs
//
//   - cmd: Cobra command carrying the parsed flags.
//   - args: Optional benchmark names; empty means all.
//
// # Outputs
//
// Returns errRegressions when limits fired (exit code 3), an
// ErrInvalidConfig wrap on configuration problems (exit code 2), any
// other error for runtime failures (exit code 1).
func runRunCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := runOptions(cmd)

	var store baseline.Store
	if usesNamedBaselines(cfg) {
		s, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		store = s
	}

	r := runner.NewRunner(cfg, store)
	r.SetValgrind(runValgrind)

	ctx, stop := signalContext()
	defer stop()

	if runWatch {
		return runWatchLoop(ctx, r, opts)
	}
	if len(args) > 0 {
		return runNamed(ctx, r, args, opts)
	}

	result, err := r.RunAll(ctx, opts...)
	if err != nil {
		return err
	}
	return reportResult(result)
}

// runOptions translates the command flags into runner options. Flags the
// user did not touch leave the configuration untouched.
func runOptions(cmd *cobra.Command) []runner.RunOption {
	var opts []runner.RunOption

	if len(runTools) > 0 {
		tools := make([]config.Tool, 0, len(runTools))
		for _, name := range runTools {
			tools = append(tools, config.Tool{Name: name})
		}
		opts = append(opts, runner.WithTools(tools...))
	}
	if runCallgrindLimits != "" {
		opts = append(opts, runner.WithLimits(valgrind.Callgrind.ID(), runCallgrindLimits))
	}
	if runCachegrindLimits != "" {
		opts = append(opts, runner.WithLimits(valgrind.Cachegrind.ID(), runCachegrindLimits))
	}
	if runDhatLimits != "" {
		opts = append(opts, runner.WithLimits(valgrind.DHAT.ID(), runDhatLimits))
	}
	if runBaseline != "" {
		opts = append(opts, runner.WithBaseline(runBaseline))
	}
	if runSaveBaseline != "" {
		opts = append(opts, runner.WithSaveBaseline(runSaveBaseline))
	}
	if runOutputDir != "" {
		opts = append(opts, runner.WithOutputDir(runOutputDir))
	}
	if cmd.Flags().Changed("tolerance") {
		opts = append(opts, runner.WithTolerance(runTolerance))
	}
	if cmd.Flags().Changed("fail-fast") {
		opts = append(opts, runner.WithFailFast(runFailFast))
	}
	return opts
}

// usesNamedBaselines reports whether this invocation needs the baseline
// store. Plain previous-run comparisons work on files alone, and opening
// Badger for them would drop an unused database into the output tree.
func usesNamedBaselines(cfg *config.Config) bool {
	return cfg.Baseline != "" || cfg.SaveBaseline != "" ||
		runBaseline != "" || runSaveBaseline != ""
}

// runNamed runs the explicitly requested benchmarks in order.
func runNamed(ctx context.Context, r *runner.Runner, names []string, opts []runner.RunOption) error {
	result := &runner.Result{}
	for _, name := range names {
		doc, err := r.Run(ctx, name, opts...)
		if err != nil {
			return fmt.Errorf("benchmark '%s': %w", name, err)
		}
		result.Summaries = append(result.Summaries, doc)
		if doc.IsRegressed() {
			result.Regressed++
		} else {
			result.Clean++
		}
	}
	return reportResult(result)
}

// runWatchLoop reruns the benchmarks on every rebuild until interrupted.
// A canceled context is the expected way out and not an error.
func runWatchLoop(ctx context.Context, r *runner.Runner, opts []runner.RunOption) error {
	w, err := runner.NewWatcher(r, 0)
	if err != nil {
		return err
	}
	if err := w.Run(ctx, opts...); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// reportResult prints the closing status lines and converts fired limits
// into the regression exit code.
func reportResult(result *runner.Result) error {
	for _, doc := range result.Summaries {
		if doc.IsRegressed() {
			ux.BenchmarkStatus(benchmarkLabel(doc), ux.IconError, regressionReason(doc))
		} else {
			ux.BenchmarkStatus(benchmarkLabel(doc), ux.IconSuccess, "")
		}
	}
	total := result.Regressed + result.Clean + result.Skipped
	ux.RunSummary(result.Regressed, result.Clean, total)

	if result.IsRegressed() {
		return errRegressions
	}
	return nil
}

// benchmarkLabel names a summary the way the run headline does.
func benchmarkLabel(doc *summary.Summary) string {
	switch {
	case doc.ModulePath != "" && doc.FunctionName != "":
		return doc.ModulePath + "::" + doc.FunctionName
	case doc.FunctionName != "":
		return doc.FunctionName
	default:
		return doc.BenchmarkExe
	}
}

// regressionReason summarizes how many limits fired across the tools of
// one benchmark.
func regressionReason(doc *summary.Summary) string {
	fired := 0
	for _, p := range doc.Profiles {
		fired += len(p.Data.Total.Regressions)
	}
	if fired == 1 {
		return "1 limit exceeded"
	}
	return fmt.Sprintf("%d limits exceeded", fired)
}
