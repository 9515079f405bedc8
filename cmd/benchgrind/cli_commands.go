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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/benchgrind/pkg/baseline"
	"github.com/AleutianAI/benchgrind/pkg/config"
	"github.com/AleutianAI/benchgrind/pkg/logging"
	"github.com/AleutianAI/benchgrind/pkg/runner"
	"github.com/AleutianAI/benchgrind/pkg/ux"
)

// version is stamped by the release build via
// -ldflags "-X main.version=...".
var version = "dev"

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagConfig      string // Path to the benchmark configuration file
	flagLogLevel    string // Minimum log level for stderr/file logging
	flagQuiet       bool   // Suppress stderr logging entirely
	flagJSON        bool   // Machine-readable mode: JSON logs, plain report
	flagTrace       bool   // Emit OpenTelemetry spans to stderr
	flagPersonality string // Override report styling (full|standard|minimal|machine)
)

// appLogger is the process-wide logger built in the root PersistentPreRunE.
// Command handlers reach it through slog.Default().
var appLogger *logging.Logger

// traceShutdown flushes the span exporter during PersistentPostRun when
// --trace is active.
var traceShutdown func(context.Context) error

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "benchgrind",
	Short: "A benchmarking harness for the Valgrind tool family",
	Long: `Benchgrind runs benchmark binaries under Valgrind tools (Callgrind,
Cachegrind, DHAT, Memcheck, Helgrind, DRD, Massif, BBV), parses their
output into metrics, compares each run against the previous run or a
named baseline, and fails CI when configured regression limits fire.

Examples:
  benchgrind run                           # Run every configured benchmark
  benchgrind run fibonacci                 # Run one benchmark by name
  benchgrind run --save-baseline=main      # Record this run as baseline "main"
  benchgrind run --baseline=main           # Compare against baseline "main"
  benchgrind run --watch                   # Re-run whenever the binary changes
  benchgrind compare new.json old.json     # Diff two saved summaries
  benchgrind fold callgrind.out            # Fold output into flamegraph stacks
  benchgrind show summary.json             # Pretty-print a saved summary`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupOutput(); err != nil {
			return err
		}
		return setupTracing()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.Version = version

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "benchgrind.yaml",
		"Path to the benchmark configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"Minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false,
		"Suppress log output; the terminal carries only the report")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false,
		"Machine-readable mode: JSON logs on stderr, plain report on stdout")
	rootCmd.PersistentFlags().BoolVar(&flagTrace, "trace", false,
		"Emit OpenTelemetry spans for the run pipeline to stderr")
	rootCmd.PersistentFlags().StringVar(&flagPersonality, "personality", "",
		"Report styling: full, standard, minimal, or machine (default: auto-detect)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(baselineCmd)
	rootCmd.AddCommand(foldCmd)
	rootCmd.AddCommand(showCmd)
}

// =============================================================================
// PROCESS-WIDE SETUP
// =============================================================================

// setupOutput builds the process logger from the global flags, installs
// it as slog's default and resolves the report personality.
//
// # Outputs
//
// Returns a configuration error (exit code 2) when --log-level does not
// parse.
func setupOutput() error {
	level, err := logging.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
	}

	appLogger = logging.New(logging.Config{
		Level:   level,
		Service: "benchgrind",
		JSON:    flagJSON,
		Quiet:   flagQuiet,
	})
	slog.SetDefault(appLogger.Slog())

	ux.InitPersonality()
	if flagJSON {
		ux.SetPersonalityLevel(ux.PersonalityMachine)
	}
	if flagPersonality != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(flagPersonality))
	}
	return nil
}

// setupTracing installs a stdout span exporter when --trace is set.
//
// Spans go to stderr so piped report output stays clean. The provider
// flushes in teardown.
func setupTracing() error {
	if !flagTrace {
		return nil
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "benchgrind"),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	traceShutdown = tp.Shutdown
	return nil
}

// teardown flushes the tracer and closes the logger. Called from the
// root PersistentPostRun so every command path releases its resources.
func teardown() {
	if traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := traceShutdown(ctx); err != nil {
			slog.Warn("trace exporter shutdown failed", "error", err)
		}
		cancel()
		traceShutdown = nil
	}
	if appLogger != nil {
		_ = appLogger.Close()
	}
}

// =============================================================================
// SHARED COMMAND HELPERS
// =============================================================================

// loadConfig reads the configuration named by --config. Load failures
// are configuration errors and map to exit code 2.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// openStore opens the named-baseline store that lives under the run's
// output directory. The returned closer must be called before exit so
// Badger releases its value log.
func openStore(cfg *config.Config) (baseline.Store, func(), error) {
	path := filepath.Join(cfg.OutputDir, ".baselines")
	store, err := baseline.OpenBadger(baseline.DefaultBadgerConfig(path))
	if err != nil {
		return nil, nil, fmt.Errorf("open baseline store '%s': %w", path, err)
	}
	return store, func() { _ = store.Close() }, nil
}

// signalContext returns a context that cancels on SIGINT or SIGTERM,
// letting a long watch loop or benchmark sweep unwind cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
