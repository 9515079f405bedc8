// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner drives the benchmark pipeline.
//
// For every configured benchmark and tool the runner shifts the previous
// run's files aside, executes the benchmark under valgrind, parses and
// sanitizes the outputs, compares the metrics against the previous run
// or a named baseline, evaluates the regression limits, and writes the
// summary document. Human readable reports go to the configured writer,
// machine readable state to the files under the output directory.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/benchgrind/pkg/baseline"
	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/config"
	"github.com/AleutianAI/benchgrind/pkg/either"
	"github.com/AleutianAI/benchgrind/pkg/profile"
	"github.com/AleutianAI/benchgrind/pkg/regression"
	"github.com/AleutianAI/benchgrind/pkg/summary"
	"github.com/AleutianAI/benchgrind/pkg/ux"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// tracerName identifies this package's tracer.
const tracerName = "benchgrind.runner"

var (
	// ErrInvalidConfig marks configuration problems only detectable at
	// run time, like a limit naming a metric the tool never produced.
	// Callers map it to the configuration exit code.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownBenchmark reports a requested benchmark name the
	// configuration does not contain.
	ErrUnknownBenchmark = errors.New("unknown benchmark")
)

// RunOption overrides one loaded configuration value for a single
// invocation. Options apply in order, so later options win.
type RunOption func(*config.Config)

// WithTools replaces the configured tool selection.
func WithTools(tools ...config.Tool) RunOption {
	return func(c *config.Config) {
		c.Tools = tools
	}
}

// WithLimits overrides one tool's regression limits, adding the tool to
// the selection when the configuration does not run it yet.
func WithLimits(tool, limits string) RunOption {
	return func(c *config.Config) {
		for i := range c.Tools {
			if c.Tools[i].Name == tool {
				c.Tools[i].Limits = limits
				return
			}
		}
		c.Tools = append(c.Tools, config.Tool{Name: tool, Limits: limits})
	}
}

// WithBaseline compares against the named baseline instead of the
// previous run, clearing any configured save.
func WithBaseline(name string) RunOption {
	return func(c *config.Config) {
		c.Baseline = name
		c.SaveBaseline = ""
	}
}

// WithSaveBaseline saves the run under the name, clearing any configured
// compare-only baseline.
func WithSaveBaseline(name string) RunOption {
	return func(c *config.Config) {
		c.SaveBaseline = name
		c.Baseline = ""
	}
}

// WithOutputDir redirects the benchmark output tree.
func WithOutputDir(dir string) RunOption {
	return func(c *config.Config) {
		c.OutputDir = dir
	}
}

// WithTolerance overrides the display tolerance in percent.
func WithTolerance(tolerance float64) RunOption {
	return func(c *config.Config) {
		c.Tolerance = tolerance
	}
}

// WithFailFast stops after the first regressed benchmark and the first
// fired rule per tool.
func WithFailFast(enabled bool) RunOption {
	return func(c *config.Config) {
		c.FailFast = enabled
	}
}

// Runner executes configured benchmarks under valgrind.
//
// Description:
//
//	The runner owns the per-benchmark pipeline: shift the previous
//	outputs aside, run every configured tool, parse and compare the
//	results, evaluate the regression limits and persist the summary
//	document. A nil baseline store disables named baseline persistence;
//	file based baselines keep working without one.
//
// Thread Safety: Safe for concurrent use as long as concurrent runs
// target different output directories.
type Runner struct {
	cfg    *config.Config
	store  baseline.Store
	logger *slog.Logger
	stdout io.Writer
	binary string
	exec   execFunc
}

// NewRunner creates a runner over a loaded configuration. The store may
// be nil when named baselines are not persisted beyond the file system.
func NewRunner(cfg *config.Config, store baseline.Store) *Runner {
	return &Runner{
		cfg:    cfg,
		store:  store,
		logger: slog.Default(),
		stdout: os.Stdout,
		binary: "valgrind",
		exec:   execProcess,
	}
}

// SetLogger replaces the runner's logger. Nil loggers are ignored.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetOutput redirects the rendered reports. Nil writers are ignored.
func (r *Runner) SetOutput(w io.Writer) {
	if w != nil {
		r.stdout = w
	}
}

// SetValgrind overrides the valgrind executable, which is otherwise
// found on PATH. Empty paths are ignored.
func (r *Runner) SetValgrind(path string) {
	if path != "" {
		r.binary = path
	}
}

// Result aggregates one invocation over the selected benchmarks.
type Result struct {
	// Summaries holds one document per completed benchmark in run order.
	Summaries []*summary.Summary

	// Regressed counts completed benchmarks with fired limits, Clean the
	// remainder. Skipped counts benchmarks never run because fail fast
	// stopped the loop.
	Regressed int
	Clean     int
	Skipped   int
}

// IsRegressed reports whether any benchmark regressed.
func (res *Result) IsRegressed() bool {
	return res.Regressed > 0
}

// Run executes one benchmark by its configured name.
//
// Description:
//
//	Run resolves the configuration with the given options, validates
//	it, and drives the full pipeline for the named benchmark. The
//	returned document has already been written to the benchmark's
//	output directory.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - name: The configured benchmark name.
//   - opts: Optional per-invocation configuration overrides.
//
// Outputs:
//   - *summary.Summary: The benchmark's summary document.
//   - error: ErrUnknownBenchmark for unknown names, ErrInvalidConfig for
//     option combinations that fail validation, or the first pipeline
//     error. A regression is not an error; check IsRegressed.
func (r *Runner) Run(ctx context.Context, name string, opts ...RunOption) (*summary.Summary, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	cfg, err := r.resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	for _, bench := range cfg.Benchmarks {
		if bench.Name == name {
			return r.runBenchmark(ctx, cfg, bench)
		}
	}
	return nil, fmt.Errorf("benchmark '%s': %w", name, ErrUnknownBenchmark)
}

// RunAll executes every configured benchmark in order.
//
// Description:
//
//	A failing benchmark aborts the invocation: unlike a regression, a
//	failed tool run leaves no numbers worth reporting, and later
//	benchmarks would hide the failure in the middle of the output. With
//	fail fast configured the loop also stops after the first regressed
//	benchmark and reports the rest as skipped.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - opts: Optional per-invocation configuration overrides.
//
// Outputs:
//   - *Result: Completed summaries with the regression tally. On error
//     the result still carries the benchmarks completed before it.
//   - error: ErrInvalidConfig for bad option combinations, the first
//     pipeline error, or the context's error on cancellation.
func (r *Runner) RunAll(ctx context.Context, opts ...RunOption) (*Result, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	cfg, err := r.resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "runner.RunAll",
		trace.WithAttributes(
			attribute.Int("benchgrind.benchmarks", len(cfg.Benchmarks)),
			attribute.Bool("benchgrind.fail_fast", cfg.FailFast),
		))
	defer span.End()

	res := &Result{}
	for i, bench := range cfg.Benchmarks {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "run canceled")
			return res, err
		}

		doc, err := r.runBenchmark(ctx, cfg, bench)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "benchmark failed")
			return res, fmt.Errorf("benchmark '%s': %w", bench.Name, err)
		}
		res.Summaries = append(res.Summaries, doc)

		if !doc.IsRegressed() {
			res.Clean++
			continue
		}
		res.Regressed++
		if cfg.FailFast {
			res.Skipped = len(cfg.Benchmarks) - i - 1
			r.logger.Warn("stopping after first regressed benchmark",
				slog.String("benchmark", bench.Name),
				slog.Int("skipped", res.Skipped))
			break
		}
	}

	span.SetAttributes(
		attribute.Int("benchgrind.regressed", res.Regressed),
		attribute.Int("benchgrind.clean", res.Clean),
	)
	span.SetStatus(codes.Ok, "run completed")
	return res, nil
}

// resolveConfig copies the loaded configuration, applies the options and
// validates the result. The copy keeps invocations independent: watch
// mode reruns with the same base configuration every time.
func (r *Runner) resolveConfig(opts []RunOption) (*config.Config, error) {
	cfg := *r.cfg
	cfg.Tools = slices.Clone(r.cfg.Tools)
	cfg.Benchmarks = slices.Clone(r.cfg.Benchmarks)
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Tools) == 0 {
		cfg.Tools = config.DefaultTools()
	}
	if cfg.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.ProjectRoot = wd
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// runBenchmark drives the pipeline for one benchmark: every configured
// tool in order, then the baseline record and the summary document.
func (r *Runner) runBenchmark(ctx context.Context, cfg *config.Config, bench config.Benchmark) (*summary.Summary, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "runner.Benchmark",
		trace.WithAttributes(
			attribute.String("benchgrind.benchmark", bench.Name),
			attribute.String("benchgrind.command", bench.Command),
		))
	defer span.End()

	fmt.Fprintln(r.stdout, ux.Headline(benchPath(bench), bench.ID, bench.Details))

	dir := filepath.Join(cfg.OutputDir, valgrind.SanitizeName(bench.Name))
	doc := summary.New(summaryBenchmark(cfg, bench), summaryBaselines(cfg))

	runs := make([]profile.Run, 0, len(cfg.Tools))
	for _, tc := range cfg.Tools {
		section, newRun, err := r.runTool(ctx, cfg, bench, tc, dir)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool run failed")
			return nil, err
		}
		doc.AddProfile(section)
		runs = append(runs, newRun)
	}

	if cfg.SavesBaseline() && r.store != nil {
		rec, err := baseline.NewRecord(bench.Name, cfg.SaveBaseline, runs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "baseline record failed")
			return nil, err
		}
		if err := r.store.Set(ctx, rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "baseline save failed")
			return nil, fmt.Errorf("failed to save baseline '%s': %w", cfg.SaveBaseline, err)
		}
		r.logger.Info("baseline saved",
			slog.String("benchmark", bench.Name),
			slog.String("baseline", cfg.SaveBaseline))
	}

	out := summary.NewOutput(cfg.Format(), dir)
	doc.Output = &out
	if err := out.Save(doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summary save failed")
		return nil, err
	}

	span.SetAttributes(attribute.Bool("benchgrind.regressed", doc.IsRegressed()))
	span.SetStatus(codes.Ok, "benchmark completed")
	return doc, nil
}

// runTool executes one tool run: shift the previous files aside, run the
// benchmark under the tool, sanitize and parse the outputs, compare
// against the old side and evaluate the limits. It returns the document
// section and the parsed new run for the baseline record.
func (r *Runner) runTool(
	ctx context.Context,
	cfg *config.Config,
	bench config.Benchmark,
	tc config.Tool,
	dir string,
) (summary.Profile, profile.Run, error) {
	fail := func(err error) (summary.Profile, profile.Run, error) {
		return summary.Profile{}, profile.Run{}, err
	}

	tool, err := tc.Tool()
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	regCfg, err := tc.Regression()
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	regCfg.FailFast = cfg.FailFast

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "runner.Tool",
		trace.WithAttributes(
			attribute.String("benchgrind.tool", tool.ID()),
			attribute.String("benchgrind.benchmark", bench.Name),
		))
	defer span.End()

	fmt.Fprintln(r.stdout, ux.ToolHeadline(tool))

	out := valgrind.NewOutputPath(tool, cfg.BaselineKind(), dir, bench.Name)
	if err := out.Init(); err != nil {
		return fail(err)
	}
	if err := out.Shift(); err != nil {
		return fail(err)
	}
	if err := out.ToLog().Shift(); err != nil {
		return fail(err)
	}

	// The old side parses before the run so a save can overwrite the
	// very files it was compared against.
	oldRun, err := r.loadBase(ctx, cfg, bench, tool, out)
	if err != nil {
		return fail(err)
	}

	writeOut := out
	if cfg.SavesBaseline() {
		writeOut = out.ToBase()
		if err := writeOut.Clear(); err != nil {
			return fail(err)
		}
		if err := writeOut.ToLog().Clear(); err != nil {
			return fail(err)
		}
	}

	if err := r.execTool(ctx, cfg, bench, tool, tc, writeOut); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool process failed")
		return fail(err)
	}
	if err := profile.Sanitize(writeOut); err != nil {
		return fail(err)
	}

	newRun, err := profile.ParseRun(ctx, profile.ParserFor(tool), writeOut)
	if err != nil {
		return fail(err)
	}

	data := summary.NewProfileData(newRun, oldRun)

	totals := either.Left(newRun.Total)
	if oldRun != nil {
		totals = either.Both(newRun.Total, oldRun.Total)
	}
	comparison := compare.NewSummary(totals)

	var incidents []regression.Incident
	if !regCfg.IsEmpty() {
		incidents, err = regCfg.Check(comparison)
		if err != nil {
			var unknown *regression.UnknownMetricError
			if errors.As(err, &unknown) {
				return fail(fmt.Errorf("%w: %v", ErrInvalidConfig, err))
			}
			return fail(err)
		}
		data.RecordRegressions(incidents)
	}

	if oldRun != nil {
		if name, ok := cfg.BaselineKind().Name(); ok {
			fmt.Fprint(r.stdout, ux.Baselines(nil, &name))
		}
	}
	fmt.Fprint(r.stdout, ux.Comparison(tool, comparison, cfg.Tolerance))
	if len(incidents) > 0 {
		fmt.Fprint(r.stdout, ux.Regressions(incidents))
	}

	section := summary.Profile{Tool: tool, Data: data}
	section.LogPaths, err = writeOut.ToLog().RealPaths()
	if err != nil {
		return fail(err)
	}
	if tool.HasOutputFile() {
		section.OutPaths, err = writeOut.RealPaths()
		if err != nil {
			return fail(err)
		}
	}

	if tc.Flamegraph && tool == valgrind.Callgrind {
		var diffBase *valgrind.OutputPath
		if !cfg.SavesBaseline() {
			if base := out.ToBase(); base.Exists() {
				diffBase = &base
			}
		}
		section.Flamegraphs, err = r.writeFlamegraphs(ctx, cfg, tc, writeOut, diffBase)
		if err != nil {
			return fail(err)
		}
	}

	span.SetAttributes(
		attribute.Int("benchgrind.segments", len(newRun.Segments)),
		attribute.Int("benchgrind.regressions", len(incidents)),
		attribute.Bool("benchgrind.compared", oldRun != nil),
	)
	span.SetStatus(codes.Ok, "tool completed")
	return section, newRun, nil
}

// loadBase resolves the old side of the comparison: the files the base
// path addresses when any exist, otherwise the stored record of a named
// baseline. A first run has no old side.
func (r *Runner) loadBase(
	ctx context.Context,
	cfg *config.Config,
	bench config.Benchmark,
	tool valgrind.Tool,
	out valgrind.OutputPath,
) (*profile.Run, error) {
	run, err := profile.ParseRun(ctx, profile.ParserFor(tool), out.ToBase())
	if err != nil {
		return nil, err
	}
	if len(run.Segments) > 0 {
		return &run, nil
	}

	name, ok := cfg.BaselineKind().Name()
	if !ok || r.store == nil {
		return nil, nil
	}
	rec, err := r.store.Get(ctx, bench.Name, name)
	if errors.Is(err, baseline.ErrBaselineNotFound) {
		r.logger.Debug("baseline not found",
			slog.String("benchmark", bench.Name), slog.String("baseline", name))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if stored, ok := rec.Run(tool); ok {
		return &stored, nil
	}
	return nil, nil
}

// execTool assembles the tool's argument list and runs the benchmark
// command under valgrind in the project root.
func (r *Runner) execTool(
	ctx context.Context,
	cfg *config.Config,
	bench config.Benchmark,
	tool valgrind.Tool,
	tc config.Tool,
	out valgrind.OutputPath,
) error {
	args, err := newToolArgs(tool, tc.EntryPoint, tc.Args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	args.setOutputArg(out)
	args.setLogArg(out)

	argv := append(args.toSlice(), bench.Command)
	argv = append(argv, bench.Args...)

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "runner.Exec",
		trace.WithAttributes(
			attribute.String("benchgrind.tool", tool.ID()),
			attribute.String("benchgrind.command", bench.Command),
		))
	defer span.End()

	r.logger.Debug("running benchmark",
		slog.String("tool", tool.ID()),
		slog.String("command", bench.Command),
		slog.Int("args", len(argv)))

	res, err := r.exec(ctx, procSpec{
		binary: r.binary,
		args:   argv,
		env:    buildEnv(tool, bench.Env),
		dir:    cfg.ProjectRoot,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "launch failed")
		return err
	}
	if len(res.stdout) > 0 {
		r.logger.Debug("benchmark stdout",
			slog.String("tool", tool.ID()), slog.Int("bytes", len(res.stdout)))
	}

	if err := checkExit(tool, bench.Command, res, bench.ExitWith); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected exit")
		return err
	}
	span.SetAttributes(attribute.Int("benchgrind.exit_code", res.exitCode))
	span.SetStatus(codes.Ok, "process completed")
	return nil
}

// benchPath renders the benchmark's display path the way its harness
// names it: "module::function" when a module is configured, the plain
// function or benchmark name otherwise.
func benchPath(bench config.Benchmark) string {
	fn := bench.Function
	if fn == "" {
		fn = bench.Name
	}
	if bench.Module != "" {
		return bench.Module + "::" + fn
	}
	return fn
}

func summaryBenchmark(cfg *config.Config, bench config.Benchmark) summary.Benchmark {
	fn := bench.Function
	if fn == "" {
		fn = bench.Name
	}
	return summary.Benchmark{
		Kind:        bench.BenchmarkKind(),
		ProjectRoot: cfg.ProjectRoot,
		Exe:         bench.Command,
		ModulePath:  bench.Module,
		Function:    fn,
		ID:          bench.ID,
		Details:     bench.Details,
	}
}

// summaryBaselines names the sides of the comparison in the document.
// The new side always comes from this run, so only the old side can
// carry a name.
func summaryBaselines(cfg *config.Config) summary.Baselines {
	if name, ok := cfg.BaselineKind().Name(); ok {
		return summary.Baselines{Old: &name}
	}
	return summary.Baselines{}
}
