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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchgrind/pkg/runner"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

// resetCLIFlags restores every flag variable to its registered default.
// The command tree is package state, so each in-process execution starts
// from a clean slate.
func resetCLIFlags() {
	flagConfig = "benchgrind.yaml"
	flagLogLevel = "info"
	flagQuiet = false
	flagJSON = false
	flagTrace = false
	flagPersonality = ""

	runTools = nil
	runCallgrindLimits = ""
	runCachegrindLimits = ""
	runDhatLimits = ""
	runBaseline = ""
	runSaveBaseline = ""
	runOutputDir = ""
	runTolerance = 0
	runFailFast = false
	runWatch = false
	runValgrind = ""

	compareCallgrindLimits = ""
	compareCachegrindLimits = ""
	compareDhatLimits = ""
	compareTolerance = 0
	compareFailFast = false

	foldMetric = "ir"
	foldDiff = ""
	foldOutput = ""
	foldEntryPoint = ""
	foldProjectRoot = ""

	showTolerance = 0
	showRaw = false

	resetCobraState(rootCmd)
}

// resetCobraState clears the flag state cobra itself tracks across an
// Execute: the values of the built-in help and version flags and every
// flag's Changed bit. Without this a previous in-process execution
// leaks into the next one.
func resetCobraState(cmd *cobra.Command) {
	for _, name := range []string{"help", "version"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set(f.DefValue)
		}
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	for _, sub := range cmd.Commands() {
		resetCobraState(sub)
	}
}

// execCLI runs the command tree in-process and captures cobra's output.
// Renderers that write to the process stdout are asserted through the
// files they produce instead.
func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetCLIFlags()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	rootCmd.SetArgs([]string{})
	return buf.String(), err
}

// writeTestConfig writes a minimal valid configuration and returns its
// path and the output directory it names.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	content := fmt.Sprintf("output_dir: %s\nbenchmarks:\n  - name: fib\n    command: target/fib\n", outDir)
	path := filepath.Join(dir, "benchgrind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, outDir
}

// =============================================================================
// ROOT COMMAND TESTS
// =============================================================================

func TestCLI_Root_Help(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantContains []string
	}{
		{"help flag", []string{"--help"}, []string{"benchgrind", "Usage"}},
		{"help shows run", []string{"--help"}, []string{"run"}},
		{"help shows compare", []string{"--help"}, []string{"compare"}},
		{"help shows baseline", []string{"--help"}, []string{"baseline"}},
		{"help shows fold", []string{"--help"}, []string{"fold"}},
		{"help shows show", []string{"--help"}, []string{"show"}},
		{"run help shows limits flag", []string{"run", "--help"}, []string{"--callgrind-limits", "--save-baseline", "--watch"}},
		{"fold help shows diff flag", []string{"fold", "--help"}, []string{"--diff", "--metric"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execCLI(t, tt.args...)
			require.NoError(t, err)
			for _, want := range tt.wantContains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestCLI_Root_Version(t *testing.T) {
	out, err := execCLI(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestCLI_Root_UnknownCommand(t *testing.T) {
	_, err := execCLI(t, "bogus")
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestCLI_Root_UnknownFlag(t *testing.T) {
	_, err := execCLI(t, "run", "--bogus")
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestCLI_Root_InvalidLogLevel(t *testing.T) {
	_, err := execCLI(t, "show", "whatever.json", "--log-level", "loud")
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestCLI_Root_BaselineFlagsExclusive(t *testing.T) {
	_, err := execCLI(t, "run", "--baseline=main", "--save-baseline=main")
	require.Error(t, err)
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no error", nil, exitOK},
		{"generic error", errors.New("boom"), exitFailure},
		{"config error", runner.ErrInvalidConfig, exitConfig},
		{"wrapped config error", fmt.Errorf("context: %w", runner.ErrInvalidConfig), exitConfig},
		{"regressions", errRegressions, exitRegressed},
		{"wrapped regressions", fmt.Errorf("run: %w", errRegressions), exitRegressed},
		{"unknown benchmark", runner.ErrUnknownBenchmark, exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

// =============================================================================
// RUN COMMAND CONFIG ERRORS
// =============================================================================

func TestCLI_Run_MissingConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := execCLI(t, "run", "-c", filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestCLI_Run_MalformedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "benchgrind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: [not, a, string"), 0o644))

	_, err := execCLI(t, "run", "-c", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)
}

func TestCLI_Run_UnknownBenchmark(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := execCLI(t, "run", "missing", "-c", cfgPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrUnknownBenchmark)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestCLI_Run_InvalidLimitsFlag(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := execCLI(t, "run", "fib", "-c", cfgPath, "--callgrind-limits", "ir=xyz")
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestCLI_Run_InvalidToolFlag(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := execCLI(t, "run", "fib", "-c", cfgPath, "--tool", "perf")
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)
}
