// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file assembles the valgrind command line for one tool run. The
// harness owns every argument deciding where files land: user supplied
// output and log file options are dropped with a warning, since the parsers
// can only find files following the canonical naming scheme.

package runner

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// Cache sizes passed to the cache simulating tools. The exact sizes matter
// less than having fixed sizes: without them the simulation takes the sizes
// from the CPU and makes runs incomparable between machines.
const (
	defaultI1 = "32768,8,64"
	defaultD1 = "32768,8,64"
	defaultLL = "8388608,16,64"
)

// Exit codes requested from valgrind when the tool itself finds errors.
// The error checking tools get a code outside the usual range so an error
// finding is distinguishable from the benchmark failing on its own; for
// every other tool the benchmark's own exit code passes through.
const (
	errorToolExitCode = "201"
	otherToolExitCode = "0"
)

// toolArgs is the resolved argument list for one tool run: the defaults of
// the harness overlaid with the user's tool arguments, plus the output and
// log file options derived from the run's output path.
type toolArgs struct {
	tool          valgrind.Tool
	errorExitcode string
	traceChildren bool
	fairSched     string
	verbose       bool

	// Cache simulation, used by callgrind and cachegrind.
	cacheSim   bool
	i1, d1, ll string

	// Callgrind only. The toggles limit metric collection to the frames
	// below the benchmark entry point.
	dumpLine        bool
	dumpInstr       bool
	separateThreads bool
	toggleCollect   []string

	other      []string
	outputArgs []string
	logArg     string
}

// newToolArgs resolves the argument list for a tool from the harness
// defaults and the user's extra arguments. A non-empty entryPoint becomes
// the first callgrind collect toggle.
//
// Unknown arguments pass through to valgrind untouched. Arguments the
// harness owns (output and log files) and arguments the parsers cannot
// handle (callgrind compression and dump combining) are dropped with a
// warning instead of failing the run.
func newToolArgs(tool valgrind.Tool, entryPoint string, userArgs []string) (*toolArgs, error) {
	a := &toolArgs{
		tool:          tool,
		errorExitcode: otherToolExitCode,
		traceChildren: true,
		fairSched:     "try",
	}
	if tool.IsErrorTool() {
		a.errorExitcode = errorToolExitCode
	}
	cacheSim := tool == valgrind.Callgrind || tool == valgrind.Cachegrind
	if cacheSim {
		a.cacheSim = true
		a.i1, a.d1, a.ll = defaultI1, defaultD1, defaultLL
	}
	if tool == valgrind.Callgrind {
		a.dumpLine = true
		a.separateThreads = true
		if entryPoint != "" {
			a.toggleCollect = append(a.toggleCollect, entryPoint)
		}
	}

	for _, raw := range userArgs {
		arg := strings.TrimSpace(raw)
		key, value, hasValue := strings.Cut(arg, "=")
		if hasValue {
			key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		}

		var err error
		switch {
		case !hasValue:
			switch {
			case arg == "-v" || arg == "--verbose":
				a.verbose = true
			case isIgnoredArgument(arg):
				slog.Warn("ignoring argument",
					slog.String("tool", tool.ID()), slog.String("arg", arg))
			case strings.HasPrefix(arg, "-"):
				a.other = append(a.other, arg)
			}
			// Bare positional arguments are dropped, they cannot mean
			// anything to valgrind.
		case key == "--error-exitcode":
			a.errorExitcode = value
		case key == "--trace-children":
			a.traceChildren, err = parseYesNo(key, value)
		case key == "--fair-sched":
			if value != "yes" && value != "no" && value != "try" {
				err = fmt.Errorf(
					"invalid argument for --fair-sched: valid arguments are 'yes', 'no' and 'try' but found: '%s'", value)
			}
			a.fairSched = value
		case cacheSim && key == "--I1":
			a.i1 = value
		case cacheSim && key == "--D1":
			a.d1 = value
		case cacheSim && key == "--LL":
			a.ll = value
		case cacheSim && key == "--cache-sim":
			a.cacheSim, err = parseYesNo(key, value)
		case tool == valgrind.Callgrind && key == "--toggle-collect":
			a.toggleCollect = append(a.toggleCollect, value)
		case tool == valgrind.Callgrind && key == "--dump-line":
			a.dumpLine, err = parseYesNo(key, value)
		case tool == valgrind.Callgrind && key == "--dump-instr":
			a.dumpInstr, err = parseYesNo(key, value)
		case tool == valgrind.Callgrind && key == "--separate-threads":
			a.separateThreads, err = parseYesNo(key, value)
		case tool == valgrind.Callgrind &&
			(key == "--combine-dumps" || key == "--compress-strings" || key == "--compress-pos"):
			slog.Warn("ignoring unsupported callgrind argument",
				slog.String("arg", arg))
		case isIgnoredOutfileArgument(key):
			slog.Warn("ignoring argument: output and log files are managed by the harness",
				slog.String("tool", tool.ID()), slog.String("arg", key))
		default:
			a.other = append(a.other, arg)
		}
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// setOutputArg derives the tool's output file options from the run's
// output path. With child tracing enabled the path carries the "#%p"
// modifier, which valgrind expands to the writing process' pid; Sanitize
// folds the expansion back into the canonical naming scheme after the run.
func (a *toolArgs) setOutputArg(out valgrind.OutputPath) {
	if !a.tool.HasOutputFile() {
		return
	}
	if a.tool == valgrind.BBV {
		// exp-bbv writes basic block vectors and a program counter file
		// through separate options.
		bb, pc := out.WithModifiers("bb"), out.WithModifiers("pc")
		if a.traceChildren {
			bb, pc = out.WithModifiers("bb", "#%p"), out.WithModifiers("pc", "#%p")
		}
		a.outputArgs = append(a.outputArgs,
			"--bb-out-file="+bb.Path(), "--pc-out-file="+pc.Path())
		return
	}
	p := out
	if a.traceChildren {
		p = out.WithModifiers("#%p")
	}
	a.outputArgs = append(a.outputArgs, "--"+a.tool.ID()+"-out-file="+p.Path())
}

// setLogArg points valgrind's log output at the run's log file.
func (a *toolArgs) setLogArg(out valgrind.OutputPath) {
	log := out.ToLog()
	if a.traceChildren {
		log = log.WithModifiers("#%p")
	}
	a.logArg = "--log-file=" + log.Path()
}

// toSlice renders the arguments in the order valgrind receives them:
// the tool selection and shared options first, then the tool specific
// options, the pass-through arguments, and last the file options.
func (a *toolArgs) toSlice() []string {
	args := []string{
		"--tool=" + a.tool.ID(),
		"--error-exitcode=" + a.errorExitcode,
		"--trace-children=" + yesno(a.traceChildren),
		"--fair-sched=" + a.fairSched,
	}
	if a.verbose {
		args = append(args, "--verbose")
	}
	if a.tool == valgrind.Callgrind || a.tool == valgrind.Cachegrind {
		args = append(args,
			"--I1="+a.i1,
			"--D1="+a.d1,
			"--LL="+a.ll,
			"--cache-sim="+yesno(a.cacheSim))
	}
	if a.tool == valgrind.Callgrind {
		// The call map parser reads function names and positions
		// uncompressed, and one data file per dump.
		args = append(args,
			"--compress-strings=no",
			"--compress-pos=no",
			"--combine-dumps=no",
			"--dump-line="+yesno(a.dumpLine),
			"--dump-instr="+yesno(a.dumpInstr),
			"--separate-threads="+yesno(a.separateThreads))
		for _, toggle := range a.toggleCollect {
			args = append(args, "--toggle-collect="+toggle)
		}
	}
	args = append(args, a.other...)
	args = append(args, a.outputArgs...)
	if a.logArg != "" {
		args = append(args, a.logArg)
	}
	return args
}

func yesno(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func parseYesNo(key, value string) (bool, error) {
	switch value {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid argument for %s: expected 'yes' or 'no' but found: '%s'", key, value)
	}
}

// isIgnoredOutfileArgument reports whether the argument configures output
// or log files, which the harness owns.
func isIgnoredOutfileArgument(arg string) bool {
	switch arg {
	case "--callgrind-out-file", "--cachegrind-out-file", "--dhat-out-file",
		"--massif-out-file", "--bb-out-file", "--pc-out-file",
		"--log-file", "--log-fd", "--log-socket",
		"--xml", "--xml-file", "--xml-fd", "--xml-socket", "--xml-user-comment",
		"--xtree-leak-file", "--xtree-memory-file":
		return true
	}
	return false
}

// isIgnoredArgument reports whether the bare argument is meaningless under
// the harness, like help and version flags.
func isIgnoredArgument(arg string) bool {
	switch arg {
	case "-h", "--help", "--help-dyn-options", "--help-debug",
		"--version", "-q", "--quiet", "--tool":
		return true
	}
	return false
}
