// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file launches the assembled valgrind command. The benchmark runs
// in a cleared environment so stray variables cannot skew the counts
// between runs: only the entries the configuration names pass through,
// plus the loader variables valgrind itself cannot run without.

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// ProcessError reports a benchmark process that exited outside the
// configured expectation, carrying the captured stderr for context. For
// the error checking tools an exit with the reserved error exitcode
// means the tool found errors in the benchmark.
type ProcessError struct {
	Tool     valgrind.Tool
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s: benchmark '%s' exited with code %d", e.Tool.ID(), e.Command, e.ExitCode)
	if strconv.Itoa(e.ExitCode) == errorToolExitCode && e.Tool.IsErrorTool() {
		msg += fmt.Sprintf(" (%s reported errors, see the log file)", e.Tool.ID())
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// procSpec is one assembled valgrind invocation.
type procSpec struct {
	binary string   // the valgrind executable
	args   []string // tool options, then the benchmark command and its arguments
	env    []string // the complete child environment
	dir    string   // working directory
}

// procResult is the outcome of a finished process. A non-zero exit code
// is a result here, not an error: whether it is acceptable depends on
// the benchmark's exit expectation.
type procResult struct {
	exitCode int
	stdout   []byte
	stderr   []byte
}

// execFunc launches a process and waits for it. The default is
// execProcess; tests substitute a fake to exercise the pipeline without
// a valgrind installation.
type execFunc func(ctx context.Context, spec procSpec) (procResult, error)

// execProcess runs the process with captured output. Errors mean the
// process could not be started at all; exits are reported in the result,
// with a negative code when a signal killed the process.
func execProcess(ctx context.Context, spec procSpec) (procResult, error) {
	cmd := exec.CommandContext(ctx, spec.binary, spec.args...)
	cmd.Env = spec.env
	cmd.Dir = spec.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := procResult{stdout: stdout.Bytes(), stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("failed to launch '%s': %w", spec.binary, err)
		}
		res.exitCode = exitErr.ExitCode()
	}
	return res, nil
}

// buildEnv constructs the benchmark's environment from scratch. The
// loader variables always pass through because valgrind injects its
// preloads with them; memcheck additionally needs the debuginfo lookup
// variables to resolve suppressions. Entries are "KEY=VALUE" assignments
// taken verbatim or bare "KEY" names copied from the parent.
func buildEnv(tool valgrind.Tool, entries []string) []string {
	passthrough := []string{"LD_PRELOAD", "LD_LIBRARY_PATH"}
	if tool == valgrind.Memcheck {
		passthrough = append(passthrough, "DEBUGINFOD_URLS", "PATH", "HOME")
	}

	env := make([]string, 0, len(passthrough)+len(entries))
	for _, key := range passthrough {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+value)
		}
	}
	for _, entry := range entries {
		if strings.Contains(entry, "=") {
			env = append(env, entry)
			continue
		}
		if value, ok := os.LookupEnv(entry); ok {
			env = append(env, entry+"="+value)
		}
	}
	return env
}

// checkExit validates the exit code against the benchmark's expectation:
// success when unset, any failure for "failure", or one exact code. A
// negative code means a signal and never passes.
func checkExit(tool valgrind.Tool, command string, res procResult, exitWith string) error {
	fail := func() error {
		return &ProcessError{
			Tool:     tool,
			Command:  command,
			ExitCode: res.exitCode,
			Stderr:   strings.TrimSpace(string(res.stderr)),
		}
	}
	if res.exitCode < 0 {
		return fail()
	}

	switch exitWith {
	case "", "success":
		if res.exitCode != 0 {
			return fail()
		}
	case "failure":
		if res.exitCode == 0 {
			return fail()
		}
	default:
		expected, err := strconv.Atoi(exitWith)
		if err != nil {
			return fmt.Errorf("%w: invalid exit expectation '%s'", ErrInvalidConfig, exitWith)
		}
		if res.exitCode != expected {
			return fail()
		}
	}
	return nil
}
