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
	"os"

	"github.com/AleutianAI/benchgrind/pkg/runner"
	"github.com/AleutianAI/benchgrind/pkg/ux"
)

// Exit codes of the benchgrind binary. CI pipelines branch on these, so
// they are part of the public contract and never reassigned.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitRegressed = 3
)

// errRegressions marks a run that completed but found fired limits. It
// exists only to carry the regression outcome from a command handler to
// the exit-code mapping.
var errRegressions = errors.New("performance regressions detected")

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Regressions already rendered their own report; repeating the
		// sentinel text under it would just add noise.
		if !errors.Is(err, errRegressions) {
			ux.Error(err.Error())
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the binary's exit code contract.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, runner.ErrInvalidConfig):
		return exitConfig
	case errors.Is(err, errRegressions):
		return exitRegressed
	default:
		return exitFailure
	}
}
