// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package valgrind models the supported Valgrind tools: their identifiers,
// which metric namespace each one reports into, the derived cache metrics
// computed from the cache simulation counters, and the layout of the output
// files a tool run leaves behind.
package valgrind

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// Tool enumerates the Valgrind tools the harness can drive. Callgrind is the
// default profiling tool.
type Tool uint8

const (
	Callgrind Tool = iota
	Cachegrind
	DHAT
	Memcheck
	Helgrind
	DRD
	Massif
	BBV
)

// ID returns the identifier used by the valgrind --tool option, e.g.
// "callgrind" or "exp-bbv".
func (t Tool) ID() string {
	switch t {
	case Callgrind:
		return "callgrind"
	case Cachegrind:
		return "cachegrind"
	case DHAT:
		return "dhat"
	case Memcheck:
		return "memcheck"
	case Helgrind:
		return "helgrind"
	case DRD:
		return "drd"
	case Massif:
		return "massif"
	case BBV:
		return "exp-bbv"
	default:
		return fmt.Sprintf("Tool(%d)", uint8(t))
	}
}

func (t Tool) String() string {
	return t.ID()
}

// ParseTool resolves a tool from its valgrind identifier, case insensitively.
func ParseTool(s string) (Tool, error) {
	switch strings.ToLower(s) {
	case "callgrind":
		return Callgrind, nil
	case "cachegrind":
		return Cachegrind, nil
	case "dhat":
		return DHAT, nil
	case "memcheck":
		return Memcheck, nil
	case "helgrind":
		return Helgrind, nil
	case "drd":
		return DRD, nil
	case "massif":
		return Massif, nil
	case "exp-bbv":
		return BBV, nil
	default:
		return Callgrind, fmt.Errorf("unknown tool '%s'", s)
	}
}

// HasOutputFile reports whether the tool writes dedicated output files next
// to its log. The error checking tools report through the log file only.
func (t Tool) HasOutputFile() bool {
	switch t {
	case Callgrind, Cachegrind, DHAT, Massif, BBV:
		return true
	default:
		return false
	}
}

// IsErrorTool reports whether the tool reports error counters instead of
// profile metrics.
func (t Tool) IsErrorTool() bool {
	switch t {
	case Memcheck, Helgrind, DRD:
		return true
	default:
		return false
	}
}

// Namespace returns the metric namespace the tool reports into. Massif and
// BBV produce output files the harness stores but does not extract metrics
// from, so they carry no namespace.
func (t Tool) Namespace() (metrics.Namespace, bool) {
	switch t {
	case Callgrind:
		return metrics.NamespaceCallgrind, true
	case Cachegrind:
		return metrics.NamespaceCachegrind, true
	case DHAT:
		return metrics.NamespaceDhat, true
	case Memcheck, Helgrind, DRD:
		return metrics.NamespaceError, true
	default:
		return 0, false
	}
}

// MarshalText encodes the tool as its valgrind identifier.
func (t Tool) MarshalText() ([]byte, error) {
	return []byte(t.ID()), nil
}

// UnmarshalText decodes a valgrind tool identifier.
func (t *Tool) UnmarshalText(text []byte) error {
	parsed, err := ParseTool(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
