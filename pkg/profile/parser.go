// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// Format selects the engine variant a dialect parses with.
type Format uint8

const (
	// FormatLogfile reads the "==pid==" log file header and keeps the body
	// as free-text details. Used alone for tools without extractable
	// metrics (massif, exp-bbv).
	FormatLogfile Format = iota
	// FormatBody reads the callgrind output body format with its
	// positional events header.
	FormatBody
	// FormatErrorSummary reads the log file format and extracts the four
	// "ERROR SUMMARY" counters.
	FormatErrorSummary
	// FormatDhat reads the log file format and extracts the DHAT counter
	// fields starting at the "Total:" line.
	FormatDhat
)

// Dialect is one row of the engine configuration: how a tool's files map
// onto the shared parsing machinery.
type Dialect struct {
	Tool   valgrind.Tool
	Format Format
	// Namespace scopes metric names for the dialects that extract metrics.
	Namespace metrics.Namespace
	// HasMetrics is false for tools whose files the harness stores but
	// does not extract metrics from.
	HasMetrics bool
}

var dialects = map[valgrind.Tool]Dialect{
	valgrind.Callgrind:  {Tool: valgrind.Callgrind, Format: FormatBody, Namespace: metrics.NamespaceCallgrind, HasMetrics: true},
	valgrind.Cachegrind: {Tool: valgrind.Cachegrind, Format: FormatBody, Namespace: metrics.NamespaceCachegrind, HasMetrics: true},
	valgrind.DHAT:       {Tool: valgrind.DHAT, Format: FormatDhat, Namespace: metrics.NamespaceDhat, HasMetrics: true},
	valgrind.Memcheck:   {Tool: valgrind.Memcheck, Format: FormatErrorSummary, Namespace: metrics.NamespaceError, HasMetrics: true},
	valgrind.Helgrind:   {Tool: valgrind.Helgrind, Format: FormatErrorSummary, Namespace: metrics.NamespaceError, HasMetrics: true},
	valgrind.DRD:        {Tool: valgrind.DRD, Format: FormatErrorSummary, Namespace: metrics.NamespaceError, HasMetrics: true},
	valgrind.Massif:     {Tool: valgrind.Massif, Format: FormatLogfile},
	valgrind.BBV:        {Tool: valgrind.BBV, Format: FormatLogfile},
}

// DialectFor returns the engine configuration for a tool.
func DialectFor(tool valgrind.Tool) Dialect {
	if d, ok := dialects[tool]; ok {
		return d
	}
	return Dialect{Tool: tool, Format: FormatLogfile}
}

// Parser turns a single tool file into a Segment. Implementations are
// stateless and safe for concurrent use.
type Parser interface {
	// ParseFile parses one output or log file.
	ParseFile(path string) (Segment, error)
}

// ParserFor returns the metrics parser for a tool's files. Body format
// tools are parsed in summary mode; the full body walk for flamegraphs is
// a separate parser, see NewCallMapParser.
func ParserFor(tool valgrind.Tool) Parser {
	d := DialectFor(tool)
	switch d.Format {
	case FormatBody:
		return &BodyParser{Dialect: d}
	case FormatErrorSummary:
		return &ErrorSummaryParser{Dialect: d}
	case FormatDhat:
		return &DhatParser{Dialect: d}
	default:
		return &LogfileParser{Dialect: d}
	}
}

// ParseRun parses every real file the output path resolves to and builds
// the tool's Run. Body format tools read their ".out" files, all others
// their ".log" files; a path resolving to no files yields an empty run.
//
// The per-part files parse concurrently. Parsers are stateless, each
// goroutine writes its own slot, and NewRun restores identity order
// afterwards, so the result does not depend on scheduling.
func ParseRun(ctx context.Context, p Parser, out valgrind.OutputPath) (Run, error) {
	tool := out.Tool
	if DialectFor(tool).Format != FormatBody {
		out = out.ToLog()
	}

	paths, err := out.RealPaths()
	if err != nil {
		return Run{Tool: tool, Total: metrics.New()}, nil
	}
	slog.Debug("parsing tool files",
		slog.String("tool", tool.ID()),
		slog.String("path", out.Path()),
		slog.Int("files", len(paths)))

	segments := make([]Segment, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path // per-iteration copies; required under go 1.21 loop semantics
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			segment, err := p.ParseFile(path)
			if err != nil {
				return err
			}
			segments[i] = segment
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Run{}, err
	}
	return NewRun(tool, segments)
}
