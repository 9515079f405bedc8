// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file writes the flamegraph artifacts of a callgrind run: the new
// run's folded stacks, the old run's when its files are still on disk,
// and the differential between the two. The files store folded stacks
// rather than rendered graphs, ready for inferno or flamegraph.pl.

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/benchgrind/pkg/config"
	"github.com/AleutianAI/benchgrind/pkg/flamegraph"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/profile"
	"github.com/AleutianAI/benchgrind/pkg/summary"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// flamegraphKinds are the metric kinds folded after a callgrind run.
var flamegraphKinds = []metrics.Kind{metrics.Ir}

// writeFlamegraphs folds the run's call graph and writes the folded
// stack files next to the tool outputs. With old files on disk it also
// writes the old stacks and the differential; diffBase is nil on a first
// run and on saves, where the old files were just overwritten.
func (r *Runner) writeFlamegraphs(
	ctx context.Context,
	cfg *config.Config,
	tc config.Tool,
	out valgrind.OutputPath,
	diffBase *valgrind.OutputPath,
) ([]summary.Flamegraph, error) {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "runner.Flamegraph",
		trace.WithAttributes(attribute.String("benchgrind.tool", out.Tool.ID())))
	defer span.End()

	parser := profile.NewCallMapParser(cfg.ProjectRoot, tc.EntryPoint)
	newMap, err := parser.Parse(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "call graph parse failed")
		return nil, err
	}

	var oldMap *profile.CallMap
	if diffBase != nil {
		oldMap, err = parser.Parse(*diffBase)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "old call graph parse failed")
			return nil, err
		}
	}

	graphs := make([]summary.Flamegraph, 0, len(flamegraphKinds))
	for _, kind := range flamegraphKinds {
		graph, err := writeFolded(newMap, oldMap, kind, out)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "flamegraph write failed")
			return nil, err
		}
		graphs = append(graphs, graph)
	}

	span.SetAttributes(attribute.Int("benchgrind.flamegraphs", len(graphs)))
	span.SetStatus(codes.Ok, "flamegraphs written")
	return graphs, nil
}

// writeFolded writes one kind's folded stack files and returns their
// manifest entry. Without an old call graph only the new stacks are
// written.
func writeFolded(newMap, oldMap *profile.CallMap, kind metrics.Kind, out valgrind.OutputPath) (summary.Flamegraph, error) {
	newSet, err := flamegraph.Fold(newMap, kind)
	if err != nil {
		return summary.Flamegraph{}, err
	}

	graph := summary.Flamegraph{Kind: kind, Path: foldedPath(out, kind, "")}
	if err := writeStackFile(graph.Path, newSet); err != nil {
		return graph, err
	}
	if oldMap == nil {
		return graph, nil
	}

	oldSet, err := flamegraph.Fold(oldMap, kind)
	if err != nil {
		return graph, err
	}
	graph.BasePath = foldedPath(out, kind, "old")
	if err := writeStackFile(graph.BasePath, oldSet); err != nil {
		return graph, err
	}
	graph.DiffPath = foldedPath(out, kind, "diff")
	if err := writeStackFile(graph.DiffPath, flamegraph.Diff(newSet, oldSet)); err != nil {
		return graph, err
	}
	return graph, nil
}

// foldedPath names a folded stack file. The names stay outside the tool
// file scheme so RealPaths and Sanitize never pick them up.
func foldedPath(out valgrind.OutputPath, kind metrics.Kind, variant string) string {
	parts := []string{out.Prefix(), "flamegraph", strings.ToLower(kind.String())}
	if variant != "" {
		parts = append(parts, variant)
	}
	parts = append(parts, "folded")
	return filepath.Join(out.Dir, strings.Join(parts, "."))
}

func writeStackFile(path string, set *flamegraph.StackSet) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create flamegraph file '%s': %w", path, err)
	}
	if err := set.WriteFolded(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write flamegraph file '%s': %w", path, err)
	}
	return f.Close()
}
