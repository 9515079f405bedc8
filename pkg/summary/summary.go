// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package summary builds and persists the versioned JSON document
// describing one benchmark run.
//
// The document records the benchmark's identity, the files the tools
// wrote, the per-tool metric comparisons against the old run or a
// baseline, and every regression limit that fired. It is the only
// artifact other tooling is expected to consume, so its shape is
// versioned: the schema version increments on backwards incompatible
// changes only, and loading a document written by a different version
// is a hard error rather than a best-effort guess.
//
// Float fields that can legitimately hold an infinity, like the
// percentage of a metric growing from zero, are encoded as JSON strings.
// A plain JSON number cannot represent them and would decay to null.
package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// SchemaVersion is the version tag written into every document. It only
// increments on backwards incompatible shape changes.
const SchemaVersion = "6"

// ErrIncompatibleSchemaVersion reports a document written under a
// different schema version. There is no coercion between versions.
var ErrIncompatibleSchemaVersion = errors.New("incompatible summary schema version")

// BenchmarkKind distinguishes library benchmarks, which profile a
// function compiled into the benchmark executable, from binary
// benchmarks profiling a standalone command.
type BenchmarkKind uint8

const (
	LibraryBenchmark BenchmarkKind = iota
	BinaryBenchmark
)

func (k BenchmarkKind) String() string {
	if k == BinaryBenchmark {
		return "binary"
	}
	return "library"
}

// MarshalText encodes the kind as "library" or "binary".
func (k BenchmarkKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes the form produced by MarshalText.
func (k *BenchmarkKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "library":
		*k = LibraryBenchmark
	case "binary":
		*k = BinaryBenchmark
	default:
		return fmt.Errorf("unknown benchmark kind '%s'", text)
	}
	return nil
}

// Baselines names the saved runs taking part in a comparison. New is set
// when the new side itself was loaded from a baseline instead of being
// produced by this run; Old is set when the comparison target is a named
// baseline instead of the previous run's files.
type Baselines struct {
	New *string `json:"new"`
	Old *string `json:"old"`
}

// Benchmark identifies the benchmark function a document describes.
//
// File and Exe may be given relative to ProjectRoot; New makes them
// absolute. ID and Details are optional user-provided annotations.
type Benchmark struct {
	Kind        BenchmarkKind
	ProjectRoot string
	PackageDir  string
	File        string
	Exe         string
	ModulePath  string
	Function    string
	ID          string
	Details     string
}

// Summary is the document of one benchmark run.
//
// Description:
//
//	The top level of the summary JSON. Profiles holds one section per
//	executed tool in execution order.
//
// Thread Safety:
//
//	Not safe for concurrent mutation; build fully, then share.
type Summary struct {
	Version       string        `json:"version"`
	RunID         uuid.UUID     `json:"run_id"`
	Kind          BenchmarkKind `json:"kind"`
	ProjectRoot   string        `json:"project_root"`
	PackageDir    string        `json:"package_dir"`
	BenchmarkFile string        `json:"benchmark_file"`
	BenchmarkExe  string        `json:"benchmark_exe"`
	ModulePath    string        `json:"module_path"`
	FunctionName  string        `json:"function_name"`
	ID            string        `json:"id,omitempty"`
	Details       string        `json:"details,omitempty"`
	Baselines     Baselines     `json:"baselines"`
	Profiles      []Profile     `json:"profiles"`
	Output        *Output       `json:"summary_output,omitempty"`
}

// New starts a document for one benchmark run with a fresh run id.
func New(bench Benchmark, baselines Baselines) *Summary {
	return &Summary{
		Version:       SchemaVersion,
		RunID:         uuid.New(),
		Kind:          bench.Kind,
		ProjectRoot:   bench.ProjectRoot,
		PackageDir:    bench.PackageDir,
		BenchmarkFile: makeAbsolute(bench.ProjectRoot, bench.File),
		BenchmarkExe:  makeAbsolute(bench.ProjectRoot, bench.Exe),
		ModulePath:    bench.ModulePath,
		FunctionName:  bench.Function,
		ID:            bench.ID,
		Details:       bench.Details,
		Baselines:     baselines,
	}
}

func makeAbsolute(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// AddProfile appends one tool's section.
func (s *Summary) AddProfile(p Profile) {
	s.Profiles = append(s.Profiles, p)
}

// Profile returns the section of one tool if the run executed it.
func (s *Summary) Profile(tool valgrind.Tool) (*Profile, bool) {
	for i := range s.Profiles {
		if s.Profiles[i].Tool == tool {
			return &s.Profiles[i], true
		}
	}
	return nil, false
}

// IsRegressed reports whether any tool section recorded a fired
// regression limit.
func (s *Summary) IsRegressed() bool {
	for i := range s.Profiles {
		if s.Profiles[i].Data.IsRegressed() {
			return true
		}
	}
	return false
}

// Encode serializes the document, pretty printed on request.
func (s *Summary) Encode(pretty bool) ([]byte, error) {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(s, "", "  ")
	} else {
		data, err = json.Marshal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to serialize summary to json: %w", err)
	}
	return data, nil
}

// Decode parses a document, rejecting any schema version other than
// SchemaVersion.
//
// Outputs:
//
//	*Summary - the parsed document.
//	error - ErrIncompatibleSchemaVersion naming both versions on a
//	version mismatch, a decode error otherwise.
func Decode(data []byte) (*Summary, error) {
	// The version is checked on a probe before the full decode so a
	// document from a newer format fails with the version message, not
	// with whatever shape error its fields happen to produce.
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed decoding summary: %w", err)
	}
	if probe.Version != SchemaVersion {
		return nil, fmt.Errorf(
			"%w: the document has version '%s' but this build reads version '%s'",
			ErrIncompatibleSchemaVersion, probe.Version, SchemaVersion)
	}

	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed decoding summary: %w", err)
	}
	return &s, nil
}

// Load reads and decodes a summary file.
func Load(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary file '%s': %w", path, err)
	}
	return Decode(data)
}

// Format selects the encoding of a saved document.
type Format uint8

const (
	// FormatJSON writes the document on a single line.
	FormatJSON Format = iota
	// FormatPrettyJSON writes the document indented.
	FormatPrettyJSON
)

func (f Format) String() string {
	if f == FormatPrettyJSON {
		return "pretty-json"
	}
	return "json"
}

// MarshalText encodes the format as "json" or "pretty-json".
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes the form produced by MarshalText.
func (f *Format) UnmarshalText(text []byte) error {
	switch string(text) {
	case "json":
		*f = FormatJSON
	case "pretty-json":
		*f = FormatPrettyJSON
	default:
		return fmt.Errorf("unknown summary format '%s'", text)
	}
	return nil
}

// Output names the destination file of a saved document.
type Output struct {
	Format Format `json:"format"`
	Path   string `json:"path"`
}

// NewOutput addresses "summary.json" under the benchmark output
// directory.
func NewOutput(format Format, dir string) Output {
	return Output{Format: format, Path: filepath.Join(dir, "summary.json")}
}

// Save writes the document to the output path, ending with a newline.
func (o Output) Save(s *Summary) error {
	data, err := s.Encode(o.Format == FormatPrettyJSON)
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.Path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write summary to file '%s': %w", o.Path, err)
	}
	return nil
}
