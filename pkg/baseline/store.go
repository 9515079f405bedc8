// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package baseline persists named benchmark snapshots.
//
// The implicit comparison axis (current output files vs their ".old"
// rotation) lives in the output directory and is handled by the valgrind
// path layer. This package covers the explicit axis: a run saved under a
// name survives any number of later runs until it is overwritten by a save
// with the same name or deleted. A snapshot holds the parsed per-tool runs,
// not the raw tool output, so loading one never re-parses anything.
package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/profile"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrBaselineNotFound indicates no baseline exists under the name.
	// Callers treat it as recoverable: a run compared against a missing
	// baseline simply has nothing on the old side.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrInvalidBaseline indicates the stored baseline data is corrupted.
	ErrInvalidBaseline = errors.New("invalid baseline data")
)

// -----------------------------------------------------------------------------
// Record
// -----------------------------------------------------------------------------

// Record is one saved snapshot: every tool's parsed run for one benchmark,
// stored under a baseline name.
type Record struct {
	// Benchmark identifies the benchmark the snapshot belongs to.
	Benchmark string `json:"benchmark"`

	// Name is the baseline name. Must satisfy valgrind.ValidateBaselineName.
	Name string `json:"name"`

	// CreatedAt is when the baseline was first saved.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the baseline was last overwritten.
	UpdatedAt time.Time `json:"updated_at"`

	// Runs holds one entry per profiled tool.
	Runs []StoredRun `json:"runs"`
}

// StoredRun is the serialized form of one tool's parse result.
type StoredRun struct {
	Tool     valgrind.Tool    `json:"tool"`
	Segments []StoredSegment  `json:"segments,omitempty"`
	Total    *metrics.Metrics `json:"total"`
}

// StoredSegment mirrors profile.Segment with a stable wire schema. Optional
// identity attributes stay absent rather than zero so reconstruction
// round-trips exactly.
type StoredSegment struct {
	Path      string           `json:"path,omitempty"`
	Command   string           `json:"command,omitempty"`
	Pid       int32            `json:"pid"`
	ParentPid *int32           `json:"parent_pid,omitempty"`
	Thread    *int             `json:"thread,omitempty"`
	Part      *uint64          `json:"part,omitempty"`
	Details   []string         `json:"details,omitempty"`
	Desc      []string         `json:"desc,omitempty"`
	Metrics   *metrics.Metrics `json:"metrics"`
}

// NewRecord snapshots parsed runs under a baseline name.
//
// Inputs:
//
//	benchmark - Benchmark id. Must not be empty.
//	name - Baseline name, checked against valgrind.ValidateBaselineName.
//	runs - The per-tool parse results to snapshot.
//
// Outputs:
//
//	*Record - The snapshot, with CreatedAt/UpdatedAt left for the store.
//	error - Non-nil for an empty benchmark id or an invalid name.
func NewRecord(benchmark, name string, runs []profile.Run) (*Record, error) {
	if benchmark == "" {
		return nil, errors.New("benchmark id must not be empty")
	}
	if err := valgrind.ValidateBaselineName(name); err != nil {
		return nil, err
	}
	rec := &Record{
		Benchmark: benchmark,
		Name:      name,
		Runs:      make([]StoredRun, 0, len(runs)),
	}
	for _, run := range runs {
		rec.Runs = append(rec.Runs, storeRun(run))
	}
	return rec, nil
}

// Run rebuilds the parsed form of one tool's snapshot.
func (r *Record) Run(tool valgrind.Tool) (profile.Run, bool) {
	for i := range r.Runs {
		if r.Runs[i].Tool == tool {
			return r.Runs[i].toRun(), true
		}
	}
	return profile.Run{}, false
}

// Tools lists the tools the snapshot covers, in stored order.
func (r *Record) Tools() []valgrind.Tool {
	tools := make([]valgrind.Tool, 0, len(r.Runs))
	for i := range r.Runs {
		tools = append(tools, r.Runs[i].Tool)
	}
	return tools
}

func (r *Record) clone() *Record {
	out := *r
	out.Runs = make([]StoredRun, 0, len(r.Runs))
	for i := range r.Runs {
		sr := r.Runs[i]
		sr.Total = cloneMetrics(sr.Total)
		sr.Segments = slices.Clone(sr.Segments)
		for j := range sr.Segments {
			seg := &sr.Segments[j]
			seg.ParentPid = clonePtr(seg.ParentPid)
			seg.Thread = clonePtr(seg.Thread)
			seg.Part = clonePtr(seg.Part)
			seg.Details = slices.Clone(seg.Details)
			seg.Desc = slices.Clone(seg.Desc)
			seg.Metrics = cloneMetrics(seg.Metrics)
		}
		out.Runs = append(out.Runs, sr)
	}
	return &out
}

func storeRun(run profile.Run) StoredRun {
	sr := StoredRun{
		Tool:     run.Tool,
		Total:    cloneMetrics(run.Total),
		Segments: make([]StoredSegment, 0, len(run.Segments)),
	}
	for _, seg := range run.Segments {
		sr.Segments = append(sr.Segments, StoredSegment{
			Path:      seg.Path,
			Command:   seg.Command,
			Pid:       seg.Pid,
			ParentPid: clonePtr(seg.ParentPid),
			Thread:    clonePtr(seg.Thread),
			Part:      clonePtr(seg.Part),
			Details:   slices.Clone(seg.Details),
			Desc:      slices.Clone(seg.Desc),
			Metrics:   cloneMetrics(seg.Metrics),
		})
	}
	return sr
}

func (s *StoredRun) toRun() profile.Run {
	run := profile.Run{
		Tool:     s.Tool,
		Total:    cloneMetrics(s.Total),
		Segments: make([]profile.Segment, 0, len(s.Segments)),
	}
	for _, seg := range s.Segments {
		run.Segments = append(run.Segments, profile.Segment{
			Path:      seg.Path,
			Command:   seg.Command,
			Pid:       seg.Pid,
			ParentPid: clonePtr(seg.ParentPid),
			Thread:    clonePtr(seg.Thread),
			Part:      clonePtr(seg.Part),
			Details:   slices.Clone(seg.Details),
			Desc:      slices.Clone(seg.Desc),
			Metrics:   cloneMetrics(seg.Metrics),
		})
	}
	return run
}

func cloneMetrics(m *metrics.Metrics) *metrics.Metrics {
	if m == nil {
		return metrics.New()
	}
	return m.Clone()
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// Store persists and retrieves baseline records, keyed by benchmark id and
// baseline name.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the named baseline of a benchmark.
	// Returns ErrBaselineNotFound if no baseline exists under the name.
	Get(ctx context.Context, benchmark, name string) (*Record, error)

	// Set stores a baseline, overwriting an earlier save under the same
	// name. The record's timestamps are stamped by the store.
	Set(ctx context.Context, rec *Record) error

	// List returns a benchmark's baseline names in sorted order.
	List(ctx context.Context, benchmark string) ([]string, error)

	// Delete removes a named baseline.
	// Returns ErrBaselineNotFound if no baseline exists under the name.
	Delete(ctx context.Context, benchmark, name string) error
}

// validateKey rejects identities a store cannot address. The name rule is
// the shared baseline grammar; the benchmark check only rules out values
// that cannot form a storage key.
func validateKey(benchmark, name string) error {
	if benchmark == "" {
		return errors.New("benchmark id must not be empty")
	}
	if strings.ContainsRune(benchmark, 0) {
		return errors.New("benchmark id must not contain NUL")
	}
	return valgrind.ValidateBaselineName(name)
}

func recordKey(benchmark, name string) string {
	return benchmark + "\x00" + name
}

func stamp(rec *Record) {
	rec.UpdatedAt = time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
}

// -----------------------------------------------------------------------------
// Memory Store (for testing)
// -----------------------------------------------------------------------------

// MemoryStore keeps baselines in memory. Data is lost when the process
// exits; useful for tests and dry runs.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Record
}

// NewMemoryStore creates a memory-backed baseline store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Record)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, benchmark, name string) (*Record, error) {
	if err := validateKey(benchmark, name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[recordKey(benchmark, name)]
	if !ok {
		return nil, ErrBaselineNotFound
	}
	return rec.clone(), nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("baseline record must not be nil")
	}
	if err := validateKey(rec.Benchmark, rec.Name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := rec.clone()
	if prev, ok := m.data[recordKey(rec.Benchmark, rec.Name)]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	stamp(stored)
	m.data[recordKey(rec.Benchmark, rec.Name)] = stored
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, benchmark string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := benchmark + "\x00"
	var names []string
	for key := range m.data {
		if rest, ok := strings.CutPrefix(key, prefix); ok {
			names = append(names, rest)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, benchmark, name string) error {
	if err := validateKey(benchmark, name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(benchmark, name)
	if _, ok := m.data[key]; !ok {
		return ErrBaselineNotFound
	}
	delete(m.data, key)
	return nil
}

// -----------------------------------------------------------------------------
// File Store
// -----------------------------------------------------------------------------

// FileStore persists baselines as JSON files, one directory per benchmark:
// {dir}/{benchmark}/{name}.json.
//
// Thread Safety: Safe for concurrent use within one process. No cross
// process locking; concurrent writers from separate processes race.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a file-backed baseline store rooted at dir,
// creating the directory when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create baseline directory '%s': %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Get implements Store.
func (f *FileStore) Get(_ context.Context, benchmark, name string) (*Record, error) {
	if err := validateKey(benchmark, name); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.recordPath(benchmark, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBaselineNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseline, err)
	}
	return &rec, nil
}

// Set implements Store.
func (f *FileStore) Set(_ context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("baseline record must not be nil")
	}
	if err := validateKey(rec.Benchmark, rec.Name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := rec.clone()
	if prev, err := f.read(rec.Benchmark, rec.Name); err == nil {
		stored.CreatedAt = prev.CreatedAt
	}
	stamp(stored)

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Join(f.dir, benchmarkDir(rec.Benchmark))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create baseline directory '%s': %w", dir, err)
	}
	return os.WriteFile(f.recordPath(rec.Benchmark, rec.Name), data, 0644)
}

// List implements Store.
func (f *FileStore) List(_ context.Context, benchmark string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(f.dir, benchmarkDir(benchmark)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), ".json"); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context, benchmark, name string) error {
	if err := validateKey(benchmark, name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.recordPath(benchmark, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrBaselineNotFound
	}
	return os.Remove(path)
}

func (f *FileStore) read(benchmark, name string) (*Record, error) {
	data, err := os.ReadFile(f.recordPath(benchmark, name))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (f *FileStore) recordPath(benchmark, name string) string {
	return filepath.Join(f.dir, benchmarkDir(benchmark), name+".json")
}

// benchmarkDir turns a benchmark id into a single directory component.
// Only the path separator and NUL are illegal in unix file names; a bare
// dot component would escape the store root.
func benchmarkDir(benchmark string) string {
	mapped := strings.Map(func(r rune) rune {
		if r == '/' || r == 0 {
			return '_'
		}
		return r
	}, benchmark)
	if mapped == "." || mapped == ".." {
		return "_" + mapped
	}
	return mapped
}
