// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package valgrind

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// BaselineKind selects what the current run is compared against: the
// previous run's files (shifted to ".old" before each run) or a named
// baseline stored in ".base@<name>" files.
type BaselineKind struct {
	name string
}

// CompareToOld compares against the previous run.
func CompareToOld() BaselineKind {
	return BaselineKind{}
}

// CompareToBaseline compares against (and saves under) a named baseline.
// The name must satisfy ValidateBaselineName.
func CompareToBaseline(name string) BaselineKind {
	return BaselineKind{name: name}
}

// Name returns the baseline name, ok=false for the old-run kind.
func (b BaselineKind) Name() (string, bool) {
	return b.name, b.name != ""
}

// ValidateBaselineName enforces the baseline naming rule shared by the file
// layout and the baseline store.
func ValidateBaselineName(name string) error {
	for _, c := range name {
		if c > 0x7f || !(c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return fmt.Errorf(
				"a baseline name can only consist of ascii characters which are alphanumeric or '_' but found: '%c'", c)
		}
	}
	return nil
}

// PathKind is the file role an OutputPath addresses.
type PathKind uint8

const (
	// PathOut addresses the current "*.out" files.
	PathOut PathKind = iota
	// PathLog addresses the current "*.log" files.
	PathLog
	// PathOldOut addresses the shifted "*.out.old" files.
	PathOldOut
	// PathOldLog addresses the shifted "*.log.old" files.
	PathOldLog
	// PathBaseOut addresses "*.out.base@<name>" files.
	PathBaseOut
	// PathBaseLog addresses "*.log.base@<name>" files.
	PathBaseLog
)

// OutputPath addresses the output files of one tool for one benchmark.
//
// The on-disk scheme is "<tool>.<name>[.<pid>][.t<tid>][.p<part>].<ext>"
// with ext one of out, log, out.old, log.old, out.base@<base> or
// log.base@<base>. A single path value can therefore resolve to several
// real files when the benchmark forked, ran threads separately or dumped
// multiple parts.
type OutputPath struct {
	Kind      PathKind
	Tool      Tool
	Baseline  BaselineKind
	Dir       string
	Name      string
	Modifiers []string
}

// NewOutputPath returns the out-file path for a tool under dir. Tools
// without output files address their log instead.
func NewOutputPath(tool Tool, baseline BaselineKind, dir, name string) OutputPath {
	kind := PathOut
	if !tool.HasOutputFile() {
		kind = PathLog
	}
	return OutputPath{
		Kind:     kind,
		Tool:     tool,
		Baseline: baseline,
		Dir:      dir,
		Name:     SanitizeName(name),
	}
}

// SanitizeName keeps benchmark names usable as file name components.
// Only the path separator and NUL are illegal in unix file names.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == 0 {
			return '_'
		}
		return r
	}, name)
}

// Init creates the output directory.
func (p OutputPath) Init() error {
	if err := os.MkdirAll(p.Dir, 0750); err != nil {
		return fmt.Errorf("failed to create benchmark directory '%s': %w", p.Dir, err)
	}
	return nil
}

// Prefix returns the "<tool>.<name>" file name prefix.
func (p OutputPath) Prefix() string {
	return p.Tool.ID() + "." + p.Name
}

// Extension returns the extension for this path kind including modifiers.
func (p OutputPath) Extension() string {
	var ext string
	switch p.Kind {
	case PathOut:
		ext = "out"
	case PathLog:
		ext = "log"
	case PathOldOut:
		ext = "out.old"
	case PathOldLog:
		ext = "log.old"
	case PathBaseOut:
		name, _ := p.Baseline.Name()
		ext = "out.base@" + name
	case PathBaseLog:
		name, _ := p.Baseline.Name()
		ext = "log.base@" + name
	}
	if len(p.Modifiers) > 0 {
		ext += "." + strings.Join(p.Modifiers, ".")
	}
	return ext
}

// Path returns the unexpanded file path. It can carry valgrind format
// specifiers like %p in a modifier and is then only usable as a value for
// the tool's output file option, not as a real file.
func (p OutputPath) Path() string {
	return filepath.Join(p.Dir, p.Prefix()+"."+p.Extension())
}

// WithModifiers returns a copy addressing files with the given modifier
// segments between the name and the extension.
func (p OutputPath) WithModifiers(modifiers ...string) OutputPath {
	q := p
	q.Modifiers = modifiers
	return q
}

// ToLog returns the log-file counterpart of this path.
func (p OutputPath) ToLog() OutputPath {
	q := p
	switch p.Kind {
	case PathOut:
		q.Kind = PathLog
	case PathOldOut:
		q.Kind = PathOldLog
	case PathBaseOut:
		q.Kind = PathBaseLog
	}
	return q
}

// ToBase returns the comparison counterpart of this path: the ".old" files
// for the old-run baseline kind, the ".base@<name>" files for a named one.
func (p OutputPath) ToBase() OutputPath {
	q := p
	if _, named := p.Baseline.Name(); named {
		switch p.Kind {
		case PathOut, PathBaseOut:
			q.Kind = PathBaseOut
		case PathLog, PathBaseLog:
			q.Kind = PathBaseLog
		}
		return q
	}
	switch p.Kind {
	case PathOut:
		q.Kind = PathOldOut
	case PathLog:
		q.Kind = PathOldLog
	}
	return q
}

// ToTool returns this path addressed at another tool, switching between the
// out and log kinds when the tools differ in having output files.
func (p OutputPath) ToTool(tool Tool) OutputPath {
	q := p
	q.Tool = tool
	if tool.HasOutputFile() {
		switch p.Kind {
		case PathLog:
			q.Kind = PathOut
		case PathOldLog:
			q.Kind = PathOldOut
		case PathBaseLog:
			q.Kind = PathBaseOut
		}
	} else {
		switch p.Kind {
		case PathOut:
			q.Kind = PathLog
		case PathOldOut:
			q.Kind = PathOldLog
		case PathBaseOut:
			q.Kind = PathBaseLog
		}
	}
	return q
}

// realFileRe matches the sanitized suffix after the "<tool>.<name>" prefix
// and captures the pid, thread and part modifiers.
var realFileRe = regexp.MustCompile(
	`^(?:\.(?P<pid>[0-9]+))?(?:\.t(?P<tid>[0-9]+))?(?:\.p(?P<part>[0-9]+))?(?:\.(?P<bbv>bb|pc))?(?:\.(?P<type>out|log))(?:\.(?P<base>old|base@[^.]+))?$`)

func (p OutputPath) suffixMatches(suffix string) bool {
	m := realFileRe.FindStringSubmatch(suffix)
	if m == nil {
		return false
	}
	typ := m[realFileRe.SubexpIndex("type")]
	base := m[realFileRe.SubexpIndex("base")]
	switch p.Kind {
	case PathOut:
		return typ == "out" && base == ""
	case PathLog:
		return typ == "log" && base == ""
	case PathOldOut:
		return typ == "out" && base == "old"
	case PathOldLog:
		return typ == "log" && base == "old"
	case PathBaseOut:
		name, _ := p.Baseline.Name()
		return typ == "out" && base == "base@"+name
	case PathBaseLog:
		name, _ := p.Baseline.Name()
		return typ == "log" && base == "base@"+name
	default:
		return false
	}
}

// RealPaths returns the existing files this path resolves to, sorted by
// file name. Files in the directory not following the naming scheme, like
// the summary JSON, are ignored.
func (p OutputPath) RealPaths() ([]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed opening benchmark directory '%s': %w", p.Dir, err)
	}

	prefix := p.Prefix()
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		suffix, ok := strings.CutPrefix(entry.Name(), prefix)
		if !ok {
			continue
		}
		if p.suffixMatches(suffix) {
			paths = append(paths, filepath.Join(p.Dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Exists reports whether at least one real file exists.
func (p OutputPath) Exists() bool {
	paths, err := p.RealPaths()
	return err == nil && len(paths) > 0
}

// IsMultiple reports whether the path resolves to more than one real file.
func (p OutputPath) IsMultiple() bool {
	paths, err := p.RealPaths()
	return err == nil && len(paths) > 1
}

// Clear removes the real files of this path.
func (p OutputPath) Clear() error {
	paths, err := p.RealPaths()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove benchmark file '%s': %w", path, err)
		}
	}
	return nil
}

// Shift prepares the directory for a new run. With the old-run baseline
// kind the previous ".old" files are removed and the current files renamed
// to ".old"; with a named baseline the current files are simply removed,
// the baseline files stay untouched.
func (p OutputPath) Shift() error {
	if _, named := p.Baseline.Name(); named {
		return p.Clear()
	}
	if err := p.ToBase().Clear(); err != nil {
		return err
	}
	paths, err := p.RealPaths()
	if err != nil {
		return err
	}
	for _, path := range paths {
		newPath := path + ".old"
		if err := os.Rename(path, newPath); err != nil {
			return fmt.Errorf("failed to move benchmark file from '%s' to '%s': %w", path, newPath, err)
		}
	}
	return nil
}
