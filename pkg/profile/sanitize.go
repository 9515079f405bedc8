// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file renames the files a tool run leaves behind to the canonical
// naming scheme. The tools encode pids, parts and threads in their own
// file name suffixes (".#<pid>", ".<part>", "-<thread>") which differ per
// tool and have changed between valgrind versions, so for callgrind out
// files the information is taken from the file headers instead of the
// names. Without this step OutputPath.RealPaths would not find the files.

package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// The raw file name suffixes after the "<tool>.<name>" prefix as the tools
// create them. Flamegraph and summary files never match. The baseline name
// can only consist of alphanumeric and underscore characters, see
// valgrind.ValidateBaselineName.
var (
	rawCallgrindRe = regexp.MustCompile(
		`^(?P<type>\.(?:out|log))(?P<base>\.(?:old|base@[^.-]+))?(?P<pid>\.#[0-9]+)?(?P<part>\.[0-9]+)?(?P<thread>-[0-9]+)?$`)
	rawBbvRe = regexp.MustCompile(
		`^(?P<type>\.(?:out|log))(?P<base>\.(?:old|base@[^.]+))?(?P<bbv>\.(?:bb|pc))?(?P<pid>\.#[0-9]+)?(?P<thread>\.[0-9]+)?$`)
	rawGenericRe = regexp.MustCompile(
		`^(?P<type>\.(?:out|log))(?P<base>\.(?:old|base@[^.]+))?(?P<pid>\.#[0-9]+)?$`)
)

// Sanitize renames the raw output files of a finished tool run to the
// canonical "<tool>.<name>[.<pid>][.t<tid>][.p<part>].<ext>" scheme and
// removes empty files, which callgrind occasionally produces and which only
// cause problems in the parsers. Pid, thread and part segments are included
// only when the run actually split along that axis, so the single-process
// single-thread case keeps the plain "<tool>.<name>.out" name. Old files
// are left alone: they were sanitized while they were current.
func Sanitize(out valgrind.OutputPath) error {
	switch out.Tool {
	case valgrind.Callgrind:
		return sanitizeCallgrind(out)
	case valgrind.BBV:
		return sanitizeBBV(out)
	default:
		return sanitizeGeneric(out)
	}
}

// rawFile is one directory entry matching a raw naming scheme, with the
// captured name components. Absent components are empty strings.
type rawFile struct {
	path   string
	typ    string // ".out" or ".log"
	base   string // ".base@<name>" or empty
	pid    string // ".#<pid>" or empty
	part   string // ".<part>" or empty
	thread string // "-<thread>" (callgrind), ".<thread>" (bbv) or empty
	bbv    string // ".bb" or ".pc" or empty
}

// scanRaw collects the files matching the given raw naming scheme and
// removes empty ones. Shifted ".old" files are skipped.
func scanRaw(out valgrind.OutputPath, re *regexp.Regexp) ([]rawFile, error) {
	entries, err := os.ReadDir(out.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed opening benchmark directory '%s': %w", out.Dir, err)
	}

	prefix := out.Prefix()
	var files []rawFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		suffix, ok := strings.CutPrefix(entry.Name(), prefix)
		if !ok {
			continue
		}
		m := re.FindStringSubmatch(suffix)
		if m == nil {
			continue
		}

		path := filepath.Join(out.Dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat benchmark file '%s': %w", path, err)
		}
		if info.Size() == 0 {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("failed to remove empty file '%s': %w", path, err)
			}
			continue
		}

		raw := rawFile{path: path}
		for i, name := range re.SubexpNames() {
			switch name {
			case "type":
				raw.typ = m[i]
			case "base":
				raw.base = m[i]
			case "pid":
				raw.pid = m[i]
			case "part":
				raw.part = m[i]
			case "thread":
				raw.thread = m[i]
			case "bbv":
				raw.bbv = m[i]
			}
		}
		if raw.base == ".old" {
			continue
		}
		files = append(files, raw)
	}
	return files, nil
}

// sanitizeCallgrind renames callgrind files. The pid, thread and part of an
// out file come from its header, which is authoritative where the file names
// are flaky; log files carry no header, so only the pid from the name is
// kept. Grouping decides which segments a name needs: the pid only when
// several processes dumped, thread and part only when either axis split.
func sanitizeCallgrind(out valgrind.OutputPath) error {
	files, err := scanRaw(out, rawCallgrindRe)
	if err != nil {
		return err
	}

	type key struct {
		typ  string
		base string
	}
	type pidKey struct {
		known bool
		pid   int32
	}
	type threadKey struct {
		known  bool
		thread int
	}
	type outFile struct {
		path string
		part *uint64
	}

	dialect := DialectFor(out.Tool)
	groups := make(map[key]map[pidKey]map[threadKey][]outFile)
	for _, raw := range files {
		var (
			pid    pidKey
			thread threadKey
			part   *uint64
		)
		if raw.typ == ".out" {
			props, err := probeHeader(raw.path, dialect)
			if err != nil {
				return err
			}
			if props.pid != nil {
				pid = pidKey{known: true, pid: *props.pid}
			}
			if props.thread != nil {
				thread = threadKey{known: true, thread: *props.thread}
			}
			part = props.part
		} else if raw.pid != "" {
			n, err := strconv.ParseInt(raw.pid[2:], 10, 32)
			if err != nil {
				return parseErr(raw.path, "invalid pid in file name")
			}
			pid = pidKey{known: true, pid: int32(n)}
		}

		k := key{typ: raw.typ, base: raw.base}
		if groups[k] == nil {
			groups[k] = make(map[pidKey]map[threadKey][]outFile)
		}
		if groups[k][pid] == nil {
			groups[k][pid] = make(map[threadKey][]outFile)
		}
		groups[k][pid][thread] = append(groups[k][pid][thread], outFile{path: raw.path, part: part})
	}

	for k, pids := range groups {
		multiplePids := len(pids) > 1
		for pid, threads := range pids {
			multipleThreads := len(threads) > 1
			for thread, parts := range threads {
				multipleParts := len(parts) > 1
				for _, f := range parts {
					name := out.Prefix()
					if multiplePids && pid.known {
						name += fmt.Sprintf(".%d", pid.pid)
					}
					// As soon as one of the two axes splits, both modifiers
					// are kept so the names stay unambiguous.
					if multipleThreads || multipleParts {
						if thread.known {
							name += fmt.Sprintf(".t%0*d", digits(len(threads)), thread.thread)
						}
						if f.part != nil {
							name += fmt.Sprintf(".p%0*d", digits(len(parts)), *f.part)
						}
					}
					name += k.typ + k.base
					if err := renameFile(f.path, filepath.Join(out.Dir, name)); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// sanitizeBBV renames exp-bbv files. The bb out files get a ".<thread>"
// suffix for every thread but the first, which has none, so a missing
// suffix means thread one. Only the bb files split per thread; the pc file
// covers all threads.
func sanitizeBBV(out valgrind.OutputPath) error {
	files, err := scanRaw(out, rawBbvRe)
	if err != nil {
		return err
	}

	type key struct {
		typ  string
		base string
		bbv  string
	}
	type threadFile struct {
		path   string
		thread int
	}

	groups := make(map[key]map[string][]threadFile)
	for _, raw := range files {
		thread := 1
		if raw.thread != "" {
			thread, err = strconv.Atoi(raw.thread[1:])
			if err != nil {
				return parseErr(raw.path, "invalid thread in file name")
			}
		}
		pid := ""
		if raw.pid != "" {
			pid = "." + raw.pid[2:]
		}

		k := key{typ: raw.typ, base: raw.base, bbv: raw.bbv}
		if groups[k] == nil {
			groups[k] = make(map[string][]threadFile)
		}
		groups[k][pid] = append(groups[k][pid], threadFile{path: raw.path, thread: thread})
	}

	for k, pids := range groups {
		multiplePids := len(pids) > 1
		for pid, threads := range pids {
			multipleThreads := len(threads) > 1
			for _, f := range threads {
				name := out.Prefix()
				if multiplePids {
					name += pid
				}
				if multipleThreads && k.bbv == ".bb" {
					name += fmt.Sprintf(".t%0*d", digits(len(threads)), f.thread)
				}
				name += k.bbv + k.typ + k.base
				if err := renameFile(f.path, filepath.Join(out.Dir, name)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// sanitizeGeneric renames the files of the tools whose only raw suffix is
// the pid appended under --trace-children. The pid is dropped again when
// only a single process ran.
func sanitizeGeneric(out valgrind.OutputPath) error {
	files, err := scanRaw(out, rawGenericRe)
	if err != nil {
		return err
	}

	type key struct {
		typ  string
		base string
	}
	type pidFile struct {
		path string
		pid  string
	}

	groups := make(map[key][]pidFile)
	for _, raw := range files {
		pid := ""
		if raw.pid != "" {
			pid = "." + raw.pid[2:]
		}
		k := key{typ: raw.typ, base: raw.base}
		groups[k] = append(groups[k], pidFile{path: raw.path, pid: pid})
	}

	for k, pids := range groups {
		multiplePids := len(pids) > 1
		for _, f := range pids {
			name := out.Prefix()
			if multiplePids {
				name += f.pid
			}
			name += k.typ + k.base
			if err := renameFile(f.path, filepath.Join(out.Dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// probeHeader reads just the header of a body format file.
func probeHeader(path string, d Dialect) (bodyProperties, error) {
	f, err := os.Open(path)
	if err != nil {
		return bodyProperties{}, fmt.Errorf("failed opening output file '%s': %w", path, err)
	}
	defer f.Close()
	return parseBodyHeader(newLineScanner(f), path, d)
}

func renameFile(from, to string) error {
	if from == to {
		return nil
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to move benchmark file from '%s' to '%s': %w", from, to, err)
	}
	return nil
}

// digits is the zero padding width for n enumerated files.
func digits(n int) int {
	w := 1
	for n >= 10 {
		n /= 10
		w++
	}
	return w
}
