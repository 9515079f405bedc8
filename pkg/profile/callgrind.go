// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file implements the callgrind body format shared by callgrind and
// cachegrind output files. The grammar is documented at
// https://valgrind.org/docs/manual/cl-format.html: a "key: value" header
// ending with the mandatory "events:" line that declares the positional
// metric prototype, followed by frame context lines ("ob=", "fl=", "fn="),
// callee context lines ("cob=", "cfi=", "cfl=", "cfn=", "calls=") and cost
// lines binding counts to the declared events.

package profile

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// lineScanner wraps bufio.Scanner with 1-based line tracking for parse
// error reporting. The buffer is sized for the long cmd and desc lines
// callgrind can emit.
type lineScanner struct {
	scanner *bufio.Scanner
	line    int
}

func newLineScanner(r io.Reader) *lineScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &lineScanner{scanner: s}
}

// Next returns the next line without its terminator.
func (l *lineScanner) Next() (string, bool) {
	if !l.scanner.Scan() {
		return "", false
	}
	l.line++
	return l.scanner.Text(), true
}

func (l *lineScanner) Err() error {
	return l.scanner.Err()
}

// bodyProperties is the parsed header of a body format file.
type bodyProperties struct {
	pid     *int32
	thread  *int
	part    *uint64
	desc    []string
	command string
	creator string
	// positions is the number of position columns preceding the counters
	// on each cost line. Defaults to one (line numbers).
	positions int
	// prototype holds the declared events in order, zeroed.
	prototype *metrics.Metrics
}

// parseBodyHeader reads the header up to and including the mandatory
// "events:" line. Callgrind files start with a format specifier line which
// is consumed here; a file missing it is assumed to be callgrind format
// anyway, matching callgrind_annotate.
func parseBodyHeader(sc *lineScanner, path string, d Dialect) (bodyProperties, error) {
	props := bodyProperties{positions: 1}

	if d.Tool == valgrind.Callgrind {
		first, ok := "", false
		for {
			line, more := sc.Next()
			if !more {
				break
			}
			if strings.TrimSpace(line) != "" {
				first, ok = line, true
				break
			}
		}
		if !ok {
			return props, parseErr(path, "empty file")
		}
		if !strings.Contains(first, "callgrind format") {
			slog.Warn("missing file format specifier, assuming callgrind format",
				slog.String("path", path))
		}
	}

	for {
		raw, ok := sc.Next()
		if !ok {
			break
		}
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "version":
			if value != "1" {
				return props, parseErr(path, fmt.Sprintf(
					"version mismatch: requires callgrind format version '1' but was '%s'", value))
			}
		case "pid":
			pid, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				return props, &ParseError{Path: path, Line: sc.line, Text: raw, Reason: "invalid pid"}
			}
			p := int32(pid)
			props.pid = &p
		case "thread":
			thread, err := strconv.Atoi(value)
			if err != nil {
				return props, &ParseError{Path: path, Line: sc.line, Text: raw, Reason: "invalid thread"}
			}
			props.thread = &thread
		case "part":
			part, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return props, &ParseError{Path: path, Line: sc.line, Text: raw, Reason: "invalid part"}
			}
			props.part = &part
		case "desc":
			if !strings.HasPrefix(value, "Option:") {
				props.desc = append(props.desc, value)
			}
		case "cmd":
			props.command = value
		case "creator":
			props.creator = value
		case "positions":
			fields := strings.Fields(value)
			for _, f := range fields {
				if f != "instr" && f != "addr" && f != "line" {
					return props, &ParseError{Path: path, Line: sc.line, Text: raw,
						Reason: fmt.Sprintf("invalid position type: '%s'", f)}
				}
			}
			props.positions = len(fields)
		case "events":
			// The events line is the last mandatory header line. The
			// summary line usually follows at the end of the body.
			var kinds []metrics.Kind
			for _, name := range strings.Fields(value) {
				k, err := d.Namespace.ParseKind(name)
				if err != nil {
					return props, &ParseError{Path: path, Line: sc.line, Text: raw, Reason: err.Error()}
				}
				kinds = append(kinds, k)
			}
			props.prototype = metrics.WithKinds(kinds...)
			return props, nil
		default:
			// Unknown header fields like "event:" descriptions are ignored.
		}
	}
	return props, parseErr(path, "header field 'events' must be present")
}

// pathPidRe recovers the pid modifier from a file name following the
// output naming scheme, for the dialects whose headers carry no pid field.
var pathPidRe = regexp.MustCompile(
	`\.([0-9]+)(?:\.t[0-9]+)?(?:\.p[0-9]+)?(?:\.(?:bb|pc))?\.(?:out|log)(?:\.(?:old|base@[^.]+))?$`)

func pidFromPath(path string) (int32, bool) {
	m := pathPidRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	pid, err := strconv.ParseInt(m[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(pid), true
}

// BodyParser extracts the run totals from a body format file: it parses
// the header and takes the metrics from the "summary:" or "totals:" line
// instead of walking every cost line. The derived cache metrics are
// computed when the cache simulation primitives are present.
type BodyParser struct {
	Dialect Dialect
}

// ParseFile implements Parser.
func (p *BodyParser) ParseFile(path string) (Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return Segment{}, fmt.Errorf("failed opening output file '%s': %w", path, err)
	}
	defer f.Close()

	sc := newLineScanner(f)
	props, err := parseBodyHeader(sc, path, p.Dialect)
	if err != nil {
		return Segment{}, err
	}
	if p.Dialect.Tool == valgrind.Cachegrind && props.command == "" {
		return Segment{}, parseErr(path, "header field 'cmd' must be present")
	}

	costs, err := p.scanSummary(sc, path, props)
	if err != nil {
		return Segment{}, err
	}
	if err := sc.Err(); err != nil {
		return Segment{}, fmt.Errorf("failed reading output file '%s': %w", path, err)
	}

	if valgrind.CanSummarize(costs) {
		if err := valgrind.EnrichCacheMetrics(costs); err != nil {
			return Segment{}, parseErr(path, err.Error())
		}
	}

	segment := Segment{
		Path:    path,
		Command: props.command,
		Thread:  props.thread,
		Part:    props.part,
		Desc:    props.desc,
		Metrics: costs,
	}
	if props.pid != nil {
		segment.Pid = *props.pid
	} else if pid, ok := pidFromPath(path); ok {
		segment.Pid = pid
	}
	return segment, nil
}

// scanSummary finds the aggregate cost line. Callgrind writes "summary:"
// or, with dumps, "totals:"; the first of either wins. Cachegrind writes
// "summary:" as its final line and repeats it per part within one file, so
// there the last one wins and a missing summary is an error.
func (p *BodyParser) scanSummary(sc *lineScanner, path string, props bodyProperties) (*metrics.Metrics, error) {
	if p.Dialect.Tool == valgrind.Cachegrind {
		var costs *metrics.Metrics
		for {
			raw, ok := sc.Next()
			if !ok {
				break
			}
			if suffix, ok := strings.CutPrefix(strings.TrimSpace(raw), "summary:"); ok {
				fresh := props.prototype.Clone()
				if err := fresh.AddStrings(strings.Fields(suffix)); err != nil {
					return nil, &ParseError{Path: path, Line: sc.line, Text: raw, Reason: err.Error()}
				}
				costs = fresh
			}
		}
		if costs == nil {
			return nil, parseErr(path, "no summary line found")
		}
		return costs, nil
	}

	costs := props.prototype.Clone()
	for {
		raw, ok := sc.Next()
		if !ok {
			break
		}
		line := strings.TrimSpace(raw)
		suffix, ok := strings.CutPrefix(line, "summary:")
		if !ok {
			suffix, ok = strings.CutPrefix(line, "totals:")
		}
		if ok {
			if err := costs.AddStrings(strings.Fields(suffix)); err != nil {
				return nil, &ParseError{Path: path, Line: sc.line, Text: raw, Reason: err.Error()}
			}
			break
		}
	}
	return costs, nil
}
