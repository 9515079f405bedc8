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
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// The banner regexes accept both the "==pid==" and "--pid--" forms and the
// optional timestamp emitted with --time-stamp=yes.
var (
	bannerFieldsRe = regexp.MustCompile(
		`^\s*(==|--)([0-9:.]+\s+)?[0-9]+(==|--)\s*(?P<key>.*?)\s*:\s*(?P<value>.*)\s*$`)
	bannerEmptyRe = regexp.MustCompile(
		`^\s*(==|--)([0-9:.]+\s+)?[0-9]+(==|--)\s*$`)
	bannerStripRe = regexp.MustCompile(
		`^\s*(==|--)([0-9:.]+\s+)?[0-9]+(==|--) (?P<rest>.*)$`)
	bannerPidRe = regexp.MustCompile(
		`^\s*(==|--)([0-9:.]+\s+)?(?P<pid>[0-9]+)(==|--).*`)
)

var (
	bannerFieldsKeyIdx   = bannerFieldsRe.SubexpIndex("key")
	bannerFieldsValueIdx = bannerFieldsRe.SubexpIndex("value")
	bannerStripRestIdx   = bannerStripRe.SubexpIndex("rest")
	bannerPidIdx         = bannerPidRe.SubexpIndex("pid")
)

// extractPid reads the pid from a banner line like "==1746070== Memcheck, a
// memory error detector" or "==00:00:00:00.000 1811497== ...".
func extractPid(line string) (int32, error) {
	m := bannerPidRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, errors.New("log output should not be malformed")
	}
	pid, err := strconv.ParseInt(m[bannerPidIdx], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("pid should be valid: %w", err)
	}
	return int32(pid), nil
}

// logHeader is the part of the banner header shared by every tool's log
// output.
type logHeader struct {
	pid       int32
	parentPid *int32
	command   string
}

// parseLogHeader reads the banner header. The pid comes from the first
// non-blank line; the header ends at the first empty banner line, which is
// consumed. Unrecognized header fields are ignored.
func parseLogHeader(sc *lineScanner, path string) (logHeader, error) {
	var h logHeader

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
		return h, parseErr(path, "empty file")
	}
	pid, err := extractPid(first)
	if err != nil {
		return h, parseErr(path, err.Error())
	}
	h.pid = pid

	// The first line can itself carry a field.
	for line := first; ; {
		if bannerEmptyRe.MatchString(line) {
			break
		}
		if m := bannerFieldsRe.FindStringSubmatch(line); m != nil {
			key, value := m[bannerFieldsKeyIdx], m[bannerFieldsValueIdx]
			switch strings.ToLower(key) {
			case "command":
				h.command = value
			case "parent pid":
				parent, err := strconv.ParseInt(value, 10, 32)
				if err != nil {
					return h, parseErr(path, "parent pid should be valid")
				}
				p := int32(parent)
				h.parentPid = &p
			}
		}
		next, more := sc.Next()
		if !more {
			break
		}
		line = next
	}

	if h.command == "" {
		return h, parseErr(path, "a command should be present")
	}
	return h, nil
}

// appendDetail appends a body line with its banner prefix stripped, or the
// raw line for output not following the banner form.
func appendDetail(details []string, line string) []string {
	if m := bannerStripRe.FindStringSubmatch(line); m != nil {
		return append(details, m[bannerStripRestIdx])
	}
	return append(details, line)
}

// trimTrailingEmpty drops trailing blank detail lines.
func trimTrailingEmpty(details []string) []string {
	for len(details) > 0 && strings.TrimSpace(details[len(details)-1]) == "" {
		details = details[:len(details)-1]
	}
	return details
}

// LogfileParser handles the tools without a machine-readable metrics
// format, like massif and bbv: the banner header provides the process
// identity and the body lines become the segment details verbatim.
type LogfileParser struct {
	Dialect Dialect
}

// ParseFile implements Parser.
func (p *LogfileParser) ParseFile(path string) (Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return Segment{}, fmt.Errorf("failed opening log file '%s': %w", path, err)
	}
	defer f.Close()

	sc := newLineScanner(f)
	header, err := parseLogHeader(sc, path)
	if err != nil {
		return Segment{}, err
	}

	var details []string
	inBody := false
	for {
		line, ok := sc.Next()
		if !ok {
			break
		}
		if !inBody {
			if bannerEmptyRe.MatchString(line) {
				continue
			}
			inBody = true
		}
		details = appendDetail(details, line)
	}
	if err := sc.Err(); err != nil {
		return Segment{}, fmt.Errorf("failed reading log file '%s': %w", path, err)
	}

	return Segment{
		Path:      path,
		Command:   header.command,
		Pid:       header.pid,
		ParentPid: header.parentPid,
		Details:   trimTrailingEmpty(details),
		Metrics:   metrics.New(),
	}, nil
}
