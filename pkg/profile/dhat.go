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
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

var (
	// dhatNumberRe removes the thousands separators DHAT prints, turning
	// "1,024" into "1024".
	dhatNumberRe = regexp.MustCompile(`([0-9]),([0-9])`)
	// dhatValueRe splits a field value like "1024 bytes in 12 blocks" into
	// one or two count/unit pairs.
	dhatValueRe = regexp.MustCompile(`([0-9]*) (\w*)(?: in ([0-9]*) (\w*))?`)
)

// dhatKindForField resolves a "{field} {unit}" pair like "At t-gmax bytes"
// against the dhat namespace, whose display names follow the log output
// wording.
func dhatKindForField(key string) (metrics.Kind, bool) {
	for _, k := range metrics.NamespaceDhat.Kinds() {
		if k.DisplayName() == key {
			return k, true
		}
	}
	return 0, false
}

// DhatParser handles the dhat log output. The numbers live in a block of
// field lines starting at "Total:" after the body; in the default mode
// these are byte and block counts, with --mode=ad-hoc unit and event
// counts. Everything between the header and the fields becomes the segment
// details, the footer after the fields is dropped.
type DhatParser struct {
	Dialect Dialect
}

// ParseFile implements Parser.
func (p *DhatParser) ParseFile(path string) (Segment, error) {
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

	type field struct {
		key   string
		value string
	}
	var (
		details []string
		fields  []field
	)

	const (
		stateHeaderSpace = iota
		stateBody
		stateFields
		stateFooter
	)
	state := stateHeaderSpace

scan:
	for {
		raw, ok := sc.Next()
		if !ok {
			break
		}
		switch state {
		case stateHeaderSpace:
			if bannerEmptyRe.MatchString(raw) {
				continue
			}
			state = stateBody
			fallthrough
		case stateBody:
			if m := bannerFieldsRe.FindStringSubmatch(raw); m != nil {
				if strings.EqualFold(m[bannerFieldsKeyIdx], "total") {
					value := dhatNumberRe.ReplaceAllString(m[bannerFieldsValueIdx], "$1$2")
					fields = append(fields, field{key: m[bannerFieldsKeyIdx], value: value})
					state = stateFields
					continue
				}
			}
			details = appendDetail(details, raw)
		case stateFields:
			m := bannerFieldsRe.FindStringSubmatch(raw)
			if m == nil {
				state = stateFooter
				continue
			}
			value := dhatNumberRe.ReplaceAllString(m[bannerFieldsValueIdx], "$1$2")
			fields = append(fields, field{key: m[bannerFieldsKeyIdx], value: value})
		case stateFooter:
			break scan
		}
	}
	if err := sc.Err(); err != nil {
		return Segment{}, fmt.Errorf("failed reading log file '%s': %w", path, err)
	}

	costs := metrics.New()
	for _, fl := range fields {
		m := dhatValueRe.FindStringSubmatch(fl.value)
		if m == nil || m[1] == "" {
			continue
		}
		if err := insertDhatField(costs, fl.key, m[2], m[1]); err != nil {
			return Segment{}, parseErr(path, err.Error())
		}
		if m[3] != "" {
			if err := insertDhatField(costs, fl.key, m[4], m[3]); err != nil {
				return Segment{}, parseErr(path, err.Error())
			}
		}
	}

	return Segment{
		Path:      path,
		Command:   header.command,
		Pid:       header.pid,
		ParentPid: header.parentPid,
		Details:   trimTrailingEmpty(details),
		Metrics:   costs,
	}, nil
}

// insertDhatField stores one count under its "{field} {unit}" kind. Fields
// not part of the dhat namespace, like future additions to the log format,
// are skipped.
func insertDhatField(costs *metrics.Metrics, key, unit, count string) error {
	kind, ok := dhatKindForField(key + " " + unit)
	if !ok {
		return nil
	}
	v, err := strconv.ParseUint(count, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for '%s': %q", kind.DisplayName(), count)
	}
	costs.Insert(kind, metrics.Int(v))
	return nil
}
