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
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// errorSummaryRe picks the four counters out of an error summary value like
// "8 errors from 6 contexts (suppressed: 2 from 1)". The wording around the
// numbers differs between the tools, only their order is fixed.
var errorSummaryRe = regexp.MustCompile(
	`^[^0-9]*(?P<errs>[0-9]+)[^0-9]*(?P<ctxs>[0-9]+)[^0-9]*(?P<s_errs>[0-9]+)[^0-9]*(?P<s_ctxs>[0-9]+).*$`)

// ErrorSummaryParser handles the error checking tools. Their log output
// carries no metrics format, so the counters come from the "ERROR SUMMARY"
// line every error tool prints at the end of a run.
type ErrorSummaryParser struct {
	Dialect Dialect
}

// ParseFile implements Parser.
func (p *ErrorSummaryParser) ParseFile(path string) (Segment, error) {
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

	prototype := metrics.WithKinds(
		metrics.Errors, metrics.Contexts,
		metrics.SuppressedErrors, metrics.SuppressedContexts)

	var details []string
	var summary *metrics.Metrics

	inBody := false
	for {
		raw, ok := sc.Next()
		if !ok {
			break
		}
		if !inBody {
			if bannerEmptyRe.MatchString(raw) {
				continue
			}
			inBody = true
		}

		if m := bannerFieldsRe.FindStringSubmatch(raw); m != nil {
			if strings.EqualFold(m[bannerFieldsKeyIdx], "error summary") {
				caps := errorSummaryRe.FindStringSubmatch(m[bannerFieldsValueIdx])
				if caps == nil {
					return Segment{}, &ParseError{Path: path, Line: sc.line, Text: raw,
						Reason: "failed to extract error summary"}
				}
				// Valgrind reprints the summary line on long output so the
				// user does not have to scroll up. Only the last one counts.
				fresh := prototype.Clone()
				if err := fresh.AddStrings(caps[1:5]); err != nil {
					return Segment{}, &ParseError{Path: path, Line: sc.line, Text: raw,
						Reason: err.Error()}
				}
				summary = fresh
				continue
			}
		}

		// Detail lines can also look like header fields.
		details = appendDetail(details, raw)
	}
	if err := sc.Err(); err != nil {
		return Segment{}, fmt.Errorf("failed reading log file '%s': %w", path, err)
	}

	if summary == nil {
		return Segment{}, parseErr(path, "an error summary line should be present")
	}

	return Segment{
		Path:      path,
		Command:   header.command,
		Pid:       header.pid,
		ParentPid: header.parentPid,
		Details:   trimTrailingEmpty(details),
		Metrics:   summary,
	}, nil
}
