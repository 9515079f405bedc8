// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package regression evaluates user-configured limits against a metrics
// comparison and reports the rules that fired.
//
// Two rule families exist. A soft limit is a percentage bound on the
// relative change between the old and the new run; a negative soft limit
// watches for improvements instead. A hard limit is an absolute bound on
// the new value alone and needs no old run at all. Both families can be
// set for the same metric at once.
//
// Evaluation is a pure read over the comparison: it never mutates metrics
// and never consults the display tolerance, so a change hidden by the
// renderer still fails the check.
package regression

import (
	"fmt"
	"math"

	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// SoftLimit bounds the percentage change of one metric. A non-negative
// limit fires on a regression of at least that percentage; a negative
// limit fires on an improvement of at least its magnitude. The sign is
// significant and never normalized.
type SoftLimit struct {
	Kind metrics.Kind
	Pct  float64
}

// HardLimit bounds the absolute value of one metric in the new run. The
// rule fires when the new value strictly exceeds the limit.
type HardLimit struct {
	Kind  metrics.Kind
	Value metrics.Metric
}

// Config is an ordered set of regression rules for one tool.
//
// Rules evaluate in declaration order, all soft limits before all hard
// limits. With FailFast set, evaluation stops at the first fired rule and
// the remaining rules are not evaluated at all.
type Config struct {
	SoftLimits []SoftLimit
	HardLimits []HardLimit
	FailFast   bool

	// probe, when set, is called once per evaluated rule. Tests use it to
	// observe that fail-fast short-circuits instead of discarding.
	probe func(metrics.Kind)
}

// Default returns the rule set used when the user enables regression
// checks without configuring limits: a 10% soft limit on the tool's
// headline metric. Namespaces without a headline metric get an empty
// config.
func Default(ns metrics.Namespace) Config {
	switch ns {
	case metrics.NamespaceCallgrind, metrics.NamespaceCachegrind:
		return Config{SoftLimits: []SoftLimit{{Kind: metrics.Ir, Pct: 10}}}
	case metrics.NamespaceDhat:
		return Config{SoftLimits: []SoftLimit{{Kind: metrics.TotalBytes, Pct: 10}}}
	default:
		return Config{}
	}
}

// IsEmpty reports whether the config holds no rules.
func (c Config) IsEmpty() bool {
	return len(c.SoftLimits) == 0 && len(c.HardLimits) == 0
}

// IncidentKind tells which rule family fired an Incident.
type IncidentKind uint8

const (
	SoftIncident IncidentKind = iota
	HardIncident
)

func (k IncidentKind) String() string {
	if k == SoftIncident {
		return "soft"
	}
	return "hard"
}

// Incident is one fired rule with its numeric evidence.
//
// Soft incidents carry New, Old, Pct and Limit. Hard incidents carry New,
// HardLimit and Diff, the saturating amount by which the limit was
// exceeded.
type Incident struct {
	Rule      IncidentKind
	Kind      metrics.Kind
	New       metrics.Metric
	Old       metrics.Metric
	Pct       float64
	Limit     float64
	HardLimit metrics.Metric
	Diff      metrics.Metric
}

// UnknownMetricError reports a rule referencing a metric the compared run
// never produced. This is a configuration mistake, not a passing check.
type UnknownMetricError struct {
	Kind metrics.Kind
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf(
		"regression limit references metric '%s' which is not present in the benchmark output", e.Kind,
	)
}

// Check evaluates the config against a metrics comparison and returns the
// fired rules in evaluation order.
//
// A soft limit needs both sides: when the comparison holds the metric on
// one side only there is no percentage and the rule cannot fire. A hard
// limit reads the new value alone and fires even without an old run. A
// rule whose metric is missing from the comparison entirely returns an
// UnknownMetricError.
//
// Outputs:
//
//	[]Incident - fired rules; empty means the check passed.
//	error - *UnknownMetricError on a rule/run mismatch.
func (c Config) Check(s *compare.Summary) ([]Incident, error) {
	var incidents []Incident
	for _, limit := range c.SoftLimits {
		if c.probe != nil {
			c.probe(limit.Kind)
		}
		d, ok := s.Get(limit.Kind)
		if !ok {
			return nil, &UnknownMetricError{Kind: limit.Kind}
		}
		if d.Diffs == nil {
			continue
		}
		pct := d.Diffs.Pct
		var fired bool
		if math.Signbit(limit.Pct) {
			fired = pct <= limit.Pct && pct < 0
		} else {
			fired = pct >= limit.Pct && pct > 0
		}
		if !fired {
			continue
		}
		newValue, oldValue, _ := d.Metrics.Pair()
		incidents = append(incidents, Incident{
			Rule:  SoftIncident,
			Kind:  limit.Kind,
			New:   newValue,
			Old:   oldValue,
			Pct:   pct,
			Limit: limit.Pct,
		})
		if c.FailFast {
			return incidents, nil
		}
	}
	for _, limit := range c.HardLimits {
		if c.probe != nil {
			c.probe(limit.Kind)
		}
		d, ok := s.Get(limit.Kind)
		if !ok {
			return nil, &UnknownMetricError{Kind: limit.Kind}
		}
		newValue, ok := d.Metrics.Left()
		if !ok || newValue.Cmp(limit.Value) <= 0 {
			continue
		}
		incidents = append(incidents, Incident{
			Rule:      HardIncident,
			Kind:      limit.Kind,
			New:       newValue,
			HardLimit: limit.Value,
			Diff:      newValue.Sub(limit.Value),
		})
		if c.FailFast {
			return incidents, nil
		}
	}
	return incidents, nil
}
