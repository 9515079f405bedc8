// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchgrind/pkg/metrics"
)

// ParseLimits parses a limit list like "ir=5.0%", "ir=10000,EstimatedCycles=10%"
// or "@all=10%,ir=5%|10000" into a Config within one tool namespace.
//
// Items are comma separated key=limit pairs. A limit with a '%' suffix is a
// soft limit, a bare number a hard limit, and several limits joined by '|'
// apply to the same key at once. A key is a metric name, a documented alias,
// or a '@group' shorthand expanding to its members; a later single entry
// overwrites a group member's limit in place, keeping the group's order.
// Hard limits on integer metrics must be integers; rate metrics accept
// floats.
//
// The returned config carries the parsed limits only. FailFast is wired
// separately by the caller.
func ParseLimits(ns metrics.Namespace, value string) (Config, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Config{}, errors.New("No limits found: At least one limit must be present")
	}

	var cfg Config
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		key, rest, found := strings.Cut(item, "=")
		if !found {
			return Config{}, fmt.Errorf("Invalid format of key=value pair: '%s'", item)
		}
		key, rest = strings.TrimSpace(key), strings.TrimSpace(rest)
		for _, limit := range strings.Split(rest, "|") {
			limit = strings.TrimSpace(limit)
			if pctStr, soft := strings.CutSuffix(limit, "%"); soft {
				pct, err := strconv.ParseFloat(pctStr, 64)
				if err != nil {
					return Config{}, fmt.Errorf("Invalid soft limit for '%s': %v", key, err)
				}
				kinds, err := resolveKey(ns, key)
				if err != nil {
					return Config{}, err
				}
				for _, k := range kinds {
					cfg.SoftLimits = setSoft(cfg.SoftLimits, k, pct)
				}
			} else {
				m, err := metrics.ParseMetric(limit)
				if err != nil {
					return Config{}, fmt.Errorf("Invalid hard limit for '%s': %v", key, err)
				}
				kinds, err := resolveKey(ns, key)
				if err != nil {
					return Config{}, err
				}
				for _, k := range kinds {
					converted, ok := convertHardLimit(k, m)
					if !ok {
						return Config{}, fmt.Errorf(
							"Invalid hard limit for '%s': Expected an integer (e.g. '10'). "+
								"If you wanted this value to be a soft limit use the '%%' suffix "+
								"(e.g. '4.0%%' or '4%%')", k.DisplayName())
					}
					cfg.HardLimits = setHard(cfg.HardLimits, k, converted)
				}
			}
		}
	}
	return cfg, nil
}

// resolveKey expands a limit key to its metric kinds: one kind for a plain
// name or alias, the member list for a '@group' shorthand.
func resolveKey(ns metrics.Namespace, key string) ([]metrics.Kind, error) {
	if group, found := strings.CutPrefix(key, "@"); found {
		return ns.ExpandGroup(group)
	}
	k, err := ns.ParseKind(key)
	if err != nil {
		return nil, err
	}
	return []metrics.Kind{k}, nil
}

// convertHardLimit coerces a parsed limit to the kind's representation.
// Integer limits on rate kinds promote to float; float limits on integer
// kinds are rejected.
func convertHardLimit(k metrics.Kind, m metrics.Metric) (metrics.Metric, bool) {
	if k.IsRate() {
		return metrics.Float(m.Float64()), true
	}
	if m.IsInt() {
		return m, true
	}
	return metrics.Metric{}, false
}

// setSoft sets a kind's soft limit, overwriting in place when the kind is
// already listed so group expansion order survives later overrides.
func setSoft(limits []SoftLimit, k metrics.Kind, pct float64) []SoftLimit {
	for i := range limits {
		if limits[i].Kind == k {
			limits[i].Pct = pct
			return limits
		}
	}
	return append(limits, SoftLimit{Kind: k, Pct: pct})
}

// setHard is the hard-limit counterpart of setSoft.
func setHard(limits []HardLimit, k metrics.Kind, v metrics.Metric) []HardLimit {
	for i := range limits {
		if limits[i].Kind == k {
			limits[i].Value = v
			return limits
		}
	}
	return append(limits, HardLimit{Kind: k, Value: v})
}
