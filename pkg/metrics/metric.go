// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics defines the normalized cost model shared by every supported
// profiling tool: the Metric scalar, the Kind namespace of metric identifiers,
// and the insertion-ordered Metrics map a parsed run resolves into.
//
// Counters reported by the tools are unsigned 64-bit integers and can approach
// the full range on long runs, so integer arithmetic saturates instead of
// wrapping. Derived rates are floats; any operation mixing the two promotes to
// float.
package metrics

import (
	"fmt"
	"math"
	"strconv"
)

// Metric is a single counter value, either an unsigned 64-bit integer or a
// float. Integer Add/Sub/Mul saturate at the type bounds; mixing an integer
// with a float promotes the result to float.
//
// The zero value is the integer 0.
type Metric struct {
	fval    float64
	ival    uint64
	isFloat bool
}

// Int returns an integer-valued Metric.
func Int(v uint64) Metric {
	return Metric{ival: v}
}

// Float returns a float-valued Metric.
func Float(v float64) Metric {
	return Metric{fval: v, isFloat: true}
}

// ParseMetric parses a counter string, preferring the exact integer reading:
// "184" stays an integer, "2.87" becomes a float.
func ParseMetric(s string) (Metric, error) {
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Int(u), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Metric{}, fmt.Errorf("invalid metric %q: %w", s, err)
	}
	return Float(f), nil
}

// IsInt reports whether the metric holds an integer.
func (m Metric) IsInt() bool {
	return !m.isFloat
}

// IsFloat reports whether the metric holds a float.
func (m Metric) IsFloat() bool {
	return m.isFloat
}

// Uint64 returns the exact integer value; ok is false for float metrics.
func (m Metric) Uint64() (uint64, bool) {
	if m.isFloat {
		return 0, false
	}
	return m.ival, true
}

// Float64 returns the value as a float regardless of representation.
func (m Metric) Float64() float64 {
	if m.isFloat {
		return m.fval
	}
	return float64(m.ival)
}

// Add returns m+o. Integer addition saturates at MaxUint64.
func (m Metric) Add(o Metric) Metric {
	if !m.isFloat && !o.isFloat {
		sum := m.ival + o.ival
		if sum < m.ival {
			sum = math.MaxUint64
		}
		return Int(sum)
	}
	return Float(m.Float64() + o.Float64())
}

// Sub returns m-o. Integer subtraction saturates at zero.
func (m Metric) Sub(o Metric) Metric {
	if !m.isFloat && !o.isFloat {
		if o.ival > m.ival {
			return Int(0)
		}
		return Int(m.ival - o.ival)
	}
	return Float(m.Float64() - o.Float64())
}

// Mul returns m*n. Integer multiplication saturates at MaxUint64.
func (m Metric) Mul(n uint64) Metric {
	if m.isFloat {
		return Float(m.fval * float64(n))
	}
	if n != 0 && m.ival > math.MaxUint64/n {
		return Int(math.MaxUint64)
	}
	return Int(m.ival * n)
}

// Div returns m/o as a float metric, with the usual IEEE semantics for a zero
// divisor.
func (m Metric) Div(o Metric) Metric {
	return Float(m.Float64() / o.Float64())
}

// Div0 returns m/o as a float metric, defining division by zero as zero.
// Rate derivations use this so an empty run yields 0% rates instead of NaN.
func (m Metric) Div0(o Metric) Metric {
	d := o.Float64()
	if d == 0 {
		return Float(0)
	}
	return Float(m.Float64() / d)
}

// Cmp compares two metrics numerically: -1 if m < o, 0 if equal, +1 if m > o.
// Mixed representations compare as floats, so Int(1) and Float(1.0) are equal.
func (m Metric) Cmp(o Metric) int {
	if !m.isFloat && !o.isFloat {
		switch {
		case m.ival < o.ival:
			return -1
		case m.ival > o.ival:
			return 1
		default:
			return 0
		}
	}
	a, b := m.Float64(), o.Float64()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal reports numeric equality across representations.
func (m Metric) Equal(o Metric) bool {
	return m.Cmp(o) == 0
}

// String renders integers exactly and floats in the magnitude-shortened form
// used by the terminal output.
func (m Metric) String() string {
	if !m.isFloat {
		return strconv.FormatUint(m.ival, 10)
	}
	return FormatFloat(m.fval)
}

// floatPrecision shrinks the rendered precision as the magnitude grows:
// 5 decimals below 10, down to none at 100000 and beyond.
func floatPrecision(n float64) int {
	abs := math.Abs(n)
	switch {
	case abs < 10:
		return 5
	case abs < 100:
		return 4
	case abs < 1000:
		return 3
	case abs < 10000:
		return 2
	case abs < 100000:
		return 1
	default:
		return 0
	}
}

// FormatSignedFloat renders a float with an explicit leading sign.
func FormatSignedFloat(n float64) string {
	return fmt.Sprintf("%+.*f", floatPrecision(n), n)
}

// FormatFloat renders a float without forcing a sign on positive values.
func FormatFloat(n float64) string {
	return fmt.Sprintf("%.*f", floatPrecision(n), n)
}
