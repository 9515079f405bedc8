// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package either provides the OrBoth container used throughout the comparison
// pipeline.
//
// A new benchmark run may introduce segments the old run never had, and vice
// versa: a thread that only sometimes spawns, a subprocess behind a feature
// flag, a tool enabled for the first time. OrBoth makes the three cases
// (new only, old only, both) explicit so no consumer can accidentally treat
// a one-sided value as a pair.
package either

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNeitherSide is returned by FromOptions when both sides are absent.
var ErrNeitherSide = errors.New("either: at least one of new or old must be present")

// OrBoth holds a value for the new side, the old side, or both.
//
// The zero value is invalid; construct with Left, Right, Both or FromOptions.
// By convention throughout this module the left side is the new run and the
// right side is the old run or baseline.
type OrBoth[T any] struct {
	left     T
	right    T
	hasLeft  bool
	hasRight bool
}

// Left returns an OrBoth carrying only a new-side value.
func Left[T any](v T) OrBoth[T] {
	return OrBoth[T]{left: v, hasLeft: true}
}

// Right returns an OrBoth carrying only an old-side value.
func Right[T any](v T) OrBoth[T] {
	return OrBoth[T]{right: v, hasRight: true}
}

// Both returns an OrBoth carrying a value on each side.
func Both[T any](newValue, oldValue T) OrBoth[T] {
	return OrBoth[T]{left: newValue, right: oldValue, hasLeft: true, hasRight: true}
}

// FromOptions builds an OrBoth from two optional values.
//
// Outputs:
//
//	OrBoth[T] - Both when both flags are set, Left/Right for one-sided input.
//	error - ErrNeitherSide when neither flag is set.
func FromOptions[T any](newValue T, newOK bool, oldValue T, oldOK bool) (OrBoth[T], error) {
	switch {
	case newOK && oldOK:
		return Both(newValue, oldValue), nil
	case newOK:
		return Left(newValue), nil
	case oldOK:
		return Right(oldValue), nil
	default:
		return OrBoth[T]{}, ErrNeitherSide
	}
}

// Left returns the new-side value if present.
func (e OrBoth[T]) Left() (T, bool) {
	return e.left, e.hasLeft
}

// Right returns the old-side value if present.
func (e OrBoth[T]) Right() (T, bool) {
	return e.right, e.hasRight
}

// Pair returns both values; ok is false unless both sides are present.
func (e OrBoth[T]) Pair() (newValue, oldValue T, ok bool) {
	return e.left, e.right, e.hasLeft && e.hasRight
}

// IsBoth reports whether both sides are present.
func (e OrBoth[T]) IsBoth() bool {
	return e.hasLeft && e.hasRight
}

// IsLeft reports whether only the new side is present.
func (e OrBoth[T]) IsLeft() bool {
	return e.hasLeft && !e.hasRight
}

// IsRight reports whether only the old side is present.
func (e OrBoth[T]) IsRight() bool {
	return e.hasRight && !e.hasLeft
}

// Valid reports whether at least one side is present. The zero value is the
// only invalid OrBoth.
func (e OrBoth[T]) Valid() bool {
	return e.hasLeft || e.hasRight
}

// Map applies fn to every present side and returns the transformed container.
func Map[T, U any](e OrBoth[T], fn func(T) U) OrBoth[U] {
	out := OrBoth[U]{hasLeft: e.hasLeft, hasRight: e.hasRight}
	if e.hasLeft {
		out.left = fn(e.left)
	}
	if e.hasRight {
		out.right = fn(e.right)
	}
	return out
}

// Zip pairs up two containers side by side. A side is present in the result
// when it is present in at least one input; fn merges sides present in both.
func Zip[T any](a, b OrBoth[T], fn func(T, T) T) OrBoth[T] {
	out := OrBoth[T]{hasLeft: a.hasLeft || b.hasLeft, hasRight: a.hasRight || b.hasRight}
	switch {
	case a.hasLeft && b.hasLeft:
		out.left = fn(a.left, b.left)
	case a.hasLeft:
		out.left = a.left
	case b.hasLeft:
		out.left = b.left
	}
	switch {
	case a.hasRight && b.hasRight:
		out.right = fn(a.right, b.right)
	case a.hasRight:
		out.right = a.right
	case b.hasRight:
		out.right = b.right
	}
	return out
}

// MarshalJSON encodes as {"left": v}, {"right": v} or {"both": [new, old]}.
func (e OrBoth[T]) MarshalJSON() ([]byte, error) {
	switch {
	case e.hasLeft && e.hasRight:
		return json.Marshal(struct {
			Both [2]T `json:"both"`
		}{Both: [2]T{e.left, e.right}})
	case e.hasLeft:
		return json.Marshal(struct {
			Left T `json:"left"`
		}{Left: e.left})
	case e.hasRight:
		return json.Marshal(struct {
			Right T `json:"right"`
		}{Right: e.right})
	default:
		return nil, ErrNeitherSide
	}
}

// UnmarshalJSON decodes the shape produced by MarshalJSON.
func (e *OrBoth[T]) UnmarshalJSON(data []byte) error {
	var raw struct {
		Left  *T  `json:"left"`
		Right *T  `json:"right"`
		Both  []T `json:"both"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Both != nil:
		if len(raw.Both) != 2 {
			return fmt.Errorf("either: \"both\" must hold exactly two values, got %d", len(raw.Both))
		}
		*e = Both(raw.Both[0], raw.Both[1])
	case raw.Left != nil:
		*e = Left(*raw.Left)
	case raw.Right != nil:
		*e = Right(*raw.Right)
	default:
		return ErrNeitherSide
	}
	return nil
}
