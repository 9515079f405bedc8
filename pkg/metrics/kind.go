// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"fmt"
	"strings"
)

// Kind identifies a single metric across every tool namespace: the callgrind
// event kinds (including the derived cache metrics), the DHAT heap metrics,
// and the error counters reported by memcheck, helgrind and DRD.
//
// The declaration order below is load bearing: it is the order in which the
// "@all" group expands and therefore the order metrics appear in reports.
type Kind uint8

const (
	kindInvalid Kind = iota

	// Callgrind event kinds, primitive and derived.

	Ir
	Dr
	Dw
	I1mr
	D1mr
	D1mw
	ILmr
	DLmr
	DLmw
	I1MissRate
	LLiMissRate
	D1MissRate
	LLdMissRate
	LLMissRate
	L1hits
	LLhits
	RamHits
	L1HitRate
	LLHitRate
	RamHitRate
	TotalRW
	EstimatedCycles
	SysCount
	SysTime
	SysCpuTime
	Ge
	Bc
	Bcm
	Bi
	Bim
	ILdmr
	DLdmr
	DLdmw
	AcCost1
	AcCost2
	SpLoss1
	SpLoss2

	// DHAT heap profile metrics.

	TotalUnits
	TotalEvents
	TotalBytes
	TotalBlocks
	AtTGmaxBytes
	AtTGmaxBlocks
	AtTEndBytes
	AtTEndBlocks
	ReadsBytes
	WritesBytes
	TotalLifetimes
	MaximumBytes
	MaximumBlocks

	// Error counters from the error checking tools.

	Errors
	Contexts
	SuppressedErrors
	SuppressedContexts

	kindCount
)

type kindInfo struct {
	name    string
	display string
	rate    bool
	derived bool
}

var kindTable = [kindCount]kindInfo{
	Ir:              {name: "Ir", display: "Instructions"},
	Dr:              {name: "Dr"},
	Dw:              {name: "Dw"},
	I1mr:            {name: "I1mr"},
	D1mr:            {name: "D1mr"},
	D1mw:            {name: "D1mw"},
	ILmr:            {name: "ILmr"},
	DLmr:            {name: "DLmr"},
	DLmw:            {name: "DLmw"},
	I1MissRate:      {name: "I1MissRate", display: "I1 Miss Rate", rate: true, derived: true},
	LLiMissRate:     {name: "LLiMissRate", display: "LLi Miss Rate", rate: true, derived: true},
	D1MissRate:      {name: "D1MissRate", display: "D1 Miss Rate", rate: true, derived: true},
	LLdMissRate:     {name: "LLdMissRate", display: "LLd Miss Rate", rate: true, derived: true},
	LLMissRate:      {name: "LLMissRate", display: "LL Miss Rate", rate: true, derived: true},
	L1hits:          {name: "L1hits", display: "L1 Hits", derived: true},
	LLhits:          {name: "LLhits", display: "LL Hits", derived: true},
	RamHits:         {name: "RamHits", display: "RAM Hits", derived: true},
	L1HitRate:       {name: "L1HitRate", display: "L1 Hit Rate", rate: true, derived: true},
	LLHitRate:       {name: "LLHitRate", display: "LL Hit Rate", rate: true, derived: true},
	RamHitRate:      {name: "RamHitRate", display: "RAM Hit Rate", rate: true, derived: true},
	TotalRW:         {name: "TotalRW", display: "Total read+write", derived: true},
	EstimatedCycles: {name: "EstimatedCycles", display: "Estimated Cycles", derived: true},
	SysCount:        {name: "SysCount"},
	SysTime:         {name: "SysTime"},
	SysCpuTime:      {name: "SysCpuTime"},
	Ge:              {name: "Ge"},
	Bc:              {name: "Bc"},
	Bcm:             {name: "Bcm"},
	Bi:              {name: "Bi"},
	Bim:             {name: "Bim"},
	ILdmr:           {name: "ILdmr"},
	DLdmr:           {name: "DLdmr"},
	DLdmw:           {name: "DLdmw"},
	AcCost1:         {name: "AcCost1"},
	AcCost2:         {name: "AcCost2"},
	SpLoss1:         {name: "SpLoss1"},
	SpLoss2:         {name: "SpLoss2"},

	TotalUnits:     {name: "TotalUnits", display: "Total units"},
	TotalEvents:    {name: "TotalEvents", display: "Total events"},
	TotalBytes:     {name: "TotalBytes", display: "Total bytes"},
	TotalBlocks:    {name: "TotalBlocks", display: "Total blocks"},
	AtTGmaxBytes:   {name: "AtTGmaxBytes", display: "At t-gmax bytes"},
	AtTGmaxBlocks:  {name: "AtTGmaxBlocks", display: "At t-gmax blocks"},
	AtTEndBytes:    {name: "AtTEndBytes", display: "At t-end bytes"},
	AtTEndBlocks:   {name: "AtTEndBlocks", display: "At t-end blocks"},
	ReadsBytes:     {name: "ReadsBytes", display: "Reads bytes"},
	WritesBytes:    {name: "WritesBytes", display: "Writes bytes"},
	TotalLifetimes: {name: "TotalLifetimes", display: "Total lifetimes"},
	MaximumBytes:   {name: "MaximumBytes", display: "Maximum bytes"},
	MaximumBlocks:  {name: "MaximumBlocks", display: "Maximum blocks"},

	Errors:             {name: "Errors"},
	Contexts:           {name: "Contexts"},
	SuppressedErrors:   {name: "SuppressedErrors", display: "Suppressed Errors"},
	SuppressedContexts: {name: "SuppressedContexts", display: "Suppressed Contexts"},
}

func (k Kind) valid() bool {
	return k > kindInvalid && k < kindCount
}

// String returns the canonical identifier, e.g. "Ir" or "TotalBytes".
func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindTable[k].name
}

// DisplayName returns the human readable label used in terminal output,
// e.g. "Instructions" for Ir. Kinds without a dedicated label fall back to
// their identifier.
func (k Kind) DisplayName() string {
	if !k.valid() {
		return k.String()
	}
	if d := kindTable[k].display; d != "" {
		return d
	}
	return kindTable[k].name
}

// IsRate reports whether the kind carries a float rate rather than an
// integer counter. Hard regression limits on rate kinds take float values.
func (k Kind) IsRate() bool {
	return k.valid() && kindTable[k].rate
}

// IsDerived reports whether the kind is computed from primitive counters
// instead of being read from tool output. Derived kinds never appear in
// parsed cost lines.
func (k Kind) IsDerived() bool {
	return k.valid() && kindTable[k].derived
}

// MarshalText encodes the kind as its canonical identifier.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("cannot marshal invalid metric kind %d", uint8(k))
	}
	return []byte(kindTable[k].name), nil
}

// UnmarshalText accepts a canonical identifier or any namespace alias.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := parseAnyKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Namespace scopes kind names, aliases and group shorthands to one tool
// vocabulary. Callgrind and cachegrind share kinds but not all of them,
// so each has its own namespace.
type Namespace uint8

const (
	NamespaceCallgrind Namespace = iota
	NamespaceCachegrind
	NamespaceDhat
	NamespaceError
)

func (n Namespace) String() string {
	switch n {
	case NamespaceCallgrind:
		return "callgrind"
	case NamespaceCachegrind:
		return "cachegrind"
	case NamespaceDhat:
		return "dhat"
	case NamespaceError:
		return "error"
	default:
		return fmt.Sprintf("Namespace(%d)", uint8(n))
	}
}

// The per-namespace kind lists in "@all" expansion order.
var (
	callgrindKinds = []Kind{
		Ir, Dr, Dw, I1mr, D1mr, D1mw, ILmr, DLmr, DLmw,
		I1MissRate, LLiMissRate, D1MissRate, LLdMissRate, LLMissRate,
		L1hits, LLhits, RamHits, L1HitRate, LLHitRate, RamHitRate,
		TotalRW, EstimatedCycles,
		SysCount, SysTime, SysCpuTime, Ge,
		Bc, Bcm, Bi, Bim,
		ILdmr, DLdmr, DLdmw,
		AcCost1, AcCost2, SpLoss1, SpLoss2,
	}
	cachegrindKinds = []Kind{
		Ir, Dr, Dw, I1mr, D1mr, D1mw, ILmr, DLmr, DLmw,
		I1MissRate, LLiMissRate, D1MissRate, LLdMissRate, LLMissRate,
		L1hits, LLhits, RamHits, L1HitRate, LLHitRate, RamHitRate,
		TotalRW, EstimatedCycles,
		Bc, Bcm, Bi, Bim,
	}
	dhatKinds = []Kind{
		TotalUnits, TotalEvents, TotalBytes, TotalBlocks,
		AtTGmaxBytes, AtTGmaxBlocks, AtTEndBytes, AtTEndBlocks,
		ReadsBytes, WritesBytes,
		TotalLifetimes, MaximumBytes, MaximumBlocks,
	}
	errorKinds = []Kind{Errors, Contexts, SuppressedErrors, SuppressedContexts}
)

// Kinds returns the namespace members in "@all" order. The caller owns the
// returned slice.
func (n Namespace) Kinds() []Kind {
	var src []Kind
	switch n {
	case NamespaceCallgrind:
		src = callgrindKinds
	case NamespaceCachegrind:
		src = cachegrindKinds
	case NamespaceDhat:
		src = dhatKinds
	case NamespaceError:
		src = errorKinds
	}
	out := make([]Kind, len(src))
	copy(out, src)
	return out
}

// Contains reports namespace membership.
func (n Namespace) Contains(k Kind) bool {
	_, ok := kindAliases[n][strings.ToLower(k.String())]
	return ok
}

// Kind name aliases accepted by ParseKind, beyond the lowercased canonical
// identifiers. All lookups are case insensitive.
var extraAliases = map[Namespace]map[string]Kind{
	NamespaceCallgrind:  {"instructions": Ir},
	NamespaceCachegrind: {"instructions": Ir},
	NamespaceDhat: {
		"tun": TotalUnits,
		"tev": TotalEvents,
		"tb":  TotalBytes,
		"tbk": TotalBlocks,
		"gb":  AtTGmaxBytes,
		"gbk": AtTGmaxBlocks,
		"eb":  AtTEndBytes,
		"ebk": AtTEndBlocks,
		"rb":  ReadsBytes,
		"wb":  WritesBytes,
		"tl":  TotalLifetimes,
		"mb":  MaximumBytes,
		"mbk": MaximumBlocks,
	},
	NamespaceError: {
		"err":  Errors,
		"ctx":  Contexts,
		"serr": SuppressedErrors,
		"sctx": SuppressedContexts,
	},
}

var kindAliases map[Namespace]map[string]Kind

func init() {
	kindAliases = make(map[Namespace]map[string]Kind, 4)
	for _, ns := range []Namespace{NamespaceCallgrind, NamespaceCachegrind, NamespaceDhat, NamespaceError} {
		m := make(map[string]Kind)
		for _, k := range ns.Kinds() {
			m[strings.ToLower(kindTable[k].name)] = k
		}
		for alias, k := range extraAliases[ns] {
			m[alias] = k
		}
		kindAliases[ns] = m
	}
}

// ParseKind resolves a metric name within the namespace: the canonical
// identifier in any case, or one of the documented aliases such as
// "instructions" for Ir or "tb" for TotalBytes.
func (n Namespace) ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[n][strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	switch n {
	case NamespaceCachegrind:
		return kindInvalid, fmt.Errorf("unknown cachegrind metric: '%s'", s)
	case NamespaceDhat:
		return kindInvalid, fmt.Errorf("unknown dhat metric: '%s'", s)
	case NamespaceError:
		return kindInvalid, fmt.Errorf("unknown error metric: '%s'", s)
	default:
		return kindInvalid, fmt.Errorf("unknown event kind: '%s'", s)
	}
}

// parseAnyKind tries every namespace in declaration order. Used for text
// decoding where the tool context is not available.
func parseAnyKind(s string) (Kind, error) {
	for _, ns := range []Namespace{NamespaceCallgrind, NamespaceDhat, NamespaceError} {
		if k, err := ns.ParseKind(s); err == nil {
			return k, nil
		}
	}
	return kindInvalid, fmt.Errorf("unknown metric kind: '%s'", s)
}

// ExpandGroup resolves a "@group" shorthand (name passed without the '@')
// to its member kinds in canonical order. Group names nest: the callgrind
// default group splices in the cache hits, system calls, branch simulation,
// write back and cache use groups around the standalone kinds.
func (n Namespace) ExpandGroup(name string) ([]Kind, error) {
	group := strings.ToLower(name)
	switch n {
	case NamespaceCallgrind:
		switch group {
		case "default", "def":
			out := []Kind{Ir, L1hits, LLhits, RamHits, TotalRW, EstimatedCycles}
			out = append(out, SysCount, SysTime, SysCpuTime, Ge)
			out = append(out, Bc, Bcm, Bi, Bim)
			out = append(out, ILdmr, DLdmr, DLdmw)
			out = append(out, AcCost1, AcCost2, SpLoss1, SpLoss2)
			return out, nil
		case "all":
			return n.Kinds(), nil
		case "cachemisses", "misses", "ms":
			return []Kind{I1mr, D1mr, D1mw, ILmr, DLmr, DLmw}, nil
		case "cachemissrates", "missrates", "mr":
			return []Kind{I1MissRate, LLiMissRate, D1MissRate, LLdMissRate, LLMissRate}, nil
		case "cachehits", "hits", "hs":
			return []Kind{L1hits, LLhits, RamHits}, nil
		case "cachehitrates", "hitrates", "hr":
			return []Kind{L1HitRate, LLHitRate, RamHitRate}, nil
		case "cachesim", "cs":
			return cacheSimKinds(), nil
		case "cacheuse", "cu":
			return []Kind{AcCost1, AcCost2, SpLoss1, SpLoss2}, nil
		case "systemcalls", "syscalls", "sc":
			return []Kind{SysCount, SysTime, SysCpuTime}, nil
		case "branchsim", "bs":
			return []Kind{Bc, Bcm, Bi, Bim}, nil
		case "writebackbehaviour", "writeback", "wb":
			return []Kind{ILdmr, DLdmr, DLdmw}, nil
		default:
			return nil, fmt.Errorf("invalid event group: '@%s'", name)
		}
	case NamespaceCachegrind:
		switch group {
		case "default", "def":
			return []Kind{Ir, L1hits, LLhits, RamHits, TotalRW, EstimatedCycles, Bc, Bcm, Bi, Bim}, nil
		case "all":
			return n.Kinds(), nil
		case "cachemisses", "misses", "ms":
			return []Kind{I1mr, D1mr, D1mw, ILmr, DLmr, DLmw}, nil
		case "cachemissrates", "missrates", "mr":
			return []Kind{I1MissRate, LLiMissRate, D1MissRate, LLdMissRate, LLMissRate}, nil
		case "cachehits", "hits", "hs":
			return []Kind{L1hits, LLhits, RamHits}, nil
		case "cachehitrates", "hitrates", "hr":
			return []Kind{L1HitRate, LLHitRate, RamHitRate}, nil
		case "cachesim", "cs":
			return cacheSimKinds(), nil
		case "branchsim", "bs":
			return []Kind{Bc, Bcm, Bi, Bim}, nil
		default:
			return nil, fmt.Errorf("invalid cachegrind metric group: '@%s'", name)
		}
	case NamespaceDhat:
		switch group {
		case "default", "def":
			out := make([]Kind, 10)
			copy(out, dhatKinds[:10])
			return out, nil
		case "all":
			return n.Kinds(), nil
		default:
			return nil, fmt.Errorf("invalid dhat metrics group: '@%s'", name)
		}
	case NamespaceError:
		if group == "all" {
			return n.Kinds(), nil
		}
		return nil, fmt.Errorf("invalid error metric group: '@%s'", name)
	default:
		return nil, fmt.Errorf("invalid metric group: '@%s'", name)
	}
}

// cacheSimKinds is the "@cachesim" group, shared between the callgrind and
// cachegrind namespaces.
func cacheSimKinds() []Kind {
	return []Kind{
		Dr, Dw,
		I1mr, D1mr, D1mw, ILmr, DLmr, DLmw,
		I1MissRate, LLiMissRate, D1MissRate, LLdMissRate, LLMissRate,
		L1hits, LLhits, RamHits,
		L1HitRate, LLHitRate, RamHitRate,
		TotalRW, EstimatedCycles,
	}
}
