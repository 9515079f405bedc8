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
	"slices"
	"testing"
)

func TestKind_DisplayName(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{Ir, "Instructions"},
		{Dr, "Dr"},
		{L1hits, "L1 Hits"},
		{RamHits, "RAM Hits"},
		{TotalRW, "Total read+write"},
		{EstimatedCycles, "Estimated Cycles"},
		{I1MissRate, "I1 Miss Rate"},
		{LLdMissRate, "LLd Miss Rate"},
		{AtTGmaxBytes, "At t-gmax bytes"},
		{WritesBytes, "Writes bytes"},
		{Errors, "Errors"},
		{SuppressedContexts, "Suppressed Contexts"},
	}

	for _, tc := range tests {
		if got := tc.kind.DisplayName(); got != tc.expected {
			t.Errorf("%s.DisplayName() = %q, expected %q", tc.kind, got, tc.expected)
		}
	}
}

func TestKind_IsDerivedAndIsRate(t *testing.T) {
	derived := []Kind{
		L1hits, LLhits, RamHits, TotalRW, EstimatedCycles,
		I1MissRate, LLiMissRate, D1MissRate, LLdMissRate, LLMissRate,
		L1HitRate, LLHitRate, RamHitRate,
	}
	for _, k := range NamespaceCallgrind.Kinds() {
		want := slices.Contains(derived, k)
		if got := k.IsDerived(); got != want {
			t.Errorf("%s.IsDerived() = %v, expected %v", k, got, want)
		}
	}

	if !LLMissRate.IsRate() || L1hits.IsRate() || Ir.IsRate() {
		t.Error("rate classification is wrong for LLMissRate, L1hits or Ir")
	}
	for _, k := range append(NamespaceDhat.Kinds(), NamespaceError.Kinds()...) {
		if k.IsRate() || k.IsDerived() {
			t.Errorf("%s should be a plain integer counter", k)
		}
	}
}

func TestNamespace_ParseKind(t *testing.T) {
	tests := []struct {
		name     string
		ns       Namespace
		input    string
		expected Kind
		wantErr  bool
	}{
		{"canonical name", NamespaceCallgrind, "Ir", Ir, false},
		{"lowercase", NamespaceCallgrind, "estimatedcycles", EstimatedCycles, false},
		{"instructions alias", NamespaceCallgrind, "instructions", Ir, false},
		{"mixed case", NamespaceCallgrind, "RAMHits", RamHits, false},
		{"surrounding space", NamespaceCallgrind, " dlmw ", DLmw, false},
		{"dhat name not in callgrind", NamespaceCallgrind, "TotalBytes", kindInvalid, true},
		{"syscalls not in cachegrind", NamespaceCachegrind, "SysCount", kindInvalid, true},
		{"cachegrind branch kind", NamespaceCachegrind, "bim", Bim, false},
		{"dhat short alias", NamespaceDhat, "tb", TotalBytes, false},
		{"dhat gmax alias", NamespaceDhat, "gbk", AtTGmaxBlocks, false},
		{"dhat canonical", NamespaceDhat, "TotalLifetimes", TotalLifetimes, false},
		{"error short alias", NamespaceError, "serr", SuppressedErrors, false},
		{"error canonical", NamespaceError, "Contexts", Contexts, false},
		{"error unknown", NamespaceError, "Ir", kindInvalid, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.ns.ParseKind(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseKind(%q) succeeded, expected error", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKind(%q) returned error: %v", tc.input, err)
			}
			if got != tc.expected {
				t.Errorf("ParseKind(%q) = %s, expected %s", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNamespace_Kinds(t *testing.T) {
	if n := len(NamespaceCallgrind.Kinds()); n != 37 {
		t.Errorf("callgrind namespace has %d kinds, expected 37", n)
	}
	if n := len(NamespaceCachegrind.Kinds()); n != 26 {
		t.Errorf("cachegrind namespace has %d kinds, expected 26", n)
	}
	if n := len(NamespaceDhat.Kinds()); n != 13 {
		t.Errorf("dhat namespace has %d kinds, expected 13", n)
	}
	if n := len(NamespaceError.Kinds()); n != 4 {
		t.Errorf("error namespace has %d kinds, expected 4", n)
	}

	// The first kinds fix the column order of parsed cost lines.
	cg := NamespaceCallgrind.Kinds()
	head := []Kind{Ir, Dr, Dw, I1mr, D1mr, D1mw, ILmr, DLmr, DLmw}
	if !slices.Equal(cg[:len(head)], head) {
		t.Errorf("callgrind kind order starts %v, expected %v", cg[:len(head)], head)
	}
}

func TestNamespace_ExpandGroup(t *testing.T) {
	tests := []struct {
		name     string
		ns       Namespace
		group    string
		expected []Kind
		wantErr  bool
	}{
		{
			name:  "callgrind default",
			ns:    NamespaceCallgrind,
			group: "default",
			expected: []Kind{
				Ir, L1hits, LLhits, RamHits, TotalRW, EstimatedCycles,
				SysCount, SysTime, SysCpuTime, Ge,
				Bc, Bcm, Bi, Bim,
				ILdmr, DLdmr, DLdmw,
				AcCost1, AcCost2, SpLoss1, SpLoss2,
			},
		},
		{
			name:     "callgrind def alias",
			ns:       NamespaceCallgrind,
			group:    "def",
			expected: nil, // checked against "default" below
		},
		{
			name:     "cache misses short",
			ns:       NamespaceCallgrind,
			group:    "ms",
			expected: []Kind{I1mr, D1mr, D1mw, ILmr, DLmr, DLmw},
		},
		{
			name:     "hit rates",
			ns:       NamespaceCachegrind,
			group:    "hitrates",
			expected: []Kind{L1HitRate, LLHitRate, RamHitRate},
		},
		{
			name:  "cachegrind default excludes syscalls",
			ns:    NamespaceCachegrind,
			group: "default",
			expected: []Kind{
				Ir, L1hits, LLhits, RamHits, TotalRW, EstimatedCycles,
				Bc, Bcm, Bi, Bim,
			},
		},
		{
			name:  "cachesim",
			ns:    NamespaceCallgrind,
			group: "cs",
			expected: []Kind{
				Dr, Dw,
				I1mr, D1mr, D1mw, ILmr, DLmr, DLmw,
				I1MissRate, LLiMissRate, D1MissRate, LLdMissRate, LLMissRate,
				L1hits, LLhits, RamHits,
				L1HitRate, LLHitRate, RamHitRate,
				TotalRW, EstimatedCycles,
			},
		},
		{
			name:  "dhat default is the first ten",
			ns:    NamespaceDhat,
			group: "default",
			expected: []Kind{
				TotalUnits, TotalEvents, TotalBytes, TotalBlocks,
				AtTGmaxBytes, AtTGmaxBlocks, AtTEndBytes, AtTEndBlocks,
				ReadsBytes, WritesBytes,
			},
		},
		{name: "error all", ns: NamespaceError, group: "all", expected: []Kind{Errors, Contexts, SuppressedErrors, SuppressedContexts}},
		{name: "error default missing", ns: NamespaceError, group: "default", wantErr: true},
		{name: "cacheuse not in cachegrind", ns: NamespaceCachegrind, group: "cacheuse", wantErr: true},
		{name: "unknown group", ns: NamespaceCallgrind, group: "bogus", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.ns.ExpandGroup(tc.group)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ExpandGroup(%q) succeeded, expected error", tc.group)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandGroup(%q) returned error: %v", tc.group, err)
			}
			if tc.expected == nil {
				tc.expected, _ = tc.ns.ExpandGroup("default")
			}
			if !slices.Equal(got, tc.expected) {
				t.Errorf("ExpandGroup(%q) = %v, expected %v", tc.group, got, tc.expected)
			}
		})
	}
}

func TestNamespace_ExpandGroupAll(t *testing.T) {
	for _, ns := range []Namespace{NamespaceCallgrind, NamespaceCachegrind, NamespaceDhat, NamespaceError} {
		got, err := ns.ExpandGroup("all")
		if err != nil {
			t.Fatalf("%s: ExpandGroup(all) returned error: %v", ns, err)
		}
		if !slices.Equal(got, ns.Kinds()) {
			t.Errorf("%s: @all should expand to the full namespace", ns)
		}
	}
}

func TestKind_TextMarshaling(t *testing.T) {
	data, err := EstimatedCycles.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText returned error: %v", err)
	}
	if string(data) != "EstimatedCycles" {
		t.Errorf("MarshalText = %q, expected %q", data, "EstimatedCycles")
	}

	var k Kind
	if err := k.UnmarshalText([]byte("RamHits")); err != nil {
		t.Fatalf("UnmarshalText returned error: %v", err)
	}
	if k != RamHits {
		t.Errorf("UnmarshalText gave %s, expected RamHits", k)
	}

	if err := k.UnmarshalText([]byte("NotAMetric")); err == nil {
		t.Error("UnmarshalText accepted an unknown name")
	}
	if _, err := kindInvalid.MarshalText(); err == nil {
		t.Error("MarshalText accepted the invalid kind")
	}
}
