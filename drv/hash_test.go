// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package drv

import (
	"testing"

	"github.com/forgebuild/forge/store"
)

// Canonical scenario 3: hashDerivationModulo(A) computed twice returns
// the same value for a diamond-shaped graph.
func TestHashModuloDiamondIsStable(t *testing.T) {
	dir := store.Directory("/store")
	d := &Derivation{Name: "D", Builder: "/bin/sh", Args: []string{"-c", "true"}}
	b := &Derivation{Name: "B", Builder: "/bin/sh", Inputs: []*Derivation{d}}
	c := &Derivation{Name: "C", Builder: "/bin/sh", Inputs: []*Derivation{d}}
	a := &Derivation{Name: "A", Builder: "/bin/sh", Inputs: []*Derivation{b, c}}

	h1, err := HashModulo(a, dir)
	if err != nil {
		t.Fatalf("HashModulo(a) error = %v", err)
	}
	h2, err := HashModulo(a, dir)
	if err != nil {
		t.Fatalf("second HashModulo(a) error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("HashModulo(a) is not stable across calls: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("len(HashModulo(a)) = %d; want 64", len(h1))
	}
}

func TestHashModuloDependsOnInputContentNotIdentity(t *testing.T) {
	dir := store.Directory("/store")

	d1 := &Derivation{Name: "D", Builder: "/bin/sh"}
	d2 := &Derivation{Name: "D", Builder: "/bin/sh"} // structurally equal, distinct pointer
	a1 := &Derivation{Name: "A", Builder: "/bin/sh", Inputs: []*Derivation{d1}}
	a2 := &Derivation{Name: "A", Builder: "/bin/sh", Inputs: []*Derivation{d2}}

	h1, err := HashModulo(a1, dir)
	if err != nil {
		t.Fatalf("HashModulo(a1) error = %v", err)
	}
	h2, err := HashModulo(a2, dir)
	if err != nil {
		t.Fatalf("HashModulo(a2) error = %v", err)
	}
	// Since d1 and d2 are structurally identical, their own derivation-
	// modulo hashes agree, so a1 and a2 agree too: the hash is a pure
	// function of structure reachable through the graph, not of which
	// particular pointer happened to be used.
	if h1 != h2 {
		t.Errorf("HashModulo disagreed for structurally identical graphs: %q != %q", h1, h2)
	}
}

func TestHashModuloFixedOutputIgnoresBuildDetails(t *testing.T) {
	dir := store.Directory("/store")
	contentHash := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	d1 := &Derivation{
		Name:           "fetched",
		Builder:        "/bin/fetch",
		Args:           []string{"https://example.com/a"},
		OutputHash:     contentHash,
		OutputHashAlgo: "sha256",
		OutputHashMode: store.FlatHash,
	}
	d2 := &Derivation{
		Name:           "fetched",
		Builder:        "/bin/fetch",
		Args:           []string{"https://example.com/totally-different-url"},
		OutputHash:     contentHash,
		OutputHashAlgo: "sha256",
		OutputHashMode: store.FlatHash,
	}

	h1, err := HashModulo(d1, dir)
	if err != nil {
		t.Fatalf("HashModulo(d1) error = %v", err)
	}
	h2, err := HashModulo(d2, dir)
	if err != nil {
		t.Fatalf("HashModulo(d2) error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("fixed-output hash depends on build details: %q != %q", h1, h2)
	}
}

func TestHashModuloRejectsCycle(t *testing.T) {
	dir := store.Directory("/store")
	a := &Derivation{Name: "A", Builder: "/bin/sh"}
	b := &Derivation{Name: "B", Builder: "/bin/sh", Inputs: []*Derivation{a}}
	a.Inputs = []*Derivation{b}

	if _, err := HashModulo(a, dir); err == nil {
		t.Error("HashModulo(cyclic) error = nil; want CycleError")
	}
}
