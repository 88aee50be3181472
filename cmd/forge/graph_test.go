// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGraph(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(...) error = %v", err)
	}
	return p
}

func TestLoadGraphSharesDiamondInput(t *testing.T) {
	path := writeGraph(t, `{
		"root": "a",
		"nodes": {
			"a": {"name": "a", "builder": "/bin/sh", "inputs": ["b", "c"]},
			"b": {"name": "b", "builder": "/bin/sh", "inputs": ["d"]},
			"c": {"name": "c", "builder": "/bin/sh", "inputs": ["d"]},
			"d": {"name": "d", "builder": "/bin/sh"}
		}
	}`)

	a, err := loadGraph(path)
	if err != nil {
		t.Fatalf("loadGraph(...) error = %v", err)
	}
	if len(a.Inputs) != 2 {
		t.Fatalf("len(a.Inputs) = %d; want 2", len(a.Inputs))
	}
	b, c := a.Inputs[0], a.Inputs[1]
	if len(b.Inputs) != 1 || len(c.Inputs) != 1 {
		t.Fatalf("b/c must each have exactly one input")
	}
	if b.Inputs[0] != c.Inputs[0] {
		t.Error("loadGraph did not collapse the shared node to the same pointer")
	}
	if b.Inputs[0].Name != "d" {
		t.Errorf("shared input name = %q; want %q", b.Inputs[0].Name, "d")
	}
}

func TestLoadGraphMissingRoot(t *testing.T) {
	path := writeGraph(t, `{
		"root": "nonexistent",
		"nodes": {"a": {"name": "a", "builder": "/bin/sh"}}
	}`)
	if _, err := loadGraph(path); err == nil {
		t.Error("loadGraph(...) error = nil; want non-nil for missing root")
	}
}

func TestLoadGraphDanglingInput(t *testing.T) {
	path := writeGraph(t, `{
		"root": "a",
		"nodes": {"a": {"name": "a", "builder": "/bin/sh", "inputs": ["missing"]}}
	}`)
	if _, err := loadGraph(path); err == nil {
		t.Error("loadGraph(...) error = nil; want non-nil for a dangling input reference")
	}
}

func TestLoadGraphInvalidOutputHashMode(t *testing.T) {
	path := writeGraph(t, `{
		"root": "a",
		"nodes": {"a": {"name": "a", "builder": "/bin/sh", "outputHashMode": "bogus"}}
	}`)
	if _, err := loadGraph(path); err == nil {
		t.Error("loadGraph(...) error = nil; want non-nil for an invalid outputHashMode")
	}
}

func TestLoadGraphRejectsBothSrcFields(t *testing.T) {
	path := writeGraph(t, `{
		"root": "a",
		"nodes": {"a": {"name": "a", "builder": "/bin/sh", "srcPath": "/tmp/x", "srcFingerprint": "deadbeef"}}
	}`)
	if _, err := loadGraph(path); err == nil {
		t.Error("loadGraph(...) error = nil; want non-nil when both srcPath and srcFingerprint are set")
	}
}

func TestLoadGraphResolvesSimpleChain(t *testing.T) {
	path := writeGraph(t, `{
		"root": "top",
		"nodes": {
			"top": {"name": "top", "builder": "/bin/sh", "args": ["-c", "true"], "inputs": ["base"]},
			"base": {"name": "base", "builder": "/bin/sh"}
		}
	}`)
	top, err := loadGraph(path)
	if err != nil {
		t.Fatalf("loadGraph(...) error = %v", err)
	}
	if top.Name != "top" {
		t.Errorf("top.Name = %q; want %q", top.Name, "top")
	}
	if len(top.Args) != 2 || top.Args[0] != "-c" || top.Args[1] != "true" {
		t.Errorf("top.Args = %v; want [-c true]", top.Args)
	}
	if len(top.Inputs) != 1 || top.Inputs[0].Name != "base" {
		t.Fatalf("top.Inputs = %v; want a single node named base", top.Inputs)
	}
}
