// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	jsonv2 "github.com/go-json-experiment/json"

	"github.com/forgebuild/forge/drv"
	"github.com/forgebuild/forge/store"
)

// jsonDerivation is one node of a derivation graph file: forge has no
// expression language, so the CLI's own input format is this flat,
// JSON-described graph instead of an evaluated expression.
type jsonDerivation struct {
	Name           string            `json:"name"`
	Builder        string            `json:"builder"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	System         string            `json:"system,omitempty"`
	Inputs         []string          `json:"inputs,omitempty"`
	SrcPath        string            `json:"srcPath,omitempty"`
	SrcFingerprint string            `json:"srcFingerprint,omitempty"`
	OutputHash     string            `json:"outputHash,omitempty"`
	OutputHashAlgo string            `json:"outputHashAlgo,omitempty"`
	OutputHashMode string            `json:"outputHashMode,omitempty"`
}

// jsonGraph is the on-disk shape of a derivation graph file: a set of
// named nodes and the name of the node to treat as the root.
type jsonGraph struct {
	Nodes map[string]*jsonDerivation `json:"nodes"`
	Root  string                     `json:"root"`
}

// loadGraph reads a derivation graph file at path and returns its root
// [*drv.Derivation]. Nodes that appear in more than one other node's
// "inputs" list resolve to the same *drv.Derivation pointer, so shared
// subgraphs collapse rather than being duplicated.
func loadGraph(path string) (*drv.Derivation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g jsonGraph
	if err := jsonv2.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if g.Root == "" {
		return nil, fmt.Errorf("parse %s: missing \"root\"", path)
	}
	if _, ok := g.Nodes[g.Root]; !ok {
		return nil, fmt.Errorf("parse %s: root %q not found in nodes", path, g.Root)
	}

	// First pass: allocate every node's pointer up front so that
	// forward and backward input references within the same file both
	// resolve to the same *drv.Derivation.
	nodes := make(map[string]*drv.Derivation, len(g.Nodes))
	for id := range g.Nodes {
		nodes[id] = &drv.Derivation{}
	}

	// Second pass: fill in each node's fields, resolving its inputs by
	// name into the shared pointers allocated above.
	for id, jd := range g.Nodes {
		d := nodes[id]
		d.Name = jd.Name
		d.Builder = jd.Builder
		d.Args = jd.Args
		d.Env = jd.Env
		d.System = jd.System
		d.OutputHash = jd.OutputHash
		d.OutputHashAlgo = jd.OutputHashAlgo
		switch jd.OutputHashMode {
		case "", "flat":
			d.OutputHashMode = store.FlatHash
		case "recursive":
			d.OutputHashMode = store.RecursiveHash
		default:
			return nil, fmt.Errorf("parse %s: node %q: unknown outputHashMode %q", path, id, jd.OutputHashMode)
		}
		if jd.SrcPath != "" && jd.SrcFingerprint != "" {
			return nil, fmt.Errorf("parse %s: node %q: can specify at most one of srcPath or srcFingerprint", path, id)
		}
		switch {
		case jd.SrcPath != "":
			d.Src = &drv.Source{Kind: drv.SourcePath, Path: jd.SrcPath}
		case jd.SrcFingerprint != "":
			d.Src = &drv.Source{Kind: drv.SourceFingerprint, Fingerprint: jd.SrcFingerprint}
		}

		for _, inputID := range jd.Inputs {
			input, ok := nodes[inputID]
			if !ok {
				return nil, fmt.Errorf("parse %s: node %q: input %q not found in nodes", path, id, inputID)
			}
			d.Inputs = append(d.Inputs, input)
		}
	}

	return nodes[g.Root], nil
}
