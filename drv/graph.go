// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package drv

import (
	"strings"

	"github.com/forgebuild/forge/internal/sets"
)

// CycleError reports a cycle in a derivation graph, carrying the
// offending path of names in cycle order.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle in derivation graph: " + strings.Join(e.Path, " -> ")
}

// checkAcyclic runs the same traversal as TopoSort over a single root,
// discarding the order and returning only the error. HashModulo calls
// this before it ever recurses.
func checkAcyclic(root *Derivation) error {
	_, err := TopoSort([]*Derivation{root})
	return err
}

// TopoSort returns roots and their transitive inputs in an order
// where every input precedes its consumers, each distinct derivation
// appearing exactly once.
//
// The traversal is depth-first post-order with two sets: visited
// (nodes already emitted) and onStack (the current recursion path,
// mapping each node to its position on it). Entering a node already on
// the stack means a cycle — reported as CycleError with the stack
// slice from the repeated node's position up to the point of
// detection, followed by the repeated node again, so it appears at
// both ends. Entering an already visited node is a no-op skip (shared
// inputs, not cycles).
func TopoSort(roots []*Derivation) ([]*Derivation, error) {
	visited := make(map[*Derivation]bool)
	onStack := make(map[*Derivation]int)
	var stackNames []string
	var order []*Derivation

	var visit func(d *Derivation) error
	visit = func(d *Derivation) error {
		if i, ok := onStack[d]; ok {
			cyclePath := append(append([]string(nil), stackNames[i:]...), d.Name)
			return &CycleError{Path: cyclePath}
		}
		if visited[d] {
			return nil
		}
		onStack[d] = len(stackNames)
		stackNames = append(stackNames, d.Name)
		for _, in := range d.Inputs {
			if err := visit(in); err != nil {
				return err
			}
		}
		stackNames = stackNames[:len(stackNames)-1]
		delete(onStack, d)
		visited[d] = true
		order = append(order, d)
		return nil
	}

	for _, root := range roots {
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// GetAllDeps returns the set of derivations transitively reachable
// from d's inputs, exclusive of d itself. Unlike HashModulo and
// TopoSort it tolerates cycles, returning whatever was reachable
// before detecting the repeat — it's an audit/testing helper, not part
// of the hashing path.
func GetAllDeps(d *Derivation) sets.Set[*Derivation] {
	seen := sets.New[*Derivation]()
	var visit func(d *Derivation)
	visit = func(d *Derivation) {
		for _, in := range d.Inputs {
			if seen.Has(in) {
				continue
			}
			seen.Add(in)
			visit(in)
		}
	}
	visit(d)
	return seen
}
