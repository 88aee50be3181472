// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package drv

import (
	"github.com/forgebuild/forge/internal/system"
	"github.com/forgebuild/forge/store"
)

// HashModulo computes the derivation-modulo hash of root: a 64-hex
// SHA-256 that collapses the graph's information into a single
// fingerprint, with every input replaced by its own derivation-modulo
// hash and the outputs emptied to break the chicken-and-egg between a
// derivation's hash and its output path.
//
// Cycle detection always runs before any hashing begins, so the
// recursive descent below can rely on its memoization map alone for
// termination.
func HashModulo(root *Derivation, dir store.Directory) (string, error) {
	if err := checkAcyclic(root); err != nil {
		return "", err
	}
	memo := make(map[*Derivation]string)
	return hashModulo(root, dir, memo)
}

func hashModulo(d *Derivation, dir store.Directory, memo map[*Derivation]string) (string, error) {
	if h, ok := memo[d]; ok {
		return h, nil
	}

	if d.IsFixedOutput() {
		f := store.FixedOutputFingerprint(d.OutputHash, d.OutputHashMode)
		h := store.SHA256Hex([]byte(f))
		memo[d] = h
		return h, nil
	}

	inputs := make(store.Map)
	for _, in := range d.Inputs {
		h, err := hashModulo(in, dir, memo)
		if err != nil {
			return "", err
		}
		inputs[h] = store.Seq{store.String("out")}
	}

	sys := d.System
	if sys == "" {
		sys = system.Current().String()
	}

	record := store.Map{
		"name":    store.String(d.Name),
		"system":  store.String(sys),
		"builder": store.String(d.Builder),
		"args":    store.StringSeq(d.Args),
		"env":     store.StringMap(d.Env),
		"inputs":  inputs,
		"outputs": store.Map{"out": store.String("")},
	}
	if d.Src != nil {
		switch d.Src.Kind {
		case SourcePath:
			record["src"] = store.String(d.Src.Path)
		case SourceFingerprint:
			record["src"] = store.String(d.Src.Fingerprint)
		}
	}

	data, err := store.Marshal(record)
	if err != nil {
		return "", err
	}
	h := store.SHA256Hex(data)
	memo[d] = h
	return h, nil
}
