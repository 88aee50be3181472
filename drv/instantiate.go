// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package drv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	jsonv2 "github.com/go-json-experiment/json"

	"github.com/forgebuild/forge/internal/system"
	"github.com/forgebuild/forge/store"
)

// Result is the pair of store paths produced by instantiating a
// Derivation.
type Result struct {
	DrvPath store.Path
	OutPath store.Path
}

// Instantiate materializes root and its transitive inputs into st,
// writing a resolved DrvFile for each one and returning root's
// derivation-file and output paths.
//
// A single hash memo is shared across the whole recursive descent:
// since every node's inputs are instantiated depth-first before its
// own hash is computed, reusing one memo across the call only avoids
// redundant recomputation of shared subgraphs — it produces identical
// results while honoring the diamond-collapse this package is built
// around.
func Instantiate(ctx context.Context, st *store.Store, root *Derivation) (Result, error) {
	if err := checkAcyclic(root); err != nil {
		return Result{}, err
	}
	hashMemo := make(map[*Derivation]string)
	resultMemo := make(map[*Derivation]Result)
	return instantiate(ctx, st, root, hashMemo, resultMemo)
}

func instantiate(ctx context.Context, st *store.Store, d *Derivation, hashMemo map[*Derivation]string, resultMemo map[*Derivation]Result) (Result, error) {
	if r, ok := resultMemo[d]; ok {
		return r, nil
	}
	if err := validate(d); err != nil {
		return Result{}, err
	}

	inputResults := make([]Result, len(d.Inputs))
	for i, in := range d.Inputs {
		r, err := instantiate(ctx, st, in, hashMemo, resultMemo)
		if err != nil {
			return Result{}, err
		}
		inputResults[i] = r
	}

	dir := st.Directory()
	drvHash, err := hashModulo(d, dir, hashMemo)
	if err != nil {
		return Result{}, fmt.Errorf("instantiate %s: %w", d.Name, err)
	}

	var outPath store.Path
	if d.IsFixedOutput() {
		outPath, err = store.ComputeFixedOutputPath(d.OutputHash, d.OutputHashMode, dir, d.Name)
	} else {
		outPath, err = store.ComputeStorePath("output:out", drvHash, dir, d.Name)
	}
	if err != nil {
		return Result{}, fmt.Errorf("instantiate %s: %w", d.Name, err)
	}

	drvPathBase, err := store.ComputeStorePath("output:out", drvHash, dir, d.Name)
	if err != nil {
		return Result{}, fmt.Errorf("instantiate %s: %w", d.Name, err)
	}
	drvPath := drvPathBase + ".drv"

	var inputSrcs []string
	if d.Src != nil && d.Src.Kind == SourcePath {
		p, err := st.AddSource(ctx, d.Src.Path, "")
		if err != nil {
			return Result{}, fmt.Errorf("instantiate %s: add src: %w", d.Name, err)
		}
		inputSrcs = append(inputSrcs, string(p))
	}

	builder := d.Builder
	switch {
	case strings.HasPrefix(builder, string(dir)+"/"):
		// Already a store path; keep as-is.
	case strings.HasPrefix(builder, "/"):
		// An absolute host path such as /bin/sh; keep as-is.
	default:
		p, err := st.AddSource(ctx, builder, "")
		if err != nil {
			return Result{}, fmt.Errorf("instantiate %s: add builder: %w", d.Name, err)
		}
		builder = string(p)
		inputSrcs = append(inputSrcs, string(p))
	}

	inputDrvs := make(map[string][]string, len(d.Inputs))
	for _, r := range inputResults {
		inputDrvs[string(r.DrvPath)] = []string{"out"}
	}

	sys := d.System
	if sys == "" {
		sys = system.Current().String()
	}

	env := make(map[string]string, len(d.Env)+5+len(inputResults))
	for k, v := range d.Env {
		env[k] = v
	}
	env["out"] = string(outPath)
	env["name"] = d.Name
	env["system"] = sys
	env["PATH"] = "/path-not-set"
	env["HOME"] = "/homeless-shelter"
	env["NIX_STORE"] = string(dir)
	for i, r := range inputResults {
		env["input"+strconv.Itoa(i)] = string(r.OutPath)
	}

	file := DrvFile{
		Outputs:     map[string]OutputSpec{"out": {Path: string(outPath)}},
		InputDrvs:   inputDrvs,
		InputSrcs:   inputSrcs,
		System:      sys,
		Builder:     builder,
		Args:        d.Args,
		Env:         env,
		FixedOutput: d.IsFixedOutput(),
	}

	data, err := jsonv2.Marshal(&file)
	if err != nil {
		return Result{}, fmt.Errorf("instantiate %s: marshal drv file: %w", d.Name, err)
	}
	if err := st.AddDrv(ctx, drvPath, data); err != nil {
		return Result{}, fmt.Errorf("instantiate %s: %w", d.Name, err)
	}

	result := Result{DrvPath: drvPath, OutPath: outPath}
	resultMemo[d] = result
	return result, nil
}
