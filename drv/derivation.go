// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package drv implements the derivation-modulo hash algorithm and the
// instantiation pipeline: recursively hashing a derivation graph with
// memoization and cycle detection, computing output and
// derivation-file store paths, and materializing resolved derivation
// files into the store.
package drv

import (
	"github.com/forgebuild/forge/store"
)

// SourceKind distinguishes the two forms a Derivation's Src may take.
type SourceKind int

const (
	// SourcePath names a local filesystem path to be hashed into the
	// store at instantiation time.
	SourcePath SourceKind = iota
	// SourceFingerprint is a declared content fingerprint (a fixed
	// reference) rather than a path to hash.
	SourceFingerprint
)

// Source is a Derivation's optional input source.
type Source struct {
	Kind SourceKind

	// Path is the local filesystem path, valid when Kind == SourcePath.
	Path string

	// Fingerprint is the declared hash string, valid when
	// Kind == SourceFingerprint.
	Fingerprint string
}

// Derivation is the in-memory, caller-constructed description of a
// build step (its "input form"). Its identity for hashing and
// memoization purposes is its Go pointer identity — two *Derivation
// values with identical fields are still distinct nodes unless they're
// the same pointer. Callers share an input by sharing the pointer, not
// by constructing two structurally-equal values.
//
// A Derivation must not be mutated after it has been passed to
// [HashModulo] or [Instantiate]: both functions cache results keyed by
// pointer identity, so a later mutation produces stale results.
type Derivation struct {
	// Name is the human-readable suffix used in every store path this
	// derivation produces. It must be non-empty and contain neither '/'
	// nor NUL.
	Name string

	// Builder is the executable to run: an absolute filesystem path, a
	// store path, or a local path to be added to the store.
	Builder string

	// Args is the builder's argument vector.
	Args []string

	// Env is the builder's environment, before the standard bindings
	// are overlaid at instantiation time.
	Env map[string]string

	// System is the build target's system tag. Empty defaults to the
	// host's system tag at hash time.
	System string

	// Inputs is the set of Derivations this one depends on. The same
	// *Derivation appearing more than once counts once (input-set, not
	// input-sequence, semantics).
	Inputs []*Derivation

	// Src is this derivation's optional input source.
	Src *Source

	// OutputHash, OutputHashAlgo and OutputHashMode mark this as a
	// fixed-output derivation when OutputHash is non-empty. Its
	// identity then derives solely from these three fields.
	OutputHash     string
	OutputHashAlgo string
	OutputHashMode store.OutputHashMode
}

// IsFixedOutput reports whether d declares a fixed output hash.
func (d *Derivation) IsFixedOutput() bool {
	return d.OutputHash != ""
}

// ValidationError reports a malformed Derivation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validate derivation: " + e.Field + ": " + e.Reason
}

// validate checks the basic well-formedness rules for a Derivation.
func validate(d *Derivation) error {
	if d.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	for i := 0; i < len(d.Name); i++ {
		if d.Name[i] == '/' || d.Name[i] == 0 {
			return &ValidationError{Field: "name", Reason: "must not contain '/' or NUL"}
		}
	}
	if d.Builder == "" {
		return &ValidationError{Field: "builder", Reason: "must not be empty"}
	}
	if d.IsFixedOutput() && d.OutputHashAlgo != "sha256" {
		return &ValidationError{Field: "outputHashAlgo", Reason: "only \"sha256\" is supported, got " + d.OutputHashAlgo}
	}
	return nil
}

// DrvFile is the resolved, post-instantiation record persisted as
// JSON in the store. Its bytes are not part of any hash once written;
// callers must treat them as opaque.
type DrvFile struct {
	Outputs   map[string]OutputSpec `json:"outputs"`
	InputDrvs map[string][]string   `json:"inputDrvs"`
	InputSrcs []string              `json:"inputSrcs"`
	System    string                `json:"system"`
	Builder   string                `json:"builder"`
	Args      []string              `json:"args"`
	Env       map[string]string     `json:"env"`

	// FixedOutput records whether the derivation that produced this
	// file was fixed-output: the realizer needs it to decide whether
	// network access is always permitted without being handed the
	// original Derivation, since the instantiated file is realize's
	// only input.
	FixedOutput bool `json:"fixedOutput,omitempty"`
}

// OutputSpec describes one of a DrvFile's declared outputs. This
// system has exactly one, named "out".
type OutputSpec struct {
	Path string `json:"path"`
}
