// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package store

import (
	"fmt"
	"strings"
)

// Directory is the absolute path to a store's root directory.
type Directory string

// NewDirectory validates and returns dir as a [Directory]. It must be
// an absolute POSIX path.
func NewDirectory(dir string) (Directory, error) {
	if dir == "" || dir[0] != '/' {
		return "", fmt.Errorf("store directory %q: must be an absolute path", dir)
	}
	clean := dir
	for len(clean) > 1 && clean[len(clean)-1] == '/' {
		clean = clean[:len(clean)-1]
	}
	return Directory(clean), nil
}

// String returns the directory's path string.
func (d Directory) String() string {
	return string(d)
}

// Join returns the store path for an entry named name within d.
func (d Directory) Join(name string) Path {
	return Path(string(d) + "/" + name)
}

// Path is an absolute path to an entry inside a store directory.
type Path string

// ParsePath parses raw as a [Path] rooted at dir, validating that raw
// lies directly inside dir and has the `<nix32>-<name>` shape.
func ParsePath(dir Directory, raw string) (Path, error) {
	prefix := string(dir) + "/"
	if !strings.HasPrefix(raw, prefix) {
		return "", fmt.Errorf("parse store path %q: not in store directory %q", raw, dir)
	}
	base := raw[len(prefix):]
	if strings.Contains(base, "/") {
		return "", fmt.Errorf("parse store path %q: contains a subdirectory", raw)
	}
	digest, name, ok := strings.Cut(base, "-")
	if !ok || len(digest) != 32 || name == "" {
		return "", fmt.Errorf("parse store path %q: malformed entry name %q", raw, base)
	}
	if err := ValidateNix32(digest); err != nil {
		return "", fmt.Errorf("parse store path %q: %w", raw, err)
	}
	return Path(raw), nil
}

// Dir returns the store directory p was computed relative to, by
// trimming the trailing `<nix32>-<name>` component.
func (p Path) Dir() Directory {
	i := strings.LastIndexByte(string(p), '/')
	if i < 0 {
		return ""
	}
	return Directory(p[:i])
}

// Base returns the final path component (`<nix32>-<name>`, optionally
// with a `.drv` suffix).
func (p Path) Base() string {
	i := strings.LastIndexByte(string(p), '/')
	return string(p[i+1:])
}

// Digest returns the 32-character Nix32 digest component of p.
func (p Path) Digest() string {
	base := p.Base()
	if len(base) < 32 {
		return ""
	}
	return base[:32]
}

// Name returns the human-readable suffix of p, after the digest and
// hyphen.
func (p Path) Name() string {
	base := p.Base()
	if len(base) < 33 || base[32] != '-' {
		return ""
	}
	return base[33:]
}

// IsDerivation reports whether p names a derivation file (its name
// ends with ".drv").
func (p Path) IsDerivation() bool {
	return strings.HasSuffix(string(p), ".drv")
}

// validateName reports whether name is a legal store-path name
// suffix: non-empty, containing neither '/' nor NUL.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("name %q must not contain '/' or NUL", name)
	}
	return nil
}

// OutputHashMode selects how a fixed-output derivation's declared
// content hash was computed. The mode only affects the hash
// fingerprint: the realizer does not check a built output's content
// against the declared hash in either mode.
type OutputHashMode int

const (
	// FlatHash is the default: the output is hashed as a single file's
	// byte content.
	FlatHash OutputHashMode = iota
	// RecursiveHash hashes the output as a serialized file tree.
	RecursiveHash
)

func (m OutputHashMode) String() string {
	if m == RecursiveHash {
		return "recursive"
	}
	return "flat"
}

// ComputeStorePath implements the path computer: given a short type
// tag, a 64-hex inner digest, a store directory and a name, it returns
// the corresponding store path.
func ComputeStorePath(typ, innerDigest string, dir Directory, name string) (Path, error) {
	if err := validateName(name); err != nil {
		return "", fmt.Errorf("compute store path for %s: %w", name, err)
	}
	fingerprint := typ + ":sha256:" + innerDigest + ":" + string(dir) + ":" + name
	d := EncodeNix32(digest20(fingerprint))
	return dir.Join(d + "-" + name), nil
}

// ComputeFixedOutputPath implements the fixed-output path variant:
// given a declared content hash (64-hex SHA-256), a hash mode, a store
// directory and a name, it returns the output path a fixed-output
// derivation with that declared content would produce.
func ComputeFixedOutputPath(contentHash string, mode OutputHashMode, dir Directory, name string) (Path, error) {
	f := fixedOutputFingerprint(contentHash, mode)
	innerDigest := SHA256Hex([]byte(f))
	return ComputeStorePath("output:out", innerDigest, dir, name)
}

// fixedOutputFingerprint builds the inner fingerprint shared by
// [ComputeFixedOutputPath] and the fixed-output branch of the
// derivation-modulo hash (drv.HashModulo) — both derive from the same
// declared content hash and must agree by construction.
func fixedOutputFingerprint(contentHash string, mode OutputHashMode) string {
	r := ""
	if mode == RecursiveHash {
		r = "r:"
	}
	return "fixed:out:" + r + "sha256:" + contentHash + ":"
}

// FixedOutputFingerprint exposes fixedOutputFingerprint to package drv,
// which needs the identical string to compute the fixed-output
// derivation-modulo hash.
func FixedOutputFingerprint(contentHash string, mode OutputHashMode) string {
	return fixedOutputFingerprint(contentHash, mode)
}
