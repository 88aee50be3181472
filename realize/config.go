// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package realize implements the realizer: it topologically walks a
// derivation graph, runs each node's builder inside a sandbox with a
// sanitized environment, and registers outputs atomically. It is the
// only package in this module permitted to execute external
// processes.
package realize

// Config carries the options accepted by the realizer.
type Config struct {
	// Sandbox selects the build backend: "container" (default) or
	// "none". "container" is satisfied on Linux by a from-scratch mount
	// namespace / bind-mount / chroot sandbox (there is no
	// container-runtime dependency); on other platforms it fails with
	// [SandboxError].
	Sandbox string

	// ContainerImage names the base image identifier used when
	// Sandbox == "container". The Linux backend doesn't unpack an
	// actual OCI image; it treats this as a filesystem root to
	// bind-mount read-only alongside the store, defaulting to "/" when
	// empty.
	ContainerImage string

	// Network, when false, disables network access for the build.
	// Ignored (network is always permitted) when the derivation is
	// fixed-output.
	Network bool

	// Verbose controls whether the builder's stdio is inherited
	// directly (for interactive/colorful output) or captured and only
	// surfaced on failure.
	Verbose bool
}

const (
	SandboxContainer = "container"
	SandboxNone      = "none"
)

// DefaultConfig returns the realizer's default configuration:
// sandboxed builds, network disabled except for fixed-output
// derivations, non-verbose.
func DefaultConfig() Config {
	return Config{Sandbox: SandboxContainer}
}
