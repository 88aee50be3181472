// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package realize

import (
	"github.com/forgebuild/forge/drv"
	"github.com/forgebuild/forge/store"
)

// invocation carries everything a sandbox backend needs to run one
// derivation's builder and is shared between runSandboxed and
// runDirect. It is deliberately unexported: both backends live in
// package realize and nothing outside the package constructs one.
type invocation struct {
	store   *store.Store
	drvPath store.Path
	file    *drv.DrvFile
	outPath store.Path

	// outDir is a scratch directory that becomes outPath once the
	// builder finishes and [store.Store.RegisterOutput] locks it down
	// and renames it into place.
	outDir string
	// workDir is a scratch directory the builder runs in. It is never
	// installed into the store; it's discarded after the build.
	workDir string

	cfg Config
	// network reports whether the build may reach the network:
	// cfg.Network, or unconditionally true for a fixed-output
	// derivation.
	network bool
}

// buildEnv returns the builder's environment as a "k=v" slice, suitable
// for exec.Cmd.Env, with TMPDIR/TEMPDIR/TMP/TEMP pointed at scratch.
// The derivation's own Env already carries the standard bindings from
// instantiation, including "out" bound to the eventual store path; the
// sandboxed backend keeps that binding as-is because it bind-mounts
// outDir at that exact path inside the chroot, making it writable
// there. The direct backend has no such namespace, so it calls
// buildEnvDirect instead, which rebinds "out" to the real scratch
// directory the builder can actually write to.
func (inv *invocation) buildEnv(scratch string) []string {
	env := make(map[string]string, len(inv.file.Env)+4)
	for k, v := range inv.file.Env {
		env[k] = v
	}
	env["TMPDIR"] = scratch
	env["TEMPDIR"] = scratch
	env["TMP"] = scratch
	env["TEMP"] = scratch
	return envSlice(env)
}

// buildEnvDirect is buildEnv for the no-sandbox backend: "out" is
// rebound from the eventual store path to outDir, the scratch
// directory the builder writes to before [store.Store.RegisterOutput]
// locks it down and renames it into place.
func (inv *invocation) buildEnvDirect() []string {
	env := make(map[string]string, len(inv.file.Env)+5)
	for k, v := range inv.file.Env {
		env[k] = v
	}
	env["out"] = inv.outDir
	env["TMPDIR"] = inv.workDir
	env["TEMPDIR"] = inv.workDir
	env["TMP"] = inv.workDir
	env["TEMP"] = inv.workDir
	return envSlice(env)
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
