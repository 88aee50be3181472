// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package realize

import (
	"testing"

	"github.com/forgebuild/forge/drv"
)

func envMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		for i := 0; i < len(p); i++ {
			if p[i] == '=' {
				m[p[:i]] = p[i+1:]
				break
			}
		}
	}
	return m
}

func TestBuildEnvDirectRebindsOut(t *testing.T) {
	inv := &invocation{
		file: &drv.DrvFile{
			Env: map[string]string{"out": "/forge/store/aaaa-hello", "name": "hello"},
		},
		outDir:  "/forge/store/.tmp-scratch-out",
		workDir: "/forge/store/.tmp-scratch-work",
	}
	env := envMap(inv.buildEnvDirect())
	if env["out"] != inv.outDir {
		t.Errorf(`env["out"] = %q; want %q`, env["out"], inv.outDir)
	}
	if env["name"] != "hello" {
		t.Errorf(`env["name"] = %q; want "hello"`, env["name"])
	}
	for _, k := range []string{"TMPDIR", "TEMPDIR", "TMP", "TEMP"} {
		if env[k] != inv.workDir {
			t.Errorf("env[%q] = %q; want %q", k, env[k], inv.workDir)
		}
	}
}

func TestBuildEnvKeepsOutForSandbox(t *testing.T) {
	inv := &invocation{
		file: &drv.DrvFile{
			Env: map[string]string{"out": "/forge/store/aaaa-hello"},
		},
	}
	env := envMap(inv.buildEnv("/build"))
	if env["out"] != "/forge/store/aaaa-hello" {
		t.Errorf(`env["out"] = %q; want the original store path unchanged`, env["out"])
	}
	if env["TMPDIR"] != "/build" {
		t.Errorf(`env["TMPDIR"] = %q; want "/build"`, env["TMPDIR"])
	}
}
