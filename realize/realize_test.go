// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package realize

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgebuild/forge/drv"
	"github.com/forgebuild/forge/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := store.NewDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirectory(...) error = %v", err)
	}
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open(...) error = %v", err)
	}
	return st
}

// writeOutBuilder returns a path to a shell script that writes its
// single argument's content to $out/result.txt.
func writeOutBuilder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "build.sh")
	script := "#!/bin/sh\nset -e\nprintf '%s' \"$1\" > \"$out/result.txt\"\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile(...) error = %v", err)
	}
	return p
}

func TestRealizeDirect(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	builder := writeOutBuilder(t)

	d := &drv.Derivation{Name: "hello", Builder: builder, Args: []string{"hi there"}}
	result, err := drv.Instantiate(ctx, st, d)
	if err != nil {
		t.Fatalf("Instantiate(...) error = %v", err)
	}

	r := New(st)
	cfg := Config{Sandbox: SandboxNone}
	outPath, err := r.Realize(ctx, result.DrvPath, cfg)
	if err != nil {
		t.Fatalf("Realize(...) error = %v", err)
	}
	if outPath != result.OutPath {
		t.Errorf("Realize(...) = %q; want %q", outPath, result.OutPath)
	}

	data, err := os.ReadFile(filepath.Join(string(outPath), "result.txt"))
	if err != nil {
		t.Fatalf("ReadFile(...) error = %v", err)
	}
	if string(data) != "hi there" {
		t.Errorf("result.txt = %q; want %q", data, "hi there")
	}

	// The output must be read-only once registered.
	info, err := os.Stat(string(outPath))
	if err != nil {
		t.Fatalf("Stat(...) error = %v", err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Errorf("output dir mode = %v; want read-only", info.Mode())
	}
}

func TestRealizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	builder := writeOutBuilder(t)

	d := &drv.Derivation{Name: "hello", Builder: builder, Args: []string{"first"}}
	result, err := drv.Instantiate(ctx, st, d)
	if err != nil {
		t.Fatalf("Instantiate(...) error = %v", err)
	}

	r := New(st)
	cfg := Config{Sandbox: SandboxNone}
	if _, err := r.Realize(ctx, result.DrvPath, cfg); err != nil {
		t.Fatalf("first Realize(...) error = %v", err)
	}
	// An identical derivation instantiates to the same paths, and a
	// second Realize finds the output already present and returns it.
	d2 := &drv.Derivation{Name: "hello", Builder: builder, Args: []string{"first"}}
	result2, err := drv.Instantiate(ctx, st, d2)
	if err != nil {
		t.Fatalf("Instantiate(...) error = %v", err)
	}
	if result2.OutPath != result.OutPath {
		t.Fatalf("OutPath = %q; want %q (same content, same path)", result2.OutPath, result.OutPath)
	}
	outPath, err := r.Realize(ctx, result2.DrvPath, cfg)
	if err != nil {
		t.Fatalf("second Realize(...) error = %v", err)
	}
	if outPath != result.OutPath {
		t.Errorf("second Realize(...) = %q; want %q", outPath, result.OutPath)
	}
}

func TestRealizeBuildFailure(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	dir := t.TempDir()
	p := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\nexit 7\n"), 0o755); err != nil {
		t.Fatalf("WriteFile(...) error = %v", err)
	}

	d := &drv.Derivation{Name: "doomed", Builder: p}
	result, err := drv.Instantiate(ctx, st, d)
	if err != nil {
		t.Fatalf("Instantiate(...) error = %v", err)
	}

	r := New(st)
	_, err = r.Realize(ctx, result.DrvPath, Config{Sandbox: SandboxNone})
	if err == nil {
		t.Fatal("Realize(...) error = nil; want non-nil")
	}
	var buildErr *BuildFailedError
	if bf, ok := err.(*BuildFailedError); ok {
		buildErr = bf
	} else {
		t.Fatalf("Realize(...) error type = %T; want *BuildFailedError", err)
	}
	if buildErr.ExitCode != 7 {
		t.Errorf("ExitCode = %d; want 7", buildErr.ExitCode)
	}
}

func TestRealizeFailureLeavesNoScratchDirs(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	dir := t.TempDir()
	p := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("WriteFile(...) error = %v", err)
	}

	d := &drv.Derivation{Name: "doomed", Builder: p}
	result, err := drv.Instantiate(ctx, st, d)
	if err != nil {
		t.Fatalf("Instantiate(...) error = %v", err)
	}

	r := New(st)
	if _, err := r.Realize(ctx, result.DrvPath, Config{Sandbox: SandboxNone}); err == nil {
		t.Fatal("Realize(...) error = nil; want non-nil")
	}

	if st.Has(result.OutPath) {
		t.Errorf("output path %s exists after failed build", result.OutPath)
	}
	names, err := st.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for _, name := range names {
		if strings.HasPrefix(name, ".tmp-") {
			t.Errorf("scratch entry %s left behind after failed build", name)
		}
	}
}

func TestRealizeRealizesInputsFirst(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	builder := writeOutBuilder(t)

	dep := &drv.Derivation{Name: "dep", Builder: builder, Args: []string{"dep-content"}}
	top := &drv.Derivation{Name: "top", Builder: builder, Args: []string{"top-content"}, Inputs: []*drv.Derivation{dep}}

	result, err := drv.Instantiate(ctx, st, top)
	if err != nil {
		t.Fatalf("Instantiate(...) error = %v", err)
	}

	r := New(st)
	if _, err := r.Realize(ctx, result.DrvPath, Config{Sandbox: SandboxNone}); err != nil {
		t.Fatalf("Realize(...) error = %v", err)
	}

	depResult, err := drv.Instantiate(ctx, st, dep)
	if err != nil {
		t.Fatalf("Instantiate(dep) error = %v", err)
	}
	if !st.Has(depResult.OutPath) {
		t.Error("dependency output was not realized as a side effect of realizing top")
	}
}
