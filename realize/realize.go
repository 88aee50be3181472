// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package realize

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"zombiezen.com/go/log"

	"github.com/forgebuild/forge/drv"
	"github.com/forgebuild/forge/internal/buildlog"
	"github.com/forgebuild/forge/internal/osutil"
	"github.com/forgebuild/forge/store"
)

// Realizer runs builders for a store and installs their outputs.
// Concurrent calls to [Realizer.Realize] for the same derivation path
// are collapsed into a single builder invocation.
type Realizer struct {
	store *store.Store
	group singleflight.Group

	// log records every realize invocation's start/end time, exit code
	// and output path when non-nil. Realize behaves identically with
	// log == nil; the build log is pure enrichment.
	log *buildlog.Log
}

// New returns a Realizer bound to st.
func New(st *store.Store) *Realizer {
	return &Realizer{store: st}
}

// WithBuildLog sets the build log every subsequent [Realizer.Realize]
// call records to. It returns r for chaining.
func (r *Realizer) WithBuildLog(l *buildlog.Log) *Realizer {
	r.log = l
	return r
}

// Realize reads the derivation file at drvPath, returns its output
// immediately if already present, recursively realizes every input
// first, then dispatches to the sandbox backend selected by cfg.
func (r *Realizer) Realize(ctx context.Context, drvPath store.Path, cfg Config) (store.Path, error) {
	v, err, _ := r.group.Do(string(drvPath), func() (any, error) {
		return r.realize(ctx, drvPath, cfg)
	})
	if err != nil {
		return "", err
	}
	return v.(store.Path), nil
}

func (r *Realizer) realize(ctx context.Context, drvPath store.Path, cfg Config) (store.Path, error) {
	file, err := drv.Read(r.store, drvPath)
	if err != nil {
		return "", err
	}
	outSpec, ok := file.Outputs["out"]
	if !ok {
		return "", &ValidationError{DrvPath: string(drvPath), Reason: "missing \"out\" output"}
	}
	outPath := store.Path(outSpec.Path)

	if r.store.Has(outPath) {
		log.Debugf(ctx, "forge: %s already built, reusing %s", drvPath, outPath)
		return outPath, nil
	}

	for inputDrvPath := range file.InputDrvs {
		if _, err := r.Realize(ctx, store.Path(inputDrvPath), cfg); err != nil {
			return "", fmt.Errorf("realize %s: input %s: %w", drvPath, inputDrvPath, err)
		}
	}

	network := cfg.Network || file.FixedOutput

	outDir, err := r.store.NewScratchDir()
	if err != nil {
		return "", fmt.Errorf("realize %s: %w", drvPath, err)
	}
	workDir, err := r.store.NewScratchDir()
	if err != nil {
		if rmErr := osutil.UnmountAndRemoveAll(outDir); rmErr != nil {
			log.Warnf(ctx, "forge: clean up %s: %v", outDir, rmErr)
		}
		return "", fmt.Errorf("realize %s: %w", drvPath, err)
	}
	defer func() {
		if err := osutil.UnmountAndRemoveAll(workDir); err != nil {
			log.Warnf(ctx, "forge: clean up build dir %s: %v", workDir, err)
		}
	}()
	inv := &invocation{
		store:   r.store,
		drvPath: drvPath,
		file:    file,
		outPath: outPath,
		outDir:  outDir,
		workDir: workDir,
		cfg:     cfg,
		network: network,
	}

	var entry buildlog.Entry
	var logging bool
	if r.log != nil {
		var err error
		entry, err = r.log.Start(ctx, string(drvPath), time.Now().Unix())
		if err != nil {
			log.Warnf(ctx, "forge: build log: %v", err)
		} else {
			logging = true
		}
	}

	var runErr error
	switch cfg.Sandbox {
	case "", SandboxContainer:
		runErr = runSandboxed(ctx, inv)
	case SandboxNone:
		runErr = runDirect(ctx, inv)
	default:
		runErr = &SandboxError{Reason: fmt.Sprintf("unknown sandbox kind %q", cfg.Sandbox)}
	}

	finalErr := runErr
	if finalErr == nil {
		if err := r.store.RegisterOutput(ctx, outDir, outPath); err != nil {
			finalErr = fmt.Errorf("realize %s: %w", drvPath, err)
		} else if !r.store.Has(outPath) {
			finalErr = &MissingOutputError{DrvPath: string(drvPath), OutPath: string(outPath)}
		}
	}
	if finalErr != nil {
		// RegisterOutput consumes outDir on success; on any failure the
		// staged output must not linger as a .tmp-* entry.
		if err := osutil.UnmountAndRemoveAll(outDir); err != nil {
			log.Warnf(ctx, "forge: clean up staged output %s: %v", outDir, err)
		}
	}

	if logging {
		exitCode := 0
		if bf, ok := finalErr.(*BuildFailedError); ok {
			exitCode = bf.ExitCode
		}
		finishedOutPath := ""
		if finalErr == nil {
			finishedOutPath = string(outPath)
		}
		if err := r.log.Finish(ctx, entry, time.Now().Unix(), finishedOutPath, exitCode, finalErr); err != nil {
			log.Warnf(ctx, "forge: build log: %v", err)
		}
	}

	if finalErr != nil {
		return "", finalErr
	}
	return outPath, nil
}

// ValidationError reports a malformed derivation file encountered by
// the realizer, distinct from package drv's construction-time
// validation error.
type ValidationError struct {
	DrvPath string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("realize %s: %s", e.DrvPath, e.Reason)
}
