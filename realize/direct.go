// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package realize

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"zombiezen.com/go/log"
)

// runDirect implements the "direct (no sandbox)" backend: it runs the
// builder with no isolation beyond the environment sanitization every
// backend applies, with cwd set to a fresh scratch directory and $out
// already pointing at another scratch directory that becomes the
// output.
func runDirect(ctx context.Context, inv *invocation) error {
	c := exec.CommandContext(ctx, inv.file.Builder, inv.file.Args...)
	c.Env = inv.buildEnvDirect()
	c.Dir = inv.workDir

	var stderrTail bytes.Buffer
	if inv.cfg.Verbose {
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
	} else {
		c.Stdout = &stderrTail
		c.Stderr = &stderrTail
	}

	log.Debugf(ctx, "forge: running builder %s %v for %s (direct)", inv.file.Builder, inv.file.Args, inv.drvPath)
	err := c.Run()
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return &SandboxError{Reason: "start builder", Err: err}
	}
	return &BuildFailedError{
		DrvPath:  string(inv.drvPath),
		ExitCode: exitErr.ExitCode(),
		Stderr:   stderrTail.String(),
	}
}
