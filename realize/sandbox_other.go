// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:build !linux

package realize

import "context"

// runSandboxed is only implemented on Linux, where a mount namespace,
// bind mounts and chroot are available (see sandbox_linux.go). On
// other platforms the container backend fails fast with a
// [SandboxError]; callers needing to build elsewhere must use
// [SandboxNone].
func runSandboxed(ctx context.Context, inv *invocation) error {
	return &SandboxError{Reason: "sandbox=container is only supported on Linux"}
}
