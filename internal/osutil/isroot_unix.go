// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:build unix

package osutil

import "os"

// IsRoot reports whether the current process is running as the
// superuser, used by [Freeze] to decide whether to chown frozen store
// entries to root.
func IsRoot() bool {
	return os.Geteuid() == 0
}
