// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package realize

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Sandbox != SandboxContainer {
		t.Errorf("DefaultConfig().Sandbox = %q; want %q", cfg.Sandbox, SandboxContainer)
	}
	if cfg.Network {
		t.Error("DefaultConfig().Network = true; want false")
	}
	if cfg.Verbose {
		t.Error("DefaultConfig().Verbose = true; want false")
	}
}
