// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package tempname generates unpredictable names for scratch
// directories and files. Unlike a content-derived identifier, these
// names must never collide between two concurrent operations on the
// same logical target, so they are drawn from a random UUID rather
// than anything derived from the content being written.
package tempname

import "github.com/google/uuid"

// Prefix is prepended to every generated name, matching the store's
// `.tmp-*` scratch-directory convention.
const Prefix = ".tmp-"

// New returns a fresh, unpredictable name of the form ".tmp-<uuid>".
func New() string {
	return Prefix + uuid.NewString()
}
