// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the lowercase hex encoding of the SHA-256 digest of
// data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// digest20 returns the first 20 bytes of the SHA-256 digest of
// fingerprint, the input to [EncodeNix32] for every store path.
func digest20(fingerprint string) []byte {
	sum := sha256.Sum256([]byte(fingerprint))
	return sum[:20]
}
