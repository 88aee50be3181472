// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package drv

import (
	"fmt"

	jsonv2 "github.com/go-json-experiment/json"

	"github.com/forgebuild/forge/store"
)

// Read reads and decodes the DrvFile stored at path. It lives in
// package drv, not package store, so that package store never needs to
// import drv's JSON shape back — store only deals in raw bytes.
func Read(st *store.Store, path store.Path) (*DrvFile, error) {
	data, err := st.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read derivation %s: %w", path, err)
	}
	var file DrvFile
	if err := jsonv2.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("read derivation %s: %w", path, err)
	}
	return &file, nil
}
