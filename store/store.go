// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package store implements the hash primitives, the store-path
// computer and the content-addressed store itself: an immutable,
// on-disk directory whose entries are installed by atomic
// temp-then-rename writes and locked down to read-only permissions.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
	"zombiezen.com/go/log"

	"github.com/forgebuild/forge/internal/osutil"
	"github.com/forgebuild/forge/internal/tempname"
)

// IOError wraps a filesystem failure with the path that caused it.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Store is bound to a single directory on disk and implements the
// content-addressed store: membership tests, atomic writes,
// immutability enforcement and typed reads.
type Store struct {
	dir Directory

	// writes collapses concurrent installs of the same final path into
	// one winner: the outcome is last-writer-loses, but content is
	// identical by construction, so singleflight just avoids redundant
	// work rather than being required for correctness.
	writes singleflight.Group
}

// Open returns a Store bound to dir, creating the directory (mode
// 0o755) if it does not already exist.
func Open(dir Directory) (*Store, error) {
	if err := os.MkdirAll(string(dir), 0o755); err != nil {
		return nil, &IOError{Op: "open store", Path: string(dir), Err: err}
	}
	return &Store{dir: dir}, nil
}

// Directory returns the store's root directory.
func (s *Store) Directory() Directory {
	return s.dir
}

// NewScratchDir creates and returns a fresh, empty directory inside
// the store (mode 0o755), named with an unpredictable `.tmp-*` prefix
// so concurrent callers never collide. The realizer uses this as a
// build's output staging area before [Store.RegisterOutput] locks it
// down and renames it into place — both ends of that rename must be
// on the same filesystem, which a scratch dir allocated inside the
// store directory guarantees.
func (s *Store) NewScratchDir() (string, error) {
	dir := string(s.dir.Join(tempname.New()))
	if err := osutil.MkdirPerm(dir, 0o755); err != nil {
		return "", &IOError{Op: "create scratch dir", Path: dir, Err: err}
	}
	return dir, nil
}

// Has reports whether path exists on disk.
func (s *Store) Has(path Path) bool {
	_, err := os.Lstat(string(path))
	return err == nil
}

// List returns the names of the entries immediately under the store
// directory, in no particular order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(string(s.dir))
	if err != nil {
		return nil, &IOError{Op: "list store", Path: string(s.dir), Err: err}
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// Read returns the raw bytes of the file at path.
func (s *Store) Read(path Path) ([]byte, error) {
	data, err := os.ReadFile(string(path))
	if err != nil {
		return nil, &IOError{Op: "read", Path: string(path), Err: err}
	}
	return data, nil
}

// AddSource computes the content hash of the file at localPath,
// derives its source store path (type "source"), and, if not already
// present, atomically installs a copy of the file. name defaults to
// the local basename.
func (s *Store) AddSource(ctx context.Context, localPath string, name string) (Path, error) {
	if name == "" {
		name = filepath.Base(localPath)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", &IOError{Op: "add source", Path: localPath, Err: err}
	}
	innerDigest := SHA256Hex(data)
	finalPath, err := ComputeStorePath("source", innerDigest, s.dir, name)
	if err != nil {
		return "", fmt.Errorf("add source %s: %w", localPath, err)
	}
	if s.Has(finalPath) {
		return finalPath, nil
	}
	_, err, _ = s.writes.Do(string(finalPath), func() (any, error) {
		return nil, s.installFile(ctx, finalPath, data)
	})
	if err != nil {
		return "", err
	}
	return finalPath, nil
}

// AddDrv serializes data (already-marshaled derivation-file JSON) and
// atomically installs it at path. It is a no-op if path already
// exists: the .drv file is not re-hashed here, the caller (package
// drv) already computed path from the derivation hash.
func (s *Store) AddDrv(ctx context.Context, path Path, data []byte) error {
	if s.Has(path) {
		return nil
	}
	_, err, _ := s.writes.Do(string(path), func() (any, error) {
		return nil, s.installFile(ctx, path, data)
	})
	return err
}

// installFile implements the atomic write discipline: write to a
// fresh temp directory on the same filesystem, freeze permissions,
// then rename into place. On any failure the temp directory is
// removed, and an entry that already exists at finalPath is left
// untouched.
func (s *Store) installFile(ctx context.Context, finalPath Path, data []byte) (err error) {
	if s.Has(finalPath) {
		return nil
	}
	tmpDir := string(s.dir.Join(tempname.New()))
	if err := osutil.MkdirPerm(tmpDir, 0o755); err != nil {
		return &IOError{Op: "install", Path: tmpDir, Err: err}
	}
	defer func() {
		if err != nil {
			if rmErr := osutil.UnmountAndRemoveAll(tmpDir); rmErr != nil {
				log.Warnf(ctx, "forge: clean up %s after failed install: %v", tmpDir, rmErr)
			}
		}
	}()

	tmpFile := filepath.Join(tmpDir, filepath.Base(string(finalPath)))
	if err := osutil.WriteFilePerm(tmpFile, data, 0o444); err != nil {
		return &IOError{Op: "install", Path: tmpFile, Err: err}
	}

	if err := os.Rename(tmpFile, string(finalPath)); err != nil {
		if os.IsExist(err) || errors.Is(err, os.ErrExist) {
			return nil
		}
		return &IOError{Op: "install", Path: string(finalPath), Err: err}
	}
	if rmErr := os.Remove(tmpDir); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Warnf(ctx, "forge: remove scratch dir %s: %v", tmpDir, rmErr)
	}
	return nil
}

// RegisterOutput recursively locks down permissions on tempDir
// (directories and files with any execute bit 0o555, other files
// 0o444) and renames it to finalPath. If finalPath
// already exists, tempDir is discarded instead — the first writer
// wins.
func (s *Store) RegisterOutput(ctx context.Context, tempDir string, finalPath Path) error {
	if err := osutil.Freeze(tempDir, time.Time{}, freezeOnError); err != nil {
		if rmErr := osutil.UnmountAndRemoveAll(tempDir); rmErr != nil {
			log.Warnf(ctx, "forge: clean up %s after failed freeze: %v", tempDir, rmErr)
		}
		return &IOError{Op: "register output", Path: tempDir, Err: err}
	}
	if s.Has(finalPath) {
		if err := osutil.UnmountAndRemoveAll(tempDir); err != nil {
			log.Warnf(ctx, "forge: discard redundant output %s: %v", tempDir, err)
		}
		return nil
	}
	if err := os.Rename(tempDir, string(finalPath)); err != nil {
		if os.IsExist(err) {
			if rmErr := osutil.UnmountAndRemoveAll(tempDir); rmErr != nil {
				log.Warnf(ctx, "forge: discard redundant output %s: %v", tempDir, rmErr)
			}
			return nil
		}
		return &IOError{Op: "register output", Path: string(finalPath), Err: err}
	}
	return nil
}

func freezeOnError(err error) error {
	return err
}
