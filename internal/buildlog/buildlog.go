// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package buildlog implements a SQLite-backed audit trail of realize
// invocations: every build's start time, end time, exit code and
// resolved output path, queryable by derivation path. It is pure
// enrichment: a [*realize.Realizer] works identically with a nil *Log.
package buildlog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

//go:embed sql/*.sql
//go:embed sql/schema/*.sql
var rawSQLFiles embed.FS

func sqlFiles() fs.FS {
	sub, err := fs.Sub(rawSQLFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

var schemaState struct {
	init   sync.Once
	schema sqlitemigration.Schema
	err    error
}

func loadSchema() sqlitemigration.Schema {
	schemaState.init.Do(func() {
		for i := 1; ; i++ {
			migration, err := fs.ReadFile(sqlFiles(), fmt.Sprintf("schema/%02d.sql", i))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				schemaState.err = err
				return
			}
			schemaState.schema.Migrations = append(schemaState.schema.Migrations, string(migration))
		}
	})
	if schemaState.err != nil {
		panic(schemaState.err)
	}
	return schemaState.schema
}

// Log is a build log backed by a SQLite database at a fixed path.
// The zero value is not usable; construct one with [Open].
type Log struct {
	pool *sqlitemigration.Pool
}

// Open returns a Log backed by the SQLite database at path, creating
// it and applying migrations if necessary. Callers must call
// [Log.Close] when done.
func Open(path string) *Log {
	return &Log{
		pool: sqlitemigration.NewPool(path, loadSchema(), sqlitemigration.Options{
			Flags: sqlite.OpenCreate | sqlite.OpenReadWrite,
		}),
	}
}

// Close releases the Log's database connections.
func (l *Log) Close() error {
	return l.pool.Close()
}

// Entry identifies a single in-progress build record for later
// completion via [Log.Finish].
type Entry struct {
	id int64
}

// Start records that a build of drvPath has begun at startedAtUnix
// (Unix seconds) and returns an [Entry] to complete once the build
// finishes.
func (l *Log) Start(ctx context.Context, drvPath string, startedAtUnix int64) (Entry, error) {
	conn, err := l.pool.Get(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("buildlog: start %s: %w", drvPath, err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "insert_start.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":drv_path":   drvPath,
			":started_at": startedAtUnix,
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("buildlog: start %s: %w", drvPath, err)
	}
	return Entry{id: conn.LastInsertRowID()}, nil
}

// Finish records the outcome of a build started with [Log.Start]:
// the resolved output path (empty on failure), the builder's exit
// code, and an error message (empty on success).
func (l *Log) Finish(ctx context.Context, e Entry, finishedAtUnix int64, outPath string, exitCode int, buildErr error) error {
	conn, err := l.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("buildlog: finish entry %d: %w", e.id, err)
	}
	defer l.pool.Put(conn)

	errMsg := ""
	if buildErr != nil {
		errMsg = buildErr.Error()
	}
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "update_finish.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":id":          e.id,
			":out_path":    outPath,
			":finished_at": finishedAtUnix,
			":exit_code":   exitCode,
			":error":       errMsg,
		},
	})
	if err != nil {
		return fmt.Errorf("buildlog: finish entry %d: %w", e.id, err)
	}
	return nil
}

// Record is one row of build history, as returned by [Log.History].
type Record struct {
	ID         int64
	DrvPath    string
	OutPath    string
	StartedAt  int64
	FinishedAt int64
	ExitCode   int64
	Error      string
}

// History returns every recorded build of drvPath, most recent first.
func (l *Log) History(ctx context.Context, drvPath string) ([]Record, error) {
	conn, err := l.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("buildlog: history %s: %w", drvPath, err)
	}
	defer l.pool.Put(conn)

	var records []Record
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "select_by_drv.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":drv_path": drvPath},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, Record{
				ID:         stmt.GetInt64("id"),
				DrvPath:    stmt.GetText("drv_path"),
				OutPath:    stmt.GetText("out_path"),
				StartedAt:  stmt.GetInt64("started_at"),
				FinishedAt: stmt.GetInt64("finished_at"),
				ExitCode:   stmt.GetInt64("exit_code"),
				Error:      stmt.GetText("error"),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("buildlog: history %s: %w", drvPath, err)
	}
	return records, nil
}
