// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package buildlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l := Open(filepath.Join(t.TempDir(), "buildlog.db"))
	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return l
}

func TestStartFinishHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	entry, err := l.Start(ctx, "/forge/store/aaaa-hello.drv", 1000)
	if err != nil {
		t.Fatalf("Start(...) error = %v", err)
	}
	if err := l.Finish(ctx, entry, 1005, "/forge/store/bbbb-hello", 0, nil); err != nil {
		t.Fatalf("Finish(...) error = %v", err)
	}

	records, err := l.History(ctx, "/forge/store/aaaa-hello.drv")
	if err != nil {
		t.Fatalf("History(...) error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d; want 1", len(records))
	}
	r := records[0]
	if r.DrvPath != "/forge/store/aaaa-hello.drv" {
		t.Errorf("DrvPath = %q", r.DrvPath)
	}
	if r.OutPath != "/forge/store/bbbb-hello" {
		t.Errorf("OutPath = %q", r.OutPath)
	}
	if r.StartedAt != 1000 || r.FinishedAt != 1005 {
		t.Errorf("StartedAt/FinishedAt = %d/%d; want 1000/1005", r.StartedAt, r.FinishedAt)
	}
	if r.ExitCode != 0 {
		t.Errorf("ExitCode = %d; want 0", r.ExitCode)
	}
	if r.Error != "" {
		t.Errorf("Error = %q; want empty", r.Error)
	}
}

func TestFinishRecordsFailure(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	entry, err := l.Start(ctx, "/forge/store/cccc-doomed.drv", 2000)
	if err != nil {
		t.Fatalf("Start(...) error = %v", err)
	}
	buildErr := errors.New("exit code 7")
	if err := l.Finish(ctx, entry, 2001, "", 7, buildErr); err != nil {
		t.Fatalf("Finish(...) error = %v", err)
	}

	records, err := l.History(ctx, "/forge/store/cccc-doomed.drv")
	if err != nil {
		t.Fatalf("History(...) error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d; want 1", len(records))
	}
	if records[0].ExitCode != 7 {
		t.Errorf("ExitCode = %d; want 7", records[0].ExitCode)
	}
	if records[0].Error != "exit code 7" {
		t.Errorf("Error = %q; want %q", records[0].Error, "exit code 7")
	}
}

func TestHistoryOrdersMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	const drvPath = "/forge/store/dddd-repeat.drv"
	e1, err := l.Start(ctx, drvPath, 100)
	if err != nil {
		t.Fatalf("Start(...) error = %v", err)
	}
	if err := l.Finish(ctx, e1, 110, "/forge/store/eeee-repeat", 0, nil); err != nil {
		t.Fatalf("Finish(...) error = %v", err)
	}
	e2, err := l.Start(ctx, drvPath, 200)
	if err != nil {
		t.Fatalf("Start(...) error = %v", err)
	}
	if err := l.Finish(ctx, e2, 210, "/forge/store/eeee-repeat", 0, nil); err != nil {
		t.Fatalf("Finish(...) error = %v", err)
	}

	records, err := l.History(ctx, drvPath)
	if err != nil {
		t.Fatalf("History(...) error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d; want 2", len(records))
	}
	if records[0].StartedAt != 200 || records[1].StartedAt != 100 {
		t.Errorf("History(...) order = [%d, %d]; want [200, 100]", records[0].StartedAt, records[1].StartedAt)
	}
}

func TestHistoryUnknownDrvPathIsEmpty(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	records, err := l.History(ctx, "/forge/store/never-built.drv")
	if err != nil {
		t.Fatalf("History(...) error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d; want 0", len(records))
	}
}
