package fuse

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sys/unix"
)

func TestWithLoggingRecordsNamespaceChanges(t *testing.T) {
	base, _ := setupTestFilesystem(t)
	logger, hook := logtest.NewNullLogger()
	ops := WithLogging(base, logger)
	ctx := context.Background()

	fh, err := ops.Create(ctx, "/f", unix.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	ops.Release(ctx, "/f", fh)
	attr, _ := ops.GetAttr(ctx, "/f")

	if err := ops.Mkdir(ctx, "/d", 0755); err != nil {
		t.Fatal(err)
	}
	if err := ops.Unlink(ctx, "/f"); err != nil {
		t.Fatal(err)
	}

	entries := hook.AllEntries()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(entries))
	}
	wantOps := []string{"create", "mkdir", "unlink"}
	for i, e := range entries {
		if e.Level != logrus.InfoLevel {
			t.Errorf("entry %d: expected info level, got %v", i, e.Level)
		}
		if e.Data["op"] != wantOps[i] {
			t.Errorf("entry %d: expected op %q, got %v", i, wantOps[i], e.Data["op"])
		}
		if e.Data["component"] != "fuse" {
			t.Errorf("entry %d: missing component field", i)
		}
	}
	// unlink resolves the inode before the file disappears
	if entries[0].Data["inode"] != attr.Ino || entries[2].Data["inode"] != attr.Ino {
		t.Errorf("Expected inode %d on create and unlink, got %v and %v",
			attr.Ino, entries[0].Data["inode"], entries[2].Data["inode"])
	}
}

func TestWithLoggingSkipsFailedCalls(t *testing.T) {
	base, _ := setupTestFilesystem(t)
	logger, hook := logtest.NewNullLogger()
	ops := WithLogging(base, logger)

	if err := ops.Rmdir(context.Background(), "/missing"); err == nil {
		t.Fatal("Expected rmdir of a missing directory to fail")
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("Expected no log entries, got %d", len(hook.AllEntries()))
	}
}

func TestWithLoggingTransfersAtDebug(t *testing.T) {
	base, _ := setupTestFilesystem(t)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	ops := WithLogging(base, logger)
	ctx := context.Background()

	fh, _ := base.Create(ctx, "/f", unix.O_RDWR, 0644)
	defer base.Release(ctx, "/f", fh)

	if _, err := ops.Write(ctx, "/f", fh, []byte("abc"), 0); err != nil {
		t.Fatal(err)
	}
	last := hook.LastEntry()
	if last == nil || last.Level != logrus.DebugLevel || last.Data["op"] != "write" {
		t.Fatalf("Expected a debug write entry, got %+v", last)
	}
	if last.Data["size"] != 3 {
		t.Errorf("Expected size 3, got %v", last.Data["size"])
	}
}
