package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSized(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, n), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsageBytes_SQLiteFiles(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")
	writeSized(t, db, 4096)
	writeSized(t, db+"-wal", 100)

	// -shm is missing and counts as zero.
	got, err := DiskUsageBytes(sqliteFiles(db)...)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4196 {
		t.Errorf("got %d bytes, want 4196", got)
	}
}

func TestDiskUsageBytes_Directory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeSized(t, filepath.Join(dir, "a"), 2)
	writeSized(t, filepath.Join(sub, "b"), 3)

	got, err := DiskUsageBytes(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("got %d bytes, want 5", got)
	}
}

func TestDiskUsageBytes_Missing(t *testing.T) {
	got, err := DiskUsageBytes(filepath.Join(t.TempDir(), "nope.db"))
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}
