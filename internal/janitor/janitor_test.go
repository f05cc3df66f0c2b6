package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweepOnce_DeletesOnlyStaleDirectories(t *testing.T) {
	root := t.TempDir()

	stale := filepath.Join(root, "stale-job")
	fresh := filepath.Join(root, "fresh-job")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("MkdirAll(stale) error: %v", err)
	}
	if err := os.MkdirAll(fresh, 0o755); err != nil {
		t.Fatalf("MkdirAll(fresh) error: %v", err)
	}

	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes(stale) error: %v", err)
	}

	sweepOnce(root, TTL)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected stale directory to be deleted, stat error = %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("expected fresh directory to survive, stat error = %v", err)
	}
}

func TestSweepOnce_MissingJobsDirIsNotAnError(t *testing.T) {
	sweepOnce(filepath.Join(t.TempDir(), "does-not-exist"), TTL)
}

func TestSweepOnce_IgnoresPlainFiles(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "not-a-job-dir.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filePath, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes error: %v", err)
	}

	sweepOnce(root, TTL)

	if _, err := os.Stat(filePath); err != nil {
		t.Errorf("expected plain file to survive sweep, stat error = %v", err)
	}
}
