package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestBackupRestore_RoundTrips(t *testing.T) {
	srcRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(srcRoot, "agents", "bee-a", "inbox"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "agents", "bee-a", "inbox", "1-x.json"), []byte(`{"id":"x"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "swarm.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("HIVE_CONFIG", filepath.Join(t.TempDir(), "nonexistent.yaml"))
	t.Setenv("DATA_ROOT", srcRoot)

	archivePath := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archivePath}); err != nil {
		t.Fatalf("runBackup: %v", err)
	}
	if info, err := os.Stat(archivePath); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty archive, stat error: %v", err)
	}

	destRoot := t.TempDir()
	t.Setenv("DATA_ROOT", destRoot)
	if err := runRestore([]string{"-f", archivePath}); err != nil {
		t.Fatalf("runRestore: %v", err)
	}

	restored, err := os.ReadFile(filepath.Join(destRoot, "agents", "bee-a", "inbox", "1-x.json"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(restored) != `{"id":"x"}` {
		t.Fatalf("unexpected restored content: %s", restored)
	}
}

func TestBackup_MissingOutputFlag(t *testing.T) {
	if err := runBackup(nil); err == nil {
		t.Fatal("expected error when -f is missing")
	}
}

func TestRestore_RefusesNonEmptyDataRootWithoutOverwrite(t *testing.T) {
	destRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(destRoot, "existing.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HIVE_CONFIG", filepath.Join(t.TempDir(), "nonexistent.yaml"))
	t.Setenv("DATA_ROOT", destRoot)

	archivePath := filepath.Join(t.TempDir(), "backup.tar.zst")
	srcRoot := t.TempDir()
	t.Setenv("DATA_ROOT", srcRoot)
	if err := runBackup([]string{"-f", archivePath}); err != nil {
		t.Fatalf("runBackup: %v", err)
	}

	t.Setenv("DATA_ROOT", destRoot)
	if err := runRestore([]string{"-f", archivePath}); err == nil {
		t.Fatal("expected error for non-empty data root without -overwrite")
	}
}
