package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_CreateAndCleanup(t *testing.T) {
	base := t.TempDir()
	m := New(base)

	dir, err := m.Create("0f8fad5b-d9cb-469f-a165-70867728950e")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Path() != dir {
		t.Errorf("Path() = %q, want %q", m.Path(), dir)
	}
	if filepath.Dir(dir) != base {
		t.Errorf("workspace %q not under base %q", dir, base)
	}
	name := filepath.Base(dir)
	if !strings.HasPrefix(name, "stagehand-") {
		t.Errorf("workspace name %q missing prefix", name)
	}
	if !strings.HasSuffix(name, "0f8fad5b") {
		t.Errorf("workspace name %q missing run-id fragment", name)
	}

	// A file inside must go away with the directory.
	if err := os.WriteFile(filepath.Join(dir, "junk.txt"), []byte("x"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("workspace still exists after Cleanup: %v", err)
	}
}

func TestManager_CleanupIsIdempotent(t *testing.T) {
	m := New(t.TempDir())
	if _, err := m.Create("abc123"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Cleanup(); err != nil {
			t.Fatalf("Cleanup #%d: %v", i+1, err)
		}
	}
}

func TestManager_CleanupBeforeCreate(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Cleanup(); err != nil {
		t.Fatalf("Cleanup before Create must be a no-op, got %v", err)
	}
	if m.Path() != "" {
		t.Errorf("Path() = %q, want empty before Create", m.Path())
	}
}

func TestManager_ShortRunID(t *testing.T) {
	m := New(t.TempDir())
	dir, err := m.Create("ab")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasSuffix(filepath.Base(dir), "-ab") {
		t.Errorf("workspace name %q should end with short id", filepath.Base(dir))
	}
}
