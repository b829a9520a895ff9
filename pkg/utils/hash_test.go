package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashString(t *testing.T) {
	// sha256("") and sha256("abc") are well known vectors.
	tests := []struct {
		in   string
		want string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tt := range tests {
		if got := HashString(tt.in); got != tt.want {
			t.Errorf("HashString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("abc"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if want := HashString("abc"); got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}

func TestHashFile_Missing(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestHashStrings_OrderMatters(t *testing.T) {
	a := HashStrings([]string{"one", "two"})
	b := HashStrings([]string{"two", "one"})
	if a == b {
		t.Error("different orderings must not collide")
	}
	if again := HashStrings([]string{"one", "two"}); again != a {
		t.Error("same input must hash the same")
	}
}
