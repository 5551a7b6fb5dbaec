package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Normal Name", "Normal Name"},
		{"Slash/Name", "SlashName"},
		{"Colon:Name", "ColonName"},
		{"Trailing Dot.", "Trailing Dot"},
		{"Fate/Zero", "FateZero"},
		{"<Invalid>", "Invalid"},
	}

	for _, tt := range tests {
		got := Sanitize(tt.input)
		if got != tt.expected {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Chapter 1", "Chapter 1"},
		{"Ch. 1: Beginnings", "Ch. 1- Beginnings"},
		{"a/b\\c", "a-b-c"},
		{"..hidden", "hidden"},
		{"-dash", "dash"},
		{"what?", "what-"},
		{"", "untitled"},
		{"...", "untitled"},
	}

	for _, tt := range tests {
		got := SanitizeFilename(tt.input)
		if got != tt.expected {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page_001.png")

	if err := WriteFile(path, []byte("one")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := WriteFile(path, []byte("two")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two" {
		t.Errorf("Expected second write to win, got %q", data)
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Errorf("Expected no leftover .part file, got %v", err)
	}
}

func TestMoveFileCreatesParent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.cbz")
	dst := filepath.Join(dir, "Series", "a.cbz")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile failed: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("Expected destination to exist: %v", err)
	}
}

func TestRemoveFileMissingIsNotError(t *testing.T) {
	if err := RemoveFile(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestDeleteFolderIfEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	full := filepath.Join(dir, "full")
	if err := EnsureDir(empty); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDir(full); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(full, "f"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := DeleteFolderIfEmpty(empty); err != nil {
		t.Fatal(err)
	}
	if err := DeleteFolderIfEmpty(full); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(empty); !os.IsNotExist(err) {
		t.Error("Expected empty folder to be removed")
	}
	if _, err := os.Stat(full); err != nil {
		t.Error("Expected non-empty folder to stay")
	}
}
