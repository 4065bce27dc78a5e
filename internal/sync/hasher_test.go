package sync

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashString(t *testing.T) {
	// Known SHA256 hash of "hello"
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := HashString("hello"); got != expected {
		t.Errorf("HashString(\"hello\") = %q, want %q", got, expected)
	}
}

func TestHashFile_MatchesHashString(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "Page.wiki")

	content := "'''Bold''' text with [[links]]"
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	hash, err := HashFile(tmpFile)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if hash != HashString(content) {
		t.Errorf("HashFile result %q doesn't match HashString result %q", hash, HashString(content))
	}
}

func TestHashFile_NotFound(t *testing.T) {
	if _, err := HashFile("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestRevisionSHA1(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		// SHA-1 of the empty string, as reported for blanked pages
		{"", "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{"hello", "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
	}

	for _, tt := range tests {
		if got := RevisionSHA1(tt.content); got != tt.want {
			t.Errorf("RevisionSHA1(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}
