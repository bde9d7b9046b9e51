package soul

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestContentFallsBackWhenMissing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "SOUL.md"))
	if got := s.Content(); !strings.Contains(got, "assistant") {
		t.Fatalf("expected default persona, got %q", got)
	}
}

func TestContentReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SOUL.md")
	if err := os.WriteFile(path, []byte("persona one"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := New(path)
	if got := s.Content(); got != "persona one" {
		t.Fatalf("initial load: %q", got)
	}

	// Ensure a distinct mtime even on coarse-grained filesystems.
	if err := os.WriteFile(path, []byte("persona two"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if got := s.Content(); got != "persona two" {
		t.Fatalf("expected reload, got %q", got)
	}
}

func TestWriteInvalidatesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SOUL.md")
	s := New(path)
	if err := s.Write("fresh persona"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := s.Content(); got != "fresh persona" {
		t.Fatalf("expected written persona, got %q", got)
	}
}
