package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteBook(t *testing.T) {
	root := t.TempDir()
	book, err := WriteBook(root)
	if err != nil {
		t.Fatalf("WriteBook: %v", err)
	}
	if len(book.Chapters) == 0 {
		t.Fatal("no chapters")
	}
	for _, ch := range book.Chapters {
		data, err := os.ReadFile(filepath.Join(root, ch.File))
		if err != nil {
			t.Fatalf("read %s: %v", ch.File, err)
		}
		if !strings.Contains(string(data), ch.Signature) {
			t.Errorf("%s missing its signature phrase", ch.File)
		}
		if !strings.HasPrefix(string(data), "# "+ch.Title) {
			t.Errorf("%s missing title heading", ch.File)
		}
	}
	for _, tf := range book.TemplateFiles {
		if _, err := os.Stat(filepath.Join(root, tf)); err != nil {
			t.Errorf("template file %s not written: %v", tf, err)
		}
	}
}

func TestChapterSignaturesUnique(t *testing.T) {
	chapters := buildChapters()
	seen := make(map[string]bool)
	for _, ch := range chapters {
		if seen[ch.Signature] {
			t.Errorf("duplicate signature: %s", ch.Signature)
		}
		seen[ch.Signature] = true
	}
}
