package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorePutDeleteURL(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "/media/")
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	t.Cleanup(func() { _ = fs.Close() })
	ctx := context.Background()

	key := "covers/book-1/a b.png"
	if err := fs.Put(ctx, key, strings.NewReader("png-bytes"), 9, "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "covers", "book-1", "a b.png"))
	if err != nil || string(raw) != "png-bytes" {
		t.Fatalf("unexpected file %q err=%v", raw, err)
	}
	if got := fs.URL(key); got != "/media/covers/book-1/a%20b.png" {
		t.Fatalf("url = %q", got)
	}

	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("deleting a missing object should succeed: %v", err)
	}
}

func TestFileStoreConfinesKeys(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "media"), "")
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	t.Cleanup(func() { _ = fs.Close() })

	if err := fs.Put(context.Background(), "../escape.txt", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Fatalf("object escaped the base directory")
	}
	if _, err := os.Stat(filepath.Join(dir, "media", "escape.txt")); err != nil {
		t.Fatalf("object should land inside the base directory: %v", err)
	}
	if err := fs.Put(context.Background(), "", strings.NewReader("x"), 1, ""); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}
