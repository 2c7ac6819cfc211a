package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strings"
)

// FileStore keeps objects on local disk. Object keys are slash separated and
// confined to the base directory.
type FileStore struct {
	root      *os.Root
	dir       string
	publicURL string
}

// NewFileStore creates dir if missing. publicURL is the prefix the directory
// is served under, for example "/media".
func NewFileStore(dir, publicURL string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage base path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open storage dir: %w", err)
	}
	publicURL = strings.TrimRight(strings.TrimSpace(publicURL), "/")
	if publicURL == "" {
		publicURL = "/media"
	}
	return &FileStore{root: root, dir: dir, publicURL: publicURL}, nil
}

// Dir returns the base directory.
func (f *FileStore) Dir() string { return f.dir }

// Put writes r to key, replacing any existing object.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	name, err := cleanKey(key)
	if err != nil {
		return err
	}
	if dir := path.Dir(name); dir != "." {
		if err := f.root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create object dir: %w", err)
		}
	}
	out, err := f.root.Create(name)
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = f.root.Remove(name)
		return fmt.Errorf("write object: %w", err)
	}
	return out.Close()
}

// Delete removes key. Missing objects are not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	name, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := f.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// URL joins the public prefix and escaped key.
func (f *FileStore) URL(key string) string {
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return f.publicURL + "/" + strings.Join(parts, "/")
}

// Close releases the directory handle.
func (f *FileStore) Close() error { return f.root.Close() }

func cleanKey(key string) (string, error) {
	name := path.Clean("/" + strings.TrimSpace(key))[1:]
	if name == "" || !fs.ValidPath(name) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return name, nil
}
