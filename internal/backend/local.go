package backend

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stores objects as files under a root directory. Writes are
// atomic: data lands in a temp file and is renamed into place, the same
// pattern the durable tier relies on for sidecar updates.
type Local struct {
	root string
}

// NewLocal creates a local backend rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local backend: empty root directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("local backend: create root: %w", err)
	}
	return &Local{root: dir}, nil
}

// Name implements ObjectBackend.
func (l *Local) Name() string { return "local" }

func (l *Local) pathFor(key string) (string, error) {
	clean := filepath.Join(l.root, filepath.FromSlash(key))
	if !strings.HasPrefix(clean, filepath.Clean(l.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("local backend: key %q escapes root", key)
	}
	return clean, nil
}

// Put implements ObjectBackend.
func (l *Local) Put(_ context.Context, key string, data []byte) error {
	path, err := l.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("local backend: mkdir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("local backend: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("local backend: rename: %w", err)
	}
	return nil
}

// Get implements ObjectBackend.
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	path, err := l.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("local backend: read: %w", err)
	}
	return data, nil
}

// Delete implements ObjectBackend.
func (l *Local) Delete(_ context.Context, key string) error {
	path, err := l.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("local backend: remove: %w", err)
	}
	return nil
}

// DeletePrefix implements ObjectBackend. A prefix maps onto a directory
// subtree, so the whole subtree is removed in one call.
func (l *Local) DeletePrefix(_ context.Context, prefix string) error {
	path, err := l.pathFor(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("local backend: remove prefix: %w", err)
	}
	return nil
}

// List implements ObjectBackend.
func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, rerr := filepath.Rel(l.root, path)
		if rerr != nil {
			return rerr
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local backend: list: %w", err)
	}
	return keys, nil
}
